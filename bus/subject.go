package bus

// SubjectID is an opaque identifier used for targeted event dispatch. It
// wraps a uint64 so callers cannot accidentally pass an arbitrary integer
// where a subject is expected.
type SubjectID struct {
	value uint64
}

// NewSubjectID wraps v as a SubjectID.
func NewSubjectID(v uint64) SubjectID {
	return SubjectID{value: v}
}

// Value returns the wrapped uint64.
func (s SubjectID) Value() uint64 {
	return s.value
}
