package cancel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuardCancelsAfterDeadline(t *testing.T) {
	tok := New()
	guard := NewGuard(tok, 20*time.Millisecond)
	defer guard.Close()

	assert.Eventually(t, tok.IsCancelled, 500*time.Millisecond, time.Millisecond)
}

func TestGuardCloseBeforeDeadlineLeavesTokenUncancelled(t *testing.T) {
	tok := New()
	guard := NewGuard(tok, time.Hour)
	guard.Close()

	assert.False(t, tok.IsCancelled())
}

func TestGuardCloseIsPrompt(t *testing.T) {
	tok := New()
	guard := NewGuard(tok, time.Hour)

	start := time.Now()
	guard.Close()
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 100*time.Millisecond)
}
