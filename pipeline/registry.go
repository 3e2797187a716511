package pipeline

import "context"

// Handler is a unit of work a step can bind to by name.
type Handler func(context.Context) (any, error)

// Registry maps the handler names a Document's steps reference (its `uses`
// field) to the Go functions that implement them.
type Registry map[string]Handler
