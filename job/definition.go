package job

import "context"

// Definition is a typed handler for one job type. T is the shape of the
// job's config document.
type Definition[T any] struct {
	Type    Type
	Handler func(ctx context.Context, cfg T, r Reporter) (map[string]any, error)
}

// NewDefinition creates a typed definition.
func NewDefinition[T any](t Type, handler func(ctx context.Context, cfg T, r Reporter) (map[string]any, error)) *Definition[T] {
	return &Definition[T]{Type: t, Handler: handler}
}
