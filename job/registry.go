package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Reporter lets a handler publish progress for the job it is running.
type Reporter interface {
	Report(ctx context.Context, percent int, message string) error
}

// HandlerFunc runs one job attempt. The returned document becomes the
// job's result; a returned error fails the job.
type HandlerFunc func(ctx context.Context, j *Job, r Reporter) (map[string]any, error)

// Registry maps job types to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Type]HandlerFunc)}
}

// Register installs h for t, replacing any previous handler.
func (r *Registry) Register(t Type, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// RegisterDefinition registers a typed definition. The job's config
// document is decoded into T before the handler runs.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	r.Register(def.Type, func(ctx context.Context, j *Job, rep Reporter) (map[string]any, error) {
		var cfg T
		if len(j.Config) > 0 {
			raw, err := json.Marshal(j.Config)
			if err != nil {
				return nil, fmt.Errorf("encode config for %s: %w", j.Type, err)
			}
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return nil, fmt.Errorf("decode config for %s: %w", j.Type, err)
			}
		}
		return def.Handler(ctx, cfg, rep)
	})
}

// Get returns the handler for t.
func (r *Registry) Get(t Type) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns the registered job types.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
