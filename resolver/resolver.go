// Package resolver decides when a job may move from pending to queued.
//
// At creation it checks that every dependency exists, rejects dependency
// cycles, and computes the initial status. On every completion the engine
// asks it which dependents are now ready.
package resolver

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// Graph is the slice of job.Store the resolver reads.
type Graph interface {
	JobStatuses(ctx context.Context, ids []id.JobID) (map[id.JobID]job.Status, error)
	Dependencies(ctx context.Context, ids []id.JobID) (map[id.JobID][]id.JobID, error)
	ListDependents(ctx context.Context, jobID id.JobID) ([]*job.Job, error)
}

// Resolver evaluates dependency gates against a Graph.
type Resolver struct {
	graph Graph
}

// New creates a Resolver.
func New(g Graph) *Resolver { return &Resolver{graph: g} }

// Normalize drops duplicate dependency ids, keeping first occurrence.
func Normalize(deps []id.JobID) []id.JobID {
	out := make([]id.JobID, 0, len(deps))
	for _, d := range deps {
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	return out
}

// Check validates the dependency list of job self: every id must exist,
// and following depends_on edges from them must never reach self or loop.
func (r *Resolver) Check(ctx context.Context, self id.JobID, deps []id.JobID) error {
	if len(deps) == 0 {
		return nil
	}
	if slices.Contains(deps, self) {
		return fmt.Errorf("%w: job %s depends on itself", automation.ErrDependencyCycle, self)
	}
	statuses, err := r.graph.JobStatuses(ctx, deps)
	if err != nil {
		return fmt.Errorf("automation/resolver: load dependencies: %w", err)
	}
	for _, d := range deps {
		if _, ok := statuses[d]; !ok {
			return fmt.Errorf("%w: %s", automation.ErrDependencyNotFound, d)
		}
	}
	return r.walk(ctx, self, deps)
}

// walk runs a depth-first search over the existing graph, one frontier at
// a time, tracking the path of each node to detect back edges.
func (r *Resolver) walk(ctx context.Context, self id.JobID, roots []id.JobID) error {
	const (
		visiting = 1
		done     = 2
	)
	state := map[id.JobID]int{self: visiting}
	edges := map[id.JobID][]id.JobID{self: roots}

	var visit func(n id.JobID) error
	visit = func(n id.JobID) error {
		next, ok := edges[n]
		if !ok {
			loaded, err := r.graph.Dependencies(ctx, []id.JobID{n})
			if err != nil {
				return fmt.Errorf("automation/resolver: load edges of %s: %w", n, err)
			}
			next = loaded[n]
			edges[n] = next
		}
		state[n] = visiting
		for _, m := range next {
			switch state[m] {
			case visiting:
				return fmt.Errorf("%w: %s -> %s", automation.ErrDependencyCycle, n, m)
			case done:
				continue
			}
			if err := visit(m); err != nil {
				return err
			}
		}
		state[n] = done
		return nil
	}
	return visit(self)
}

// Satisfied reports whether every dependency is completed.
func (r *Resolver) Satisfied(ctx context.Context, deps []id.JobID) (bool, error) {
	if len(deps) == 0 {
		return true, nil
	}
	statuses, err := r.graph.JobStatuses(ctx, deps)
	if err != nil {
		return false, fmt.Errorf("automation/resolver: load dependencies: %w", err)
	}
	for _, d := range deps {
		if statuses[d] != job.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// InitialStatus is queued when every dependency is completed and
// scheduledAt is not after now, pending otherwise.
func (r *Resolver) InitialStatus(ctx context.Context, deps []id.JobID, scheduledAt, now time.Time) (job.Status, error) {
	ok, err := r.Satisfied(ctx, deps)
	if err != nil {
		return "", err
	}
	if ok && !scheduledAt.After(now) {
		return job.StatusQueued, nil
	}
	return job.StatusPending, nil
}

// Ready reports whether a pending job may be queued at now.
func (r *Resolver) Ready(ctx context.Context, j *job.Job, now time.Time) (bool, error) {
	if j.Status != job.StatusPending || j.ScheduledAt.After(now) {
		return false, nil
	}
	return r.Satisfied(ctx, j.DependsOn)
}

// Dependents returns the pending jobs gated on completed.
func (r *Resolver) Dependents(ctx context.Context, completed id.JobID) ([]*job.Job, error) {
	deps, err := r.graph.ListDependents(ctx, completed)
	if err != nil {
		return nil, fmt.Errorf("automation/resolver: list dependents of %s: %w", completed, err)
	}
	return deps, nil
}
