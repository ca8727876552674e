package automation

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("automation: no store configured")
	ErrStoreClosed     = errors.New("automation: store closed")
	ErrMigrationFailed = errors.New("automation: migration failed")

	// Not found errors.
	ErrJobNotFound        = errors.New("automation: job not found")
	ErrClientNotFound     = errors.New("automation: client not found")
	ErrDependencyNotFound = errors.New("automation: dependency not found")
	ErrSessionNotFound    = errors.New("automation: browser session not found")

	// Validation errors.
	ErrValidation      = errors.New("automation: validation failed")
	ErrDependencyCycle = errors.New("automation: dependency cycle")

	// State errors.
	ErrInvalidTransition = errors.New("automation: invalid status transition")
	ErrConflict          = errors.New("automation: conflict with current job state")
	ErrNotCancellable    = fmt.Errorf("%w: job cannot be cancelled in its current status", ErrConflict)
	ErrNotRetryable      = fmt.Errorf("%w: only failed or cancelled jobs can be retried", ErrConflict)
	ErrJobClaimed        = fmt.Errorf("%w: job already claimed by an execution backend", ErrConflict)
	ErrVersionConflict   = fmt.Errorf("%w: job was modified concurrently", ErrConflict)
	ErrJobAlreadyExists  = fmt.Errorf("%w: job already exists", ErrConflict)
	ErrRetriesExhausted  = errors.New("automation: retries exhausted")

	// Infrastructure errors.
	ErrUnavailable = errors.New("automation: dependency unavailable")
	ErrTimeout     = errors.New("automation: timed out")
	ErrRateLimited = errors.New("automation: rate limit exceeded")
)

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("automation: invalid status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Validationf returns an ErrValidation wrapping the formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindValidation
	KindInvalidTransition
	KindConflict
	KindRetriesExhausted
	KindRateLimited
	KindUnavailable
	KindTimeout
)

// String returns the wire code of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation_error"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindConflict:
		return "conflict"
	case KindRetriesExhausted:
		return "retries_exhausted"
	case KindRateLimited:
		return "rate_limited"
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	default:
		return "internal_error"
	}
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrJobNotFound),
		errors.Is(err, ErrClientNotFound),
		errors.Is(err, ErrDependencyNotFound),
		errors.Is(err, ErrSessionNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrDependencyCycle):
		return KindValidation
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrRetriesExhausted):
		return KindRetriesExhausted
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrStoreClosed):
		return KindUnavailable
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	default:
		return KindInternal
	}
}
