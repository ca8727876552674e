package job

import "github.com/evanramirez88/restaurant-consulting-site/automation"

// Outcome is what a finished attempt produced. A job that has not finished
// carries a nil Outcome.
type Outcome interface {
	status() Status
}

// Success is the outcome of a completed job.
type Success struct {
	Result map[string]any
}

// Failure is the outcome of a failed job.
type Failure struct {
	Error string
}

func (Success) status() Status { return StatusCompleted }
func (Failure) status() Status { return StatusFailed }

// Flatten splits o into its wire fields.
func Flatten(o Outcome) (result map[string]any, errMsg string) {
	switch v := o.(type) {
	case Success:
		return v.Result, ""
	case Failure:
		return nil, v.Error
	default:
		return nil, ""
	}
}

// OutcomeFor rebuilds the outcome of a job in status s from stored fields.
// A result outside COMPLETED or an error outside FAILED is rejected.
func OutcomeFor(s Status, result map[string]any, errMsg string) (Outcome, error) {
	switch {
	case s == StatusCompleted && errMsg == "":
		return Success{Result: result}, nil
	case s == StatusFailed && result == nil:
		return Failure{Error: errMsg}, nil
	case result == nil && errMsg == "":
		return nil, nil
	default:
		return nil, automation.Validationf("outcome fields do not match status %s", s)
	}
}

// ResultOf returns the result document of a completed job.
func (j *Job) ResultOf() map[string]any {
	r, _ := Flatten(j.Outcome)
	return r
}

// ErrorMessage returns the failure reason of a failed job.
func (j *Job) ErrorMessage() string {
	_, e := Flatten(j.Outcome)
	return e
}
