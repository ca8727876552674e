package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/internal/correlation"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// ErrorBody is the error envelope.
type ErrorBody struct {
	Error         ErrorDetail `json:"error"`
	CorrelationID string      `json:"correlationId"`
}

// ErrorDetail is the code and message of an error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(k automation.Kind) int {
	switch k {
	case automation.KindNotFound:
		return http.StatusNotFound
	case automation.KindValidation:
		return http.StatusBadRequest
	case automation.KindInvalidTransition, automation.KindConflict, automation.KindRetriesExhausted:
		return http.StatusConflict
	case automation.KindRateLimited:
		return http.StatusTooManyRequests
	case automation.KindUnavailable:
		return http.StatusServiceUnavailable
	case automation.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.ErrorContext(ctx, "failed to encode response", slog.String("error", err.Error()))
	}
}

func (a *API) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", automation.ErrTimeout, err)
	}
	kind := automation.KindOf(err)
	status := StatusFor(kind)
	msg := err.Error()
	if kind == automation.KindInternal {
		a.logger.ErrorContext(ctx, "request failed", slog.String("error", msg))
		msg = "internal server error"
	} else {
		a.logger.DebugContext(ctx, "request rejected",
			slog.String("code", kind.String()),
			slog.String("error", msg),
		)
	}
	a.writeJSON(ctx, w, status, ErrorBody{
		Error:         ErrorDetail{Code: kind.String(), Message: msg},
		CorrelationID: correlation.FromContext(ctx),
	})
}

// decode reads a JSON body into v. Unknown fields are rejected. An empty
// body leaves v untouched when allowEmpty is set.
func decode(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return automation.Validationf("invalid request body: %v", err)
	}
	return nil
}
