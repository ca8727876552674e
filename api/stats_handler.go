package api

import (
	"context"
	"net/http"
	"time"
)

// healthTimeout bounds each dependency check.
const healthTimeout = 3 * time.Second

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, err := a.eng.Stats(ctx)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	a.writeJSON(ctx, w, http.StatusOK, s)
}

// systemHealth reports queue depth and execution pressure. The report
// always returns 200; its status field carries the grade.
func (a *API) systemHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h, err := a.eng.SystemHealth(ctx)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	a.writeJSON(ctx, w, http.StatusOK, h)
}

// healthz runs every registered check. Any failing check turns the
// response into 503 with status "degraded".
func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := HealthResponse{Status: "ok"}
	if len(a.checks) > 0 {
		resp.Checks = make(map[string]string, len(a.checks))
	}
	for _, c := range a.checks {
		cctx, cancel := context.WithTimeout(ctx, healthTimeout)
		err := c.check(cctx)
		cancel()
		if err != nil {
			resp.Status = "degraded"
			resp.Checks[c.name] = err.Error()
			continue
		}
		resp.Checks[c.name] = "ok"
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	a.writeJSON(ctx, w, status, resp)
}
