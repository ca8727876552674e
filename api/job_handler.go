package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/engine"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// CancelResponse is returned by the cancel route.
type CancelResponse struct {
	Status string   `json:"status"`
	JobID  id.JobID `json:"job_id"`
}

// RetryResponse is returned by the retry route.
type RetryResponse struct {
	Status     string   `json:"status"`
	JobID      id.JobID `json:"job_id"`
	RetryCount int      `json:"retry_count"`
}

// ClaimRequest identifies the execution backend worker claiming a job.
type ClaimRequest struct {
	WorkerID id.WorkerID `json:"worker_id"`
}

func (a *API) createJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req engine.CreateRequest
	if err := decode(r, &req, false); err != nil {
		a.writeError(ctx, w, err)
		return
	}
	j, err := a.eng.Create(ctx, req)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	a.writeJSON(ctx, w, http.StatusCreated, j)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := parseQuery(r)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	jobs, err := a.eng.List(ctx, q)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	a.writeJSON(ctx, w, http.StatusOK, jobs)
}

func parseQuery(r *http.Request) (job.Query, error) {
	v := r.URL.Query()
	q := job.Query{
		Status: job.Status(v.Get("status")),
		Type:   job.Type(v.Get("job_type")),
	}
	if s := v.Get("client_id"); s != "" {
		cid, err := uuid.Parse(s)
		if err != nil {
			return q, automation.Validationf("invalid client_id %q", s)
		}
		q.ClientID = cid
	}
	if s := v.Get("priority"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return q, automation.Validationf("invalid priority %q", s)
		}
		p := job.Priority(n)
		q.Priority = &p
	}
	var err error
	if q.Limit, err = intParam(v.Get("limit"), "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = intParam(v.Get("offset"), "offset"); err != nil {
		return q, err
	}
	return q, nil
}

func intParam(s, name string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, automation.Validationf("invalid %s %q", name, s)
	}
	return n, nil
}

func jobIDParam(r *http.Request) (id.JobID, error) {
	s := r.PathValue("job_id")
	jobID, err := id.ParseJobID(s)
	if err != nil {
		return id.Nil, automation.Validationf("invalid job id %q", s)
	}
	return jobID, nil
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	j, err := a.eng.Get(ctx, jobID)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	a.writeJSON(ctx, w, http.StatusOK, j)
}

func (a *API) updateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	var p job.Patch
	if err := decode(r, &p, true); err != nil {
		a.writeError(ctx, w, err)
		return
	}
	j, err := a.eng.Update(ctx, jobID, p)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	a.writeJSON(ctx, w, http.StatusOK, j)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	j, err := a.eng.Cancel(ctx, jobID)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	a.writeJSON(ctx, w, http.StatusOK, CancelResponse{Status: string(j.Status), JobID: j.ID})
}

func (a *API) retryJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	j, err := a.eng.Retry(ctx, jobID)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	a.writeJSON(ctx, w, http.StatusOK, RetryResponse{Status: "requeued", JobID: j.ID, RetryCount: j.RetryCount})
}

// claimJob hands the next queued job to the calling worker, or answers
// 204 when every tier is empty.
func (a *API) claimJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ClaimRequest
	if err := decode(r, &req, true); err != nil {
		a.writeError(ctx, w, err)
		return
	}
	if req.WorkerID.IsNil() {
		req.WorkerID = id.NewWorkerID()
	} else if req.WorkerID.Prefix() != id.PrefixWorker {
		a.writeError(ctx, w, automation.Validationf("worker_id must have prefix %q", id.PrefixWorker))
		return
	}
	j, err := a.eng.Claim(ctx, req.WorkerID)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	if j == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.writeJSON(ctx, w, http.StatusOK, j)
}

func (a *API) heartbeatJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	j, err := a.eng.Heartbeat(ctx, jobID)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	a.writeJSON(ctx, w, http.StatusOK, j)
}
