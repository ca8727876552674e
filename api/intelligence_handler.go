package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/advisor"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

func (a *API) recommendations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v := r.URL.Query()
	req := advisor.RecommendRequest{JobType: job.Type(v.Get("job_type"))}
	if s := v.Get("client_id"); s != "" {
		cid, err := uuid.Parse(s)
		if err != nil {
			a.writeError(ctx, w, automation.Validationf("invalid client_id %q", s))
			return
		}
		req.ClientID = cid
	}
	hours, err := intParam(v.Get("hours_ahead"), "hours_ahead")
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	req.HoursAhead = hours

	recs, err := a.advisor.Recommend(ctx, req)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	if recs == nil {
		recs = []advisor.Recommendation{}
	}
	a.writeJSON(ctx, w, http.StatusOK, recs)
}

func (a *API) decide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req advisor.Request
	if err := decode(r, &req, false); err != nil {
		a.writeError(ctx, w, err)
		return
	}
	d, err := a.decisions.Decide(ctx, req)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	a.writeJSON(ctx, w, http.StatusOK, d)
}
