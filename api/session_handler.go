package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/backend"
)

// TerminateResponse is returned by the session terminate route.
type TerminateResponse struct {
	Status   string    `json:"status"`
	ClientID uuid.UUID `json:"client_id"`
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessions, err := a.sessions.Sessions(ctx)
	if err != nil {
		a.writeError(ctx, w, err)
		return
	}
	if sessions == nil {
		sessions = []backend.Session{}
	}
	a.writeJSON(ctx, w, http.StatusOK, sessions)
}

func (a *API) terminateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := r.PathValue("client_id")
	clientID, err := uuid.Parse(s)
	if err != nil {
		a.writeError(ctx, w, automation.Validationf("invalid client_id %q", s))
		return
	}
	if err := a.sessions.Terminate(ctx, clientID); err != nil {
		a.writeError(ctx, w, err)
		return
	}
	a.writeJSON(ctx, w, http.StatusOK, TerminateResponse{Status: "terminated", ClientID: clientID})
}
