package httpapi

import (
	"net/http"
	"strings"

	"jesi.ai/console/internal/session"
)

const errForeignSession = "session belongs to another client"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type outcomeResponse struct {
	session.Outcome
	Stage   session.Stage   `json:"stage"`
	Session session.Session `json:"session"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	out := a.store.Authenticate(r.Context(), req.Email, req.Password)
	o := &a.guard.owner
	view := a.view(o.holds(r), o.holdsPending(r))
	switch out.Status {
	case session.StatusSuccess:
		o.bind(r.Context(), w, r)
		view = a.view(true, false)
	case session.StatusSecondFactorRequired:
		o.bindPending(w, r)
		view = a.view(o.holds(r), true)
	}
	a.writeOutcome(w, out, view)
}

// handleVerifySecondFactor only accepts codes from the client that started
// the login. It falls back to the pending email when the body omits it.
func (a *API) handleVerifySecondFactor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	o := &a.guard.owner
	if !o.holdsPending(r) {
		a.writeOutcome(w, session.Outcome{Status: session.StatusFailure, Reason: session.ReasonInvalidCode}, a.viewFor(r))
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email, _ = a.store.Pending()
	}
	out := a.store.VerifySecondFactor(r.Context(), email, req.Code)
	if out.OK() {
		o.bind(r.Context(), w, r)
		a.writeOutcome(w, out, a.view(true, false))
		return
	}
	a.writeOutcome(w, out, a.viewFor(r))
}

func (a *API) handleCancelSecondFactor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.guard.owner.foreignPending(r) {
		writeError(w, r, http.StatusForbidden, errForeignSession)
		return
	}
	a.store.CancelSecondFactor(r.Context())
	a.guard.owner.clearPending()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	o := &a.guard.owner
	if o.foreign(r) || (!o.holds(r) && o.foreignPending(r)) {
		writeError(w, r, http.StatusForbidden, errForeignSession)
		return
	}
	a.store.Logout(r.Context())
	a.guard.owner.release(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	view := a.viewFor(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"session":       view.session,
		"stage":         view.stage,
		"pending_email": view.pending,
	})
}

func (a *API) handlePermission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	capability := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/permissions/"), "/")
	if capability == "" {
		writeError(w, r, http.StatusBadRequest, "capability is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"capability": capability,
		"allowed":    session.HasPermission(a.guard.SessionFor(r), capability),
	})
}

// handleLoginView tells the client which login step to render.
func (a *API) handleLoginView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	view := a.viewFor(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"view":          "login",
		"stage":         view.stage,
		"pending_email": view.pending,
		"next":          r.URL.Query().Get("next"),
	})
}

// clientView is the session state one client is allowed to see.
type clientView struct {
	session session.Session
	stage   session.Stage
	pending string
}

func (a *API) viewFor(r *http.Request) clientView {
	return a.view(a.guard.owner.holds(r), a.guard.owner.holdsPending(r))
}

// view mirrors Store.Stage but only shows the parts the client holds.
func (a *API) view(ownsSession, ownsPending bool) clientView {
	v := clientView{stage: session.StageLoggedOut}
	if ownsPending {
		v.pending, _ = a.store.Pending()
	}
	if ownsSession {
		v.session = a.store.Current()
	}
	switch {
	case v.session.Authenticated:
		v.stage = session.StageLoggedIn
	case v.pending != "":
		v.stage = session.StageAwaitingSecondFactor
	}
	return v
}

func (a *API) writeOutcome(w http.ResponseWriter, out session.Outcome, view clientView) {
	resp := outcomeResponse{Outcome: out, Stage: view.stage, Session: view.session}
	code := http.StatusOK
	switch out.Status {
	case session.StatusSecondFactorRequired:
		code = http.StatusAccepted
	case session.StatusFailure:
		code = http.StatusUnauthorized
	}
	writeJSON(w, code, resp)
}
