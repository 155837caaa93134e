package httpapi

import (
	"net/http"
	"time"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/infrastructure/httputil"
	"github.com/flowforge/platform/internal/app/gate"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.Accounts.Signup(r.Context(), req.Email, req.Password); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "verification code sent",
	})
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	usr, err := h.Accounts.Verify(r.Context(), req.Email, req.Code)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.issueSession(w, usr.ID, usr.Email, usr.OrgID, gate.SessionTTLDefault)
	httputil.WriteJSON(w, http.StatusCreated, usr)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

func (h *handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	usr, err := h.Accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ttl := gate.SessionTTLDefault
	if req.Remember {
		ttl = gate.SessionTTLRemember
	}
	h.issueSession(w, usr.ID, usr.Email, usr.OrgID, ttl)
	httputil.WriteJSON(w, http.StatusOK, usr)
}

func (h *handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.Sessions.ClearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	// Always 200, whether or not the account exists.
	h.Accounts.ForgotPassword(r.Context(), req.Email)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "if the account exists, a reset code has been sent",
	})
}

func (h *handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := gate.PrincipalFrom(r.Context())
	if !ok {
		httputil.WriteError(w, apperr.Unauthenticated(""))
		return
	}
	usr, err := h.Accounts.Get(r.Context(), principal.UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, usr)
}

func (h *handler) issueSession(w http.ResponseWriter, userID, email, orgID string, ttl time.Duration) {
	token, err := h.Sessions.Issue(gate.Principal{UserID: userID, Email: email, OrgID: orgID}, ttl)
	if err != nil {
		h.Log.WithError(err).Error("issue session token")
		return
	}
	h.Sessions.SetCookies(w, token, ttl)
}
