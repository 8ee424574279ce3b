package main

import (
	"net/http"

	"github.com/example/sessionauth/internal/httpx"
	"github.com/example/sessionauth/internal/session"
)

type changePasswordRequest struct {
	CurrentPassword      string `json:"currentPassword"`
	NewPassword          string `json:"newPassword"`
	ConfirmationPassword string `json:"confirmationPassword"`
}

// subject resolves the caller from its bearer credential. The identity
// service never trusts a forwarded subject header.
func (a *App) subject(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw, err := session.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "Unauthorized")
		return "", false
	}
	userID, err := a.verifier.Validate(r.Context(), raw)
	if err != nil {
		a.writeServiceError(w, err)
		return "", false
	}
	return userID, true
}

func (a *App) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.subject(w, r)
	if !ok {
		return
	}

	var in changePasswordRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		a.writeServiceError(w, err)
		return
	}

	err := a.sessions.ChangePassword(r.Context(), userID, session.ChangePasswordInput{
		Current:      in.CurrentPassword,
		New:          in.NewPassword,
		Confirmation: in.ConfirmationPassword,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *App) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.subject(w, r)
	if !ok {
		return
	}

	if err := a.sessions.DeleteAccount(r.Context(), userID); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
