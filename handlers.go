package main

import (
	"errors"
	"net/http"

	"github.com/example/sessionauth/internal/httpx"
	"github.com/example/sessionauth/internal/logging"
	"github.com/example/sessionauth/internal/session"
	"github.com/example/sessionauth/internal/token"
)

type registerRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FirstName  string `json:"firstName"`
	SecondName string `json:"secondName"`
}

type authenticateRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type validateResponse struct {
	UserID string `json:"userId"`
}

func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		a.writeServiceError(w, err)
		return
	}

	pair, err := a.sessions.Register(r.Context(), session.RegisterInput{
		Email:      in.Email,
		Password:   in.Password,
		FirstName:  in.FirstName,
		SecondName: in.SecondName,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, pair)
}

func (a *App) HandleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var in authenticateRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		a.writeServiceError(w, err)
		return
	}

	pair, err := a.sessions.Authenticate(r.Context(), in.Email, in.Password)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pair)
}

func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	raw, err := session.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	pair, err := a.sessions.Refresh(r.Context(), raw)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pair)
}

// HandleValidateToken is called by the edge router on every protected
// request. Anything but a live access credential is a 401.
func (a *App) HandleValidateToken(w http.ResponseWriter, r *http.Request) {
	raw, err := session.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "Unauthorized")
		return
	}

	userID, err := a.verifier.Validate(r.Context(), raw)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, validateResponse{UserID: userID})
}

func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Logout(r.Context(), r.Header.Get("Authorization")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// writeServiceError maps domain errors onto statuses and the error envelope.
// Unexpected errors are logged and reported as 500 without detail.
func (a *App) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, httpx.ErrInvalidBody):
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeBadRequest, "Invalid request body")
	case errors.Is(err, session.ErrInvalidInput):
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeBadRequest, "Email and password are required")
	case errors.Is(err, session.ErrInvalidAuthorizationHeader):
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeBadRequest, "Missing or malformed Authorization header")
	case errors.Is(err, session.ErrWrongPassword):
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeBadRequest, "Wrong password")
	case errors.Is(err, session.ErrPasswordMismatch):
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeBadRequest, "Passwords are not the same")
	case errors.Is(err, session.ErrBadCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "Invalid email or password")
	case errors.Is(err, token.ErrUnauthorized), errors.Is(err, session.ErrUnknownSubject):
		httpx.WriteError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "Unauthorized")
	case errors.Is(err, session.ErrUserExists):
		httpx.WriteError(w, http.StatusConflict, httpx.CodeConflict, "User with this email already exists")
	case errors.Is(err, session.ErrUserNotFound):
		httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "User not found")
	default:
		a.log.Error("request failed", logging.Err(err))
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "Internal server error")
	}
}
