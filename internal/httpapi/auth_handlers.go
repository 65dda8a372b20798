package httpapi

import (
	"errors"
	"net/http"
	"time"

	"bidflow.org/internal/audit"
	"bidflow.org/internal/auth"
)

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Company  string `json:"company"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      userResponse `json:"user"`
}

type userResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Company string `json:"company"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, Company: u.Company}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := a.accounts.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Name:     req.Name,
		Company:  req.Company,
		Password: req.Password,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"user_id": sess.User.ID,
		"email":   sess.User.Email,
	})

	writeJSON(w, http.StatusCreated, sessionResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		User:      toUserResponse(sess.User),
	})
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

	sess, err := a.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": sess.User.ID,
	})

	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		User:      toUserResponse(sess.User),
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	u, err := a.accounts.UserByID(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "account already exists")
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
