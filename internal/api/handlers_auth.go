package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sydlexius/pushhook/internal/api/middleware"
	"github.com/sydlexius/pushhook/internal/auth"
)

const sessionMaxAge = 86400

// handleLogin exchanges admin credentials for a session cookie.
// POST /{base}/login
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	fields, err := readFields(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := r.authService.Login(fields.Get("username"), fields.Get("password"))
	if err != nil {
		if errors.Is(err, auth.ErrNotInitialized) {
			writeError(w, http.StatusServiceUnavailable, "admin account not initialized")
			return
		}
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			r.logger.Error("login", slog.String("error", err.Error()))
		}
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	r.setSessionCookie(w, req, token, sessionMaxAge)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"routes": r.Routes(),
	})
}

// handleLogout ends the caller's session.
// POST /{base}/logout
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	r.authService.Logout(middleware.SessionTokenFromContext(req.Context()))
	r.setSessionCookie(w, req, "", -1)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// handleChangePassword replaces the admin password and revokes every
// session, including the caller's.
// POST /{base}/admin/password
func (r *Router) handleChangePassword(w http.ResponseWriter, req *http.Request) {
	fields, err := readFields(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	next := fields.Get("next")
	if next != fields.Get("confirm") {
		writeError(w, http.StatusBadRequest, "new passwords do not match")
		return
	}

	if err := r.authService.ChangePassword(fields.Get("current"), next); err != nil {
		var pwErr *auth.PasswordError
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, "current password is incorrect")
		case errors.As(err, &pwErr):
			writeError(w, http.StatusBadRequest, pwErr.Reason)
		default:
			r.logger.Error("changing password", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	r.setSessionCookie(w, req, "", -1)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "password changed",
		"login":  r.Routes().Login,
	})
}

func (r *Router) setSessionCookie(w http.ResponseWriter, req *http.Request, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    value,
		Path:     r.basePath,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   requestScheme(req) == "https",
		MaxAge:   maxAge,
	})
}
