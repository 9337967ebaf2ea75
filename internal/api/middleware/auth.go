package middleware

import (
	"context"
	"net/http"
	"strings"
)

// SessionCookie is the admin session cookie name.
const SessionCookie = "session"

type contextKey string

const sessionTokenKey contextKey = "sessionToken"

// SessionValidator checks admin session tokens.
type SessionValidator interface {
	ValidateSession(token string) error
}

// Auth returns middleware that requires a valid admin session, taken from the
// session cookie or a Bearer Authorization header.
func Auth(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" || sessions.ValidateSession(token) != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}` + "\n")) //nolint:errcheck
				return
			}
			ctx := context.WithValue(r.Context(), sessionTokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionTokenFromContext returns the token Auth accepted, or "".
func SessionTokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionTokenKey).(string); ok {
		return v
	}
	return ""
}

// ExtractToken returns the session token carried by r, or "".
func ExtractToken(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}
