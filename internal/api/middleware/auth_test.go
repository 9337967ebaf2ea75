package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeSessions map[string]bool

func (f fakeSessions) ValidateSession(token string) error {
	if f[token] {
		return nil
	}
	return errors.New("invalid session")
}

func TestAuth(t *testing.T) {
	var seen string
	h := Auth(fakeSessions{"good": true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SessionTokenFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		cookie string
		bearer string
		want   int
	}{
		{"no credentials", "", "", http.StatusUnauthorized},
		{"valid cookie", "good", "", http.StatusOK},
		{"valid bearer", "", "good", http.StatusOK},
		{"invalid cookie", "bad", "", http.StatusUnauthorized},
		{"invalid bearer", "", "bad", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.cookie})
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusOK && seen != "good" {
				t.Errorf("context token = %q", seen)
			}
		})
	}
}
