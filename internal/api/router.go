package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sydlexius/pushhook/internal/api/middleware"
	"github.com/sydlexius/pushhook/internal/auth"
	"github.com/sydlexius/pushhook/internal/dispatch"
	"github.com/sydlexius/pushhook/internal/provider"
	"github.com/sydlexius/pushhook/internal/webhook"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	WebhookService *webhook.Service
	Dispatcher     *dispatch.Dispatcher
	AuthService    *auth.Service
	LoginLimiter   *middleware.LoginRateLimiter
	Registry       *provider.Registry
	Credentials    provider.CredentialSource
	Logger         *slog.Logger
	// BasePath is the secret admin prefix without slashes.
	BasePath string
	// PublicBaseURL, when set, is used to build trigger URLs instead of the
	// request's own scheme and host.
	PublicBaseURL string
}

// Router sets up all HTTP routes for the application.
type Router struct {
	webhookService *webhook.Service
	dispatcher     *dispatch.Dispatcher
	authService    *auth.Service
	loginLimiter   *middleware.LoginRateLimiter
	registry       *provider.Registry
	credentials    provider.CredentialSource
	logger         *slog.Logger
	basePath       string
	publicBaseURL  string
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	limiter := deps.LoginLimiter
	if limiter == nil {
		limiter = middleware.NewLoginRateLimiter(nil)
	}
	return &Router{
		webhookService: deps.WebhookService,
		dispatcher:     deps.Dispatcher,
		authService:    deps.AuthService,
		loginLimiter:   limiter,
		registry:       deps.Registry,
		credentials:    deps.Credentials,
		logger:         deps.Logger.With(slog.String("component", "api")),
		basePath:       "/" + strings.Trim(deps.BasePath, "/"),
		publicBaseURL:  strings.TrimRight(deps.PublicBaseURL, "/"),
	}
}

// Routes lists the admin entry points under the secret base path.
type Routes struct {
	Login  string `json:"login"`
	Logout string `json:"logout"`
	Admin  string `json:"admin"`
}

// Routes returns the admin paths for the configured base path.
func (r *Router) Routes() Routes {
	return Routes{
		Login:  r.basePath + "/login",
		Logout: r.basePath + "/logout",
		Admin:  r.basePath + "/admin",
	}
}

// Handler returns the fully configured HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	authMw := middleware.Auth(r.authService)
	cop := http.NewCrossOriginProtection()
	mux := http.NewServeMux()
	bp := r.basePath

	// Public routes
	mux.HandleFunc("/hook/{id}/{token}", r.handleTrigger)
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /{$}", r.handleRoot)

	// Admin session routes
	mux.Handle("POST "+bp+"/login", cop.Handler(r.loginLimiter.Middleware(http.HandlerFunc(r.handleLogin))))

	// Protected routes (auth required)
	mux.Handle("POST "+bp+"/logout", cop.Handler(wrapAuth(r.handleLogout, authMw)))
	mux.HandleFunc("GET "+bp+"/admin", wrapAuth(r.handleAdmin, authMw))
	mux.Handle("POST "+bp+"/admin/webhooks", cop.Handler(wrapAuth(r.handleCreateWebhook, authMw)))
	mux.Handle("POST "+bp+"/admin/webhooks/{id}/delete", cop.Handler(wrapAuth(r.handleDeleteWebhook, authMw)))
	mux.Handle("DELETE "+bp+"/admin/webhooks/{id}", cop.Handler(wrapAuth(r.handleDeleteWebhook, authMw)))
	mux.Handle("POST "+bp+"/admin/password", cop.Handler(wrapAuth(r.handleChangePassword, authMw)))

	return middleware.SecurityHeaders(middleware.Logging(r.logger)(limitBody(mux)))
}

// wrapAuth wraps a handler function with auth middleware.
func wrapAuth(fn http.HandlerFunc, authMw func(http.Handler) http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authMw(fn).ServeHTTP(w, r)
	}
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && r.Body != http.NoBody {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
