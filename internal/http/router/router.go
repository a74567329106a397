package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/session-security-engine/internal/health"
	"github.com/sandeepkv93/session-security-engine/internal/http/handler"
	"github.com/sandeepkv93/session-security-engine/internal/http/middleware"
	"github.com/sandeepkv93/session-security-engine/internal/http/response"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	MFAHandler       *handler.MFAHandler
	AccountHandler   *handler.AccountHandler
	Tokens           middleware.AccessTokenParser
	MFA              middleware.MFADecider
	Logger           *slog.Logger
	AuthRateLimitRPM int
	APIRateLimitRPM  int
	// Limiter backs both rate limit scopes when set; nil selects the in-process limiter.
	Limiter        middleware.Limiter
	Readiness      *health.ProbeRunner
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	logger := dep.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger(logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(newLimiter(dep.Limiter, dep.APIRateLimitRPM, "api"))
	authLimiter := newLimiter(dep.Limiter, dep.AuthRateLimitRPM, "auth")

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	authn := middleware.AuthMiddleware(dep.Tokens)
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(authLimiter)
				r.Post("/register", dep.AuthHandler.Register)
				r.Post("/login", dep.AuthHandler.Login)
				r.Post("/mfa/verify", dep.AuthHandler.MFAVerify)
				r.Post("/refresh", dep.AuthHandler.Refresh)
				r.Get("/google/login", dep.AuthHandler.GoogleLogin)
				r.Get("/google/callback", dep.AuthHandler.GoogleCallback)
				r.Post("/exchange", dep.AuthHandler.Exchange)
			})
			r.With(authn).Post("/logout", dep.AuthHandler.Logout)
			r.With(authn).Post("/logout-all", dep.AuthHandler.LogoutAll)
		})

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Get("/me", dep.AccountHandler.Me)
			r.Get("/me/sessions", dep.AccountHandler.Sessions)
			r.Delete("/me/sessions/{session_id}", dep.AccountHandler.RevokeSession)
			r.With(authLimiter).Post("/me/password", dep.AccountHandler.SetPassword)
			r.With(authLimiter).Post("/me/password/change", dep.AccountHandler.ChangePassword)
		})

		r.Route("/mfa", func(r chi.Router) {
			r.Use(authn)
			r.Post("/setup", dep.MFAHandler.Setup)
			r.Post("/enable", dep.MFAHandler.Enable)
			r.Post("/disable", dep.MFAHandler.Disable)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireMFA(dep.MFA))
				r.Get("/backup-codes", dep.MFAHandler.BackupCodes)
				r.Post("/backup-codes/regenerate", dep.MFAHandler.RegenerateBackupCodes)
			})
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}

func newLimiter(shared middleware.Limiter, rpm int, scope string) func(http.Handler) http.Handler {
	if shared == nil {
		return middleware.NewRateLimiter(rpm, time.Minute, scope).Middleware()
	}
	return middleware.NewDistributedRateLimiter(shared, rpm, time.Minute, middleware.FailOpen, scope).Middleware()
}
