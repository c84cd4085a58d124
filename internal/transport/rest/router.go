package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/traffic-auth/internal/audit"
	"github.com/frahmantamala/traffic-auth/internal/auth"
	"github.com/frahmantamala/traffic-auth/internal/rbac"
	"github.com/frahmantamala/traffic-auth/internal/transport/middleware"
	"github.com/frahmantamala/traffic-auth/internal/transport/swagger"
	"github.com/frahmantamala/traffic-auth/internal/user"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

type Handlers struct {
	Health *HealthHandler
	Auth   *auth.Handler
	User   *user.Handler
	RBAC   *rbac.Handler
	Audit  *audit.Handler
}

type Options struct {
	Logger         *slog.Logger
	AllowedOrigins string
	// RateLimiter guards register and login when non nil.
	RateLimiter *middleware.RateLimiter
	// HTTPMetrics and MetricsHandler are both set or both nil.
	HTTPMetrics    *middleware.HTTPMetrics
	MetricsPath    string
	MetricsHandler http.Handler
	// OpenAPI is the raw document served next to the Swagger UI.
	OpenAPI []byte
}

// NewRouter assembles the middleware chain and mounts every API under /api/v1.
func NewRouter(h Handlers, opts Options) *chi.Mux {
	router := chi.NewRouter()

	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(opts.Logger))
	router.Use(middleware.CORS(opts.AllowedOrigins))
	router.Use(middleware.SecurityHeaders)
	if opts.HTTPMetrics != nil {
		router.Use(opts.HTTPMetrics.Instrument)
	}
	router.Use(middleware.LoggingMiddleware(opts.Logger))

	if opts.MetricsHandler != nil {
		router.Handle(opts.MetricsPath, opts.MetricsHandler)
	}
	if len(opts.OpenAPI) > 0 {
		router.Get(swagger.SpecPath, swagger.SpecHandler(opts.OpenAPI))
		router.Handle("/swagger/*", swagger.Handler())
	}

	var limit func(http.Handler) http.Handler
	if opts.RateLimiter != nil {
		limit = opts.RateLimiter.Middleware
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health.Health)
		r.Get("/ping", h.Health.Ping)

		h.Auth.RegisterRoutes(r, limit)
		h.User.RegisterRoutes(r, h.Auth.Require(auth.Authenticated()), h.Auth.Guard)
		h.RBAC.RegisterRoutes(r, h.Auth.Guard)
		h.Audit.RegisterRoutes(r, h.Auth.Guard)
	})

	return router
}
