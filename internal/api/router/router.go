package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/wolfman30/medinotes/internal/http/middleware"
	"github.com/wolfman30/medinotes/internal/observability/metrics"
	"github.com/wolfman30/medinotes/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger *logging.Logger

	// ConsultationHandler streams summaries for POST /api/consultation.
	ConsultationHandler http.Handler
	// Auth verifies bearer tokens in front of the consultation endpoint.
	Auth         httpmiddleware.SessionAuthConfig
	RequiredPlan string
	// Limiter is optional; nil disables rate limiting.
	Limiter httpmiddleware.Limiter
	Metrics *metrics.ConsultationMetrics

	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	// FrontendHandler answers everything outside the API, usually the
	// landing page or a static export.
	FrontendHandler http.Handler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Authenticated API
	if cfg.ConsultationHandler != nil {
		r.Route("/api", func(api chi.Router) {
			auth := cfg.Auth
			if auth.Logger == nil {
				auth.Logger = cfg.Logger
			}
			if auth.Metrics == nil {
				auth.Metrics = cfg.Metrics
			}
			api.Use(httpmiddleware.SessionAuth(auth))
			if cfg.RequiredPlan != "" {
				api.Use(httpmiddleware.RequirePlan(cfg.RequiredPlan, cfg.Metrics))
			}
			if cfg.Limiter != nil {
				api.Use(httpmiddleware.RateLimit(cfg.Limiter, cfg.Metrics, cfg.Logger))
			}
			api.Method(http.MethodPost, "/consultation", cfg.ConsultationHandler)
		})
	}

	if cfg.FrontendHandler != nil {
		r.Handle("/*", cfg.FrontendHandler)
	}

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
