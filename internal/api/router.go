package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"threatpulse/internal/api/handlers"
	apimiddleware "threatpulse/internal/api/middleware"
	"threatpulse/internal/config"
	"threatpulse/pkg/logger"
)

const requestTimeout = 30 * time.Second

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	stream   http.Handler
	limiter  apimiddleware.Limiter
	logger   *logger.Logger
}

// NewRouter creates a new Router. stream serves the WebSocket subscription;
// limiter may be nil to disable list rate limits.
func NewRouter(cfg config.Config, h *handlers.Handlers, stream http.Handler, limiter apimiddleware.Limiter, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		stream:   stream,
		limiter:  limiter,
		logger:   log.WithComponent("router"),
	}
}

// Setup sets up the Chi router with all routes and middleware
func (r *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimiddleware.Logger(r.logger))
	router.Use(middleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   r.config.CORS.AllowedOrigins,
		AllowedMethods:   r.config.CORS.AllowedMethods,
		AllowedHeaders:   r.config.CORS.AllowedHeaders,
		AllowCredentials: r.config.CORS.AllowCredentials,
		MaxAge:           r.config.CORS.MaxAge,
	}))

	var limiter apimiddleware.Limiter
	if r.config.RateLimit.Enabled {
		limiter = r.limiter
	}
	mutations := apimiddleware.RateLimit(limiter, "lists", r.config.RateLimit.ListMutationsPerMinute, r.logger)
	imports := apimiddleware.RateLimit(limiter, "lists_import", r.config.RateLimit.BulkImportsPerMinute, r.logger)

	router.Get("/health", r.handlers.Health.Check)
	router.Get("/ready", r.handlers.Health.Ready)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(api chi.Router) {
		// long-lived: the stream runs until the client leaves and the
		// refresh is bounded by its own timeout
		if r.stream != nil {
			api.Handle("/threats/stream", r.stream)
		}
		api.Post("/threats/refresh", r.handlers.Threats.Refresh)

		api.Group(func(short chi.Router) {
			short.Use(middleware.Timeout(requestTimeout))

			short.Get("/threats", r.handlers.Threats.Current)
			short.Get("/threats/timeline", r.handlers.Threats.Timeline)
			short.Get("/threats/country-trends", r.handlers.Threats.CountryTrends)
			short.Get("/sources", r.handlers.Sources.List)

			short.Route("/lists", func(lists chi.Router) {
				lists.Get("/", r.handlers.Lists.Get)
				lists.With(imports).Post("/{list}/import", r.handlers.Lists.Import)
				lists.With(mutations).Post("/{list}", r.handlers.Lists.Add)
				lists.With(mutations).Delete("/{list}/{indicator}", r.handlers.Lists.Remove)
			})
		})
	})

	return router
}
