package httpserver

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"lessongate/internal/handlers"
	"lessongate/internal/metrics"
	"lessongate/internal/middleware"
)

// Options tunes the middleware stack. Zero values disable the optional
// layers and fall back to the defaults below.
type Options struct {
	RequestTimeout  time.Duration
	MaxBodyBytes    int64
	CORSOrigins     []string
	RateLimitPerIP  int
	RateLimitWindow time.Duration
}

const (
	defaultRequestTimeout = 10 * time.Minute
	defaultMaxBodyBytes   = 512 * 1024
)

// Handlers groups the route handlers mounted by SetupRouter.
type Handlers struct {
	Content *handlers.ContentHandler
	Cache   *handlers.CacheHandler
	Media   *handlers.MediaHandler
	Health  *handlers.HealthHandler
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, h Handlers, opts Options) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	r.Use(metrics.Middleware)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.CORS(opts.CORSOrigins))
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimitPerIP, opts.RateLimitWindow))

		r.Post("/manim", h.Content.Manim)
		r.Post("/lesson", h.Content.Lesson)
		r.Post("/voice", h.Content.Voice)
		r.Post("/article", h.Content.Article)
		r.Post("/translate", h.Content.Translate)

		r.Get("/cache/stats", h.Cache.Stats)
		r.Post("/cache/clear-expired", h.Cache.ClearExpired)
		r.Delete("/cache", h.Cache.ClearAll)
	})

	r.Get("/media/{sessionId}/{file}", h.Media.Get)

	r.Get("/healthz", h.Health.Get)

	r.Handle("/metrics", metrics.Handler())
}
