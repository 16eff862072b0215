package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nats3-io/nats3/internal/logger"
	"github.com/nats3-io/nats3/pkg/api/handlers"
	"github.com/nats3-io/nats3/pkg/catalog"
	"github.com/nats3-io/nats3/pkg/metrics"
	"github.com/nats3-io/nats3/pkg/supervisor"
)

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Middleware stack (order matters): request ID, real IP extraction, request
// logging, panic recovery, request timeout.
func NewRouter(config Config, sup *supervisor.Supervisor, cat catalog.Catalog, m *metrics.Metrics) http.Handler {
	config.ApplyDefaults()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(config.RequestTimeout))

	jobsHandler := handlers.NewJobsHandler(sup, cat)
	healthHandler := handlers.NewHealthHandler(cat)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/store", func(r chi.Router) {
			r.Get("/jobs", jobsHandler.ListStoreJobs)
			r.Route("/job", func(r chi.Router) {
				r.Post("/", jobsHandler.CreateStoreJob)
				r.Get("/", jobsHandler.GetStoreJob)
				r.Delete("/", jobsHandler.DeleteStoreJob)
				r.Post("/pause", jobsHandler.PauseStoreJob)
				r.Post("/resume", jobsHandler.ResumeStoreJob)
			})
		})
		r.Route("/load", func(r chi.Router) {
			r.Get("/jobs", jobsHandler.ListLoadJobs)
			r.Route("/job", func(r chi.Router) {
				r.Post("/", jobsHandler.CreateLoadJob)
				r.Get("/", jobsHandler.GetLoadJob)
				r.Delete("/", jobsHandler.DeleteLoadJob)
				r.Post("/pause", jobsHandler.PauseLoadJob)
				r.Post("/resume", jobsHandler.ResumeLoadJob)
			})
		})
	})

	r.Get("/healthz", healthHandler.Healthz)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	return r
}

// requestLogger logs requests using the internal logger: request start at
// DEBUG, completion with status and duration at INFO.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
