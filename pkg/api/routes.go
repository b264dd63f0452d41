package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(
			s.registry, promhttp.HandlerOpts{},
		))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.handleCreateProject)
			r.Get("/{id}", s.handleGetProject)
			r.Get("/{id}/test-cases", s.handleListTestCases)
			r.Get("/{id}/executions", s.handleListProjectExecutions)
			r.Post("/{id}/test-cases", s.handleCreateTestCase)

			// Whole project sweeps are expensive; rate limit them.
			r.Group(func(r chi.Router) {
				if s.cfg.Server.RateLimit.Enabled {
					r.Use(s.rateLimitMiddleware(
						s.cfg.Server.RateLimit,
					))
				}

				r.Post("/{id}/run", s.handleRunProject)
			})
		})

		r.Route("/test-cases", func(r chi.Router) {
			r.Get("/{id}", s.handleGetTestCase)
			r.Get("/{id}/executions", s.handleListExecutions)

			r.Group(func(r chi.Router) {
				if s.cfg.Server.RateLimit.Enabled {
					r.Use(s.rateLimitMiddleware(
						s.cfg.Server.RateLimit,
					))
				}

				r.Post("/{id}/run", s.handleRunTestCase)
			})
		})

		// Artifact serving (local storage backend only).
		r.Route("/files", func(r chi.Router) {
			r.Get("/*", s.handleFileRequest)
			r.Head("/*", s.handleFileRequest)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
