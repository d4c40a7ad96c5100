package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the control-surface router. This is a thin adapter:
// handlers decode JSON and delegate to the application services.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoint for infra checks.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/stats", s.getStats)
	r.Put("/enabled", s.putEnabled)
	r.Delete("/cache", s.deleteCache)
	r.Delete("/ratelimit", s.deleteRateLimit)
	r.Post("/refresh", s.postRefresh)
	r.Get("/cache/export", s.getCacheExport)
	r.Post("/cache/import", s.postCacheImport)
	r.Post("/cards", s.postCards)
	r.Post("/cards/manual-update", s.postManualUpdate)

	return r
}
