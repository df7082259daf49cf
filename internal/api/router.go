package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/middleware"
)

// RouterConfig holds the cross-cutting settings of the HTTP surface.
type RouterConfig struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
	// Metrics is optional; requests are not instrumented when nil.
	Metrics *metrics.Metrics
	// UploadLimiter throttles POST /documents per client IP when set.
	UploadLimiter *middleware.Limiter
}

// NewRouter builds the API handler with all routes and middleware.
//
// Route table:
//
//	POST   /documents                  → upload and dispatch
//	GET    /documents                  → list (?order_by=created_at: 3 newest)
//	GET    /documents/{id}             → document with processed output
//	PUT    /documents/{id}             → rename
//	DELETE /documents/{id}             → delete, drop cache entry
//	GET    /processed-documents        → list extracted content
//	GET    /processed-documents/{id}   → extracted content
//	GET    /tasks/{taskID}             → task, document and cache status
//	POST   /tasks/{taskID}/revoke      → revoke
//	GET    /health, /health/live, /health/ready
//
// Middleware chain (outermost first):
//
//	RequestID → Logging → Recover → Metrics → Timeout → CORS → handler
func NewRouter(h *Handler, checker *health.Checker, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.Recover)
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.CORS(middleware.NewCORSConfig(cfg.AllowedOrigins)))

	r.Get("/health", checker.Handler())
	r.Get("/health/live", checker.LiveHandler())
	r.Get("/health/ready", checker.ReadyHandler())

	r.Route("/documents", func(r chi.Router) {
		if cfg.UploadLimiter != nil {
			r.With(middleware.RateLimit(cfg.UploadLimiter)).Post("/", h.Upload)
		} else {
			r.Post("/", h.Upload)
		}
		r.Get("/", h.ListDocuments)
		r.Get("/{id}", h.GetDocument)
		r.Put("/{id}", h.UpdateDocument)
		r.Delete("/{id}", h.DeleteDocument)
	})
	r.Route("/processed-documents", func(r chi.Router) {
		r.Get("/", h.ListProcessed)
		r.Get("/{id}", h.GetProcessed)
	})
	r.Route("/tasks/{taskID}", func(r chi.Router) {
		r.Get("/", h.TaskStatus)
		r.Post("/revoke", h.RevokeTask)
	})

	return r
}
