package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/insights-onprem/insights-aggregator/pkg/content"
	"github.com/insights-onprem/insights-aggregator/pkg/storage"
)

// Config holds the HTTP-facing settings.
type Config struct {
	// Version is reported by the root service descriptor.
	Version string
	// MaxUploadSize caps the accepted archive size in bytes.
	MaxUploadSize int64
	// TempUploadDir stages uploads before processing. Empty means the
	// system temp directory.
	TempUploadDir string
}

// DefaultConfig returns the default HTTP configuration.
func DefaultConfig() Config {
	return Config{
		Version:       "1.0.0",
		MaxUploadSize: 100 * 1024 * 1024,
		TempUploadDir: "",
	}
}

// NewRouter assembles the service's routes. metrics may be nil, which
// disables the /metrics endpoint and all instrumentation.
func NewRouter(cfg Config, pipeline ArchiveProcessor, store *storage.Store, index *content.Index, metrics *Metrics, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", IdentityHeader, RequestIDHeader},
	}))

	r.Get("/", ServiceInfoHandler(cfg.Version))
	r.Get("/health", HealthHandler())
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	r.Route("/api/ingress/v1", func(r chi.Router) {
		r.Use(RequireIdentity)
		r.Post("/upload", UploadHandler(pipeline, cfg.MaxUploadSize, cfg.TempUploadDir, metrics, logger))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/content", ContentHandler(index))

		r.Group(func(r chi.Router) {
			r.Use(RequireIdentity)
			r.Get("/clusters/reports", ClustersReportsHandler(store, index, logger))
			r.Get("/clusters/{cluster}/report/info", ReportInfoHandler(store))
		})
	})

	return r
}
