package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/oasis-scribe/internal/audio"
	"github.com/yegors/oasis-scribe/internal/config"
	"github.com/yegors/oasis-scribe/internal/metrics"
	"github.com/yegors/oasis-scribe/internal/notes"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	metrics    *metrics.Collector
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router. collector may be nil.
func NewRouter(service *notes.Service, uploads *audio.UploadDir, collector *metrics.Collector, config *config.Config, logger *logger.Logger) *Router {
	return &Router{
		handler:    NewHandler(service, uploads, config.Server.UploadMaxBytes, logger),
		middleware: NewMiddleware(logger),
		metrics:    collector,
		config:     config,
		logger:     logger.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.Metrics(r.metrics))
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))
	router.Use(r.middleware.SecurityHeaders)
	router.Use(r.middleware.BasicAuth(r.config.Auth.Username, r.config.Auth.Password))

	// Patient routes
	router.Get("/patients", r.handler.ListPatients)

	// Note routes
	router.Get("/notes", r.handler.ListNotes)
	router.Post("/notes", r.handler.CreateNote)
	router.Get("/notes/{id}", r.handler.GetNote)

	// Health check
	router.Get("/healthz", r.handler.Health)

	if r.metrics != nil && r.config.Metrics.Enabled {
		router.Handle("/metrics", r.metrics.Handler())
	}

	// Local recordings; remote mode hands out signed URLs instead
	if r.config.ResolveStorage().Kind == config.StorageLocal {
		router.Get("/uploads/*", r.handler.ServeUpload)
		router.Head("/uploads/*", r.handler.ServeUpload)
	}

	return router
}
