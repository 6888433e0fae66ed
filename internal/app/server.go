package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/documind/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/documind/internal/api/middlewares"
	"github.com/markdave123-py/documind/internal/config"
)

// maxJSONBody bounds chat and search request bodies.
const maxJSONBody = 1 << 20

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, docs handlers.DocumentService, engine handlers.QueryEngine, checks map[string]handlers.Check) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(cfg, docs, engine, checks),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

func NewRouter(cfg *config.Config, docs handlers.DocumentService, engine handlers.QueryEngine, checks map[string]handlers.Check) http.Handler {
	docHandler := handlers.NewDocumentHandler(docs, cfg.MaxFileSize, cfg.Debug)
	chatHandler := handlers.NewChatHandler(engine, cfg.Debug)
	healthHandler := handlers.NewHealthHandler(Version, checks)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(120 * time.Second))

		api.Post("/upload", docHandler.UploadDocument)
		api.Get("/documents", docHandler.ListDocuments)
		api.Get("/documents/{id}/status", docHandler.GetStatus)
		api.Post("/documents/{id}/reprocess", docHandler.Reprocess)
		api.Delete("/documents/{id}", docHandler.DeleteDocument)
		api.Get("/files/{id}", docHandler.ServeFile)

		api.Group(func(q chi.Router) {
			q.Use(appMiddleware.LimitBody(maxJSONBody))
			q.Post("/chat", chatHandler.Chat)
			q.Post("/search", chatHandler.Search)
		})
	})

	return r
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }
