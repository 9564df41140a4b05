// Package api exposes the engine over HTTP: an ingestion endpoint for new
// events, a status endpoint for webhooks, a server-sent feed of engine
// errors, and a health check, wired with chi for transport-level middleware
// and Huma for typed operations and OpenAPI generation.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/formbricks/webhook-engine/internal/config"
	"github.com/formbricks/webhook-engine/internal/engine"
	custommiddleware "github.com/formbricks/webhook-engine/internal/middleware"
)

// Ingester is the write path the admin API uses to enqueue new events, kept
// as an interface so tests can substitute an in-memory store.
type Ingester interface {
	Enqueue(ctx context.Context, webhookID engine.WebhookID, payload string, headers []engine.Header) (engine.WebhookEventKey, error)
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	config   *config.Config
	engine   *engine.Server
	ingester Ingester
	logger   *slog.Logger
	api      huma.API
	router   *chi.Mux
}

// NewServer creates the admin API server and registers every route.
func NewServer(cfg *config.Config, eng *engine.Server, ingester Ingester, logger *slog.Logger) *Server {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Compress(5))
	router.Use(custommiddleware.MaxBodySize(1 << 20)) // 1MB: event payloads are small

	rateLimiter := custommiddleware.NewRateLimiter(
		cfg.RateLimitPerIP,
		cfg.RateLimitBurst,
		cfg.RateLimitGlobal,
		cfg.RateLimitGlobalBurst,
		logger,
	)
	router.Use(rateLimiter.Middleware())

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"ok"}`)
	})

	humaConfig := huma.DefaultConfig("Webhook Engine API", "1.0.0")
	humaConfig.Info.Description = "Reliable webhook event delivery: ingestion, status, and error observability."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://localhost:%d", cfg.Port), Description: "Development server"},
	}

	humaAPI := humachi.New(router, humaConfig)
	humaAPI.UseMiddleware(custommiddleware.Logging(logger))
	if cfg.APIKey != "" {
		logger.Info("API key authentication enabled")
		humaAPI.UseMiddleware(custommiddleware.APIKeyAuth(humaAPI, cfg.APIKey))
	}

	s := &Server{
		config:   cfg,
		engine:   eng,
		ingester: ingester,
		logger:   logger,
		api:      humaAPI,
		router:   router,
	}

	RegisterEventRoutes(humaAPI, ingester, logger)
	RegisterStatusRoutes(humaAPI, eng, logger)
	registerErrorStream(router, eng, logger)

	return s
}

// Router returns the underlying handler for serving.
func (s *Server) Router() http.Handler { return s.router }

// Start runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Address()
	httpServer := &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.logger.Info("admin API listening", "address", addr)

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down admin API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
