// Package api provides HTTP handlers and the main API server logic for
// Pathlight.
//
// It exposes the prompt cache to the rest of the application: objective and
// tree lookups, per-turn prompt bundle generation, reply generation, cache
// statistics, and the authoring endpoints whose writes fire the change
// notifications that keep cached entries fresh.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pathlight-ai/pathlight/internal/cache"
	"github.com/pathlight-ai/pathlight/internal/configstore"
	"github.com/pathlight-ai/pathlight/internal/genai"
)

// Server timeouts.
const (
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Server wires the prompt cache, config store, and reply generator behind
// the HTTP surface.
type Server struct {
	cache *cache.PromptCache
	store configstore.Store
	genai genai.ClientInterface

	httpServer *http.Server
}

// NewServer creates an API server. genaiClient may be nil; the reply
// endpoint then responds 503.
func NewServer(promptCache *cache.PromptCache, store configstore.Store, genaiClient genai.ClientInterface) *Server {
	slog.Debug("api.NewServer: creating server", "hasGenAI", genaiClient != nil)
	return &Server{cache: promptCache, store: store, genai: genaiClient}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/objectives/{id}", s.getObjectiveHandler)
	mux.HandleFunc("GET /api/trees/default", s.getDefaultTreeHandler)
	mux.HandleFunc("GET /api/trees/{id}", s.getTreeHandler)
	mux.HandleFunc("POST /api/prompt", s.generatePromptHandler)
	mux.HandleFunc("POST /api/reply", s.generateReplyHandler)
	mux.HandleFunc("GET /api/stats", s.statsHandler)
	mux.HandleFunc("GET /api/manifest", s.manifestHandler)
	mux.HandleFunc("GET /api/ready", s.readyHandler)

	mux.HandleFunc("PUT /api/admin/objectives/{id}", s.putObjectiveHandler)
	mux.HandleFunc("PUT /api/admin/trees/{id}", s.putTreeHandler)
	mux.HandleFunc("PUT /api/admin/manifest", s.putManifestHandler)

	return mux
}

// Run starts the server and blocks until ctx is canceled, then shuts down
// gracefully and cleans up the cache's subscriptions.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Pathlight API listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Pathlight API shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("api server shutdown failed", "error", err)
	}
	s.cache.Cleanup()
	return nil
}
