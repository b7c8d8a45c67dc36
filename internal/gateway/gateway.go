// ABOUTME: Gateway orchestrator that wires the store, session registry, and chat service
// ABOUTME: Manages the HTTP server and health endpoints lifecycle

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evachat/eva-gateway/internal/auth"
	"github.com/evachat/eva-gateway/internal/chat"
	"github.com/evachat/eva-gateway/internal/config"
	"github.com/evachat/eva-gateway/internal/llm"
	"github.com/evachat/eva-gateway/internal/relay"
	"github.com/evachat/eva-gateway/internal/session"
	"github.com/evachat/eva-gateway/internal/store"
)

// Gateway coordinates the eva-gateway server components: the conversation
// store, the per-user session registry, and the chat orchestrator behind
// an HTTP server carrying both the JSON API and the websocket hub.
type Gateway struct {
	config     *config.Config
	store      store.Store
	registry   *session.Registry
	chat       *chat.Service
	verifier   auth.TokenVerifier
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates the conversation store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("EVA_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return store.NewCachedStore(s), nil
}

// capabilities builds the tool set attached to every chat model.
// Web search is included only when an endpoint is configured.
func capabilities(cfg *config.Config) []llm.Capability {
	caps := []llm.Capability{&llm.CurrentDateTime{}}
	if cfg.WebSearch.Endpoint != "" {
		caps = append(caps, &llm.WebSearch{
			Endpoint: cfg.WebSearch.Endpoint,
			APIKey:   cfg.WebSearch.APIKey,
			EngineID: cfg.WebSearch.EngineID,
		})
	}
	return caps
}

// New creates a Gateway from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	registry := session.NewRegistry(logger)
	rly := relay.New(registry, cfg.Chat.StreamDelay, logger)

	factory := chat.DefaultClientFactory(capabilities(cfg), logger)
	chatSvc, err := chat.New(st, rly, factory, cfg.Chat, logger)
	if err != nil {
		return nil, fmt.Errorf("creating chat service: %w", err)
	}

	gw := &Gateway{
		config:   cfg,
		store:    st,
		registry: registry,
		chat:     chatSvc,
		verifier: verifier,
		logger:   logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP mux: health endpoints are open, the API sits
// behind bearer auth, and the hub authenticates during the upgrade.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	requireAuth := auth.Middleware(g.verifier)
	mux.Handle("/api/chat", requireAuth(http.HandlerFunc(g.handleChat)))
	mux.Handle("/api/conversations", requireAuth(http.HandlerFunc(g.handleListConversations)))
	mux.Handle("/api/conversations/", requireAuth(http.HandlerFunc(g.handleConversation)))

	// The hub cannot use the header middleware: browser websockets carry
	// the token as a query parameter.
	mux.HandleFunc("/hub", g.handleHub)

	return mux
}

// Run starts the HTTP server and blocks until the context is canceled or
// the server fails, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		g.logger.Info("http server listening", "addr", listener.Addr().String())
		if err := g.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		g.logger.Info("initiating shutdown")
		return g.gracefulShutdown()
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// gracefulShutdown drains with a fresh context and timeout. Uses
// context.Background() since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	if err := g.httpServer.Shutdown(ctx); err != nil {
		g.logger.Error("http shutdown error", "error", err)
	}
	if err := g.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}

// handleHealth responds to liveness probes.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady responds to readiness probes. Ready means the store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListVisibleConversations(r.Context(), "readyz-probe"); err != nil {
		g.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeJSON writes a JSON response with the given status code.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("encoding response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
