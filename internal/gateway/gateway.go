// ABOUTME: Gateway orchestrator that wires store, registry, supervisor, and HTTP server
// ABOUTME: Owns startup ordering, worker launch, auth middleware, and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/sigil-gateway/internal/auth"
	"github.com/2389/sigil-gateway/internal/builtins"
	"github.com/2389/sigil-gateway/internal/config"
	"github.com/2389/sigil-gateway/internal/rpc"
	"github.com/2389/sigil-gateway/internal/store"
	"github.com/2389/sigil-gateway/internal/workers"
)

// Gateway is the main server orchestrator. It owns the task store, the
// capability registry, the worker supervisor, and the HTTP server fronting
// the RPC dispatcher.
type Gateway struct {
	config         *config.Config
	logger         *slog.Logger
	store          store.Store
	registry       *workers.Registry
	router         *workers.Router
	supervisor     *workers.Supervisor
	rpcServer      *rpc.Server
	httpServer     *http.Server
	staticVerifier *auth.StaticVerifier
	serverID       string
}

// New creates a Gateway with all components initialized but not started.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := workers.NewRegistry(logger.With("component", "registry"))
	registry.RegisterBuiltinPack(builtins.TaskPack(s))

	router := workers.NewRouter(registry, logger.With("component", "router"))
	supervisor := workers.NewSupervisor(registry, logger)

	rpcServer, err := rpc.NewServer(rpc.Config{
		Registry: registry,
		Router:   router,
		Logger:   logger,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating RPC server: %w", err)
	}

	gw := &Gateway{
		config:     cfg,
		logger:     logger.With("component", "gateway"),
		store:      s,
		registry:   registry,
		router:     router,
		supervisor: supervisor,
		rpcServer:  rpcServer,
		serverID:   generateServerID(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)
	gw.registerRPCRoutes(mux, cfg, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// initStore creates the SQLite store from config, with env override.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("SIGIL_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" {
		dbPath = ":memory:"
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// registerRPCRoutes mounts the dispatcher at /rpc, behind auth middleware when
// any credential source is configured.
func (g *Gateway) registerRPCRoutes(mux *http.ServeMux, cfg *config.Config, logger *slog.Logger) {
	rpcMux := http.NewServeMux()
	g.rpcServer.RegisterRoutes(rpcMux)

	verifier := g.buildVerifier(cfg)
	if verifier == nil {
		mux.Handle("/rpc", rpcMux)
		logger.Warn("auth disabled - no jwt_secret or static tokens configured")
		return
	}

	middleware := auth.Middleware(verifier, logger.With("component", "auth"))
	mux.Handle("/rpc", middleware(rpcMux))
	logger.Info("auth middleware enabled",
		"jwt", cfg.Auth.JWTSecret != "",
		"static_tokens", len(cfg.Auth.StaticTokens),
	)
}

// buildVerifier assembles the token verifier chain from config. Returns nil
// when no credential source is configured (anonymous mode: every request
// reaches the dispatcher without an identity and is refused there).
func (g *Gateway) buildVerifier(cfg *config.Config) auth.TokenVerifier {
	var chain auth.MultiVerifier

	if cfg.Auth.JWTSecret != "" {
		chain = append(chain, auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)))
	}
	if len(cfg.Auth.StaticTokens) > 0 {
		tokens := make([]auth.StaticToken, len(cfg.Auth.StaticTokens))
		for i, tc := range cfg.Auth.StaticTokens {
			tokens[i] = auth.StaticToken{
				Hash:        tc.Hash,
				Subject:     tc.Subject,
				Role:        tc.Role,
				Permissions: tc.Permissions,
			}
		}
		g.staticVerifier = auth.NewStaticVerifier(tokens)
		chain = append(chain, g.staticVerifier)
	}

	switch len(chain) {
	case 0:
		return nil
	case 1:
		return chain[0]
	default:
		return chain
	}
}

// Start launches all configured workers. Callers using Start directly are
// responsible for calling Shutdown.
func (g *Gateway) Start(ctx context.Context) error {
	return g.supervisor.LaunchAll(ctx, g.config.Workers)
}

// Run starts the workers and the HTTP server, then blocks until the context
// is canceled or the server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.Start(ctx); err != nil {
		g.logger.Error("worker launch failed", "error", err)
		if shutdownErr := g.gracefulShutdown(); shutdownErr != nil {
			g.logger.Error("cleanup after failed launch", "error", shutdownErr)
		}
		return err
	}

	listener, err := g.setupListener()
	if err != nil {
		if shutdownErr := g.gracefulShutdown(); shutdownErr != nil {
			g.logger.Error("cleanup after failed listen", "error", shutdownErr)
		}
		return err
	}

	errCh := g.startServer(listener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupListener creates the TCP listener for the HTTP server.
func (g *Gateway) setupListener() (net.Listener, error) {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"server_id", g.serverID,
		"workers", len(g.config.Workers),
	)

	listener, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return listener, nil
}

// startServer starts the HTTP server in a goroutine, returning error channel.
func (g *Gateway) startServer(listener net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", listener.Addr().String())
		if err := g.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server, the workers, and releases
// resources. Safe to call after a partial startup.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Workers stop before the store closes: in-flight builtin calls may
	// still touch it.
	g.supervisor.ShutdownAll()

	if g.staticVerifier != nil {
		g.staticVerifier.Close()
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the HTTP server is responding.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once every configured worker is online.
// Builtins carry no worker process, so a gateway with no workers configured
// is ready immediately.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	online := g.registry.WorkerCount()
	want := len(g.config.Workers)
	if online < want {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "%d/%d workers online", online, want)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d workers)", online)
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("sigil-gateway-%d", time.Now().UnixNano()%1000000)
}
