package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	"liveclass/internal/api"
	"liveclass/internal/auth"
	"liveclass/internal/config"
	"liveclass/internal/database"
	"liveclass/internal/directory"
	"liveclass/internal/gateway"
	"liveclass/internal/observability"
	"liveclass/internal/presence"
	"liveclass/internal/websocket"
	pkgdatabase "liveclass/pkg/database"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *slog.Logger
	dbManager  *database.Manager
	directory  *directory.Manager
	presence   *presence.Registry
	registry   *websocket.Registry
	gateway    *gateway.Gateway
	verifier   *auth.Verifier
	metrics    *observability.Metrics
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener
	serveErr   chan error
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Directory → Presence → Gateway → Socket handler → API → HTTP
func NewApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = cfg.Log.NewLogger(os.Stderr)
	}

	// STEP 1: Database manager and schema
	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}
	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	if err := pkgdatabase.NewMigrationManager(dbManager.GetDB()).ApplyMigrations(ctx); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	logger.Info("database migrations applied", "path", cfg.Database.Path)

	// STEP 2: One verifier for REST and the socket handshake
	verifier, err := auth.NewVerifier(cfg.Auth.Secret)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	// STEP 3: Presence is shared by the gateway (writer) and the directory's
	// capacity guard and participant listing (readers)
	presenceRegistry := presence.NewRegistry()
	dir := directory.NewManager(dbManager, logger, directory.WithGuards(directory.DefaultGuards(presenceRegistry)...))
	if err := dir.LoadActiveSessions(ctx); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to load active sessions: %w", err)
	}

	// STEP 4: Gateway over the connection registry
	metrics := observability.NewMetrics("liveclass")
	registry := websocket.NewRegistry()
	gw := gateway.NewGateway(registry, presenceRegistry, metrics, logger,
		gateway.WithQueueSize(cfg.WebSocket.QueueSize),
		gateway.WithAdmission(dir.Admit),
	)
	dir.OnSessionClosed(gw.SessionClosed)

	// STEP 5: Socket handler feeding the gateway
	wsHandler := websocket.NewHandler(verifier, gw, websocket.HandlerConfig{
		AllowedOrigin:    cfg.HTTP.AllowedOrigin,
		PingInterval:     cfg.WebSocket.PingInterval,
		ReadTimeout:      cfg.WebSocket.ReadTimeout,
		WriteTimeout:     cfg.WebSocket.WriteTimeout,
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		BufferSize:       cfg.WebSocket.BufferSize,
		MaxMessageBytes:  cfg.WebSocket.MaxMessageBytes,
	}, metrics, logger)

	sampler, err := observability.NewProcessSampler()
	if err != nil {
		logger.Warn("process sampler unavailable, /health omits system stats", "err", err)
		sampler = nil
	}

	// STEP 6: REST surface, socket namespace and /metrics on one router
	apiServer := api.NewServer(api.Dependencies{
		Directory:     dir,
		Database:      dbManager,
		Presence:      presenceRegistry,
		Verifier:      verifier,
		Socket:        wsHandler,
		Stats:         gw,
		Metrics:       metrics,
		Sampler:       sampler,
		AllowedOrigin: cfg.HTTP.AllowedOrigin,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger.With("component", "app"),
		dbManager:  dbManager,
		directory:  dir,
		presence:   presenceRegistry,
		registry:   registry,
		gateway:    gw,
		verifier:   verifier,
		metrics:    metrics,
		apiServer:  apiServer,
		httpServer: httpServer,
		serveErr:   make(chan error, 1),
	}, nil
}

// Start begins application execution
// Gateway starts first to handle events, then the HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	if err := app.gateway.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.gateway.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server stopped", "err", err)
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(app.serveErr)
	}()

	app.logger.Info("liveclass started", "addr", listener.Addr().String())
	return nil
}

// Errors yields a fatal serving error, or closes when the server stops
func (app *Application) Errors() <-chan error {
	return app.serveErr
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → sockets → Gateway → Database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down liveclass")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// TECHNICAL DISCOVERY: Shutdown does not touch hijacked connections;
	// closing them lets each pump dispatch its disconnect before the gateway stops
	for _, conn := range app.registry.Snapshot() {
		_ = conn.Close()
	}

	if err := app.gateway.Stop(); err != nil && !errors.Is(err, gateway.ErrGatewayNotRunning) {
		errs = append(errs, fmt.Errorf("gateway stop: %w", err))
	}
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}

	app.logger.Info("liveclass shutdown complete")
	return errors.Join(errs...)
}

// GetAddr returns the bound address once Start has run, else the configured one
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the full router, for in-process tests
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Verifier is the token authority shared by REST and the socket handshake
func (app *Application) Verifier() *auth.Verifier {
	return app.verifier
}

// Directory is the session directory backing the REST surface
func (app *Application) Directory() *directory.Manager {
	return app.directory
}
