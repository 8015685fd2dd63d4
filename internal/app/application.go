package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"collabhub/internal/api"
	"collabhub/internal/auth"
	"collabhub/internal/config"
	"collabhub/internal/database"
	"collabhub/internal/gateway"
	"collabhub/internal/hub"
	"collabhub/internal/presence"
	"collabhub/internal/router"
	"collabhub/internal/websocket"
	"collabhub/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *slog.Logger
	dbManager  *database.Manager
	registry   *websocket.Registry
	tracker    *presence.Tracker
	hub        *hub.Hub
	gateway    *gateway.Gateway
	router     *router.Router
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
	stopOnce sync.Once
	stopErr  error
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Registry/Tracker → Hub → Gate → Gateway → Router → WebSocket → API → HTTP
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Database manager (foundation layer, applies migrations)
	dbManager, err := database.NewManager(cfg.StoreConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 2: In-memory presence state
	registry := websocket.NewRegistry()
	tracker := presence.NewTracker()

	// STEP 3: Event broadcaster persisting to the activity table
	eventHub := hub.NewHub(registry, tracker, dbManager, logger)

	// STEP 4: Authentication gate over the JWT verifier and the users table
	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Leeway)
	gate := auth.NewGate(verifier, dbManager, cfg.Auth.Leeway, logger)

	// STEP 5: Gateway facade
	gw := gateway.New(gateway.Dependencies{
		Registry:             registry,
		Tracker:              tracker,
		Hub:                  eventHub,
		Gate:                 gate,
		Oracle:               dbManager,
		LastSeen:             dbManager,
		Logger:               logger,
		AuthorizationTimeout: cfg.Gateway.AuthorizationTimeout,
	})

	// STEP 6: Inbound frame router
	frameRouter := router.NewRouter(gw, eventHub, cfg.Gateway.InboundRateLimit, logger)

	// STEP 7: WebSocket handler
	wsHandler := websocket.NewHandler(&lifecycle{gateway: gw, router: frameRouter}, frameRouter, websocket.HandlerConfig{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
	}, logger)

	// STEP 8: HTTP API
	apiServer := api.NewServer(gw, gate, dbManager, api.Options{
		AllowedOrigins:       cfg.HTTP.AllowedOrigins,
		AuthorizationTimeout: cfg.Gateway.AuthorizationTimeout,
	}, logger)

	// STEP 9: HTTP server with both API and WebSocket endpoints
	mux := http.NewServeMux()
	mux.Handle(cfg.WebSocket.Path, wsHandler)
	mux.Handle("/", apiServer)

	httpServer := &http.Server{
		Addr:              cfg.Address(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return &Application{
		config:     cfg,
		logger:     logger.With("component", "app"),
		dbManager:  dbManager,
		registry:   registry,
		tracker:    tracker,
		hub:        eventHub,
		gateway:    gw,
		router:     frameRouter,
		apiServer:  apiServer,
		httpServer: httpServer,
		serveErr:   make(chan error, 1),
	}, nil
}

// lifecycle releases router state alongside the gateway's disconnect cleanup
type lifecycle struct {
	gateway *gateway.Gateway
	router  *router.Router
}

func (l *lifecycle) OnConnect(ctx context.Context, conn interfaces.Connection, credential string) error {
	return l.gateway.OnConnect(ctx, conn, credential)
}

func (l *lifecycle) OnDisconnect(conn interfaces.Connection) {
	l.gateway.OnDisconnect(conn)
	l.router.Forget(conn.ID())
}

// Start begins application execution
// Hub starts first so emits work, then the listener accepts connections
func (app *Application) Start(ctx context.Context) error {
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.mu.Lock()
	app.listener = listener
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	app.logger.Info("collabhub started",
		"addr", listener.Addr().String(),
		"websocket_path", app.config.WebSocket.Path,
	)
	return nil
}

// Run starts the application and blocks until ctx is cancelled or the server fails,
// then shuts everything down
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.router.Run(gctx)
	})
	g.Go(func() error {
		select {
		case err := <-app.serveErr:
			return err
		case <-gctx.Done():
			return nil
		}
	})
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Stop gracefully shuts down the application; later calls return the first result
// Reverse dependency order: HTTP → live connections → Hub → Database
func (app *Application) Stop(ctx context.Context) error {
	app.stopOnce.Do(func() {
		app.logger.Info("shutting down")

		// STEP 1: Stop accepting new connections
		if err := app.httpServer.Shutdown(ctx); err != nil {
			app.logger.Warn("HTTP server shutdown error", "error", err)
		}

		// STEP 2: Hijacked websocket connections are not tracked by the HTTP server
		app.gateway.Shutdown()

		// STEP 3: Stop event processing
		if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			app.logger.Warn("event hub shutdown error", "error", err)
		}

		// STEP 4: Close database connections
		if err := app.dbManager.Close(); err != nil {
			app.stopErr = fmt.Errorf("database shutdown error: %w", err)
		}

		app.logger.Info("shutdown complete")
	})
	return app.stopErr
}

// Addr returns the address the server listens on, resolved once started
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Gateway exposes the facade to code running in the same process
func (app *Application) Gateway() *gateway.Gateway {
	return app.gateway
}

// Store exposes the database manager for seeding users and memberships
func (app *Application) Store() *database.Manager {
	return app.dbManager
}
