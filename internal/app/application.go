package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"

	"mentorsync/internal/api"
	"mentorsync/internal/config"
	"mentorsync/internal/database"
	"mentorsync/internal/hub"
	"mentorsync/internal/router"
	"mentorsync/internal/session"
	"mentorsync/internal/websocket"
	pkgdatabase "mentorsync/pkg/database"
)

// Application coordinates all server components.
// Initialization order: Database → Arbiter → Registry → Relay → Hub →
// WebSocket handler → API → HTTP.
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	arbiter    *session.Arbiter
	registry   *websocket.Registry
	relay      *router.Relay
	messageHub *hub.Hub
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener
}

// NewApplication builds every component from cfg. A nil cfg means defaults.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.MaxConnections = cfg.Database.MaxConnections

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	arbiter := session.NewArbiter(dbManager)
	if err := arbiter.LoadClaims(context.Background()); err != nil {
		_ = arbiter.Close()
		_ = dbManager.Close()
		return nil, err
	}

	registry := websocket.NewRegistry(arbiter)
	relay := router.NewRelay(registry, cfg.Relay.RateLimitPerMinute)
	messageHub := hub.NewHub(registry, relay, cfg.Relay.QueueSize)

	wsHandler := websocket.NewHandler(messageHub, websocket.HandlerConfig{
		PingInterval:   cfg.WebSocket.PingInterval,
		PongWait:       cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		SendBufferSize: cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	})

	apiServer := api.NewServer(dbManager, registry, http.HandlerFunc(wsHandler.HandleWebSocket))

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		arbiter:    arbiter,
		registry:   registry,
		relay:      relay,
		messageHub: messageHub,
		wsHandler:  wsHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start starts the hub and then begins serving HTTP. It returns once the
// listener is bound; serve errors are delivered on the returned channel.
func (app *Application) Start(ctx context.Context) (<-chan error, error) {
	log.Printf("Starting mentorsync on %s", app.httpServer.Addr)

	if err := app.messageHub.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start message hub: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.messageHub.Stop()
		return nil, fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	serveErr := make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(serveErr)
	}()

	log.Printf("mentorsync started on %s", listener.Addr())
	return serveErr, nil
}

// Stop shuts down in reverse order: HTTP, live sockets, hub, claim writer,
// database.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down mentorsync")

	var errs []error

	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}

	// hijacked WebSocket connections are not closed by Shutdown
	app.wsHandler.CloseAll()

	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("message hub shutdown: %w", err))
	}

	// pending mentor claims must land before the database goes away
	if err := app.arbiter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("mentor claim writer shutdown: %w", err))
	}

	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	log.Printf("mentorsync shutdown complete")
	return errors.Join(errs...)
}

// GetAddr returns the bound address once started, else the configured one.
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler returns the root HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}
