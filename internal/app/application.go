package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"sessionchat/internal/access"
	"sessionchat/internal/api"
	"sessionchat/internal/auth"
	"sessionchat/internal/badgerlog"
	"sessionchat/internal/config"
	"sessionchat/internal/database"
	"sessionchat/internal/events"
	"sessionchat/internal/memstore"
	"sessionchat/internal/presence"
	"sessionchat/internal/room"
	"sessionchat/internal/session"
	"sessionchat/internal/websocket"
	dbconfig "sessionchat/pkg/database"
	"sessionchat/pkg/interfaces"
)

// Application owns every long-lived component.
// Construction order: store → integrations → presence → rooms → sessions →
// gateway → API → HTTP. Shutdown runs in reverse.
type Application struct {
	config        *config.Config
	logger        *zap.Logger
	store         interfaces.Store
	publisher     events.Publisher
	mirror        *presence.RedisMirror
	tracker       *presence.Tracker
	rooms         *room.Manager
	sessions      *session.Manager
	registry      *websocket.Registry
	authenticator *auth.Authenticator
	apiServer     *api.Server
	httpServer    *http.Server
	listener      net.Listener
}

// NewApplication validates cfg and wires the service.
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	authenticator, err := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	app := &Application{
		config:        cfg,
		logger:        logger,
		authenticator: authenticator,
		publisher:     events.Noop{},
	}

	// STEP 1: storage
	app.store, err = openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	// STEP 2: optional integrations
	if err := app.connectIntegrations(); err != nil {
		app.closeBackends()
		return nil, err
	}

	// STEP 3: presence, rooms and the session write side
	var mirror presence.Mirror
	if app.mirror != nil {
		mirror = app.mirror
	}
	app.tracker = presence.NewTracker(mirror, logger)
	app.rooms = room.NewManager(room.Config{MaxBodyRunes: cfg.Store.MaxBodyRunes}, app.store, app.publisher, logger)
	app.sessions = session.NewManager(app.store, app.rooms, app.publisher, logger)

	// STEP 4: gateway and HTTP API
	app.registry = websocket.NewRegistry()
	gateway := websocket.NewHandler(
		websocket.Config{
			PingInterval:    cfg.WebSocket.PingInterval,
			ReadTimeout:     cfg.WebSocket.ReadTimeout,
			WriteTimeout:    cfg.WebSocket.WriteTimeout,
			SendBuffer:      cfg.WebSocket.BufferSize,
			RateLimit:       cfg.WebSocket.RateLimit,
			RateWindow:      cfg.WebSocket.RateWindow,
			MaxDecodeErrors: cfg.WebSocket.MaxDecodeErrors,
			AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
		},
		authenticator,
		auth.TokenFromRequest,
		app.store,
		access.NewGuard(cfg.Access.GraceBefore, cfg.Access.GraceAfter),
		app.rooms,
		app.tracker,
		app.registry,
		logger,
	)

	app.apiServer = api.NewServer(api.Deps{
		Auth:        authenticator,
		Token:       auth.TokenFromRequest,
		Sessions:    app.sessions,
		History:     app.store,
		Store:       app.store,
		Connections: app.registry,
		Rooms:       app.rooms,
		Presence:    app.tracker,
		Gateway:     gateway,
		Logger:      logger,
	})

	app.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           app.apiServer,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (interfaces.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memstore.New(), nil

	case config.BackendBadger:
		if cfg.Badger.Path != "" {
			if err := os.MkdirAll(cfg.Badger.Path, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create badger directory: %w", err)
			}
		}
		store, err := badgerlog.Open(cfg.Badger.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		return store, nil

	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dbCfg := dbconfig.DefaultConfig()
		dbCfg.DatabasePath = cfg.Database.Path
		dbCfg.MaxConnections = cfg.Database.MaxConnections
		dbCfg.WriteTimeout = cfg.Database.Timeout

		manager, err := database.NewManager(dbCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		if err := manager.Migrate(); err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("failed to apply database migrations: %w", err)
		}
		logger.Info("database ready", zap.String("path", cfg.Database.Path))
		return manager, nil
	}
}

func (app *Application) connectIntegrations() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if url := app.config.Redis.URL; url != "" {
		mirror, err := presence.NewRedisMirror(ctx, url, app.config.Redis.Prefix)
		if err != nil {
			return fmt.Errorf("failed to connect presence mirror: %w", err)
		}
		// presence does not survive a restart
		if err := mirror.Reset(ctx); err != nil {
			_ = mirror.Close()
			return fmt.Errorf("failed to reset presence mirror: %w", err)
		}
		app.mirror = mirror
		app.logger.Info("presence mirror connected")
	}

	if url := app.config.NATS.URL; url != "" {
		publisher, err := events.NewNATSPublisher(url, app.config.NATS.SubjectPrefix, app.logger)
		if err != nil {
			return fmt.Errorf("failed to connect event publisher: %w", err)
		}
		app.publisher = publisher
		app.logger.Info("event publisher connected")
	}
	return nil
}

// Start binds the listener and serves in the background. It returns once
// the socket is bound or binding failed.
func (app *Application) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	app.logger.Info("sessionchat started",
		zap.String("addr", listener.Addr().String()),
		zap.String("store", app.config.Store.Backend))
	return nil
}

// Stop shuts down HTTP, then live connections and rooms, then the backends.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	closed := app.registry.CloseAll()
	app.waitForConnections(ctx)
	app.rooms.Close()
	app.logger.Info("connections closed", zap.Int("count", closed))

	if err := app.closeBackends(); err != nil {
		errs = append(errs, err)
	}

	app.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// waitForConnections gives read loops a chance to run their cleanup so rooms
// see orderly dismissals before they are stopped.
func (app *Application) waitForConnections(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for app.registry.Stats()["total_connections"] > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (app *Application) closeBackends() error {
	var errs []error
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher: %w", err))
		}
	}
	if app.mirror != nil {
		if err := app.mirror.Close(); err != nil {
			errs = append(errs, fmt.Errorf("presence mirror: %w", err))
		}
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Addr returns the bound address once started, else the configured one.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the HTTP handler for in-process tests.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Authenticator returns the token authenticator, used to mint dev tokens.
func (app *Application) Authenticator() *auth.Authenticator {
	return app.authenticator
}
