// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/skillnotes/internal/cache"
	"github.com/starford/skillnotes/internal/credential"
	"github.com/starford/skillnotes/internal/identity"
	"github.com/starford/skillnotes/internal/listener"
	"github.com/starford/skillnotes/internal/mcpserver"
	"github.com/starford/skillnotes/internal/models"
	"github.com/starford/skillnotes/internal/noteservice"
	"github.com/starford/skillnotes/internal/objectstore"
	"github.com/starford/skillnotes/internal/publish"
	"github.com/starford/skillnotes/internal/push"
	"github.com/starford/skillnotes/internal/recordstore"
	"github.com/starford/skillnotes/internal/session"
	"github.com/starford/skillnotes/internal/sse"
	"github.com/starford/skillnotes/internal/web"
)

const (
	pruneInterval   = time.Minute
	refreshThrottle = 2 * time.Second
	heartbeat       = 15 * time.Second
)

// App is the wired client core shared by the HTTP server, the CLI and the
// MCP server.
type App struct {
	Config   *Config
	Logger   *slog.Logger
	Sessions *session.Manager
	Notes    *noteservice.Service

	cache   *cache.Engine
	channel push.Channel
	files   web.Files
	version string
	closers []func() error
}

// New wires every component selected by the configuration. The session
// manager is not started; callers start it or wait on AwaitReady.
func New(opts ...Option) (*App, error) {
	app := &application{logOutput: os.Stdout, version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Debug("Configuration loaded",
		slog.String("auth", cfg.Auth.Provider),
		slog.String("storage", cfg.Storage.Backend),
		slog.String("records", cfg.Records.Backend),
		slog.String("push", cfg.Push.Backend),
		slog.String("log_level", cfg.App.LogLevel.String()))

	a := &App{Config: cfg, Logger: logger, version: app.version}
	if err := a.wire(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.Config

	creds, err := credential.NewFileStore(cfg.Auth.CredentialFile)
	if err != nil {
		return fmt.Errorf("init credential store: %w", err)
	}
	provider, sources, err := a.identity()
	if err != nil {
		return fmt.Errorf("init identity: %w", err)
	}
	sources = append(sources, session.NewFileSource(creds, a.Logger))
	a.Sessions = session.NewManager(provider, creds,
		session.WithLogger(a.Logger),
		session.WithRefreshMargin(cfg.Auth.RefreshMargin),
		session.WithSources(sources...),
	)
	a.closers = append(a.closers, func() error { a.Sessions.Close(); return nil })

	objects, err := a.objects()
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}
	records, err := a.records()
	if err != nil {
		return fmt.Errorf("init record store: %w", err)
	}
	a.closers = append(a.closers, records.Close)
	if a.channel, err = a.push(); err != nil {
		return fmt.Errorf("init push channel: %w", err)
	}

	a.cache = cache.New(cache.WithStaleTime(cfg.Cache.StaleTime), cache.WithLogger(a.Logger))
	pipeline := publish.New(objects, records, a.cache,
		publish.WithMaxFileSize(cfg.Storage.MaxFileSize),
		publish.WithReferenceTTL(cfg.Storage.ReferenceTTL),
		publish.WithLogger(a.Logger),
	)
	a.Notes = noteservice.NewService(a.Sessions, records, a.cache, pipeline,
		noteservice.WithListLimit(cfg.Cache.ListLimit),
		noteservice.WithLogger(a.Logger),
	)
	return nil
}

func (a *App) identity() (session.Provider, []session.ChangeSource, error) {
	cfg := a.Config.Auth
	switch cfg.Provider {
	case AuthRemote:
		p, err := identity.NewRemote(cfg.Remote.URL, cfg.Remote.APIKey, nil)
		return p, nil, err
	default:
		users := make([]identity.LocalUser, 0, len(cfg.Local.Users))
		for _, u := range cfg.Local.Users {
			users = append(users, identity.LocalUser{ID: u.ID, Email: u.Email, PasswordHash: u.PasswordHash})
		}
		p, err := identity.NewLocal(cfg.Local.SigningKey, cfg.Local.TokenTTL, users)
		if err != nil {
			return nil, nil, err
		}
		return p, []session.ChangeSource{p}, nil
	}
}

func (a *App) objects() (objectstore.Provider, error) {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case StorageRemote:
		return objectstore.NewRemote(cfg.Remote.URL, cfg.Remote.Bucket, cfg.Remote.APIKey, a.Sessions, nil)
	default:
		signer, err := objectstore.NewSigner(cfg.FS.SigningKey, cfg.FS.PublicURL)
		if err != nil {
			return nil, err
		}
		fs, err := objectstore.NewFS(cfg.FS.Root, signer)
		if err != nil {
			return nil, err
		}
		a.files = fs
		return fs, nil
	}
}

func (a *App) records() (recordstore.Store, error) {
	cfg := a.Config.Records
	switch cfg.Backend {
	case RecordsAPI:
		return recordstore.NewAPI(cfg.API.URL, a.Sessions, nil)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		return recordstore.OpenSQL(cfg.SQLite.Path)
	}
}

func (a *App) push() (push.Channel, error) {
	cfg := a.Config.Push
	switch cfg.Backend {
	case PushFileWatch:
		return push.NewFileWatch(a.Config.Records.SQLite.Path, cfg.FileWatch.Debounce, a.Logger)
	case PushWebSocket:
		settings := push.DefaultWebSocketSettings()
		if cfg.WebSocket.PingInterval > 0 {
			settings.PingInterval = cfg.WebSocket.PingInterval
		}
		return push.NewWebSocket(cfg.WebSocket.URL, a.Sessions, settings, a.Logger)
	default:
		return push.None{}, nil
	}
}

// Close releases the stores and stops the session manager.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Ready starts the session manager and waits for the initial resolution.
func (a *App) Ready(ctx context.Context) (session.AccessState, error) {
	a.Sessions.Start(ctx)
	return a.Sessions.AwaitReady(ctx)
}

// ServeMCP runs the MCP server on stdin/stdout.
func (a *App) ServeMCP(ctx context.Context) error {
	if _, err := a.Ready(ctx); err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	return mcpserver.New(a.Notes, a.version).ServeStdio()
}

// Serve runs the HTTP server, the change listener and cache maintenance
// until ctx is cancelled or a shutdown signal arrives.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	logger := a.Logger

	g, gCtx := errgroup.WithContext(ctx)
	a.Sessions.Start(gCtx)

	// SSE broker.
	broker := sse.NewBroker(refreshThrottle, heartbeat)
	defer broker.Close()
	unwatch := a.Sessions.OnChange(func(s session.AccessState) {
		broker.PublishSession(s.String())
	})
	defer unwatch()

	// Remote changes invalidate the cache, then reach browsers.
	sub, err := listener.New(a.channel, a.cache, logger).Subscribe(gCtx, models.CollectionNotes)
	if err != nil {
		return fmt.Errorf("subscribe to changes: %w", err)
	}
	defer sub.Close()
	sub.On(broker.PublishChange)

	router := web.NewRouter(web.Deps{
		Notes:    a.Notes,
		Sessions: a.Sessions,
		Files:    a.files,
		Events:   broker,
	})

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	// Drop unwatched invalidated entries.
	g.Go(func() error {
		t := time.NewTicker(pruneInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if n := a.cache.Prune(); n > 0 {
					logger.Debug("cache: pruned", slog.Int("entries", n))
				}
			case <-gCtx.Done():
				return nil
			}
		}
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown ends the group so the background loops stop with the server.
var errShutdown = errors.New("shutdown")

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	a, err := New(opts...)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(ctx)
}
