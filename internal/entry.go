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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/raido/internal/api"
	"github.com/starford/raido/internal/audit"
	"github.com/starford/raido/internal/cache"
	"github.com/starford/raido/internal/importwatch"
	"github.com/starford/raido/internal/mcpserver"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/notify"
	"github.com/starford/raido/internal/recordservice"
	"github.com/starford/raido/internal/sse"
	"github.com/starford/raido/internal/store"
)

// Run starts the HTTP server (and the import watcher, when configured) with
// the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Int("cache_ttl_seconds", cfg.Cache.TTLSeconds),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize record store.
	st, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	// Audit sink shares the database file with the store.
	auditSink, err := audit.Open(cfg.SQLite.Path, logger)
	if err != nil {
		return fmt.Errorf("init audit sink: %w", err)
	}
	defer auditSink.Close()

	// Read-through cache.
	c := cache.NewMemory()
	defer c.Close()

	// SSE broker for live record events.
	broker := sse.NewBroker()
	defer broker.Close()

	svc := recordservice.NewService(st, c,
		recordservice.WithAudit(auditSink),
		recordservice.WithNotifier(notify.NewLog(logger)),
		recordservice.WithCacheTTL(cfg.Cache.TTL()),
		recordservice.WithLogger(logger),
		recordservice.WithEvents(func(kind string, typ models.EntityType, id string) {
			broker.PublishRecordEvent(kind, string(typ), id)
		}),
	)

	apiRouter := api.NewRouter(svc, auditSink.Recent, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Import drop-directory watcher.
	if cfg.Import.Dir != "" && app.importer != nil {
		g.Go(func() error {
			return importwatch.Watch(gCtx, importwatch.Config{
				Dir:       cfg.Import.Dir,
				Importer:  app.importer,
				Audit:     auditSink,
				Notifier:  notify.NewLog(logger),
				Recipient: cfg.Import.Recipient,
				Logger:    logger,
			})
		})
	}

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

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP stdio server over the same store and cache.
func RunMCP(_ context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// Logs go to stderr so stdout stays clean for the MCP transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	st, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	auditSink, err := audit.Open(cfg.SQLite.Path, logger)
	if err != nil {
		return fmt.Errorf("init audit sink: %w", err)
	}
	defer auditSink.Close()

	c := cache.NewMemory()
	defer c.Close()

	svc := recordservice.NewService(st, c,
		recordservice.WithAudit(auditSink),
		recordservice.WithCacheTTL(cfg.Cache.TTL()),
		recordservice.WithLogger(logger),
	)

	return mcpserver.New(svc).ServeStdio()
}
