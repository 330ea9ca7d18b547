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

	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/blob"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/server"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/transcribe"
)

// Run starts the dev backend with the given options and blocks until
// shutdown.
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
		slog.String("http_address", cfg.Server.Address()),
		slog.String("sqlite_path", cfg.Storage.SQLitePath),
		slog.String("blob_dir", cfg.Storage.BlobDir),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("server: jwt_secret is required in serve mode")
	}

	// Initialize audio blob storage.
	blobs, err := blob.NewDir(cfg.Storage.BlobDir)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	// Initialize the SQLite note store.
	store, err := notestore.OpenLocal(cfg.Storage.SQLitePath, blobs)
	if err != nil {
		return fmt.Errorf("init note store: %w", err)
	}
	defer store.Close()

	if cfg.Transcribe.BaseURL != "" {
		store = store.WithTranscriber(transcribe.NewClient(cfg.Transcribe.BaseURL, cfg.Transcribe.APIKey, cfg.Transcribe.Model))
	}

	// Reconcile the index with the blob directory before serving.
	if err := notestore.Sync(store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	users, err := server.NewUsers(store.Conn())
	if err != nil {
		return fmt.Errorf("init user registry: %w", err)
	}
	tokens, err := server.NewTokenIssuer(cfg.Server.JWTSecret, cfg.Server.TokenTTL)
	if err != nil {
		return fmt.Errorf("init token issuer: %w", err)
	}

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	httpServer := &http.Server{
		Addr:    cfg.Server.Address(),
		Handler: server.NewRouter(store, users, tokens, broker),
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.Server.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the blob directory so externally removed audio drops its notes.
	g.Go(func() error {
		if err := notestore.Watch(gCtx, store, blobs, logger, func(kind, id string) {
			broker.PublishNoteEvent(kind, id)
		}); err != nil {
			logger.Warn("watcher failed", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.Server.Address()))
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
