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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/quire/internal/api"
	"github.com/starford/quire/internal/assets"
	"github.com/starford/quire/internal/content"
	"github.com/starford/quire/internal/docstore"
	"github.com/starford/quire/internal/importer"
	"github.com/starford/quire/internal/mcpserver"
	"github.com/starford/quire/internal/noteservice"
	"github.com/starford/quire/internal/sse"
	"github.com/starford/quire/internal/store"
	"github.com/starford/quire/internal/verify"
)

// components are the long-lived pieces shared by every entry point.
type components struct {
	db      *store.DB
	docs    *docstore.Writer
	assets  *assets.Store
	session *content.Session
}

func (a *application) open() (*components, error) {
	cfg := a.config
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Assets.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create assets dir: %w", err)
	}
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return &components{
		db:      db,
		docs:    docstore.NewWriter(cfg.Documents.Root, cfg.Documents.ClientID),
		assets:  assets.NewStore(cfg.Assets.Root),
		session: content.NewSession(cfg.Display.BaseURL, content.WithStrict(cfg.Display.StrictStorage)),
	}, nil
}

func (c *components) service(logger *slog.Logger, opts ...noteservice.Option) *noteservice.Service {
	base := []noteservice.Option{
		noteservice.WithAssets(c.assets),
		noteservice.WithSession(c.session),
		noteservice.WithLogger(logger),
	}
	return noteservice.New(c.db, c.docs, append(base, opts...)...)
}

func (a *application) validate() error {
	if a.config == nil {
		return fmt.Errorf("config is required")
	}
	return a.config.Validate()
}

// Run starts the HTTP daemon with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if err := app.validate(); err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := app.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
	}
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.String("documents_root", cfg.Documents.Root),
		slog.String("assets_root", cfg.Assets.Root),
		slog.String("display_base_url", cfg.Display.BaseURL),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := app.open()
	if err != nil {
		return err
	}
	defer c.db.Close()

	// SSE broker doubles as the command layer's change notifier.
	broker := sse.NewBroker(sse.WithListThrottle(2 * time.Second))
	defer broker.Close()

	svc := c.service(logger, noteservice.WithNotifier(broker))
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := c.db.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Display locators are served at the root so they match display.base_url.
	r.Get("/assets/{token}", api.NewHandler(svc).ServeAsset)
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Document-log watcher feeds note.document SSE events.
	g.Go(func() error {
		if err := docstore.Watch(gCtx, cfg.Documents.Root, logger, broker.PublishDocumentEvent); err != nil {
			logger.Error("document watcher stopped", slog.String("error", err.Error()))
		}
		return nil
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

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr so they
// never interleave with the protocol stream.
func RunMCP(_ context.Context, opts ...Option) error {
	app := newApplication(opts)
	if err := app.validate(); err != nil {
		return err
	}
	logger := app.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: app.config.App.LogLevel,
		}))
	}
	slog.SetDefault(logger)

	c, err := app.open()
	if err != nil {
		return err
	}
	defer c.db.Close()

	v, err := verify.New(verify.WithLogger(logger))
	if err != nil {
		return err
	}
	srv := mcpserver.New(c.service(logger), v, mcpserver.WithLogger(logger))
	logger.Info("MCP server starting on stdio")
	return srv.ServeStdio()
}

// Import loads the export bundle at root into the configured store.
func Import(ctx context.Context, root string, opts ...Option) (*importer.Result, error) {
	app := newApplication(opts)
	if err := app.validate(); err != nil {
		return nil, err
	}
	logger := app.logger
	if logger == nil {
		logger = slog.Default()
	}
	c, err := app.open()
	if err != nil {
		return nil, err
	}
	defer c.db.Close()

	im := importer.New(c.db, c.docs, c.assets, importer.WithLogger(logger))
	return im.Import(ctx, root)
}
