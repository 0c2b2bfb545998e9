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

	"github.com/starford/mimir/internal/api"
	"github.com/starford/mimir/internal/contrib"
	"github.com/starford/mimir/internal/github"
	"github.com/starford/mimir/internal/kb"
	"github.com/starford/mimir/internal/localsource"
	"github.com/starford/mimir/internal/mcpserver"
	"github.com/starford/mimir/internal/sse"
	"github.com/starford/mimir/internal/webhook"
)

// Run starts the knowledge base server with the given options.
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
		slog.String("knowledge_source", cfg.Knowledge.Source),
		slog.String("github_repo", cfg.GitHub.Repo),
		slog.String("ledger_path", cfg.Ledger.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Build the note source and cache.
	remote := github.NewClient(github.ClientOptions{
		Repo:    cfg.GitHub.Repo,
		Token:   cfg.GitHub.Token,
		BaseURL: cfg.GitHub.BaseURL,
	})

	var fetcher kb.Fetcher = remote
	var local *localsource.Source
	if cfg.Knowledge.Source == SourceLocal {
		src, err := localsource.New(cfg.Knowledge.LocalPath)
		if err != nil {
			return fmt.Errorf("init local source: %w", err)
		}
		local = src
		fetcher = src
	}

	cache := kb.NewCache(kb.CacheOptions{
		Fetcher: fetcher,
		Branch:  cfg.Knowledge.Branch,
		TTL:     cfg.Knowledge.CacheTTL,
	})
	svc := kb.NewService(cache)

	// Pull request ledger.
	ledger, err := contrib.OpenLedger(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	defer ledger.Close()

	pipeline := contrib.NewPipeline(contrib.PipelineOptions{
		Remote:     remote,
		Ledger:     ledger,
		BaseBranch: cfg.Knowledge.Branch,
	})

	// SSE broker.
	broker := sse.NewBroker()
	defer broker.Close()

	wh := webhook.NewHandler(webhook.Options{
		Secret:        cfg.GitHub.WebhookSecret,
		Cache:         cache,
		Ledger:        ledger,
		DefaultBranch: cfg.Knowledge.Branch,
		Broker:        broker,
	})

	apiRouter := api.NewRouter(svc, pipeline, broker, wh, api.IdentityOptions{
		DevName:  cfg.Identity.DevName,
		DevEmail: cfg.Identity.DevEmail,
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints.
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

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	// Warm the cache so the first request does not pay fetch latency. A
	// failure here is tolerated; the cache degrades to empty until the
	// source recovers.
	if n, err := cache.Refresh(ctx); err != nil {
		logger.Warn("initial knowledge fetch failed", slog.String("error", err.Error()))
	} else {
		logger.Info("Knowledge base loaded", slog.Int("notes", n))
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// In local mode, refresh on filesystem changes instead of webhooks.
	if local != nil {
		g.Go(func() error {
			err := local.Watch(gCtx, func() {
				if n, err := cache.Refresh(gCtx); err != nil {
					logger.Warn("local refresh failed", slog.String("error", err.Error()))
				} else {
					broker.Publish(sse.EventKBRefreshed, map[string]int{"notes": n})
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("local watcher stopped", slog.String("error", err.Error()))
			}
			return nil
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

// RunMCP starts the MCP stdio server backed by the same knowledge cache.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Stdout carries the MCP protocol; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	var fetcher kb.Fetcher
	if cfg.Knowledge.Source == SourceLocal {
		src, err := localsource.New(cfg.Knowledge.LocalPath)
		if err != nil {
			return fmt.Errorf("init local source: %w", err)
		}
		fetcher = src
	} else {
		fetcher = github.NewClient(github.ClientOptions{
			Repo:    cfg.GitHub.Repo,
			Token:   cfg.GitHub.Token,
			BaseURL: cfg.GitHub.BaseURL,
		})
	}

	cache := kb.NewCache(kb.CacheOptions{
		Fetcher: fetcher,
		Branch:  cfg.Knowledge.Branch,
		TTL:     cfg.Knowledge.CacheTTL,
	})
	svc := kb.NewService(cache)

	if n, err := cache.Refresh(ctx); err != nil {
		logger.Warn("initial knowledge fetch failed", slog.String("error", err.Error()))
	} else {
		logger.Info("Knowledge base loaded", slog.Int("notes", n))
	}

	broker := sse.NewBroker()
	defer broker.Close()

	return mcpserver.New(svc, broker).ServeStdio()
}
