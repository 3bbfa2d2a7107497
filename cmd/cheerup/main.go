package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ent0n29/cheerup/internal/characters"
	"github.com/ent0n29/cheerup/internal/chat"
	"github.com/ent0n29/cheerup/internal/clock"
	"github.com/ent0n29/cheerup/internal/config"
	"github.com/ent0n29/cheerup/internal/dispatch"
	"github.com/ent0n29/cheerup/internal/generate"
	"github.com/ent0n29/cheerup/internal/httpapi"
	"github.com/ent0n29/cheerup/internal/journal"
	"github.com/ent0n29/cheerup/internal/observability"
	"github.com/ent0n29/cheerup/internal/reminder"
	"github.com/ent0n29/cheerup/internal/taskruntime"
	"github.com/ent0n29/cheerup/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(cfg config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	catalog, err := characters.Load(cfg.CharactersFile)
	if err != nil {
		return err
	}
	logger.Info("characters loaded", "count", catalog.Len(), "file", cfg.CharactersFile)

	gen, err := generate.New(generate.Config{
		Mode:        cfg.GeneratorMode,
		OllamaHost:  cfg.OllamaHost,
		OllamaModel: cfg.OllamaModel,
		HTTPURL:     cfg.GeneratorHTTPURL,
		Timeout:     cfg.GeneratorTimeout,
	})
	if err != nil {
		return err
	}
	logger.Info("generator ready", "generator", generate.Name(gen))

	ctx := context.Background()
	store, err := journal.NewStore(ctx, cfg.DatabaseURL, cfg.JournalSQLitePath)
	if err != nil {
		return err
	}

	hub := chat.NewHub(logger.With("component", "hub"))
	hub.Metrics = metrics
	hub.RequireListener = cfg.ChatRequireListener
	sender := chat.Multi{hub, chat.NewLogSender(logger.With("component", "outbox"))}

	planner := reminder.NewScheduler(reminder.Policy{
		Cap:       cfg.ReminderCap,
		MinWindow: cfg.ReminderMinWindow,
		Step:      cfg.ReminderStep,
	}, nil)

	service, err := taskruntime.New(taskruntime.Options{
		Registry:      tasks.NewRegistry(clock.Real{}, planner),
		Catalog:       catalog,
		Dispatcher:    dispatch.New(gen, sender, metrics, cfg.GeneratorTimeout),
		Journal:       store,
		Metrics:       metrics,
		Logger:        logger,
		ExtendDefault: cfg.ExtendDefault,
	})
	if err != nil {
		store.Close()
		return err
	}
	defer service.Close()

	api := httpapi.New(cfg, service, hub, metrics, httpapi.WithLogger(logger.With("component", "httpapi")))
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "err", err)
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
	return nil
}
