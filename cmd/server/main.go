package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	h "github.com/clipy/download-manager/internal/api/http"
	cfgpkg "github.com/clipy/download-manager/internal/config"
	"github.com/clipy/download-manager/internal/manager"
	"github.com/clipy/download-manager/internal/media"
	"github.com/clipy/download-manager/internal/progress"
	"github.com/clipy/download-manager/internal/storage"
	"github.com/clipy/download-manager/internal/store"
	"github.com/clipy/download-manager/internal/worker"
)

func main() {

	cfg, err := cfgpkg.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfgpkg.SetupLogger(cfg)
	slog.Info("configuration loaded successfully")

	logger := slog.Default()

	files := storage.NewFileStorage(cfg.DownloadDir)
	collab := media.NewHTTPCollaborator(files, cfg.TransferTimeout, logger)

	taskStore := store.NewTaskStore()
	checkpoint := store.NewCheckpoint(cfg.StateFile)
	reporter := progress.NewReporter(cfg.ProgressTick, logger)
	pool := worker.NewPool(taskStore, collab, reporter, cfg.MaxConcurrent, cfg.ProgressTick, logger)
	mgr := manager.New(taskStore, pool, reporter, checkpoint, cfg.RetryAttempts, logger)

	restored, err := mgr.Restore()
	if err != nil {
		slog.Error("failed to restore checkpoint", "error", err)
		os.Exit(1)
	}
	if restored > 0 {
		slog.Info("tasks restored from checkpoint", "count", restored)
	}

	router := h.NewRouter(mgr, logger)
	// No WriteTimeout: /events holds a long-lived SSE stream.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:     router,
		ReadTimeout: cfg.HTTPTimeout,
		IdleTimeout: cfg.HTTPTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pool.Run(gctx)
	})

	g.Go(func() error {
		slog.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("shutdown with error", "error", err)
	}

	mgr.Close()
	slog.Info("server stopped gracefully")
}
