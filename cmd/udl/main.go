package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"udl/application/source"
	"udl/application/webhook"
	"udl/infrastructure/config"
	"udl/infrastructure/di"
	"udl/pkg/errors"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize dependency container
	container, err := di.InitializeContainer(ctx, cfg, buildPlugins(cfg), nil, webhook.Hooks{})
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	logger := container.Logger

	// Live event fan-out to WebSocket consumers
	go container.Hub.Run()

	// Source every plugin: hydrate from cache, run source hooks,
	// reconcile, persist.
	if err := container.Pipeline.Run(ctx); err != nil {
		logger.Error("source pipeline aborted", zap.Error(err))
	}

	if container.Watcher != nil {
		container.Watcher.Start(ctx)
	}

	// Live reload of the tunable config knobs
	if container.CfgWatcher != nil {
		container.CfgWatcher.Start()
	}

	// Remote sync is best effort: an unreachable peer leaves local
	// state authoritative.
	if container.Remote != nil {
		if err := container.Remote.Start(ctx, time.Unix(0, 0)); err != nil {
			if errors.IsRemoteUnreachable(err) {
				logger.Warn("remote peer unreachable, sync disabled for this run", zap.Error(err))
			} else {
				logger.Error("remote sync failed to start", zap.Error(err))
			}
		}
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      container.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server",
			zap.String("address", cfg.ServerAddress),
			zap.String("environment", cfg.Environment),
			zap.Int("plugins", len(cfg.Plugins)),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop intake first so the queue flush below sees a stable set.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	container.Shutdown(shutdownCtx)
	log.Println("stopped")
}

// buildPlugins maps the configured plugin declarations onto runtime
// plugins. Declarations carry no source hook; such plugins are fed
// purely through their webhook endpoint and the cache.
func buildPlugins(cfg *config.Config) []*source.Plugin {
	plugins := make([]*source.Plugin, 0, len(cfg.Plugins))
	for _, pc := range cfg.Plugins {
		strategy := source.StrategySync
		if pc.Strategy == "refetch" {
			strategy = source.StrategyRefetch
		}
		plugins = append(plugins, &source.Plugin{
			Name:       pc.Name,
			Strategy:   strategy,
			IDField:    pc.IDField,
			Options:    pc.Options,
			WatchPaths: pc.WatchPaths,
		})
	}
	return plugins
}
