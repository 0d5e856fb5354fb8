// Package di assembles the data layer's object graph with google/wire.
package di

import (
	"context"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"udl/application/remote"
	"udl/application/source"
	"udl/application/store"
	"udl/application/webhook"
	"udl/domain/deletion"
	"udl/infrastructure/cache"
	"udl/infrastructure/config"
	"udl/interfaces/http/rest"
	"udl/interfaces/http/rest/handlers"
	ws "udl/interfaces/websocket"
	"udl/pkg/errors"
	"udl/pkg/events"
	"udl/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *zap.Logger
	Bus         *events.Bus
	Deletions   *deletion.Log
	Store       *store.Store
	Cache       cache.Storage
	Tokens      *source.TokenStore
	Metrics     *observability.Metrics
	Registry    *webhook.Registry
	Queue       *webhook.Queue
	Pipeline    *source.Pipeline
	Watcher     *source.Watcher
	CfgWatcher  *config.Watcher
	Remote      *remote.Client
	Hub         *ws.Hub
	Broadcaster *ws.Broadcaster
	Bindings    *EventBindings
	Handler     http.Handler
}

// Shutdown tears the container down in dependency order: stop intake,
// flush the queue, persist every owner, then drop the live surfaces.
func (c *Container) Shutdown(ctx context.Context) {
	if c.Watcher != nil {
		c.Watcher.Stop()
	}
	if c.CfgWatcher != nil {
		c.CfgWatcher.Stop()
	}
	if c.Remote != nil {
		c.Remote.Stop(5 * time.Second)
	}
	c.Queue.Close()
	c.Pipeline.PersistAll(ctx)
	if c.Bindings != nil {
		c.Bindings.Close()
	}
	c.Hub.Stop()
	c.Logger.Sync()
}

// ProvideLogger builds the process logger from the configured level.
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsDevelopment() {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	if level, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = level
	}
	return zapCfg.Build()
}

// ProvideBus creates the in-process event bus.
func ProvideBus() *events.Bus {
	return events.NewBus()
}

// ProvideDeletionLog creates the shared deletion log.
func ProvideDeletionLog() *deletion.Log {
	return deletion.NewLog()
}

// ProvideStore creates the node store.
func ProvideStore(bus *events.Bus, deletions *deletion.Log, logger *zap.Logger) *store.Store {
	return store.New(bus, deletions, logger)
}

// ProvideCacheStorage selects the persistence backend.
func ProvideCacheStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Storage, error) {
	switch cfg.CacheBackend {
	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, errors.NewInternal("failed to load AWS config", err)
		}
		return cache.NewDynamoStorage(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable, logger), nil
	default:
		return cache.NewFileStorage(cfg.CacheDir, logger), nil
	}
}

// ProvideTokenStore creates the per-plugin sync cursor store.
func ProvideTokenStore(cfg *config.Config, logger *zap.Logger) *source.TokenStore {
	return source.NewTokenStore(cfg.CacheDir, logger)
}

// ProvideMetrics creates the Prometheus registry and collectors.
func ProvideMetrics() *observability.Metrics {
	return observability.NewMetrics("udl")
}

// ProvideWebhookRegistry registers webhook handlers: explicit ones from
// the plugin definitions, and the synchronous CRUD default for plugins
// that declare an id field without a handler of their own.
func ProvideWebhookRegistry(plugins []*source.Plugin, handlerSet map[string]*webhook.Registration, logger *zap.Logger) (*webhook.Registry, error) {
	registry := webhook.NewRegistry()

	for name, reg := range handlerSet {
		if err := registry.Register(name, reg); err != nil {
			return nil, err
		}
	}

	for _, plugin := range plugins {
		if _, ok := registry.Get(plugin.Name); ok {
			continue
		}
		if plugin.IDField == "" {
			continue
		}
		reg := &webhook.Registration{
			Handler:     webhook.NewDefaultHandler(plugin.IDField),
			Description: "default CRUD handler for " + plugin.Name,
			Synchronous: true,
		}
		if err := registry.Register(plugin.Name, reg); err != nil {
			return nil, err
		}
		logger.Info("installed default webhook handler",
			zap.String("plugin", plugin.Name), zap.String("idField", plugin.IDField))
	}
	return registry, nil
}

// ProvideQueue creates the debounced webhook queue.
func ProvideQueue(
	registry *webhook.Registry,
	s *store.Store,
	bus *events.Bus,
	hooks webhook.Hooks,
	cfg *config.Config,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *webhook.Queue {
	opts := webhook.Options{
		Debounce: cfg.WebhookDebounce(),
		MaxSize:  cfg.Webhooks.MaxQueueSize,
	}
	return webhook.NewQueue(registry, s, bus, hooks, opts, metrics, logger)
}

// ProvidePipeline creates the plugin source pipeline.
func ProvidePipeline(
	s *store.Store,
	deletions *deletion.Log,
	cacheStorage cache.Storage,
	cfg *config.Config,
	tokens *source.TokenStore,
	plugins []*source.Plugin,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *source.Pipeline {
	return source.NewPipeline(s, deletions, cacheStorage, cfg.CacheEnabled, tokens, plugins, cfg.UseMocks, metrics, logger)
}

// ProvideConfigWatcher watches the config file and applies the knobs
// that can change live. The plugin list needs a restart; the webhook
// queue pacing does not.
func ProvideConfigWatcher(cfg *config.Config, queue *webhook.Queue, logger *zap.Logger) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(config.ConfigFilePath(), cfg, logger)
	if err != nil {
		return nil, err
	}
	watcher.OnChange(func(next *config.Config) {
		queue.Retune(webhook.Options{
			Debounce: next.WebhookDebounce(),
			MaxSize:  next.Webhooks.MaxQueueSize,
		})
		logger.Info("webhook queue retuned from config file",
			zap.Int("debounceMs", next.Webhooks.DebounceMs),
			zap.Int("maxQueueSize", next.Webhooks.MaxQueueSize))
	})
	return watcher, nil
}

// ProvideSourceWatcher creates the file watcher when watch mode is on.
// Returns nil when disabled or when no plugin declares watch paths.
func ProvideSourceWatcher(cfg *config.Config, pipeline *source.Pipeline, logger *zap.Logger) (*source.Watcher, error) {
	if !cfg.Watch {
		return nil, nil
	}
	return source.NewWatcher(pipeline, logger)
}

// ProvideRemoteClient creates the sync client, or nil when no peer is
// configured. Upstream webhook relays land on the local queue.
func ProvideRemoteClient(
	cfg *config.Config,
	s *store.Store,
	queue *webhook.Queue,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *remote.Client {
	if cfg.Remote.URL == "" {
		return nil
	}
	return remote.New(remote.Config{
		URL:                  cfg.Remote.URL,
		ReconnectDelay:       cfg.RemoteReconnectDelay(),
		MaxReconnectAttempts: cfg.Remote.Websocket.MaxReconnectAttempts,
		OnWebhookReceived: func(w *webhook.QueuedWebhook) {
			if err := queue.Enqueue(w); err != nil {
				logger.Warn("failed to relay upstream webhook", zap.Error(err))
			}
		},
	}, s, metrics, logger)
}

// ProvideHub creates the WebSocket hub.
func ProvideHub(logger *zap.Logger) *ws.Hub {
	return ws.NewHub(logger)
}

// ProvideBroadcaster creates the bus-to-hub bridge.
func ProvideBroadcaster(hub *ws.Hub, logger *zap.Logger) *ws.Broadcaster {
	return ws.NewBroadcaster(hub, logger)
}

// ProvideRouter assembles the HTTP surface.
func ProvideRouter(
	cfg *config.Config,
	registry *webhook.Registry,
	queue *webhook.Queue,
	s *store.Store,
	deletions *deletion.Log,
	hub *ws.Hub,
	metrics *observability.Metrics,
	logger *zap.Logger,
) http.Handler {
	webhookHandler := handlers.NewWebhookHandler(registry, queue, logger)
	syncHandler := handlers.NewSyncHandler(s, deletions, logger)
	wsServer := ws.NewServer(hub, nil, logger)

	return rest.NewRouter(webhookHandler, syncHandler, wsServer, metrics, logger, cfg.EnableCORS).Setup()
}
