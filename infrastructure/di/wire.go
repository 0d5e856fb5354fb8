//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"udl/application/source"
	"udl/application/webhook"
	"udl/infrastructure/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideBus,
	ProvideDeletionLog,
	ProvideStore,
	ProvideCacheStorage,
	ProvideTokenStore,
	ProvideMetrics,
	ProvideWebhookRegistry,
	ProvideQueue,
	ProvidePipeline,
	ProvideConfigWatcher,
	ProvideSourceWatcher,
	ProvideRemoteClient,
	ProvideHub,
	ProvideBroadcaster,
	ProvideRouter,
	NewEventBindings,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer builds the full dependency graph. Plugins and any
// custom webhook registrations come from the embedding program.
func InitializeContainer(
	ctx context.Context,
	cfg *config.Config,
	plugins []*source.Plugin,
	handlerSet map[string]*webhook.Registration,
	hooks webhook.Hooks,
) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil
}
