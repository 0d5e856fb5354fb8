package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"udl/application/actions"
	"udl/application/store"
	"udl/domain/deletion"
	"udl/infrastructure/cache"
	"udl/pkg/errors"
	"udl/pkg/observability"
)

// Pipeline loads plugins in configuration order and runs each one's
// lifecycle to completion before the next begins, so cross-plugin
// references resolve on first boot. A failing plugin is logged and
// skipped; its partially-sourced state stays in the store.
type Pipeline struct {
	store        *store.Store
	deletions    *deletion.Log
	cache        cache.Storage
	cacheEnabled bool
	tokens       *TokenStore
	plugins      []*Plugin
	useMocks     bool
	logger       *zap.Logger
	metrics      *observability.Metrics

	// Cache writes are serialized per owner; different owners may save
	// concurrently.
	saveMu sync.Map // owner -> *sync.Mutex
}

// NewPipeline assembles a pipeline over the given plugins.
func NewPipeline(
	s *store.Store,
	deletions *deletion.Log,
	cacheStorage cache.Storage,
	cacheEnabled bool,
	tokens *TokenStore,
	plugins []*Plugin,
	useMocks bool,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:        s,
		deletions:    deletions,
		cache:        cacheStorage,
		cacheEnabled: cacheEnabled,
		tokens:       tokens,
		plugins:      plugins,
		useMocks:     useMocks,
		metrics:      metrics,
		logger:       logger.With(zap.String("component", "source-pipeline")),
	}
}

// Plugins returns the configured plugins in load order.
func (p *Pipeline) Plugins() []*Plugin {
	return append([]*Plugin(nil), p.plugins...)
}

// Lookup returns the plugin with the given name.
func (p *Pipeline) Lookup(name string) (*Plugin, bool) {
	for _, pl := range p.plugins {
		if pl.Name == name {
			return pl, true
		}
	}
	return nil, false
}

// Run executes the full boot lifecycle for every plugin sequentially.
func (p *Pipeline) Run(ctx context.Context) error {
	for _, plugin := range p.plugins {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.RunPlugin(ctx, plugin); err != nil {
			// Isolated: other plugins still proceed.
			p.logger.Error("plugin source failed",
				zap.String("plugin", plugin.Name), zap.Error(err))
		}
	}
	return nil
}

// RunPlugin executes hydrate, source, reconcile and persist for one
// plugin. Also used by watch mode to re-source a single plugin.
func (p *Pipeline) RunPlugin(ctx context.Context, plugin *Plugin) error {
	started := time.Now()
	log := p.logger.With(zap.String("plugin", plugin.Name))

	p.hydrate(ctx, plugin, log)
	p.registerIndexes(plugin)

	a := actions.New(p.store, plugin.Name, p.logger)
	a.TrackTouched()

	var sourceErr error
	if plugin.SourceNodes != nil {
		sourceErr = p.invokeSource(ctx, plugin, a)
	}
	touched := a.TouchedIDs()

	if sourceErr != nil {
		if p.metrics != nil {
			p.metrics.ObserveSourceRun(plugin.Name, "failure", time.Since(started))
		}
		return errors.NewPluginSource(plugin.Name, sourceErr)
	}

	if plugin.Strategy == StrategyRefetch {
		p.reconcileRefetch(plugin, touched, log)
	}

	if err := p.PersistOwner(ctx, plugin.Name); err != nil {
		// Advisory: a failed snapshot never fails the source run.
		log.Warn("cache persist failed", zap.Error(err))
	}

	if p.metrics != nil {
		p.metrics.ObserveSourceRun(plugin.Name, "success", time.Since(started))
	}
	log.Info("plugin sourced",
		zap.Int("touched", len(touched)),
		zap.Duration("took", time.Since(started)),
	)
	return nil
}

// invokeSource calls the plugin hook, converting a panic into an error so
// one misbehaving plugin cannot take the process down.
func (p *Pipeline) invokeSource(ctx context.Context, plugin *Plugin, a *actions.Actions) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source hook panicked: %v", r)
		}
	}()
	return plugin.SourceNodes(ctx, &Session{
		Actions:  a,
		Tokens:   p.tokens,
		Options:  plugin.Options,
		UseMocks: p.useMocks,
	})
}

// hydrate replays the plugin's cache envelope into the store: nodes go in
// with their persisted digests, indexes are re-registered, and the
// deletion log is replayed.
func (p *Pipeline) hydrate(ctx context.Context, plugin *Plugin, log *zap.Logger) {
	if !p.cacheEnabled || p.cache == nil {
		return
	}

	env, err := p.cache.Load(ctx, plugin.Name)
	if err != nil {
		log.Warn("cache load failed, sourcing from scratch", zap.Error(err))
		return
	}
	if env == nil {
		return
	}

	for nodeType, fields := range env.Indexes {
		for _, field := range fields {
			p.store.RegisterIndex(nodeType, field)
		}
	}
	for _, n := range env.Nodes {
		if err := p.store.Put(n); err != nil {
			log.Warn("cached node rejected", zap.String("nodeId", n.ID()), zap.Error(err))
		}
	}
	if env.DeletionLog != nil {
		p.deletions.Replay(env.DeletionLog.Entries, env.DeletionLog.LastCleanup)
	}

	log.Info("cache hydrated", zap.Int("nodes", len(env.Nodes)))
}

func (p *Pipeline) registerIndexes(plugin *Plugin) {
	for _, idx := range plugin.Indexes {
		p.store.RegisterIndex(idx.Type, idx.Field)
	}
}

// reconcileRefetch deletes owned nodes the completed full snapshot did
// not touch, then compacts the owner's deletion log: the fresh set makes
// prior entries redundant.
func (p *Pipeline) reconcileRefetch(plugin *Plugin, touched map[string]bool, log *zap.Logger) {
	stale := 0
	for _, n := range p.store.OwnedBy(plugin.Name) {
		if !touched[n.ID()] {
			p.store.Delete(n.ID(), false)
			stale++
		}
	}
	if stale > 0 {
		log.Info("stale nodes removed after refetch", zap.Int("count", stale))
	}
	p.deletions.Compact(plugin.Name)
}

// PersistOwner snapshots one owner's partition to the cache store. Called
// after source completion and after webhook batches.
func (p *Pipeline) PersistOwner(ctx context.Context, owner string) error {
	if !p.cacheEnabled || p.cache == nil {
		return nil
	}
	plugin, ok := p.Lookup(owner)
	if !ok {
		return errors.NewNotFound("no plugin named " + owner)
	}

	muAny, _ := p.saveMu.LoadOrStore(owner, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	entries, lastCleanup := p.deletions.Snapshot()
	owned := entries[:0:0]
	for _, e := range entries {
		if e.Owner == owner {
			owned = append(owned, e)
		}
	}

	env := &cache.Envelope{
		Nodes:   p.store.OwnedBy(owner),
		Indexes: indexesFor(plugin),
		DeletionLog: &cache.DeletionLog{
			Entries:     owned,
			LastCleanup: lastCleanup,
		},
	}

	started := time.Now()
	err := p.cache.Save(ctx, owner, env)
	if p.metrics != nil {
		p.metrics.ObserveCacheSave(owner, err == nil, time.Since(started))
	}
	return err
}

// PersistAll snapshots every owner; used on graceful shutdown.
func (p *Pipeline) PersistAll(ctx context.Context) {
	for _, plugin := range p.plugins {
		if err := p.PersistOwner(ctx, plugin.Name); err != nil {
			p.logger.Warn("cache persist failed",
				zap.String("plugin", plugin.Name), zap.Error(err))
		}
	}
}

func indexesFor(plugin *Plugin) map[string][]string {
	out := make(map[string][]string)
	for _, idx := range plugin.Indexes {
		out[idx.Type] = append(out[idx.Type], idx.Field)
	}
	return out
}
