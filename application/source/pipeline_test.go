package source

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"udl/application/store"
	"udl/domain/deletion"
	"udl/domain/node"
	"udl/infrastructure/cache"
	"udl/pkg/events"
)

func newTestPipeline(t *testing.T, plugins ...*Plugin) (*Pipeline, *store.Store, *deletion.Log) {
	t.Helper()
	bus := events.NewBus()
	deletions := deletion.NewLog()
	s := store.New(bus, deletions, zap.NewNop())
	dir := t.TempDir()
	p := NewPipeline(
		s, deletions,
		cache.NewFileStorage(dir, zap.NewNop()),
		true,
		NewTokenStore(dir, zap.NewNop()),
		plugins,
		false,
		nil,
		zap.NewNop(),
	)
	return p, s, deletions
}

func sourceOf(nodes ...*node.Node) SourceFunc {
	return func(_ context.Context, s *Session) error {
		for _, n := range nodes {
			if _, err := s.Actions.CreateNode(n.Clone()); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestRunPlugin_SourcesAndPersists(t *testing.T) {
	// Arrange
	plugin := &Plugin{
		Name:        "shop",
		Strategy:    StrategyRefetch,
		Indexes:     []Index{{Type: "Product", Field: "sku"}},
		SourceNodes: sourceOf(node.New("p1", "Product", "", map[string]any{"sku": "A-1"})),
	}
	p, s, _ := newTestPipeline(t, plugin)

	// Act
	require.NoError(t, p.RunPlugin(context.Background(), plugin))

	// Assert: node landed with the plugin as owner, index registered
	got := s.Get("p1")
	require.NotNil(t, got)
	assert.Equal(t, "shop", got.Owner())
	assert.Len(t, s.GetByField("Product", "sku", "A-1"), 1)

	// And a second pipeline hydrates the snapshot without sourcing
	cold := &Plugin{Name: "shop", Strategy: StrategyRefetch}
	p2, s2, _ := newTestPipeline(t, cold)
	p2.cache = p.cache
	require.NoError(t, p2.RunPlugin(context.Background(), cold))
	require.NotNil(t, s2.Get("p1"))
	assert.Len(t, s2.GetByField("Product", "sku", "A-1"), 1)
}

func TestRunPlugin_RefetchReconcilesStaleNodes(t *testing.T) {
	// Arrange: a previous run left p1 and p2 owned by the plugin
	plugin := &Plugin{Name: "shop", Strategy: StrategyRefetch}
	p, s, deletions := newTestPipeline(t, plugin)
	require.NoError(t, s.Put(node.New("p1", "Product", "shop", map[string]any{"v": 1})))
	require.NoError(t, s.Put(node.New("p2", "Product", "shop", map[string]any{"v": 1})))

	// This run only re-emits p1
	plugin.SourceNodes = sourceOf(node.New("p1", "Product", "", map[string]any{"v": 1}))

	// Act
	require.NoError(t, p.RunPlugin(context.Background(), plugin))

	// Assert: the untouched node is gone, and the compacted log is clean
	assert.NotNil(t, s.Get("p1"))
	assert.Nil(t, s.Get("p2"))
	assert.Equal(t, 0, deletions.Len())
}

func TestRunPlugin_SyncStrategyKeepsUntouchedNodes(t *testing.T) {
	// Arrange: sync plugins emit deltas; absence is not deletion
	plugin := &Plugin{Name: "shop", Strategy: StrategySync}
	p, s, _ := newTestPipeline(t, plugin)
	require.NoError(t, s.Put(node.New("p1", "Product", "shop", map[string]any{"v": 1})))
	plugin.SourceNodes = sourceOf(node.New("p2", "Product", "", map[string]any{"v": 1}))

	// Act
	require.NoError(t, p.RunPlugin(context.Background(), plugin))

	// Assert
	assert.NotNil(t, s.Get("p1"))
	assert.NotNil(t, s.Get("p2"))
}

func TestRun_FailingPluginIsIsolated(t *testing.T) {
	// Arrange: the first plugin fails, the second must still run
	broken := &Plugin{
		Name: "broken",
		SourceNodes: func(context.Context, *Session) error {
			return fmt.Errorf("upstream 500")
		},
	}
	healthy := &Plugin{
		Name:        "shop",
		SourceNodes: sourceOf(node.New("p1", "Product", "", nil)),
	}
	p, s, _ := newTestPipeline(t, broken, healthy)

	// Act
	err := p.Run(context.Background())

	// Assert
	assert.NoError(t, err)
	assert.NotNil(t, s.Get("p1"))
}

func TestRunPlugin_PanickingSourceBecomesError(t *testing.T) {
	plugin := &Plugin{
		Name:        "shop",
		SourceNodes: func(context.Context, *Session) error { panic("boom") },
	}
	p, _, _ := newTestPipeline(t, plugin)

	err := p.RunPlugin(context.Background(), plugin)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRunPlugin_HydrateReplaysDeletionLog(t *testing.T) {
	// Arrange: a snapshot whose deletion log records p2
	plugin := &Plugin{Name: "shop", Strategy: StrategySync}
	p, _, deletions := newTestPipeline(t, plugin)
	env := &cache.Envelope{
		Nodes: []*node.Node{node.New("p1", "Product", "shop", nil)},
		DeletionLog: &cache.DeletionLog{
			Entries: []deletion.Entry{{
				NodeID: "p2", NodeType: "Product", Owner: "shop", DeletedAt: time.Now(),
			}},
		},
	}
	require.NoError(t, p.cache.Save(context.Background(), "shop", env))

	// Act
	require.NoError(t, p.RunPlugin(context.Background(), plugin))

	// Assert: the tombstone survives the restart
	removed := deletions.Since(time.Unix(0, 0), "shop")
	require.Len(t, removed, 1)
	assert.Equal(t, "p2", removed[0].NodeID)
}

func TestPersistOwner_FiltersOtherOwners(t *testing.T) {
	// Arrange: the store holds two owners' nodes
	plugin := &Plugin{Name: "shop", Strategy: StrategySync}
	p, s, deletions := newTestPipeline(t, plugin)
	require.NoError(t, s.Put(node.New("p1", "Product", "shop", nil)))
	require.NoError(t, s.Put(node.New("o1", "Order", "billing", nil)))
	deletions.Record(node.New("p2", "Product", "shop", nil))
	deletions.Record(node.New("o2", "Order", "billing", nil))

	// Act
	require.NoError(t, p.PersistOwner(context.Background(), "shop"))

	// Assert: only shop's partition is in the snapshot
	env, err := p.cache.Load(context.Background(), "shop")
	require.NoError(t, err)
	require.NotNil(t, env)
	require.Len(t, env.Nodes, 1)
	assert.Equal(t, "p1", env.Nodes[0].ID())
	require.NotNil(t, env.DeletionLog)
	require.Len(t, env.DeletionLog.Entries, 1)
	assert.Equal(t, "p2", env.DeletionLog.Entries[0].NodeID)
}

func TestPersistOwner_UnknownOwnerFails(t *testing.T) {
	p, _, _ := newTestPipeline(t, &Plugin{Name: "shop"})

	err := p.PersistOwner(context.Background(), "ghost")

	assert.Error(t, err)
}

func TestRunPlugin_SessionCarriesOptionsAndTokens(t *testing.T) {
	// Arrange
	var seen *Session
	plugin := &Plugin{
		Name:    "shop",
		Options: map[string]any{"endpoint": "https://example.test"},
		SourceNodes: func(_ context.Context, s *Session) error {
			seen = s
			return s.Tokens.Set("shop", "cursor-1")
		},
	}
	p, _, _ := newTestPipeline(t, plugin)

	// Act
	require.NoError(t, p.RunPlugin(context.Background(), plugin))

	// Assert
	require.NotNil(t, seen)
	assert.Equal(t, "https://example.test", seen.Options["endpoint"])
	assert.Equal(t, "cursor-1", p.tokens.Get("shop"))
}
