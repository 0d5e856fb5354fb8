package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"udl/application/store"
	"udl/domain/deletion"
	"udl/domain/node"
	"udl/pkg/errors"
	"udl/pkg/events"
)

func newTestActions(owner string) (*Actions, *store.Store) {
	s := store.New(events.NewBus(), deletion.NewLog(), zap.NewNop())
	return New(s, owner, zap.NewNop()), s
}

func TestCreateNode_StampsOwnerFromFacade(t *testing.T) {
	// Arrange: the input claims a different owner
	a, _ := newTestActions("shop")
	input := &node.Node{
		Internal: node.Internal{ID: "p1", Type: "Product", Owner: "forged"},
		Fields:   map[string]any{"name": "Widget"},
	}

	// Act
	created, err := a.CreateNode(input)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "shop", created.Owner())
	assert.NotEmpty(t, created.Internal.ContentDigest)
	assert.NotZero(t, created.Internal.CreatedAt)
}

func TestCreateNode_PreservesCreatedAtOnRewrite(t *testing.T) {
	// Arrange
	a, _ := newTestActions("shop")
	first, err := a.CreateNode(&node.Node{
		Internal: node.Internal{ID: "p1", Type: "Product"},
		Fields:   map[string]any{"v": 1},
	})
	require.NoError(t, err)

	// Act: full rewrite of the same id
	second, err := a.CreateNode(&node.Node{
		Internal: node.Internal{ID: "p1", Type: "Product"},
		Fields:   map[string]any{"v": 2},
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, first.Internal.CreatedAt, second.Internal.CreatedAt)
	assert.Equal(t, 2, second.Fields["v"])
}

func TestCreateNode_RequiresIDAndType(t *testing.T) {
	a, _ := newTestActions("shop")

	_, err := a.CreateNode(&node.Node{Internal: node.Internal{Type: "Product"}})
	assert.True(t, errors.IsValidation(err))

	_, err = a.CreateNode(nil)
	assert.True(t, errors.IsValidation(err))
}

func TestExtendNode_MergesAndPreservesEnvelope(t *testing.T) {
	// Arrange
	a, _ := newTestActions("shop")
	created, err := a.CreateNode(&node.Node{
		Internal: node.Internal{ID: "p1", Type: "Product"},
		Fields:   map[string]any{"name": "Widget", "price": float64(10)},
	})
	require.NoError(t, err)

	// Act
	extended, err := a.ExtendNode("p1", map[string]any{"price": float64(12), "stock": float64(3)})

	// Assert: payload merged, envelope identity untouched
	require.NoError(t, err)
	assert.Equal(t, "Widget", extended.Fields["name"])
	assert.Equal(t, float64(12), extended.Fields["price"])
	assert.Equal(t, float64(3), extended.Fields["stock"])
	assert.Equal(t, created.ID(), extended.ID())
	assert.Equal(t, created.Type(), extended.Type())
	assert.Equal(t, created.Owner(), extended.Owner())
	assert.Equal(t, created.Internal.CreatedAt, extended.Internal.CreatedAt)
	assert.NotEqual(t, created.Internal.ContentDigest, extended.Internal.ContentDigest)
}

func TestExtendNode_RejectsProtectedFields(t *testing.T) {
	a, _ := newTestActions("shop")
	_, err := a.CreateNode(&node.Node{Internal: node.Internal{ID: "p1", Type: "Product"}})
	require.NoError(t, err)

	for _, field := range []string{"id", "internal", "parent", "children"} {
		_, err := a.ExtendNode("p1", map[string]any{field: "x"})
		assert.True(t, errors.IsProtectedField(err), "field %s must be protected", field)
	}
}

func TestExtendNode_UnknownNodeIsNotFound(t *testing.T) {
	a, _ := newTestActions("shop")

	_, err := a.ExtendNode("ghost", map[string]any{"v": 1})

	assert.True(t, errors.IsNotFound(err))
}

func TestDeleteNode_AcceptsAllInputShapes(t *testing.T) {
	// Arrange
	a, _ := newTestActions("shop")
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		_, err := a.CreateNode(&node.Node{Internal: node.Internal{ID: id, Type: "Product"}})
		require.NoError(t, err)
	}

	// Act & Assert: plain id
	ok, err := a.DeleteNode("p1", false)
	require.NoError(t, err)
	assert.True(t, ok)

	// Full node
	ok, err = a.DeleteNode(a.GetNode("p2"), false)
	require.NoError(t, err)
	assert.True(t, ok)

	// {id} map
	ok, err = a.DeleteNode(map[string]any{"id": "p3"}, false)
	require.NoError(t, err)
	assert.True(t, ok)

	// {internal:{id}} wrapper
	ok, err = a.DeleteNode(map[string]any{"internal": map[string]any{"id": "p4"}}, false)
	require.NoError(t, err)
	assert.True(t, ok)

	// Garbage input
	_, err = a.DeleteNode(map[string]any{"name": "nope"}, false)
	assert.True(t, errors.IsValidation(err))
}

func TestTrackTouched_RecordsNoOpCreates(t *testing.T) {
	// Arrange: a node already in the store
	a, _ := newTestActions("shop")
	input := &node.Node{Internal: node.Internal{ID: "p1", Type: "Product"}, Fields: map[string]any{"v": 1}}
	_, err := a.CreateNode(input)
	require.NoError(t, err)

	// Act: a refetch-style run recreates the identical node
	a.TrackTouched()
	_, err = a.CreateNode(input.Clone())
	require.NoError(t, err)
	touched := a.TouchedIDs()

	// Assert: the digest-equal recreate still counts as touched
	assert.True(t, touched["p1"])

	// Tracking stopped: a later call returns empty
	assert.Empty(t, a.TouchedIDs())
}

func TestGetNodesByType_WithPredicate(t *testing.T) {
	a, _ := newTestActions("shop")
	_, err := a.CreateNode(&node.Node{Internal: node.Internal{ID: "p1", Type: "Product"}, Fields: map[string]any{"price": float64(10)}})
	require.NoError(t, err)
	_, err = a.CreateNode(&node.Node{Internal: node.Internal{ID: "p2", Type: "Product"}, Fields: map[string]any{"price": float64(30)}})
	require.NoError(t, err)

	expensive := a.GetNodesByType("Product", func(n *node.Node) bool {
		return n.Fields["price"].(float64) > 20
	})

	require.Len(t, expensive, 1)
	assert.Equal(t, "p2", expensive[0].ID())
}
