package deletion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udl/domain/node"
)

func TestLog_RecordAndSince(t *testing.T) {
	// Arrange
	log := NewLog()
	before := time.Now().Add(-time.Second)
	log.Record(node.New("p1", "Product", "shop", nil))
	log.Record(node.New("o1", "Order", "billing", nil))

	// Act
	all := log.Since(before, "")
	shopOnly := log.Since(before, "shop")
	none := log.Since(time.Now().Add(time.Hour), "")

	// Assert
	assert.Len(t, all, 2)
	require.Len(t, shopOnly, 1)
	assert.Equal(t, "p1", shopOnly[0].NodeID)
	assert.Empty(t, none)
}

func TestLog_CompactRemovesOnlyOwner(t *testing.T) {
	log := NewLog()
	log.Record(node.New("p1", "Product", "shop", nil))
	log.Record(node.New("o1", "Order", "billing", nil))

	log.Compact("shop")

	entries, lastCleanup := log.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "o1", entries[0].NodeID)
	assert.False(t, lastCleanup.IsZero())
}

func TestLog_ReplaySkipsDuplicates(t *testing.T) {
	// Arrange
	log := NewLog()
	log.Record(node.New("p1", "Product", "shop", nil))

	restored := []Entry{
		{NodeID: "p1", NodeType: "Product", Owner: "shop", DeletedAt: time.Now()},
		{NodeID: "p2", NodeType: "Product", Owner: "shop", DeletedAt: time.Now()},
	}
	cleanup := time.Now().Add(-time.Minute)

	// Act
	log.Replay(restored, cleanup)

	// Assert
	assert.Equal(t, 2, log.Len())
	_, lastCleanup := log.Snapshot()
	assert.Equal(t, cleanup, lastCleanup)
}

func TestLog_SnapshotIsACopy(t *testing.T) {
	log := NewLog()
	log.Record(node.New("p1", "Product", "shop", nil))

	entries, _ := log.Snapshot()
	entries[0].NodeID = "mutated"

	fresh, _ := log.Snapshot()
	assert.Equal(t, "p1", fresh[0].NodeID)
}
