// Package cache persists per-owner snapshots of the node graph. The file
// backend is the default; alternative backends plug in through Storage.
package cache

import (
	"context"
	"time"

	"udl/domain/deletion"
	"udl/domain/node"
)

// Version is the envelope schema version. A loaded envelope with any
// other version is discarded silently and sourcing starts fresh.
const Version = 1

// DeletionLog is the persisted slice of an owner's deletion history.
type DeletionLog struct {
	Entries     []deletion.Entry `json:"entries"`
	LastCleanup time.Time        `json:"lastCleanup"`
}

// Meta is the versioned envelope header.
type Meta struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Envelope is the on-disk form of one owner's partition of the store.
type Envelope struct {
	Nodes       []*node.Node        `json:"nodes"`
	Indexes     map[string][]string `json:"indexes,omitempty"`
	DeletionLog *DeletionLog        `json:"deletionLog,omitempty"`
	Meta        Meta                `json:"meta"`
}

// Storage loads and saves owner envelopes. Implementations are stateless
// across operations; a nil envelope from Load means "empty, start fresh".
// Load never fails the boot: a missing, corrupt or mismatched snapshot is
// advisory and comes back as empty.
type Storage interface {
	Load(ctx context.Context, owner string) (*Envelope, error)
	Save(ctx context.Context, owner string, env *Envelope) error
}
