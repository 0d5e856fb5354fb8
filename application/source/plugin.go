// Package source runs the plugin sourcing lifecycle: hydrate the owner's
// cache, let the plugin source nodes through its owner-bound façade,
// reconcile deletions, and persist the owner's partition.
package source

import (
	"context"

	"udl/application/actions"
)

// Strategy selects how a plugin's source runs relate to each other.
type Strategy string

const (
	// StrategySync plugins emit deltas; they keep a cursor in their own
	// state (see TokenStore) and never trigger diff-based deletion.
	StrategySync Strategy = "sync"
	// StrategyRefetch plugins produce a full snapshot every run; the
	// pipeline diffs live-owned nodes against the run to find deletions.
	StrategyRefetch Strategy = "refetch"
)

// Index declares a (type, field) lookup a plugin needs.
type Index struct {
	Type  string `json:"type" yaml:"type"`
	Field string `json:"field" yaml:"field"`
}

// Session is what a plugin's SourceNodes hook works with.
type Session struct {
	// Actions is bound to the plugin's own name.
	Actions *actions.Actions
	// Tokens stores the plugin's opaque sync cursor across restarts.
	Tokens *TokenStore
	// Options is the plugin's configured option map.
	Options map[string]any
	// UseMocks tells the plugin to avoid real outbound I/O.
	UseMocks bool
}

// SourceFunc produces or updates nodes for one plugin.
type SourceFunc func(ctx context.Context, s *Session) error

// Plugin declares one content source.
type Plugin struct {
	Name     string
	Strategy Strategy

	// IDField names the external-id payload field; plugins that declare
	// one and register no webhook handler get the default CRUD handler.
	IDField string

	Indexes []Index
	Options map[string]any

	// WatchPaths, when non-empty, re-sources the plugin on local file
	// changes (dev watch mode).
	WatchPaths []string

	SourceNodes SourceFunc
}
