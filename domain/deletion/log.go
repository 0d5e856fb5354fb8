// Package deletion maintains the append-only record of deleted nodes.
// Downstream catch-up callers use it to learn what vanished since a
// point in time; a plugin's next clean re-source makes its entries
// redundant and compacts them away.
package deletion

import (
	"sync"
	"time"

	"udl/domain/node"
)

// Entry records a single node deletion.
type Entry struct {
	NodeID    string    `json:"nodeId"`
	NodeType  string    `json:"nodeType"`
	Owner     string    `json:"owner"`
	DeletedAt time.Time `json:"deletedAt"`
}

// Log is an append-only deletion record bounded by per-owner compaction.
// Consumers always receive snapshots, never the backing slice.
type Log struct {
	mu          sync.Mutex
	entries     []Entry
	lastCleanup time.Time
}

// NewLog creates an empty deletion log.
func NewLog() *Log {
	return &Log{}
}

// Record appends a deletion entry for the given node.
func (l *Log) Record(n *node.Node) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{
		NodeID:    n.ID(),
		NodeType:  n.Type(),
		Owner:     n.Owner(),
		DeletedAt: time.Now(),
	})
}

// Since returns entries newer than t. An empty owner matches every entry.
func (l *Log) Since(t time.Time, owner string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	for _, e := range l.entries {
		if !e.DeletedAt.After(t) {
			continue
		}
		if owner != "" && e.Owner != owner {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Compact removes every entry belonging to owner. Called after the
// owner's successful full re-source: those deletions are now implicit
// in the fresh node set.
func (l *Log) Compact(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Owner != owner {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	l.lastCleanup = time.Now()
}

// Snapshot returns a copy of all entries and the last cleanup time.
func (l *Log) Snapshot() ([]Entry, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...), l.lastCleanup
}

// Replay merges entries restored from a cache envelope. Duplicate node
// ids already present in the log are skipped.
func (l *Log) Replay(entries []Entry, lastCleanup time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	present := make(map[string]bool, len(l.entries))
	for _, e := range l.entries {
		present[e.NodeID] = true
	}
	for _, e := range entries {
		if !present[e.NodeID] {
			l.entries = append(l.entries, e)
		}
	}
	if lastCleanup.After(l.lastCleanup) {
		l.lastCleanup = lastCleanup
	}
}

// Len returns the number of live entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
