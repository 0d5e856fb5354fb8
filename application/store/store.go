// Package store implements the in-memory node graph: a primary id map,
// per-type buckets and opt-in (type, field) indexes, all mutated together
// under a single writer discipline.
package store

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"udl/domain/deletion"
	"udl/domain/node"
	"udl/pkg/errors"
	"udl/pkg/events"
)

// Store is the indexed in-memory node graph. Index entries are strictly a
// materialized projection of the primary map, never the source of truth.
// All returned nodes and slices are defensive copies.
type Store struct {
	mu sync.RWMutex

	// Primary map and its projections.
	nodes     map[string]*node.Node
	typeOrder map[string][]string                    // type -> ids in insertion order
	indexes   map[string]map[string]map[string]idSet // type -> field -> value key -> ids
	seq       map[string]int64                       // id -> bucket insertion sequence
	nextSeq   int64

	// Registered (type, field) pairs; lookups on anything else fall back
	// to a linear scan over the type bucket.
	registered map[string]map[string]bool

	// Children waiting for a parent that has not arrived yet.
	pendingChildren map[string]idSet // parent id -> child ids

	deletions *deletion.Log
	bus       *events.Bus
	logger    *zap.Logger
}

type idSet map[string]bool

// New creates an empty store wired to the given event bus and deletion log.
func New(bus *events.Bus, deletions *deletion.Log, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		nodes:           make(map[string]*node.Node),
		typeOrder:       make(map[string][]string),
		indexes:         make(map[string]map[string]map[string]idSet),
		seq:             make(map[string]int64),
		registered:      make(map[string]map[string]bool),
		pendingChildren: make(map[string]idSet),
		deletions:       deletions,
		bus:             bus,
		logger:          logger.With(zap.String("component", "store")),
	}
}

// DeletionLog exposes the deletion log for catch-up readers.
func (s *Store) DeletionLog() *deletion.Log { return s.deletions }

// Put inserts or replaces a node, keeping every index projection and
// parent/child edge consistent. A put whose content digest equals the
// stored revision's is an idempotent no-op. Emits node:created or
// node:updated after the mutation commits.
func (s *Store) Put(n *node.Node) error {
	if n == nil || n.ID() == "" || n.Type() == "" {
		return errors.NewValidation("node requires a non-empty id and type")
	}

	incoming := n.Clone()

	s.mu.Lock()
	prev := s.nodes[incoming.ID()]

	if prev != nil && prev.Internal.ContentDigest != "" &&
		prev.Internal.ContentDigest == incoming.Internal.ContentDigest &&
		prev.Parent == incoming.Parent {
		s.mu.Unlock()
		return nil
	}

	// The store owns the children projection; a revision that does not
	// carry one inherits the links already reconciled here.
	if incoming.Children == nil && prev != nil {
		incoming.Children = append([]string(nil), prev.Children...)
	}

	if prev != nil {
		s.deindexLocked(prev)
		if prev.Type() != incoming.Type() {
			s.removeFromBucketLocked(prev.Type(), prev.ID())
			s.appendToBucketLocked(incoming.Type(), incoming.ID())
		}
	} else {
		s.appendToBucketLocked(incoming.Type(), incoming.ID())
	}

	s.nodes[incoming.ID()] = incoming
	s.indexLocked(incoming)
	s.reconcileParentLocked(prev, incoming)
	s.adoptPendingChildrenLocked(incoming)
	s.mu.Unlock()

	kind := events.NodeUpdated
	if prev == nil {
		kind = events.NodeCreated
	}
	s.bus.PublishNode(events.NodeEvent{Kind: kind, Node: incoming.Clone()})
	return nil
}

// Get returns the node with the given id, or nil.
func (s *Store) Get(id string) *node.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodes[id].Clone()
}

// Has reports whether a node with the given id exists.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok
}

// Len returns the number of nodes in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// All returns a snapshot of every node.
func (s *Store) All() []*node.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*node.Node, 0, len(s.nodes))
	for _, tp := range sortedKeys(s.typeOrder) {
		for _, id := range s.typeOrder[tp] {
			out = append(out, s.nodes[id].Clone())
		}
	}
	return out
}

// GetByType materializes the type bucket into an ordered snapshot.
// Iteration order is insertion order for the process lifetime.
func (s *Store) GetByType(nodeType string) []*node.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.typeOrder[nodeType]
	out := make([]*node.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.nodes[id].Clone())
	}
	return out
}

// GetByField looks nodes up by a payload field value. O(1) through a
// registered index, otherwise a linear scan over the type bucket.
func (s *Store) GetByField(nodeType, field string, value any) []*node.Node {
	key := NormalizeValue(value)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.registered[nodeType][field] {
		hits := s.indexes[nodeType][field][key]
		if len(hits) == 0 {
			return nil
		}
		ids := make([]string, 0, len(hits))
		for id := range hits {
			ids = append(ids, id)
		}
		// The hit set is unordered; the sequence numbers restore bucket
		// insertion order without touching the rest of the bucket.
		sort.Slice(ids, func(i, j int) bool { return s.seq[ids[i]] < s.seq[ids[j]] })
		out := make([]*node.Node, 0, len(ids))
		for _, id := range ids {
			out = append(out, s.nodes[id].Clone())
		}
		return out
	}

	var out []*node.Node
	for _, id := range s.typeOrder[nodeType] {
		n := s.nodes[id]
		if v, ok := n.Fields[field]; ok && NormalizeValue(v) == key {
			out = append(out, n.Clone())
		}
	}
	return out
}

// RegisterIndex declares a (type, field) index and backfills it from the
// type bucket in a one-shot catch-up pass. Registering twice is a no-op.
func (s *Store) RegisterIndex(nodeType, field string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered[nodeType][field] {
		return
	}
	if s.registered[nodeType] == nil {
		s.registered[nodeType] = make(map[string]bool)
	}
	s.registered[nodeType][field] = true

	for _, id := range s.typeOrder[nodeType] {
		n := s.nodes[id]
		if v, ok := n.Fields[field]; ok {
			s.addIndexEntryLocked(nodeType, field, NormalizeValue(v), id)
		}
	}

	s.logger.Debug("index registered",
		zap.String("type", nodeType),
		zap.String("field", field),
		zap.Int("backfilled", len(s.typeOrder[nodeType])),
	)
}

// RegisteredIndexes returns the declared indexes as type -> sorted fields.
func (s *Store) RegisteredIndexes() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]string, len(s.registered))
	for tp, fields := range s.registered {
		for f := range fields {
			out[tp] = append(out[tp], f)
		}
		sort.Strings(out[tp])
	}
	return out
}

// Delete removes a node, its index entries and its parent link. With
// cascade, children are deleted depth-first (cycle-safe); without, each
// child's parent field is cleared in place. Every removed node gets a
// deletion-log entry and a node:deleted event. Deleting an unknown id
// returns false with no side effects.
func (s *Store) Delete(id string, cascade bool) bool {
	s.mu.Lock()
	root := s.nodes[id]
	if root == nil {
		s.mu.Unlock()
		return false
	}

	var victims []*node.Node
	visited := idSet{}
	s.collectLocked(id, cascade, visited, &victims)

	for _, v := range victims {
		s.removeLocked(v, visited)
	}
	s.mu.Unlock()

	for _, v := range victims {
		if s.deletions != nil {
			s.deletions.Record(v)
		}
		s.bus.PublishNode(events.NodeEvent{Kind: events.NodeDeleted, Node: v.Clone()})
	}
	return true
}

// collectLocked gathers the node and, when cascading, its descendants
// depth-first. The visited set makes cyclic parent links safe.
func (s *Store) collectLocked(id string, cascade bool, visited idSet, out *[]*node.Node) {
	if visited[id] {
		return
	}
	n := s.nodes[id]
	if n == nil {
		return
	}
	visited[id] = true
	*out = append(*out, n)
	if cascade {
		for _, child := range n.Children {
			s.collectLocked(child, true, visited, out)
		}
	}
}

func (s *Store) removeLocked(n *node.Node, victims idSet) {
	delete(s.nodes, n.ID())
	s.removeFromBucketLocked(n.Type(), n.ID())
	s.deindexLocked(n)
	delete(s.seq, n.ID())
	delete(s.pendingChildren, n.ID())

	// Prune the parent's children unless the parent is going too.
	if n.Parent != "" && !victims[n.Parent] {
		if p := s.nodes[n.Parent]; p != nil {
			p.RemoveChild(n.ID())
		}
	}

	// Orphan surviving children in place.
	for _, childID := range n.Children {
		if victims[childID] {
			continue
		}
		if c := s.nodes[childID]; c != nil && c.Parent == n.ID() {
			c.Parent = ""
		}
	}
}

// NodesModifiedSince returns nodes whose envelope modification time is
// strictly after t. Used by the catch-up sync endpoint.
func (s *Store) NodesModifiedSince(t time.Time) []*node.Node {
	cutoff := t.UnixMilli()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*node.Node
	for _, tp := range sortedKeys(s.typeOrder) {
		for _, id := range s.typeOrder[tp] {
			if n := s.nodes[id]; n.Internal.ModifiedAt > cutoff {
				out = append(out, n.Clone())
			}
		}
	}
	return out
}

// OwnedBy returns a snapshot of the nodes owned by the given plugin.
func (s *Store) OwnedBy(owner string) []*node.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*node.Node
	for _, tp := range sortedKeys(s.typeOrder) {
		for _, id := range s.typeOrder[tp] {
			if n := s.nodes[id]; n.Owner() == owner {
				out = append(out, n.Clone())
			}
		}
	}
	return out
}

func (s *Store) appendToBucketLocked(nodeType, id string) {
	s.typeOrder[nodeType] = append(s.typeOrder[nodeType], id)
	s.nextSeq++
	s.seq[id] = s.nextSeq
}

func (s *Store) removeFromBucketLocked(nodeType, id string) {
	bucket := s.typeOrder[nodeType]
	for i, existing := range bucket {
		if existing == id {
			s.typeOrder[nodeType] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(s.typeOrder[nodeType]) == 0 {
		delete(s.typeOrder, nodeType)
	}
}

func (s *Store) indexLocked(n *node.Node) {
	for field := range s.registered[n.Type()] {
		if v, ok := n.Fields[field]; ok {
			s.addIndexEntryLocked(n.Type(), field, NormalizeValue(v), n.ID())
		}
	}
}

func (s *Store) deindexLocked(n *node.Node) {
	byField := s.indexes[n.Type()]
	for field := range s.registered[n.Type()] {
		v, ok := n.Fields[field]
		if !ok {
			continue
		}
		key := NormalizeValue(v)
		if hits := byField[field][key]; hits != nil {
			delete(hits, n.ID())
			if len(hits) == 0 {
				delete(byField[field], key)
			}
		}
	}
}

func (s *Store) addIndexEntryLocked(nodeType, field, key, id string) {
	byField := s.indexes[nodeType]
	if byField == nil {
		byField = make(map[string]map[string]idSet)
		s.indexes[nodeType] = byField
	}
	byValue := byField[field]
	if byValue == nil {
		byValue = make(map[string]idSet)
		byField[field] = byValue
	}
	if byValue[key] == nil {
		byValue[key] = idSet{}
	}
	byValue[key][id] = true
}

// reconcileParentLocked keeps parent/child edges pairwise under create
// and reparenting. A missing parent is not an error: the child keeps its
// parent field and the link is attached when the parent arrives.
func (s *Store) reconcileParentLocked(prev, incoming *node.Node) {
	oldParent := ""
	if prev != nil {
		oldParent = prev.Parent
	}
	if oldParent == incoming.Parent && prev != nil {
		return
	}

	if oldParent != "" && oldParent != incoming.Parent {
		if p := s.nodes[oldParent]; p != nil {
			p.RemoveChild(incoming.ID())
		}
		if pending := s.pendingChildren[oldParent]; pending != nil {
			delete(pending, incoming.ID())
		}
	}

	if incoming.Parent == "" {
		return
	}
	if p := s.nodes[incoming.Parent]; p != nil {
		p.AddChild(incoming.ID())
		return
	}
	if s.pendingChildren[incoming.Parent] == nil {
		s.pendingChildren[incoming.Parent] = idSet{}
	}
	s.pendingChildren[incoming.Parent][incoming.ID()] = true
}

func (s *Store) adoptPendingChildrenLocked(n *node.Node) {
	pending := s.pendingChildren[n.ID()]
	if len(pending) == 0 {
		return
	}
	for childID := range pending {
		if c := s.nodes[childID]; c != nil && c.Parent == n.ID() {
			n.AddChild(childID)
		}
	}
	delete(s.pendingChildren, n.ID())
}

// NormalizeValue normalizes a field value for index storage. JSON transports
// integral numbers as float64, so 42 and "42" from different sources
// must land on the same key.
func NormalizeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return NormalizeValue(float64(val))
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
