// Package actions is the owner-bound mutation façade. Every mutation
// path into the graph is mediated here: plugins receive an Actions bound
// to their own name and cannot forge another plugin's ownership.
package actions

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"udl/application/store"
	"udl/domain/node"
	"udl/pkg/errors"
)

// Protected top-level patch keys ExtendNode refuses to touch.
var protectedFields = map[string]bool{
	"id":       true,
	"internal": true,
	"parent":   true,
	"children": true,
}

// Predicate filters nodes client-side over a snapshot.
type Predicate func(*node.Node) bool

// Actions mediates mutations for a single owner.
type Actions struct {
	store  *store.Store
	owner  string
	logger *zap.Logger

	mu       sync.Mutex
	touched  map[string]bool
	tracking bool
}

// New binds an actions façade to a (store, owner) pair.
func New(s *store.Store, owner string, logger *zap.Logger) *Actions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Actions{
		store:  s,
		owner:  owner,
		logger: logger.With(zap.String("owner", owner)),
	}
}

// Owner returns the plugin name this façade is bound to.
func (a *Actions) Owner() string { return a.owner }

// Store exposes the underlying store for read-side collaborators.
func (a *Actions) Store() *store.Store { return a.store }

// TrackTouched starts recording the ids this façade creates. The source
// pipeline uses the recording to diff refetch runs; digest-equal no-op
// puts still count as touched.
func (a *Actions) TrackTouched() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tracking = true
	a.touched = make(map[string]bool)
}

// TouchedIDs returns the recorded ids and stops tracking.
func (a *Actions) TouchedIDs() map[string]bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.touched
	a.tracking = false
	a.touched = nil
	if out == nil {
		out = map[string]bool{}
	}
	return out
}

func (a *Actions) recordTouched(id string) {
	a.mu.Lock()
	if a.tracking {
		a.touched[id] = true
	}
	a.mu.Unlock()
}

// CreateNode validates and stamps the node, then puts it. The owner
// always comes from this façade, any owner on the input is ignored. An
// existing node keeps its creation time; the modification time is
// refreshed either way.
func (a *Actions) CreateNode(n *node.Node) (*node.Node, error) {
	if n == nil || n.ID() == "" || n.Type() == "" {
		return nil, errors.NewValidation("create requires a node with id and type")
	}

	c := n.Clone()
	c.Internal.Owner = a.owner
	if c.Internal.ContentDigest == "" {
		c.Internal.ContentDigest = node.Digest(c.Fields)
	}

	now := time.Now().UnixMilli()
	if existing := a.store.Get(c.ID()); existing != nil {
		c.Internal.CreatedAt = existing.Internal.CreatedAt
	} else {
		c.Internal.CreatedAt = now
	}
	c.Internal.ModifiedAt = now

	if err := a.store.Put(c); err != nil {
		return nil, err
	}
	a.recordTouched(c.ID())
	return a.store.Get(c.ID()), nil
}

// ExtendNode shallow-merges patch into the node's payload. Nested objects
// are replaced, not deep-merged. The internal envelope, parent and
// children are untouchable through this path.
func (a *Actions) ExtendNode(id string, patch map[string]any) (*node.Node, error) {
	n := a.store.Get(id)
	if n == nil {
		return nil, errors.NewNotFound("cannot extend unknown node " + id)
	}

	for key := range patch {
		if protectedFields[key] {
			return nil, errors.NewProtectedField(key)
		}
	}

	if n.Fields == nil {
		n.Fields = make(map[string]any, len(patch))
	}
	for key, value := range patch {
		n.Fields[key] = value
	}
	n.Internal.ContentDigest = node.Digest(n.Fields)
	n.Touch()

	if err := a.store.Put(n); err != nil {
		return nil, err
	}
	return a.store.Get(id), nil
}

// DeleteNode accepts an id, a full node, or a thin {internal:{id}}
// wrapper, and deletes the target. Returns false when nothing matched.
func (a *Actions) DeleteNode(input any, cascade bool) (bool, error) {
	id, err := resolveID(input)
	if err != nil {
		return false, err
	}
	deleted := a.store.Delete(id, cascade)
	if deleted {
		a.logger.Debug("node deleted", zap.String("nodeId", id), zap.Bool("cascade", cascade))
	}
	return deleted, nil
}

// GetNode returns the node with the given id, or nil.
func (a *Actions) GetNode(id string) *node.Node {
	return a.store.Get(id)
}

// GetNodes returns every node matching the optional predicate.
func (a *Actions) GetNodes(pred Predicate) []*node.Node {
	return filter(a.store.All(), pred)
}

// GetNodesByType returns nodes of one type matching the optional predicate.
func (a *Actions) GetNodesByType(nodeType string, pred Predicate) []*node.Node {
	return filter(a.store.GetByType(nodeType), pred)
}

func filter(nodes []*node.Node, pred Predicate) []*node.Node {
	if pred == nil {
		return nodes
	}
	out := nodes[:0:0]
	for _, n := range nodes {
		if pred(n) {
			out = append(out, n)
		}
	}
	return out
}

// resolveID canonicalizes the delete input shapes accepted on the API
// boundary: a plain id, a node, or a map carrying id or internal.id.
func resolveID(input any) (string, error) {
	switch v := input.(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case *node.Node:
		if v != nil && v.ID() != "" {
			return v.ID(), nil
		}
	case node.Node:
		if v.ID() != "" {
			return v.ID(), nil
		}
	case map[string]any:
		if id, ok := v["id"].(string); ok && id != "" {
			return id, nil
		}
		if internal, ok := v["internal"].(map[string]any); ok {
			if id, ok := internal["id"].(string); ok && id != "" {
				return id, nil
			}
		}
	}
	return "", errors.NewValidation("delete input carries no node id")
}
