// Package resolver dereferences cross-node links at query time. The
// store itself is reference-agnostic; installed resolvers recognize
// marker shapes in payloads and look the target up through the store's
// configured id indexes. No resolution ever mutates the graph.
package resolver

import (
	"sort"
	"sync"

	"udl/application/store"
	"udl/domain/node"
)

// Resolver recognizes one reference marker shape.
type Resolver struct {
	// MarkerField tags a payload subobject as a reference (commonly a
	// boolean field).
	MarkerField string
	// LookupField is the indexed payload field on the target type that
	// the foreign key matches against.
	LookupField string
	// Priority orders resolvers when several recognize the same value;
	// higher wins.
	Priority int

	// IsReference reports whether the value is a marker this resolver
	// handles. When nil, the presence of MarkerField decides.
	IsReference func(value map[string]any) bool
	// GetLookupValue extracts the foreign key from the marker.
	GetLookupValue func(value map[string]any) any
	// GetPossibleTypes names the candidate target types, tried in order.
	GetPossibleTypes func(value map[string]any) []string
}

func (r *Resolver) matches(value map[string]any) bool {
	if r.IsReference != nil {
		return r.IsReference(value)
	}
	_, ok := value[r.MarkerField]
	return ok
}

// Registry holds the installed resolvers sorted by priority.
type Registry struct {
	mu        sync.RWMutex
	resolvers []*Resolver
}

// NewRegistry creates an empty resolver registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register installs a resolver.
func (g *Registry) Register(r *Resolver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolvers = append(g.resolvers, r)
	sort.SliceStable(g.resolvers, func(i, j int) bool {
		return g.resolvers[i].Priority > g.resolvers[j].Priority
	})
}

// Resolve dereferences a single value if some installed resolver
// recognizes it as a marker. Candidate types are tried until one hits.
func (g *Registry) Resolve(s *store.Store, value any) (*node.Node, bool) {
	marker, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}

	g.mu.RLock()
	resolvers := append([]*Resolver(nil), g.resolvers...)
	g.mu.RUnlock()

	for _, r := range resolvers {
		if !r.matches(marker) {
			continue
		}
		lookup := marker[r.LookupField]
		if r.GetLookupValue != nil {
			lookup = r.GetLookupValue(marker)
		}
		if lookup == nil {
			continue
		}

		var candidates []string
		if r.GetPossibleTypes != nil {
			candidates = r.GetPossibleTypes(marker)
		}
		for _, nodeType := range candidates {
			if hits := s.GetByField(nodeType, r.LookupField, lookup); len(hits) > 0 {
				return hits[0], true
			}
		}
	}
	return nil, false
}

// ResolveValue walks a payload value, replacing every recognized marker
// with the target node's payload. The visited set carries already
// expanded node ids so circular and self-referential graphs terminate;
// a re-visited node stays a marker.
func (g *Registry) ResolveValue(s *store.Store, value any, visited map[string]bool) any {
	if visited == nil {
		visited = map[string]bool{}
	}

	switch v := value.(type) {
	case map[string]any:
		if target, ok := g.Resolve(s, v); ok {
			if visited[target.ID()] {
				return v
			}
			visited[target.ID()] = true
			return g.ResolveValue(s, target.Fields, visited)
		}
		out := make(map[string]any, len(v))
		for key, elem := range v {
			out[key] = g.ResolveValue(s, elem, visited)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = g.ResolveValue(s, elem, visited)
		}
		return out
	default:
		return value
	}
}
