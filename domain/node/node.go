// Package node defines the fundamental entity of the data layer: a typed,
// owned node with a free-form payload and bidirectional parent/child links.
package node

import (
	"reflect"
	"time"
)

// Internal is the envelope the data layer maintains on every node.
// Payload fields never leak into it and it is never hashed into the
// content digest.
type Internal struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Owner         string `json:"owner"`
	ContentDigest string `json:"contentDigest"`
	CreatedAt     int64  `json:"createdAt"`
	ModifiedAt    int64  `json:"modifiedAt"`
}

// Node is a single entity in the graph. Fields carries the user payload:
// nested objects, arrays, scalars and reference markers.
type Node struct {
	Internal Internal       `json:"internal"`
	Parent   string         `json:"parent,omitempty"`
	Children []string       `json:"children,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// New creates a node with a stamped envelope. The content digest is
// computed over the payload unless one is supplied.
func New(id, nodeType, owner string, fields map[string]any) *Node {
	now := time.Now().UnixMilli()
	n := &Node{
		Internal: Internal{
			ID:         id,
			Type:       nodeType,
			Owner:      owner,
			CreatedAt:  now,
			ModifiedAt: now,
		},
		Fields: fields,
	}
	n.Internal.ContentDigest = Digest(fields)
	return n
}

// ID returns the node's unique identifier.
func (n *Node) ID() string { return n.Internal.ID }

// Type returns the node's type name.
func (n *Node) Type() string { return n.Internal.Type }

// Owner returns the name of the plugin that owns this node.
func (n *Node) Owner() string { return n.Internal.Owner }

// Touch refreshes the modification timestamp.
func (n *Node) Touch() { n.Internal.ModifiedAt = time.Now().UnixMilli() }

// HasChild reports whether id is listed among the node's children.
func (n *Node) HasChild(id string) bool {
	for _, c := range n.Children {
		if c == id {
			return true
		}
	}
	return false
}

// AddChild appends id to the children list if not already present.
func (n *Node) AddChild(id string) {
	if !n.HasChild(id) {
		n.Children = append(n.Children, id)
	}
}

// RemoveChild drops id from the children list.
func (n *Node) RemoveChild(id string) {
	for i, c := range n.Children {
		if c == id {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			return
		}
	}
}

// Clone returns a deep copy of the node. Callers may mutate the copy
// without synchronizing with the store writer. Aliased substructures in
// the payload stay aliased in the copy, so cyclic payloads clone safely.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	cp := &Node{
		Internal: n.Internal,
		Parent:   n.Parent,
	}
	if n.Children != nil {
		cp.Children = append([]string(nil), n.Children...)
	}
	if n.Fields != nil {
		cp.Fields = deepCopyValue(n.Fields, map[uintptr]any{}).(map[string]any)
	}
	return cp
}

func deepCopyValue(v any, seen map[uintptr]any) any {
	switch val := v.(type) {
	case map[string]any:
		ptr := reflect.ValueOf(val).Pointer()
		if prev, ok := seen[ptr]; ok {
			return prev
		}
		cp := make(map[string]any, len(val))
		seen[ptr] = cp
		for k, elem := range val {
			cp[k] = deepCopyValue(elem, seen)
		}
		return cp
	case []any:
		if val == nil {
			return nil
		}
		ptr := reflect.ValueOf(val).Pointer()
		if prev, ok := seen[ptr]; ok {
			return prev
		}
		cp := make([]any, len(val))
		seen[ptr] = cp
		for i, elem := range val {
			cp[i] = deepCopyValue(elem, seen)
		}
		return cp
	default:
		// Scalars and foreign types are copied by value.
		return val
	}
}
