// Package events provides the in-process publish/subscribe channels the
// data layer components communicate over. Delivery is synchronous on the
// emitting goroutine, after the originating mutation has committed;
// long-running listeners dispatch their own work elsewhere.
package events

import (
	"sync"
	"time"

	"udl/domain/node"
)

// NodeEventKind identifies a node lifecycle event.
type NodeEventKind string

const (
	NodeCreated NodeEventKind = "node:created"
	NodeUpdated NodeEventKind = "node:updated"
	NodeDeleted NodeEventKind = "node:deleted"
)

// NodeEvent is emitted after a node mutation commits.
type NodeEvent struct {
	Kind      NodeEventKind
	Node      *node.Node
	Timestamp time.Time
}

// WebhookEventKind identifies a webhook queue event.
type WebhookEventKind string

const (
	WebhookQueued        WebhookEventKind = "webhook:queued"
	WebhookBatchComplete WebhookEventKind = "webhook:batch-complete"
)

// WebhookEvent is emitted when a webhook is queued or a batch completes.
// Payload carries the queued webhook or the completed batch.
type WebhookEvent struct {
	Kind       WebhookEventKind
	PluginName string
	Payload    any
	Timestamp  time.Time
}

// NodeHandler processes node events.
type NodeHandler func(NodeEvent)

// WebhookHandler processes webhook queue events.
type WebhookHandler func(WebhookEvent)

type subscription[H any] struct {
	id int
	fn H
}

// Bus fans events out to registered listeners. One typed handler list per
// event kind; no string-keyed emitter.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	nodes    []subscription[NodeHandler]
	webhooks []subscription[WebhookHandler]
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// SubscribeNode registers a handler for node events and returns its
// unsubscribe function.
func (b *Bus) SubscribeNode(fn NodeHandler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.nodes = append(b.nodes, subscription[NodeHandler]{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.nodes {
			if s.id == id {
				b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
				return
			}
		}
	}
}

// SubscribeWebhook registers a handler for webhook queue events and
// returns its unsubscribe function.
func (b *Bus) SubscribeWebhook(fn WebhookHandler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.webhooks = append(b.webhooks, subscription[WebhookHandler]{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.webhooks {
			if s.id == id {
				b.webhooks = append(b.webhooks[:i], b.webhooks[i+1:]...)
				return
			}
		}
	}
}

// PublishNode delivers e to every node listener.
func (b *Bus) PublishNode(e NodeEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	subs := append([]subscription[NodeHandler](nil), b.nodes...)
	b.mu.RUnlock()
	for _, s := range subs {
		s.fn(e)
	}
}

// PublishWebhook delivers e to every webhook listener.
func (b *Bus) PublishWebhook(e WebhookEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	subs := append([]subscription[WebhookHandler](nil), b.webhooks...)
	b.mu.RUnlock()
	for _, s := range subs {
		s.fn(e)
	}
}
