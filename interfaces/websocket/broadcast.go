package websocket

import (
	"go.uber.org/zap"

	"udl/pkg/events"
)

// Broadcaster bridges the in-process event bus to the hub, translating
// store and queue events into the wire frame types consumers see.
type Broadcaster struct {
	hub    *Hub
	logger *zap.Logger
}

// NewBroadcaster creates an event broadcaster over the hub.
func NewBroadcaster(hub *Hub, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{hub: hub, logger: logger}
}

// Attach subscribes the broadcaster to the bus. The returned function
// detaches it again.
func (b *Broadcaster) Attach(bus *events.Bus) func() {
	unsubNode := bus.SubscribeNode(b.onNodeEvent)
	unsubWebhook := bus.SubscribeWebhook(b.onWebhookEvent)
	return func() {
		unsubNode()
		unsubWebhook()
	}
}

func (b *Broadcaster) onNodeEvent(ev events.NodeEvent) {
	var frameType string
	switch ev.Kind {
	case events.NodeCreated, events.NodeUpdated:
		// Consumers treat creation as an update of a node they have not
		// seen; both map to the same frame.
		frameType = "node:updated"
	case events.NodeDeleted:
		frameType = "node:deleted"
	default:
		return
	}

	if err := b.hub.Broadcast(frameType, ev.Node); err != nil {
		b.logger.Warn("failed to broadcast node event",
			zap.String("type", frameType), zap.Error(err))
	}
}

func (b *Broadcaster) onWebhookEvent(ev events.WebhookEvent) {
	if ev.Kind != events.WebhookQueued {
		return
	}
	if err := b.hub.Broadcast("webhook:queued", ev.Payload); err != nil {
		b.logger.Warn("failed to broadcast webhook event", zap.Error(err))
	}
}
