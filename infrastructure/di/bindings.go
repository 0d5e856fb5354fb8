package di

import (
	"context"
	"time"

	"go.uber.org/zap"

	"udl/application/source"
	"udl/application/store"
	"udl/application/webhook"
	ws "udl/interfaces/websocket"
	"udl/pkg/events"
	"udl/pkg/observability"
)

// EventBindings holds the cross-cutting bus subscriptions: metrics
// counters and the persist-after-batch trigger. Subscribers never
// re-enter the store writer; persistence is dispatched to a goroutine.
type EventBindings struct {
	unsubscribe []func()
}

// NewEventBindings attaches the standard subscribers.
func NewEventBindings(
	bus *events.Bus,
	s *store.Store,
	pipeline *source.Pipeline,
	broadcaster *ws.Broadcaster,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *EventBindings {
	b := &EventBindings{}

	b.unsubscribe = append(b.unsubscribe, broadcaster.Attach(bus))

	b.unsubscribe = append(b.unsubscribe, bus.SubscribeNode(func(ev events.NodeEvent) {
		metrics.NodeEvents.WithLabelValues(string(ev.Kind)).Inc()
		metrics.NodesLive.Set(float64(s.Len()))
	}))

	// A completed webhook batch may have mutated several owners; persist
	// each one once.
	b.unsubscribe = append(b.unsubscribe, bus.SubscribeWebhook(func(ev events.WebhookEvent) {
		if ev.Kind != events.WebhookBatchComplete {
			return
		}
		batch, ok := ev.Payload.(*webhook.Batch)
		if !ok {
			return
		}

		owners := make(map[string]bool)
		for _, w := range batch.Webhooks {
			owners[w.PluginName] = true
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			for owner := range owners {
				if err := pipeline.PersistOwner(ctx, owner); err != nil {
					logger.Warn("persist after webhook batch failed",
						zap.String("owner", owner), zap.Error(err))
				}
			}
		}()
	}))

	return b
}

// Close detaches every subscription.
func (b *EventBindings) Close() {
	for _, unsub := range b.unsubscribe {
		unsub()
	}
	b.unsubscribe = nil
}
