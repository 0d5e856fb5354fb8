package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"udl/application/actions"
	"udl/application/store"
	"udl/pkg/errors"
	"udl/pkg/events"
	"udl/pkg/observability"
)

const (
	// DefaultDebounce is how long the queue stays quiet before a batch fires.
	DefaultDebounce = 5 * time.Second
	// DefaultMaxSize triggers immediate processing when the queue reaches it.
	DefaultMaxSize = 100
)

// Options are the queue pacing knobs.
type Options struct {
	Debounce time.Duration
	MaxSize  int
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	return o
}

// Queue is the single FIFO webhook queue. Enqueues (re)arm a debounce
// timer; hitting max size fires immediately. A processing mutex keeps
// two batches from ever running concurrently: a batch firing while one
// is in flight leaves the fresh queue accumulating until the in-flight
// batch completes.
type Queue struct {
	registry *Registry
	store    *store.Store
	bus      *events.Bus
	hooks    Hooks
	opts     Options
	metrics  *observability.Metrics
	logger   *zap.Logger

	mu      sync.Mutex // guards pending, timer, closed
	pending []*QueuedWebhook
	timer   *time.Timer
	closed  bool

	processMu sync.Mutex // serializes batch execution
}

// NewQueue creates a webhook queue over the given registry.
func NewQueue(
	registry *Registry,
	s *store.Store,
	bus *events.Bus,
	hooks Hooks,
	opts Options,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		registry: registry,
		store:    s,
		bus:      bus,
		hooks:    hooks,
		opts:     opts.withDefaults(),
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "webhook-queue")),
	}
}

// Retune replaces the pacing knobs for subsequent enqueues. An armed
// debounce timer keeps its original deadline; the next enqueue re-arms
// with the new values.
func (q *Queue) Retune(opts Options) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.opts = opts.withDefaults()
}

// Len returns the number of webhooks waiting in the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Enqueue appends a webhook to the queue. The pre-queue hook may
// transform it or drop it entirely. Emits webhook:queued for real-time
// observers. Returns an error only after shutdown.
func (q *Queue) Enqueue(w *QueuedWebhook) error {
	if w.ReceivedAt.IsZero() {
		w.ReceivedAt = time.Now()
	}

	if q.hooks.OnWebhookReceived != nil {
		transformed, err := q.hooks.OnWebhookReceived(w)
		switch {
		case err != nil:
			// Transformation errors leave the original webhook intact.
			q.logger.Warn("onWebhookReceived hook failed, keeping original",
				zap.String("plugin", w.PluginName), zap.Error(err))
		case transformed == nil:
			q.logger.Debug("webhook dropped by onWebhookReceived",
				zap.String("plugin", w.PluginName))
			return nil
		default:
			w = transformed
		}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.NewValidation("webhook queue is shut down")
	}
	q.pending = append(q.pending, w)
	size := len(q.pending)

	if size >= q.opts.MaxSize {
		if q.timer != nil {
			q.timer.Stop()
		}
		q.mu.Unlock()
		go q.drain(false)
	} else {
		if q.timer != nil {
			q.timer.Stop()
		}
		q.timer = time.AfterFunc(q.opts.Debounce, func() { q.drain(false) })
		q.mu.Unlock()
	}

	if q.metrics != nil {
		q.metrics.WebhooksQueued.Inc()
	}
	q.bus.PublishWebhook(events.WebhookEvent{
		Kind:       events.WebhookQueued,
		PluginName: w.PluginName,
		Payload:    w,
	})
	return nil
}

// Flush forces immediate processing of everything queued, waiting for
// any in-flight batch first. Used on graceful shutdown.
func (q *Queue) Flush() {
	q.drain(true)
}

// Close rejects further enqueues and flushes the remainder synchronously.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
	}
	q.mu.Unlock()
	q.Flush()
}

// drain runs batches until the queue is empty. With wait=false a drain
// that finds another batch in flight backs off; the queue keeps
// accumulating and is picked up when the in-flight drain loops.
func (q *Queue) drain(wait bool) {
	if wait {
		q.processMu.Lock()
	} else if !q.processMu.TryLock() {
		return
	}
	defer q.processMu.Unlock()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		webhooks := q.pending
		q.pending = nil
		if q.timer != nil {
			q.timer.Stop()
		}
		q.mu.Unlock()

		q.processBatch(webhooks)
	}
}

func (q *Queue) processBatch(webhooks []*QueuedWebhook) {
	batch := &Batch{
		ID:        uuid.New().String(),
		Webhooks:  webhooks,
		StartedAt: time.Now(),
	}
	log := q.logger.With(zap.String("batchId", batch.ID), zap.Int("size", len(webhooks)))
	log.Info("processing webhook batch")

	if q.hooks.OnBeforeWebhookTriggered != nil {
		if err := q.hooks.OnBeforeWebhookTriggered(batch); err != nil {
			log.Warn("onBeforeWebhookTriggered hook failed", zap.Error(err))
		}
	}

	// Handlers run sequentially in enqueue order; a failing handler
	// never poisons the rest of the batch.
	for _, w := range webhooks {
		if _, err := q.Dispatch(context.Background(), w); err != nil {
			log.Error("webhook handler failed",
				zap.String("plugin", w.PluginName), zap.Error(err))
		}
	}

	if q.hooks.OnAfterWebhookTriggered != nil {
		if err := q.hooks.OnAfterWebhookTriggered(batch); err != nil {
			log.Warn("onAfterWebhookTriggered hook failed", zap.Error(err))
		}
	}

	batch.CompletedAt = time.Now()
	if q.metrics != nil {
		q.metrics.ObserveBatch(len(webhooks))
	}
	q.bus.PublishWebhook(events.WebhookEvent{
		Kind:    events.WebhookBatchComplete,
		Payload: batch,
	})
	log.Info("webhook batch complete",
		zap.Duration("took", batch.CompletedAt.Sub(batch.StartedAt)))
}

// Dispatch runs the registered handler for one webhook, with panics
// contained. Exposed so synchronous registrations can run at receipt.
func (q *Queue) Dispatch(ctx context.Context, w *QueuedWebhook) (result any, err error) {
	reg, ok := q.registry.Get(w.PluginName)
	if !ok {
		return nil, errors.NewNotFound("no webhook handler for plugin " + w.PluginName)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("webhook handler panicked: %v", r)
		}
	}()

	hc := &HandlerContext{
		Store:   q.store,
		Actions: actions.New(q.store, w.PluginName, q.logger),
		Webhook: w,
	}
	return reg.Handler(ctx, hc)
}
