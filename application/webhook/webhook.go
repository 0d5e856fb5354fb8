// Package webhook implements inbound event handling: plugin-registered
// handlers, a debounced batch queue with lifecycle hooks, and the default
// CRUD handler for plugins that only declare an idField.
package webhook

import (
	"context"
	"net/http"
	"time"

	"udl/application/actions"
	"udl/application/store"
)

// QueuedWebhook is one received webhook waiting in the queue.
type QueuedWebhook struct {
	PluginName string         `json:"pluginName"`
	RawBody    []byte         `json:"rawBody"`
	ParsedBody map[string]any `json:"parsedBody"`
	Headers    http.Header    `json:"headers"`
	ReceivedAt time.Time      `json:"receivedAt"`
}

// Batch groups the queued webhooks processed under one debounce window.
type Batch struct {
	ID          string            `json:"id"`
	Webhooks    []*QueuedWebhook  `json:"webhooks"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt time.Time         `json:"completedAt"`
}

// HandlerContext is what a webhook handler works with. Actions is bound
// to the plugin the webhook was addressed to.
type HandlerContext struct {
	Store   *store.Store
	Actions *actions.Actions
	Webhook *QueuedWebhook
}

// Handler processes one webhook. The result is returned to the caller
// only for synchronous registrations; queued handlers' results are
// discarded.
type Handler func(ctx context.Context, hc *HandlerContext) (any, error)

// VerifyFunc checks an inbound request's signature before anything is
// queued. A non-nil error rejects the webhook with 401 and no side effects.
type VerifyFunc func(headers http.Header, body []byte) error

// Registration binds a plugin name to its webhook handling.
type Registration struct {
	Handler         Handler
	Description     string
	VerifySignature VerifyFunc

	// Synchronous registrations run at receipt and their result becomes
	// the HTTP response. Set for the auto-installed default handler,
	// whose CRUD semantics report per-operation status codes.
	Synchronous bool
}

// Hooks are the queue lifecycle callbacks. All are optional; all run
// synchronously; errors are logged and never abort the batch.
type Hooks struct {
	// OnWebhookReceived may transform an incoming webhook before it is
	// queued, or return nil to drop it. A transformation error leaves
	// the original webhook intact.
	OnWebhookReceived func(*QueuedWebhook) (*QueuedWebhook, error)

	OnBeforeWebhookTriggered func(*Batch) error
	OnAfterWebhookTriggered  func(*Batch) error
}
