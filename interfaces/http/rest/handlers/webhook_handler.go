package handlers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"udl/application/webhook"
	"udl/pkg/errors"
)

// MaxWebhookBodySize bounds inbound webhook bodies.
const MaxWebhookBodySize = 1 << 20 // 1 MiB

// WebhookHandler is the intake for POST /_webhooks/<plugin>/sync.
type WebhookHandler struct {
	registry *webhook.Registry
	queue    *webhook.Queue
	logger   *zap.Logger
}

// NewWebhookHandler creates the webhook intake handler.
func NewWebhookHandler(registry *webhook.Registry, queue *webhook.Queue, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{registry: registry, queue: queue, logger: logger}
}

// Receive accepts one webhook. The wildcard tail of the route is parsed
// from the escaped path so percent-encoded scoped plugin names
// (%40org%2Fname) survive routing.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	pluginName, ok := pluginNameFromPath(r.URL.EscapedPath())
	if !ok || !webhook.ValidPluginName(pluginName) {
		writeError(w, http.StatusNotFound, "unknown webhook path")
		return
	}

	reg, ok := h.registry.Get(pluginName)
	if !ok {
		writeError(w, http.StatusNotFound, "no webhook registered for plugin "+pluginName)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "webhook body exceeds 1 MiB")
			return
		}
		// Anything else is a broken upload, not an oversized one.
		writeError(w, http.StatusBadRequest, "failed to read webhook body")
		return
	}

	if reg.VerifySignature != nil {
		if err := reg.VerifySignature(r.Header, body); err != nil {
			h.logger.Warn("webhook signature rejected",
				zap.String("plugin", pluginName), zap.Error(err))
			writeError(w, http.StatusUnauthorized, "signature verification failed")
			return
		}
	}

	var parsed map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &parsed); err != nil {
			writeError(w, http.StatusBadRequest, "webhook body is not valid JSON")
			return
		}
	}

	queued := &webhook.QueuedWebhook{
		PluginName: pluginName,
		RawBody:    body,
		ParsedBody: parsed,
		Headers:    r.Header.Clone(),
		ReceivedAt: time.Now(),
	}

	// Synchronous registrations (the default CRUD handler) run at
	// receipt so the caller sees the operation's outcome directly.
	if reg.Synchronous {
		result, err := h.queue.Dispatch(r.Context(), queued)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if err := h.queue.Enqueue(queued); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "plugin": pluginName})
}

// pluginNameFromPath extracts the percent-decoded plugin name from
// /_webhooks/<plugin>/sync. The plugin segment may itself contain an
// encoded slash for scoped names.
func pluginNameFromPath(escapedPath string) (string, bool) {
	const prefix = "/_webhooks/"
	const suffix = "/sync"

	if !strings.HasPrefix(escapedPath, prefix) || !strings.HasSuffix(escapedPath, suffix) {
		return "", false
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(escapedPath, prefix), suffix)
	if middle == "" {
		return "", false
	}
	decoded, err := url.PathUnescape(middle)
	if err != nil {
		return "", false
	}
	return decoded, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// writeAppError maps the error taxonomy onto HTTP status codes.
func writeAppError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.TypeOf(err) {
	case errors.ErrorTypeValidation, errors.ErrorTypeProtectedField:
		status = http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		status = http.StatusNotFound
	case errors.ErrorTypeAlreadyRegistered:
		status = http.StatusConflict
	case errors.ErrorTypeSignatureInvalid:
		status = http.StatusUnauthorized
	case errors.ErrorTypePayloadTooLarge:
		status = http.StatusRequestEntityTooLarge
	}
	writeError(w, status, err.Error())
}
