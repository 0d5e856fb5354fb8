package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"udl/application/store"
	"udl/application/webhook"
	"udl/domain/deletion"
	"udl/pkg/errors"
	"udl/pkg/events"
)

func newWebhookServer(t *testing.T, register func(*webhook.Registry)) *httptest.Server {
	t.Helper()
	bus := events.NewBus()
	s := store.New(bus, deletion.NewLog(), zap.NewNop())
	registry := webhook.NewRegistry()
	if register != nil {
		register(registry)
	}
	queue := webhook.NewQueue(registry, s, bus, webhook.Hooks{},
		webhook.Options{Debounce: time.Hour}, nil, zap.NewNop())
	handler := NewWebhookHandler(registry, queue, zap.NewNop())

	router := chi.NewRouter()
	router.Post("/_webhooks/*", handler.Receive)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func postWebhook(t *testing.T, server *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestReceive_QueuedWebhookIsAccepted(t *testing.T) {
	// Arrange
	server := newWebhookServer(t, func(r *webhook.Registry) {
		require.NoError(t, r.Register("shop", &webhook.Registration{
			Handler: func(context.Context, *webhook.HandlerContext) (any, error) { return nil, nil },
		}))
	})

	// Act
	resp := postWebhook(t, server, "/_webhooks/shop/sync", `{"event":"updated"}`)

	// Assert
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestReceive_UnregisteredPluginIs404(t *testing.T) {
	server := newWebhookServer(t, nil)

	resp := postWebhook(t, server, "/_webhooks/ghost/sync", `{}`)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReceive_MalformedPathIs404(t *testing.T) {
	server := newWebhookServer(t, func(r *webhook.Registry) {
		require.NoError(t, r.Register("shop", &webhook.Registration{
			Handler: func(context.Context, *webhook.HandlerContext) (any, error) { return nil, nil },
		}))
	})

	// Missing the /sync suffix
	resp := postWebhook(t, server, "/_webhooks/shop", `{}`)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReceive_ScopedPluginNameIsPercentDecoded(t *testing.T) {
	// Arrange: a scoped name must arrive percent-encoded
	server := newWebhookServer(t, func(r *webhook.Registry) {
		require.NoError(t, r.Register("@org/shop", &webhook.Registration{
			Handler: func(context.Context, *webhook.HandlerContext) (any, error) { return nil, nil },
		}))
	})

	// Act
	resp := postWebhook(t, server, "/_webhooks/%40org%2Fshop/sync", `{}`)

	// Assert
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestReceive_InvalidJSONBodyIs400(t *testing.T) {
	server := newWebhookServer(t, func(r *webhook.Registry) {
		require.NoError(t, r.Register("shop", &webhook.Registration{
			Handler: func(context.Context, *webhook.HandlerContext) (any, error) { return nil, nil },
		}))
	})

	resp := postWebhook(t, server, "/_webhooks/shop/sync", `{not json`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReceive_OversizedBodyIs413(t *testing.T) {
	server := newWebhookServer(t, func(r *webhook.Registry) {
		require.NoError(t, r.Register("shop", &webhook.Registration{
			Handler: func(context.Context, *webhook.HandlerContext) (any, error) { return nil, nil },
		}))
	})

	huge := bytes.Repeat([]byte("a"), MaxWebhookBodySize+1)
	resp, err := http.Post(server.URL+"/_webhooks/shop/sync", "application/json", bytes.NewReader(huge))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestReceive_BodyReadFailureIs400(t *testing.T) {
	// Arrange: drive the router directly so the body can fail mid-read
	bus := events.NewBus()
	s := store.New(bus, deletion.NewLog(), zap.NewNop())
	registry := webhook.NewRegistry()
	require.NoError(t, registry.Register("shop", &webhook.Registration{
		Handler: func(context.Context, *webhook.HandlerContext) (any, error) { return nil, nil },
	}))
	queue := webhook.NewQueue(registry, s, bus, webhook.Hooks{},
		webhook.Options{Debounce: time.Hour}, nil, zap.NewNop())
	router := chi.NewRouter()
	router.Post("/_webhooks/*", NewWebhookHandler(registry, queue, zap.NewNop()).Receive)

	req := httptest.NewRequest(http.MethodPost, "/_webhooks/shop/sync", brokenReader{})
	rec := httptest.NewRecorder()

	// Act
	router.ServeHTTP(rec, req)

	// Assert: a broken upload is the caller's fault, not an oversize
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceive_RejectedSignatureIs401(t *testing.T) {
	// Arrange: the verifier demands a shared-secret header
	server := newWebhookServer(t, func(r *webhook.Registry) {
		require.NoError(t, r.Register("shop", &webhook.Registration{
			Handler: func(context.Context, *webhook.HandlerContext) (any, error) { return nil, nil },
			VerifySignature: func(headers http.Header, _ []byte) error {
				if headers.Get("X-Webhook-Secret") != "expected" {
					return errors.NewSignatureInvalid("bad secret")
				}
				return nil
			},
		}))
	})

	// Act: no secret header
	resp := postWebhook(t, server, "/_webhooks/shop/sync", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// And with the secret, the webhook is queued
	req, err := http.NewRequest(http.MethodPost, server.URL+"/_webhooks/shop/sync", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set("X-Webhook-Secret", "expected")
	ok, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer ok.Body.Close()
	assert.Equal(t, http.StatusAccepted, ok.StatusCode)
}

func TestReceive_SynchronousRegistrationReturnsResult(t *testing.T) {
	// Arrange: the default CRUD handler runs at receipt
	server := newWebhookServer(t, func(r *webhook.Registry) {
		require.NoError(t, r.Register("shop", &webhook.Registration{
			Handler:     webhook.NewDefaultHandler("sku"),
			Synchronous: true,
		}))
	})

	// Act
	resp := postWebhook(t, server, "/_webhooks/shop/sync",
		`{"operation":"create","nodeId":"A-1","nodeType":"Product","data":{"name":"Widget"}}`)

	// Assert: the operation outcome comes back directly
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]any
	require.NoError(t, decodeBody(resp, &result))
	assert.Equal(t, true, result["created"])
}

func TestReceive_SynchronousErrorsMapToStatusCodes(t *testing.T) {
	server := newWebhookServer(t, func(r *webhook.Registry) {
		require.NoError(t, r.Register("shop", &webhook.Registration{
			Handler:     webhook.NewDefaultHandler("sku"),
			Synchronous: true,
		}))
	})

	cases := []struct {
		body   string
		status int
	}{
		{`{"operation":"noop"}`, http.StatusBadRequest},
		{`{"operation":"update","nodeId":"ghost","nodeType":"Product","data":{}}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		resp := postWebhook(t, server, "/_webhooks/shop/sync", tc.body)
		assert.Equal(t, tc.status, resp.StatusCode, tc.body)
	}

	// A duplicate create conflicts
	create := `{"operation":"create","nodeId":"A-1","nodeType":"Product","data":{"name":"Widget"}}`
	resp := postWebhook(t, server, "/_webhooks/shop/sync", create)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = postWebhook(t, server, "/_webhooks/shop/sync", create)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func decodeBody(resp *http.Response, out any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}
