package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"udl/application/store"
	"udl/domain/deletion"
	"udl/domain/node"
	"udl/pkg/errors"
	"udl/pkg/events"
)

func newTestStore() *store.Store {
	return store.New(events.NewBus(), deletion.NewLog(), zap.NewNop())
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://peer:8080/ws", websocketURL("http://peer:8080"))
	assert.Equal(t, "wss://peer/ws", websocketURL("https://peer"))
	assert.Equal(t, "ws://peer/ws", websocketURL("ws://peer/"))
}

func TestStart_FailedProbeDisablesSync(t *testing.T) {
	// Arrange: the peer's health endpoint is down
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()
	client := New(Config{URL: server.URL}, newTestStore(), nil, zap.NewNop())

	// Act
	err := client.Start(context.Background(), time.Unix(0, 0))

	// Assert
	require.Error(t, err)
	assert.True(t, errors.IsRemoteUnreachable(err))
	assert.Equal(t, StateClosed, client.State())

	// Nothing launched, so Stop has nothing to wait for
	begin := time.Now()
	client.Stop(5 * time.Second)
	assert.Less(t, time.Since(begin), time.Second)
}

func TestStart_InitialPullAppliesUpdatesAndDeletes(t *testing.T) {
	// Arrange: the local store holds a node the peer has since deleted
	s := newTestStore()
	require.NoError(t, s.Put(node.New("stale", "Product", "shop", nil)))

	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/_sync":
			json.NewEncoder(w).Encode(SyncResponse{
				Updated: []*node.Node{node.New("p1", "Product", "shop", map[string]any{"name": "Widget"})},
				Deleted: []string{"stale"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer peer.Close()

	client := New(Config{
		URL:                  peer.URL,
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 1,
	}, s, nil, zap.NewNop())

	// Act
	err := client.Start(context.Background(), time.Unix(0, 0))
	defer client.Stop(time.Second)

	// Assert: catch-up applied even though the subscription cannot open
	require.NoError(t, err)
	got := s.Get("p1")
	require.NotNil(t, got)
	assert.Equal(t, "Widget", got.Fields["name"])
	assert.Nil(t, s.Get("stale"))
}

func TestRun_ExhaustedReconnectsSurfaceOnError(t *testing.T) {
	// Arrange: healthy peer, no WebSocket endpoint
	terminal := make(chan error, 1)
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/_sync":
			json.NewEncoder(w).Encode(SyncResponse{})
		default:
			http.NotFound(w, r)
		}
	}))
	defer peer.Close()

	client := New(Config{
		URL:                  peer.URL,
		ReconnectDelay:       time.Millisecond,
		MaxReconnectAttempts: 2,
		OnError:              func(err error) { terminal <- err },
	}, newTestStore(), nil, zap.NewNop())

	// Act
	require.NoError(t, client.Start(context.Background(), time.Unix(0, 0)))

	// Assert
	select {
	case err := <-terminal:
		assert.True(t, errors.IsRemoteUnreachable(err))
	case <-time.After(3 * time.Second):
		t.Fatal("reconnect exhaustion never surfaced")
	}
	assert.Eventually(t, func() bool {
		return client.State() == StateClosed
	}, time.Second, 10*time.Millisecond)
}

func TestStop_WithoutStartReturnsPromptly(t *testing.T) {
	client := New(Config{URL: "http://127.0.0.1:1"}, newTestStore(), nil, zap.NewNop())

	begin := time.Now()
	client.Stop(5 * time.Second)

	// No grace wait when Start never launched the subscription
	assert.Less(t, time.Since(begin), time.Second)
}
