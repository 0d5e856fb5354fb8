package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"udl/application/store"
	"udl/domain/deletion"
	"udl/domain/node"
	"udl/pkg/events"
)

func newSyncServer(t *testing.T) (*httptest.Server, *store.Store, *deletion.Log) {
	t.Helper()
	deletions := deletion.NewLog()
	s := store.New(events.NewBus(), deletions, zap.NewNop())

	router := chi.NewRouter()
	router.Get("/_sync", NewSyncHandler(s, deletions, zap.NewNop()).Dump)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, s, deletions
}

func getSync(t *testing.T, server *httptest.Server, since string) (int, syncResponse) {
	t.Helper()
	target := server.URL + "/_sync"
	if since != "" {
		target += "?since=" + url.QueryEscape(since)
	}
	resp, err := http.Get(target)
	require.NoError(t, err)
	var body syncResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, decodeBody(resp, &body))
	} else {
		resp.Body.Close()
	}
	return resp.StatusCode, body
}

func TestDump_FullWithoutSince(t *testing.T) {
	// Arrange
	server, s, deletions := newSyncServer(t)
	require.NoError(t, s.Put(node.New("p1", "Product", "shop", map[string]any{"v": 1})))
	deletions.Record(node.New("p2", "Product", "shop", nil))

	// Act
	status, body := getSync(t, server, "")

	// Assert
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, body.Updated, 1)
	assert.Equal(t, "p1", body.Updated[0].ID())
	assert.Equal(t, []string{"p2"}, body.Deleted)
}

func TestDump_SinceFiltersBothSets(t *testing.T) {
	// Arrange: everything happened before the cutoff
	server, s, deletions := newSyncServer(t)
	require.NoError(t, s.Put(node.New("p1", "Product", "shop", nil)))
	deletions.Record(node.New("p2", "Product", "shop", nil))
	cutoff := time.Now().Add(time.Minute).Format(time.RFC3339)

	// Act
	status, body := getSync(t, server, cutoff)

	// Assert
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body.Updated)
	assert.Empty(t, body.Deleted)
}

func TestDump_BadSinceIs400(t *testing.T) {
	server, _, _ := newSyncServer(t)

	status, _ := getSync(t, server, "yesterday")

	assert.Equal(t, http.StatusBadRequest, status)
}
