package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"udl/application/actions"
	"udl/application/store"
	"udl/domain/deletion"
	"udl/pkg/errors"
	"udl/pkg/events"
)

func newHandlerContext(body string) (*HandlerContext, *store.Store) {
	s := store.New(events.NewBus(), deletion.NewLog(), zap.NewNop())
	s.RegisterIndex("Product", "sku")
	return &HandlerContext{
		Store:   s,
		Actions: actions.New(s, "shop", zap.NewNop()),
		Webhook: &QueuedWebhook{PluginName: "shop", RawBody: []byte(body)},
	}, s
}

func TestDefaultHandler_UpsertCreatesThenUpdates(t *testing.T) {
	// Arrange
	handler := NewDefaultHandler("sku")
	hc, s := newHandlerContext(`{"operation":"upsert","nodeId":"A-1","nodeType":"Product","data":{"name":"Widget"}}`)

	// Act: first upsert creates
	result, err := handler(context.Background(), hc)

	// Assert
	require.NoError(t, err)
	created := result.(map[string]any)
	assert.Equal(t, true, created["upserted"])
	assert.Equal(t, false, created["wasUpdate"])
	firstID := created["nodeId"].(string)

	// Act: the replayed external id updates in place
	hc.Webhook.RawBody = []byte(`{"operation":"upsert","nodeId":"A-1","nodeType":"Product","data":{"name":"Renamed"}}`)
	result, err = handler(context.Background(), hc)

	// Assert: same internal node, payload replaced
	require.NoError(t, err)
	updated := result.(map[string]any)
	assert.Equal(t, true, updated["wasUpdate"])
	assert.Equal(t, firstID, updated["nodeId"])
	assert.Equal(t, "Renamed", s.Get(firstID).Fields["name"])
	assert.Len(t, s.GetByType("Product"), 1)
}

func TestDefaultHandler_CreateExistingConflicts(t *testing.T) {
	handler := NewDefaultHandler("sku")
	hc, _ := newHandlerContext(`{"operation":"create","nodeId":"A-1","nodeType":"Product","data":{"name":"Widget"}}`)
	_, err := handler(context.Background(), hc)
	require.NoError(t, err)

	_, err = handler(context.Background(), hc)

	assert.True(t, errors.IsAlreadyRegistered(err))
}

func TestDefaultHandler_UpdateAndDeleteRequireExisting(t *testing.T) {
	handler := NewDefaultHandler("sku")

	hc, _ := newHandlerContext(`{"operation":"update","nodeId":"ghost","nodeType":"Product","data":{"name":"x"}}`)
	_, err := handler(context.Background(), hc)
	assert.True(t, errors.IsNotFound(err))

	hc, _ = newHandlerContext(`{"operation":"delete","nodeId":"ghost","nodeType":"Product"}`)
	_, err = handler(context.Background(), hc)
	assert.True(t, errors.IsNotFound(err))
}

func TestDefaultHandler_DeleteRemovesNode(t *testing.T) {
	// Arrange
	handler := NewDefaultHandler("sku")
	hc, s := newHandlerContext(`{"operation":"create","nodeId":"A-1","nodeType":"Product","data":{"name":"Widget"}}`)
	result, err := handler(context.Background(), hc)
	require.NoError(t, err)
	id := result.(map[string]any)["nodeId"].(string)

	// Act
	hc.Webhook.RawBody = []byte(`{"operation":"delete","nodeId":"A-1","nodeType":"Product"}`)
	result, err = handler(context.Background(), hc)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, true, result.(map[string]any)["deleted"])
	assert.Nil(t, s.Get(id))
}

func TestDefaultHandler_MalformedBodyIsValidation(t *testing.T) {
	handler := NewDefaultHandler("sku")

	for _, body := range []string{
		`not json`,
		`{"operation":"destroy","nodeId":"A-1","nodeType":"Product","data":{}}`,
		`{"operation":"create","nodeType":"Product","data":{}}`,
		`{"operation":"create","nodeId":"A-1","nodeType":"Product"}`,
	} {
		hc, _ := newHandlerContext(body)
		_, err := handler(context.Background(), hc)
		require.Error(t, err, body)
		assert.True(t, errors.IsValidation(err), body)
		assert.Contains(t, err.Error(), "operation", body)
	}
}

func TestDefaultHandler_NumericExternalIDCoercion(t *testing.T) {
	// Arrange: created with a numeric external id
	handler := NewDefaultHandler("sku")
	hc, _ := newHandlerContext(`{"operation":"create","nodeId":42,"nodeType":"Product","data":{"name":"Widget"}}`)
	_, err := handler(context.Background(), hc)
	require.NoError(t, err)

	// Act: the update addresses it as a string
	hc.Webhook.RawBody = []byte(`{"operation":"update","nodeId":"42","nodeType":"Product","data":{"name":"Renamed"}}`)
	result, err := handler(context.Background(), hc)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, true, result.(map[string]any)["updated"])
}

func TestDefaultHandler_UpdateKeepsInternalIDAndParent(t *testing.T) {
	// Arrange: the existing node sits under a parent
	handler := NewDefaultHandler("sku")
	hc, s := newHandlerContext(`{"operation":"create","nodeId":"A-1","nodeType":"Product","data":{"name":"Widget"}}`)
	result, err := handler(context.Background(), hc)
	require.NoError(t, err)
	id := result.(map[string]any)["nodeId"].(string)

	withParent := s.Get(id)
	withParent.Parent = "cat-1"
	require.NoError(t, s.Put(withParent))

	// Act: a wholesale payload replacement
	hc.Webhook.RawBody = []byte(`{"operation":"update","nodeId":"A-1","nodeType":"Product","data":{"sku":"A-1","name":"Renamed"}}`)
	_, err = handler(context.Background(), hc)

	// Assert: identity and placement survive, old fields do not
	require.NoError(t, err)
	after := s.Get(id)
	require.NotNil(t, after)
	assert.Equal(t, "cat-1", after.Parent)
	assert.Equal(t, "Renamed", after.Fields["name"])
}
