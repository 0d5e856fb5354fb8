package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udl/pkg/errors"
)

func noopHandler(context.Context, *HandlerContext) (any, error) { return nil, nil }

func TestValidPluginName(t *testing.T) {
	valid := []string{"shop", "my-source", "my_source", "source2", "@org/shop", "@Org-1/my_source"}
	for _, name := range valid {
		assert.True(t, ValidPluginName(name), name)
	}

	invalid := []string{"", "-shop", "@/shop", "@org/", "@org/shop/extra", "sho p", "../etc", "@org\\shop"}
	for _, name := range invalid {
		assert.False(t, ValidPluginName(name), name)
	}
}

func TestRegister_DuplicateFails(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("shop", &Registration{Handler: noopHandler}))

	err := registry.Register("shop", &Registration{Handler: noopHandler})

	assert.True(t, errors.IsAlreadyRegistered(err))
}

func TestRegister_InvalidInputFails(t *testing.T) {
	registry := NewRegistry()

	assert.True(t, errors.IsValidation(registry.Register("bad name", &Registration{Handler: noopHandler})))
	assert.True(t, errors.IsValidation(registry.Register("shop", nil)))
	assert.True(t, errors.IsValidation(registry.Register("shop", &Registration{})))
}

func TestRegistry_Names(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("zeta", &Registration{Handler: noopHandler}))
	require.NoError(t, registry.Register("@org/alpha", &Registration{Handler: noopHandler}))

	assert.Equal(t, []string{"@org/alpha", "zeta"}, registry.Names())
}
