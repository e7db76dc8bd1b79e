package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdstream/internal/application/port"
	"mdstream/internal/domain/model"
)

func TestScale(t *testing.T) {
	assert.Equal(t, 2500.5, Scale(250050, 2, 1))
	assert.Equal(t, 32.84936, Scale(8212340, 4, 25))
	assert.Equal(t, 0.0, Scale(0, 2, 1))
	assert.Equal(t, 25.0, Scale(2500, 2, 0))
	assert.Equal(t, 2500.05, Divide(250005, 100))
	assert.Equal(t, 0.0, Divide(5, 0))
}

func TestBaseNotInitialized(t *testing.T) {
	b := NewBase("kite")
	assert.Equal(t, model.AdapterUninitialized, b.State())

	_, err := b.Subscribe("RELIANCE", "NSE", model.ModeLTP, 0)
	assert.Equal(t, model.CodeNotInitialized, model.CodeOf(err))
	assert.Equal(t, model.CodeNotInitialized, model.CodeOf(b.Unsubscribe("RELIANCE", "NSE", model.ModeLTP)))
	assert.NoError(t, b.Disconnect())
	assert.Nil(t, b.Fatal())
}

func TestRegistry(t *testing.T) {
	Register("test-venue", func(Options) port.Adapter { return nil })
	f, ok := Get("test-venue")
	require.True(t, ok)
	assert.NotNil(t, f)
	assert.Contains(t, Names(), "test-venue")

	_, ok = Get("missing")
	assert.False(t, ok)
}
