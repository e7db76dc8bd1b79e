package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdstream/internal/application/port"
)

func TestStaticResolver(t *testing.T) {
	s := NewStatic(SymbolEntry{Venue: "Shoonya", Symbol: "reliance", Exchange: "nse", Token: "2885", VenueExchange: "NSE"})
	assert.Equal(t, 1, s.Len())

	inst, err := s.ForVenue("shoonya").Resolve(context.Background(), "RELIANCE", "NSE")
	require.NoError(t, err)
	assert.Equal(t, "2885", inst.Token)

	_, err = s.ForVenue("kite").Resolve(context.Background(), "RELIANCE", "NSE")
	assert.ErrorIs(t, err, port.ErrSymbolNotFound)
}

func TestMemoryKeepsNewest(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.UpsertLatest(ctx, "T", []byte("b"), 2))
	require.NoError(t, m.UpsertLatest(ctx, "T", []byte("a"), 1))
	l, ok := m.Get("T")
	require.True(t, ok)
	assert.Equal(t, "b", string(l.Payload))
	assert.Equal(t, int64(2), l.Ts)
}
