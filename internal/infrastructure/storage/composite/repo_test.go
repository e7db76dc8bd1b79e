package composite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdstream/internal/application/port"
	"mdstream/internal/domain/model"
	"mdstream/internal/infrastructure/storage"
)

type failingRepo struct{ closed bool }

func (f *failingRepo) UpsertLatest(context.Context, string, []byte, int64) error {
	return errors.New("down")
}
func (f *failingRepo) Close() error { f.closed = true; return nil }

func TestRepoFansOut(t *testing.T) {
	mem := storage.NewMemory()
	bad := &failingRepo{}
	r := New(mem, nil, bad)
	assert.Equal(t, 2, r.Len())

	err := r.UpsertLatest(context.Background(), "NSE_RELIANCE_LTP", []byte(`{}`), 10)
	assert.EqualError(t, err, "down")
	_, ok := mem.Get("NSE_RELIANCE_LTP")
	assert.True(t, ok, "later stores still written")

	require.NoError(t, r.Close())
	assert.True(t, bad.closed)
}

type brokenResolver struct{}

func (brokenResolver) ForVenue(string) port.SymbolResolver { return brokenResolver{} }
func (brokenResolver) Resolve(context.Context, string, string) (model.Instrument, error) {
	return model.Instrument{}, errors.New("db gone")
}

func TestResolversFirstHitWins(t *testing.T) {
	static := storage.NewStatic(storage.SymbolEntry{Venue: "kite", Symbol: "RELIANCE", Exchange: "NSE", Token: "738561", VenueExchange: "NSE"})
	fallback := storage.NewStatic(
		storage.SymbolEntry{Venue: "kite", Symbol: "RELIANCE", Exchange: "NSE", Token: "1", VenueExchange: "NSE"},
		storage.SymbolEntry{Venue: "kite", Symbol: "TCS", Exchange: "NSE", Token: "2953217", VenueExchange: "NSE"},
	)
	c := NewResolvers(static, nil, fallback)
	ctx := context.Background()

	inst, err := c.ForVenue("kite").Resolve(ctx, "RELIANCE", "NSE")
	require.NoError(t, err)
	assert.Equal(t, "738561", inst.Token)

	inst, err = c.ForVenue("kite").Resolve(ctx, "TCS", "NSE")
	require.NoError(t, err)
	assert.Equal(t, "2953217", inst.Token)

	_, err = c.ForVenue("upstox").Resolve(ctx, "TCS", "NSE")
	assert.ErrorIs(t, err, port.ErrSymbolNotFound)

	_, err = NewResolvers(brokenResolver{}, fallback).ForVenue("kite").Resolve(ctx, "TCS", "NSE")
	assert.EqualError(t, err, "db gone")
}
