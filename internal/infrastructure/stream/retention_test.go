package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mdstream/internal/domain/model"
)

func TestRetentionKeepsLastNonZero(t *testing.T) {
	r := NewRetention()

	first := r.Apply("RELIANCE", "NSE", model.MarketData{LTP: 100})
	assert.Equal(t, 100.0, first.LTP)

	got := r.Apply("RELIANCE", "NSE", model.MarketData{LTP: 0, Volume: 50})
	assert.Equal(t, 100.0, got.LTP)
	assert.Equal(t, int64(50), got.Volume)

	got = r.Apply("RELIANCE", "NSE", model.MarketData{LTP: 101.5})
	assert.Equal(t, 101.5, got.LTP)
	assert.Equal(t, int64(50), got.Volume)
}

func TestRetentionIsPerPair(t *testing.T) {
	r := NewRetention()
	r.Apply("RELIANCE", "NSE", model.MarketData{LTP: 100})
	got := r.Apply("RELIANCE", "BSE", model.MarketData{Volume: 1})
	assert.Zero(t, got.LTP)
	assert.Equal(t, 2, r.Len())

	r.Evict("reliance", "nse")
	_, ok := r.Last("RELIANCE", "NSE")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())

	r.Reset()
	assert.Zero(t, r.Len())
}

func TestRetentionDepthSidesRetainedWhole(t *testing.T) {
	r := NewRetention()
	buy := []model.DepthLevel{{Price: 10, Quantity: 5, Orders: 1}, {Price: 9.9, Quantity: 7, Orders: 2}}
	r.Apply("TCS", "NSE", model.MarketData{Depth: model.Depth{Buy: buy}})

	sell := []model.DepthLevel{{Price: 10.1, Quantity: 3, Orders: 1}}
	got := r.Apply("TCS", "NSE", model.MarketData{Depth: model.Depth{Sell: sell}})
	assert.Equal(t, buy, got.Depth.Buy)
	assert.Equal(t, sell, got.Depth.Sell)

	// callers mutating the result must not corrupt the cache
	got.Depth.Buy[0].Price = 0
	last, _ := r.Last("TCS", "NSE")
	assert.Equal(t, 10.0, last.Depth.Buy[0].Price)
}

func TestRetentionLeavesTimestampPerFrame(t *testing.T) {
	r := NewRetention()
	got := r.Apply("RELIANCE", "NSE", model.MarketData{LTP: 100, Timestamp: 1700000000000})
	assert.Equal(t, int64(1700000000000), got.Timestamp)

	// delta without its own time: publish time fills it in later
	got = r.Apply("RELIANCE", "NSE", model.MarketData{Volume: 50})
	assert.Zero(t, got.Timestamp)
	assert.Equal(t, 100.0, got.LTP)

	p := model.Project(got, "RELIANCE", "NSE", model.ModeLTP)
	assert.Greater(t, p["timestamp"].(int64), int64(1700000000000))
}
