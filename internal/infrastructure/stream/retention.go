package stream

import (
	"sync"

	"mdstream/internal/domain/model"
)

// Retention 快照保留缓存：venue 的增量推送经常省略未变化的字段，
// 某字段一旦出现过非零值，之后的 0/缺失都用最后一次非零值替换。
type Retention struct {
	mu    sync.Mutex
	cache map[string]*model.MarketData // pair key -> last known values
}

func NewRetention() *Retention {
	return &Retention{cache: make(map[string]*model.MarketData)}
}

// Apply merges fresh into the cached state of (symbol, exchange) and returns the merged
// values. Fresh non-zero fields update the cache, zero fields are filled from it.
func (r *Retention) Apply(symbol, exchange string, fresh model.MarketData) model.MarketData {
	key := model.PairKey(symbol, exchange)

	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.cache[key]
	if c == nil {
		c = &model.MarketData{}
		r.cache[key] = c
	}

	keepF(&fresh.LTP, &c.LTP)
	keepI(&fresh.LTT, &c.LTT)
	keepF(&fresh.Open, &c.Open)
	keepF(&fresh.High, &c.High)
	keepF(&fresh.Low, &c.Low)
	keepF(&fresh.Close, &c.Close)
	keepI(&fresh.Volume, &c.Volume)
	keepF(&fresh.BidPrice, &c.BidPrice)
	keepI(&fresh.BidQty, &c.BidQty)
	keepF(&fresh.AskPrice, &c.AskPrice)
	keepI(&fresh.AskQty, &c.AskQty)
	keepF(&fresh.AveragePrice, &c.AveragePrice)
	keepI(&fresh.OI, &c.OI)
	keepI(&fresh.OIChange, &c.OIChange)
	keepI(&fresh.TotalBuyQty, &c.TotalBuyQty)
	keepI(&fresh.TotalSellQty, &c.TotalSellQty)
	// Timestamp 不保留：缺失时由发布时间补齐

	if len(fresh.Depth.Buy) > 0 {
		c.Depth.Buy = append(c.Depth.Buy[:0:0], fresh.Depth.Buy...)
	} else {
		fresh.Depth.Buy = append([]model.DepthLevel(nil), c.Depth.Buy...)
	}
	if len(fresh.Depth.Sell) > 0 {
		c.Depth.Sell = append(c.Depth.Sell[:0:0], fresh.Depth.Sell...)
	} else {
		fresh.Depth.Sell = append([]model.DepthLevel(nil), c.Depth.Sell...)
	}
	return fresh
}

// Last returns the cached values for (symbol, exchange).
func (r *Retention) Last(symbol, exchange string) (model.MarketData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.cache[model.PairKey(symbol, exchange)]
	if c == nil {
		return model.MarketData{}, false
	}
	return *c, true
}

// Evict drops the cached state of one (symbol, exchange) pair.
func (r *Retention) Evict(symbol, exchange string) {
	r.mu.Lock()
	delete(r.cache, model.PairKey(symbol, exchange))
	r.mu.Unlock()
}

func (r *Retention) Reset() {
	r.mu.Lock()
	r.cache = make(map[string]*model.MarketData)
	r.mu.Unlock()
}

func (r *Retention) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

func keepF(fresh, cached *float64) {
	if *fresh != 0 {
		*cached = *fresh
		return
	}
	*fresh = *cached
}

func keepI(fresh, cached *int64) {
	if *fresh != 0 {
		*cached = *fresh
		return
	}
	*fresh = *cached
}
