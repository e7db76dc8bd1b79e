package shoonya

import (
	"strconv"

	"mdstream/internal/domain/model"
	"mdstream/internal/infrastructure/codec"
)

const depthLevels = 5

// quote maps touchline/depth fields. Delta frames omit unchanged fields, which stay 0
// here and are filled by the retention cache.
func quote(f codec.Fields) model.MarketData {
	var md model.MarketData
	md.LTP, _ = f.Float("lp")
	md.Open, _ = f.Float("o")
	md.High, _ = f.Float("h")
	md.Low, _ = f.Float("l")
	md.Close, _ = f.Float("c")
	md.Volume, _ = f.Int("v")
	md.AveragePrice, _ = f.Float("ap")
	md.BidPrice, _ = f.Float("bp1")
	md.BidQty, _ = f.Int("bq1")
	md.AskPrice, _ = f.Float("sp1")
	md.AskQty, _ = f.Int("sq1")
	md.TotalBuyQty, _ = f.Int("tbq")
	md.TotalSellQty, _ = f.Int("tsq")

	oi, hasOI := f.Int("oi")
	md.OI = oi
	if poi, ok := f.Int("poi"); ok && hasOI {
		md.OIChange = oi - poi
	}
	if ft, ok := f.Int("ft"); ok {
		md.LTT = ft * 1000
		md.Timestamp = ft * 1000
	}
	return md
}

// depthBook 五档盘口；df 只带变化的档位字段
type depthBook struct {
	buy  [depthLevels]model.DepthLevel
	sell [depthLevels]model.DepthLevel
}

func (b *depthBook) apply(f codec.Fields) model.Depth {
	for i := 0; i < depthLevels; i++ {
		n := strconv.Itoa(i + 1)
		patch(f, &b.buy[i], "bp"+n, "bq"+n, "bo"+n)
		patch(f, &b.sell[i], "sp"+n, "sq"+n, "so"+n)
	}
	return model.Depth{
		Buy:  append([]model.DepthLevel(nil), b.buy[:]...),
		Sell: append([]model.DepthLevel(nil), b.sell[:]...),
	}
}

func patch(f codec.Fields, l *model.DepthLevel, price, qty, orders string) {
	if v, ok := f.Float(price); ok {
		l.Price = v
	}
	if v, ok := f.Int(qty); ok {
		l.Quantity = v
	}
	if v, ok := f.Int(orders); ok {
		l.Orders = v
	}
}
