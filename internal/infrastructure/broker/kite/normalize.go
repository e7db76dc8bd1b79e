package kite

import (
	"fmt"

	"mdstream/internal/domain/model"
	"mdstream/internal/infrastructure/broker"
	"mdstream/internal/infrastructure/codec"
)

// packet sizes by mode
const (
	sizeLTP        = 8
	sizeIndexQuote = 28
	sizeIndexFull  = 32
	sizeQuote      = 44
	sizeFull       = 184
)

const (
	segmentCDS = 3
	segmentBCD = 6
)

// divisor 价格单位：货币期货按 1e7，BCD 按 1e4，其余为 paise
func divisor(token uint32) int64 {
	switch token & 0xff {
	case segmentCDS:
		return 10_000_000
	case segmentBCD:
		return 10_000
	}
	return 100
}

type tick struct {
	token uint32
	md    model.MarketData
	modes []model.Mode
}

// splitPackets reads `count:u16 (len:u16 packet)*count`.
func splitPackets(frame []byte) ([][]byte, error) {
	r := codec.NewFrameReader(frame)
	n, err := r.U16()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, n)
	for i := 0; i < int(n); i++ {
		size, err := r.U16()
		if err != nil {
			return out, err
		}
		p, err := r.Bytes(int(size))
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

func parsePacket(p []byte) (tick, error) {
	r := codec.NewFrameReader(p)
	token, err := r.U32()
	if err != nil {
		return tick{}, err
	}
	div := divisor(token)
	price := func() float64 {
		v, e := r.I32()
		if e != nil && err == nil {
			err = e
		}
		return broker.Divide(int64(v), div)
	}
	count := func() int64 {
		v, e := r.U32()
		if e != nil && err == nil {
			err = e
		}
		return int64(v)
	}

	t := tick{token: token}
	md := &t.md
	switch len(p) {
	case sizeLTP:
		md.LTP = price()
		t.modes = []model.Mode{model.ModeLTP}
	case sizeIndexQuote, sizeIndexFull:
		md.LTP = price()
		md.High = price()
		md.Low = price()
		md.Open = price()
		md.Close = price()
		_ = price() // change
		if len(p) == sizeIndexFull {
			md.Timestamp = count() * 1000
		}
		t.modes = []model.Mode{model.ModeLTP, model.ModeQuote}
	case sizeQuote, sizeFull:
		md.LTP = price()
		_ = count() // last traded qty
		md.AveragePrice = price()
		md.Volume = count()
		md.TotalBuyQty = count()
		md.TotalSellQty = count()
		md.Open = price()
		md.High = price()
		md.Low = price()
		md.Close = price()
		t.modes = []model.Mode{model.ModeLTP, model.ModeQuote}
		if len(p) == sizeFull {
			md.LTT = count() * 1000
			md.OI = count()
			_ = count() // oi day high
			_ = count() // oi day low
			md.Timestamp = count() * 1000
			md.Depth = depth(r, div, &err)
			if len(md.Depth.Buy) > 0 {
				md.BidPrice, md.BidQty = md.Depth.Buy[0].Price, md.Depth.Buy[0].Quantity
			}
			if len(md.Depth.Sell) > 0 {
				md.AskPrice, md.AskQty = md.Depth.Sell[0].Price, md.Depth.Sell[0].Quantity
			}
			t.modes = append(t.modes, model.ModeDepth)
		}
	default:
		return tick{}, fmt.Errorf("unexpected packet size %d for token %d", len(p), token)
	}
	if err != nil {
		return tick{}, err
	}
	return t, nil
}

// depth reads 5 bid then 5 ask entries of qty:u32 price:i32 orders:u16 pad:u16.
func depth(r *codec.FrameReader, div int64, errp *error) model.Depth {
	levels := make([]model.DepthLevel, 0, 10)
	for i := 0; i < 10; i++ {
		qty, err := r.U32()
		if err != nil {
			*errp = err
			return model.Depth{}
		}
		px, _ := r.I32()
		orders, _ := r.U16()
		if err := r.Skip(2); err != nil {
			*errp = err
			return model.Depth{}
		}
		levels = append(levels, model.DepthLevel{
			Price:    broker.Divide(int64(px), div),
			Quantity: int64(qty),
			Orders:   int64(orders),
		})
	}
	return model.Depth{Buy: levels[:5], Sell: levels[5:]}
}
