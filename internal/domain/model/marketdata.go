package model

import (
	"fmt"
	"strings"
	"time"
)

// Mode 订阅模式
type Mode int

const (
	ModeLTP   Mode = 1
	ModeQuote Mode = 2
	ModeDepth Mode = 3
)

func (m Mode) String() string {
	switch m {
	case ModeLTP:
		return "LTP"
	case ModeQuote:
		return "QUOTE"
	case ModeDepth:
		return "DEPTH"
	default:
		return fmt.Sprintf("MODE(%d)", int(m))
	}
}

// Valid reports whether m is one of the three canonical modes.
func (m Mode) Valid() bool {
	return m == ModeLTP || m == ModeQuote || m == ModeDepth
}

// ParseMode accepts "LTP"/"QUOTE"/"DEPTH" (any case) or "1"/"2"/"3".
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LTP", "1":
		return ModeLTP, nil
	case "QUOTE", "2":
		return ModeQuote, nil
	case "DEPTH", "3":
		return ModeDepth, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Topic 生成总线主题，如 NSE_RELIANCE_QUOTE
func Topic(exchange, symbol string, mode Mode) string {
	return strings.ToUpper(exchange) + "_" + strings.ToUpper(symbol) + "_" + mode.String()
}

// PrivateTopic 账户级频道主题，如 kite_orders
func PrivateTopic(venue, channel string) string {
	return strings.ToLower(venue) + "_" + channel
}

// DepthLevel 一档盘口
type DepthLevel struct {
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Orders   int64   `json:"orders"`
}

type Depth struct {
	Buy  []DepthLevel `json:"buy"`
	Sell []DepthLevel `json:"sell"`
}

func (d Depth) Empty() bool { return len(d.Buy) == 0 && len(d.Sell) == 0 }

// MarketData is the canonical normalized field set. Zero means "absent".
type MarketData struct {
	LTP          float64
	LTT          int64
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       int64
	BidPrice     float64
	BidQty       int64
	AskPrice     float64
	AskQty       int64
	AveragePrice float64
	OI           int64
	OIChange     int64
	TotalBuyQty  int64
	TotalSellQty int64
	Depth        Depth
	Timestamp    int64 // unix ms
}

// Project 按模式裁剪字段，并合并 symbol/exchange/mode/timestamp 元数据
func Project(md MarketData, symbol, exchange string, mode Mode) map[string]any {
	ts := md.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	out := map[string]any{
		"symbol":    symbol,
		"exchange":  exchange,
		"mode":      int(mode),
		"timestamp": ts,
	}
	switch mode {
	case ModeLTP:
		out["ltp"] = md.LTP
		out["ltt"] = md.LTT
	case ModeQuote:
		out["ltp"] = md.LTP
		out["ltt"] = md.LTT
		out["open"] = md.Open
		out["high"] = md.High
		out["low"] = md.Low
		out["close"] = md.Close
		out["volume"] = md.Volume
		out["bid_price"] = md.BidPrice
		out["bid_qty"] = md.BidQty
		out["ask_price"] = md.AskPrice
		out["ask_qty"] = md.AskQty
		out["average_price"] = md.AveragePrice
		out["oi"] = md.OI
		out["oi_change"] = md.OIChange
	case ModeDepth:
		buy, sell := md.Depth.Buy, md.Depth.Sell
		if buy == nil {
			buy = []DepthLevel{}
		}
		if sell == nil {
			sell = []DepthLevel{}
		}
		out["depth"] = Depth{Buy: buy, Sell: sell}
		out["total_buy_qty"] = md.TotalBuyQty
		out["total_sell_qty"] = md.TotalSellQty
		out["ltp"] = md.LTP
	}
	return out
}
