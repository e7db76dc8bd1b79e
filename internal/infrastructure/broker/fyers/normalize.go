package fyers

import (
	"fmt"
	"strings"

	"mdstream/internal/domain/model"
	"mdstream/internal/infrastructure/broker"
)

const (
	kindSymbol = "sf"
	kindDepth  = "dp"
)

// symbol feed field indices
const (
	sfLTP = iota
	sfVolume
	sfLTT
	sfFeedTime
	sfBidSize
	sfAskSize
	sfBidPrice
	sfAskPrice
	sfLTQ
	sfTotBuyQty
	sfTotSellQty
	sfAvgPrice
	sfOI
	sfLow
	sfHigh
	sfYHigh
	sfYLow
	sfUpperCkt
	sfLowerCkt
	sfOpen
	sfPrevClose
	sfMultiplier
	sfPrecision
	sfFieldCount
)

// depth feed field indices; five levels per block
const (
	dpBidPrice   = 0
	dpAskPrice   = 5
	dpBidQty     = 10
	dpAskQty     = 15
	dpBidOrders  = 20
	dpAskOrders  = 25
	dpMultiplier = 30
	dpPrecision  = 31
	dpFieldCount = 32
	dpLevels     = 5
)

// parseChannel splits "sf|NSE_CM|2885" into kind, venue exchange and token.
func parseChannel(name string) (kind, venueExchange, token string, err error) {
	parts := strings.Split(name, "|")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("bad channel name %q", name)
	}
	return parts[0], parts[1], parts[2], nil
}

type scaler struct {
	precision  int32
	multiplier int64
}

func (s scaler) price(v int32) float64 {
	return broker.Scale(int64(v), s.precision, s.multiplier)
}

// symbolData converts the cumulative symbol-feed fields.
func symbolData(f []int32) (model.MarketData, error) {
	var md model.MarketData
	if len(f) < sfFieldCount {
		return md, fmt.Errorf("symbol feed has %d fields, want %d", len(f), sfFieldCount)
	}
	sc := scaler{precision: f[sfPrecision], multiplier: int64(f[sfMultiplier])}
	md.LTP = sc.price(f[sfLTP])
	md.Volume = int64(f[sfVolume])
	md.LTT = int64(f[sfLTT]) * 1000
	md.Timestamp = int64(f[sfFeedTime]) * 1000
	md.BidQty = int64(f[sfBidSize])
	md.AskQty = int64(f[sfAskSize])
	md.BidPrice = sc.price(f[sfBidPrice])
	md.AskPrice = sc.price(f[sfAskPrice])
	md.TotalBuyQty = int64(f[sfTotBuyQty])
	md.TotalSellQty = int64(f[sfTotSellQty])
	md.AveragePrice = sc.price(f[sfAvgPrice])
	md.OI = int64(f[sfOI])
	md.Low = sc.price(f[sfLow])
	md.High = sc.price(f[sfHigh])
	md.Open = sc.price(f[sfOpen])
	md.Close = sc.price(f[sfPrevClose])
	return md, nil
}

// depthData converts the cumulative depth-feed fields into a five level book.
func depthData(f []int32) (model.MarketData, error) {
	var md model.MarketData
	if len(f) < dpFieldCount {
		return md, fmt.Errorf("depth feed has %d fields, want %d", len(f), dpFieldCount)
	}
	sc := scaler{precision: f[dpPrecision], multiplier: int64(f[dpMultiplier])}
	md.Depth.Buy = make([]model.DepthLevel, dpLevels)
	md.Depth.Sell = make([]model.DepthLevel, dpLevels)
	for i := 0; i < dpLevels; i++ {
		md.Depth.Buy[i] = model.DepthLevel{
			Price:    sc.price(f[dpBidPrice+i]),
			Quantity: int64(f[dpBidQty+i]),
			Orders:   int64(f[dpBidOrders+i]),
		}
		md.Depth.Sell[i] = model.DepthLevel{
			Price:    sc.price(f[dpAskPrice+i]),
			Quantity: int64(f[dpAskQty+i]),
			Orders:   int64(f[dpAskOrders+i]),
		}
	}
	md.BidPrice, md.BidQty = md.Depth.Buy[0].Price, md.Depth.Buy[0].Quantity
	md.AskPrice, md.AskQty = md.Depth.Sell[0].Price, md.Depth.Sell[0].Quantity
	return md, nil
}
