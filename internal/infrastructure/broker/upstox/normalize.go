package upstox

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"mdstream/internal/domain/model"
	"mdstream/internal/infrastructure/codec"
)

// FeedResponse.type
const (
	feedInitial    = 0
	feedLive       = 1
	feedMarketInfo = 2
)

// field numbers of the market data feed v3 messages
const (
	respType  protowire.Number = 1
	respFeeds protowire.Number = 2
	respTs    protowire.Number = 3

	feedLTPC   protowire.Number = 1
	feedFull   protowire.Number = 2
	feedGreeks protowire.Number = 3

	ltpcLTP protowire.Number = 1
	ltpcLTT protowire.Number = 2
	ltpcCP  protowire.Number = 4

	fullMarket protowire.Number = 1
	fullIndex  protowire.Number = 2

	mffLTPC  protowire.Number = 1
	mffLevel protowire.Number = 2
	mffOHLC  protowire.Number = 4
	mffATP   protowire.Number = 5
	mffVTT   protowire.Number = 6
	mffOI    protowire.Number = 7
	mffTBQ   protowire.Number = 9
	mffTSQ   protowire.Number = 10

	iffLTPC protowire.Number = 1
	iffOHLC protowire.Number = 2

	levelQuotes protowire.Number = 1

	quoteBidQ protowire.Number = 1
	quoteBidP protowire.Number = 2
	quoteAskQ protowire.Number = 3
	quoteAskP protowire.Number = 4

	ohlcEntries  protowire.Number = 1
	ohlcInterval protowire.Number = 1
	ohlcOpen     protowire.Number = 2
	ohlcHigh     protowire.Number = 3
	ohlcLow      protowire.Number = 4
	ohlcVol      protowire.Number = 6
)

const dailyInterval = "1d"

// feedData converts one (merged) Feed message.
func feedData(feed *codec.Message) (model.MarketData, []model.Mode, error) {
	var md model.MarketData

	if ltpc, ok, err := feed.Message(feedLTPC); err != nil {
		return md, nil, err
	} else if ok {
		applyLTPC(&md, ltpc)
		return md, []model.Mode{model.ModeLTP}, nil
	}

	full, ok, err := feed.Message(feedFull)
	if err != nil {
		return md, nil, err
	}
	if !ok {
		return md, nil, fmt.Errorf("feed has neither ltpc nor fullFeed")
	}

	if mff, ok, err := full.Message(fullMarket); err != nil {
		return md, nil, err
	} else if ok {
		if err := applyMarket(&md, mff); err != nil {
			return md, nil, err
		}
		return md, []model.Mode{model.ModeLTP, model.ModeQuote, model.ModeDepth}, nil
	}

	iff, ok, err := full.Message(fullIndex)
	if err != nil {
		return md, nil, err
	}
	if !ok {
		return md, nil, fmt.Errorf("fullFeed without market or index feed")
	}
	if ltpc, ok, err := iff.Message(iffLTPC); err != nil {
		return md, nil, err
	} else if ok {
		applyLTPC(&md, ltpc)
	}
	if err := applyOHLC(&md, iff, iffOHLC); err != nil {
		return md, nil, err
	}
	return md, []model.Mode{model.ModeLTP, model.ModeQuote}, nil
}

func applyLTPC(md *model.MarketData, ltpc *codec.Message) {
	md.LTP, _ = ltpc.Double(ltpcLTP)
	md.LTT, _ = ltpc.Int(ltpcLTT)
	md.Close, _ = ltpc.Double(ltpcCP)
}

func applyMarket(md *model.MarketData, mff *codec.Message) error {
	if ltpc, ok, err := mff.Message(mffLTPC); err != nil {
		return err
	} else if ok {
		applyLTPC(md, ltpc)
	}
	md.AveragePrice, _ = mff.Double(mffATP)
	md.Volume, _ = mff.Int(mffVTT)
	if oi, ok := mff.Double(mffOI); ok {
		md.OI = int64(oi)
	}
	if tbq, ok := mff.Double(mffTBQ); ok {
		md.TotalBuyQty = int64(tbq)
	}
	if tsq, ok := mff.Double(mffTSQ); ok {
		md.TotalSellQty = int64(tsq)
	}
	if err := applyOHLC(md, mff, mffOHLC); err != nil {
		return err
	}

	level, ok, err := mff.Message(mffLevel)
	if err != nil || !ok {
		return err
	}
	quotes, err := level.Messages(levelQuotes)
	if err != nil {
		return err
	}
	for _, q := range quotes {
		bq, _ := q.Int(quoteBidQ)
		bp, _ := q.Double(quoteBidP)
		aq, _ := q.Int(quoteAskQ)
		ap, _ := q.Double(quoteAskP)
		md.Depth.Buy = append(md.Depth.Buy, model.DepthLevel{Price: bp, Quantity: bq})
		md.Depth.Sell = append(md.Depth.Sell, model.DepthLevel{Price: ap, Quantity: aq})
	}
	if len(quotes) > 0 {
		md.BidPrice, md.BidQty = md.Depth.Buy[0].Price, md.Depth.Buy[0].Quantity
		md.AskPrice, md.AskQty = md.Depth.Sell[0].Price, md.Depth.Sell[0].Quantity
	}
	return nil
}

// applyOHLC takes the daily candle; intraday intervals are ignored.
func applyOHLC(md *model.MarketData, parent *codec.Message, num protowire.Number) error {
	ohlc, ok, err := parent.Message(num)
	if err != nil || !ok {
		return err
	}
	entries, err := ohlc.Messages(ohlcEntries)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if iv, _ := e.String(ohlcInterval); iv != dailyInterval {
			continue
		}
		md.Open, _ = e.Double(ohlcOpen)
		md.High, _ = e.Double(ohlcHigh)
		md.Low, _ = e.Double(ohlcLow)
		if md.Volume == 0 {
			md.Volume, _ = e.Int(ohlcVol)
		}
	}
	return nil
}
