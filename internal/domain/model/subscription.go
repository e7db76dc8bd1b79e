package model

import "strings"

// Instrument is what a symbol resolver returns for a platform (symbol, exchange) pair.
type Instrument struct {
	Token         string
	VenueExchange string
}

// Subscription 一条本地订阅。多个 Subscription 可以共享同一个 ChannelID
type Subscription struct {
	Symbol        string
	Exchange      string
	Token         string
	VenueExchange string
	Mode          Mode
	DepthLevel    int
	ChannelID     string
	CorrelationID string
}

// Key 订阅唯一键 (symbol, exchange, mode)
func (s Subscription) Key() string {
	return SubKey(s.Symbol, s.Exchange, s.Mode)
}

// Pair (symbol, exchange) 键，保留缓存按此维度
func (s Subscription) Pair() string {
	return PairKey(s.Symbol, s.Exchange)
}

// Topic 该订阅发布到的总线主题
func (s Subscription) Topic() string {
	return Topic(s.Exchange, s.Symbol, s.Mode)
}

func SubKey(symbol, exchange string, mode Mode) string {
	return PairKey(symbol, exchange) + "|" + mode.String()
}

func PairKey(symbol, exchange string) string {
	return strings.ToUpper(strings.TrimSpace(exchange)) + "|" + strings.ToUpper(strings.TrimSpace(symbol))
}

// InstrumentKey venue 侧的合约键，用于把行情帧映射回订阅
func InstrumentKey(venueExchange, token string) string {
	return venueExchange + "|" + token
}

// SubscribeResult 订阅结果；失败时以 *Error 返回
type SubscribeResult struct {
	Topic          string
	Mode           Mode
	RequestedDepth int
	ActualDepth    int
	IsFallback     bool
	CorrelationID  string
}

// AuthData 券商凭证。未显式传入时从环境变量读取（<VENUE>_API_KEY 等）
type AuthData struct {
	APIKey      string `envconfig:"API_KEY"`
	APISecret   string `envconfig:"API_SECRET"`
	AccessToken string `envconfig:"ACCESS_TOKEN"`
	FeedToken   string `envconfig:"FEED_TOKEN"`
	ClientID    string `envconfig:"CLIENT_ID"`
}

// AdapterState 适配器生命周期状态
type AdapterState int

const (
	AdapterUninitialized AdapterState = iota
	AdapterInitialized
	AdapterConnecting
	AdapterConnected
	AdapterAuthenticated
	AdapterSubscribed
	AdapterDisconnected
	AdapterTerminal
)

func (s AdapterState) String() string {
	switch s {
	case AdapterUninitialized:
		return "uninitialized"
	case AdapterInitialized:
		return "initialized"
	case AdapterConnecting:
		return "connecting"
	case AdapterConnected:
		return "connected"
	case AdapterAuthenticated:
		return "authenticated"
	case AdapterSubscribed:
		return "subscribed"
	case AdapterDisconnected:
		return "disconnected"
	case AdapterTerminal:
		return "terminal"
	}
	return "unknown"
}
