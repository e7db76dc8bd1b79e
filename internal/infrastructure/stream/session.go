package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"mdstream/internal/application/port"
	"mdstream/internal/domain/model"
	"mdstream/internal/infrastructure/metrics"
)

const resolveTimeout = 5 * time.Second

// Venue is the venue-specific half of an adapter: channel naming plus the
// subscribe/unsubscribe frames for those channels.
type Venue interface {
	Wire
	ChannelID(inst model.Instrument, mode model.Mode, depth int) string
}

// PrivateChannels 账户级频道（订单/持仓），每次连上都需要重新订阅
type PrivateChannels interface {
	ArmPrivateChannels() error
}

// Hooks are the raw-frame callbacks a venue plugs into its client.
type Hooks struct {
	Handshake func(conn *websocket.Conn) error
	OnMessage func(msgType int, data []byte)
}

type SessionConfig struct {
	Venue              string
	Resolver           port.SymbolResolver
	Publisher          port.Publisher
	Capabilities       *Capabilities
	DisconnectWhenIdle bool
}

// Session composes registry, retention cache, capabilities and wire client into the
// adapter lifecycle shared by every venue. Venue packages own a Session and delegate.
type Session struct {
	cfg       SessionConfig
	venue     Venue
	client    *Client
	registry  *Registry
	retention *Retention

	mu        sync.Mutex
	state     model.AdapterState
	ctx       context.Context
	idle      bool
	fatal     chan error
	fatalOnce sync.Once
}

func NewSession(cfg SessionConfig, venue Venue, ccfg ClientConfig, hooks Hooks) *Session {
	if ccfg.Name == "" {
		ccfg.Name = cfg.Venue
	}
	s := &Session{
		cfg:       cfg,
		venue:     venue,
		registry:  NewRegistry(),
		retention: NewRetention(),
		state:     model.AdapterInitialized,
		fatal:     make(chan error, 1),
	}
	s.client = NewClient(ccfg, Callbacks{
		Handshake: hooks.Handshake,
		OnOpen:    s.onOpen,
		OnMessage: hooks.OnMessage,
		OnError:   s.onError,
		OnClose:   s.onClose,
		OnFatal:   s.onFatal,
		OnState:   s.onState,
	})
	return s
}

func (s *Session) Client() *Client         { return s.client }
func (s *Session) Registry() *Registry     { return s.registry }
func (s *Session) Retention() *Retention   { return s.retention }
func (s *Session) Venue() string           { return s.cfg.Venue }
func (s *Session) Caps() *Capabilities     { return s.cfg.Capabilities }
func (s *Session) Fatal() <-chan error     { return s.fatal }

func (s *Session) State() model.AdapterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect starts the wire client in the background; it never blocks on the network.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.idle = false
	s.mu.Unlock()
	return s.client.Connect(ctx)
}

// Disconnect stops the client and drops all subscriptions and cached values. Idempotent.
func (s *Session) Disconnect() error {
	err := s.client.Close()
	s.registry.Clear()
	s.retention.Reset()
	s.mu.Lock()
	s.idle = false
	if s.state != model.AdapterTerminal {
		s.state = model.AdapterDisconnected
	}
	s.mu.Unlock()
	log.Info().Str("venue", s.cfg.Venue).Msg("adapter disconnected")
	return err
}

// Subscribe negotiates capabilities, resolves the symbol and registers the subscription.
func (s *Session) Subscribe(symbol, exchange string, mode model.Mode, depthLevel int) (model.SubscribeResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	exchange = strings.ToUpper(strings.TrimSpace(exchange))

	caps := s.cfg.Capabilities
	if !mode.Valid() || !caps.SupportsMode(mode) {
		return model.SubscribeResult{}, model.NewError(model.CodeInvalidMode,
			fmt.Sprintf("%s does not support mode %s", s.cfg.Venue, mode), nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	inst, err := s.cfg.Resolver.Resolve(ctx, symbol, exchange)
	cancel()
	if err != nil {
		if errors.Is(err, port.ErrSymbolNotFound) {
			return model.SubscribeResult{}, model.NewError(model.CodeSymbolNotFound,
				fmt.Sprintf("%s/%s not found", symbol, exchange), err)
		}
		return model.SubscribeResult{}, model.NewError(model.CodeSubscriptionError,
			fmt.Sprintf("%s/%s lookup failed", symbol, exchange), err)
	}

	actual, fallback, err := caps.Negotiate(inst.VenueExchange, mode, depthLevel)
	if err != nil {
		return model.SubscribeResult{}, err
	}
	if fallback {
		log.Info().Str("venue", s.cfg.Venue).Str("symbol", symbol).
			Int("requested", depthLevel).Int("actual", actual).Msg("depth level fallback")
	}

	sub := model.Subscription{
		Symbol:        symbol,
		Exchange:      exchange,
		Token:         inst.Token,
		VenueExchange: inst.VenueExchange,
		Mode:          mode,
		DepthLevel:    actual,
		ChannelID:     s.venue.ChannelID(inst, mode, actual),
		CorrelationID: uuid.NewString(),
	}
	res, err := s.registry.Add(sub, s.venue)
	if err != nil {
		log.Error().Str("venue", s.cfg.Venue).Str("channel", sub.ChannelID).Err(err).Msg("subscribe failed")
		return model.SubscribeResult{}, err
	}
	if res.Duplicate {
		if existing, ok := s.registry.Get(symbol, exchange, mode); ok {
			sub.CorrelationID = existing.CorrelationID
		}
	}
	if res.Sent {
		metrics.UpstreamSubscribes.WithLabelValues(s.cfg.Venue).Inc()
	}

	s.mu.Lock()
	if s.state == model.AdapterAuthenticated {
		s.state = model.AdapterSubscribed
	}
	resume := s.idle && s.ctx != nil
	ctx2 := s.ctx
	s.idle = false
	s.mu.Unlock()
	if resume {
		log.Info().Str("venue", s.cfg.Venue).Msg("reconnecting after idle disconnect")
		if err := s.client.Connect(ctx2); err != nil {
			log.Warn().Str("venue", s.cfg.Venue).Err(err).Msg("idle reconnect failed")
		}
	}

	log.Debug().Str("venue", s.cfg.Venue).Str("topic", sub.Topic()).
		Str("channel", sub.ChannelID).Bool("sent", res.Sent).Msg("subscribed")

	return model.SubscribeResult{
		Topic:          sub.Topic(),
		Mode:           mode,
		RequestedDepth: depthLevel,
		ActualDepth:    actual,
		IsFallback:     fallback,
		CorrelationID:  sub.CorrelationID,
	}, nil
}

// Unsubscribe removes one mode. The retention entry goes when no mode of the pair is
// left; with DisconnectWhenIdle the socket is released once nothing is subscribed.
func (s *Session) Unsubscribe(symbol, exchange string, mode model.Mode) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	exchange = strings.ToUpper(strings.TrimSpace(exchange))

	res, err := s.registry.Remove(symbol, exchange, mode, s.venue)
	if err != nil {
		log.Error().Str("venue", s.cfg.Venue).Str("symbol", symbol).Err(err).Msg("unsubscribe failed")
		return err
	}
	if res.NotFound {
		log.Debug().Str("venue", s.cfg.Venue).Str("symbol", symbol).Str("mode", mode.String()).Msg("unsubscribe: not subscribed")
		return nil
	}
	if res.Sent {
		metrics.UpstreamUnsubscribes.WithLabelValues(s.cfg.Venue).Inc()
	}
	if res.PairEmpty {
		s.retention.Evict(symbol, exchange)
	}
	if res.Empty && s.cfg.DisconnectWhenIdle {
		s.idleDisconnect()
	}
	return nil
}

func (s *Session) idleDisconnect() {
	if s.client.State().idle() {
		return
	}
	log.Info().Str("venue", s.cfg.Venue).Msg("no subscriptions left, releasing connection")
	_ = s.client.Close()
	s.registry.MarkOffline()
	s.mu.Lock()
	s.idle = true
	if s.state != model.AdapterTerminal {
		s.state = model.AdapterDisconnected
	}
	s.mu.Unlock()
}

// Emit normalizes one venue update for an instrument and publishes it to every
// subscribed mode listed in modes (all modes when empty). Runs on the reader goroutine,
// so per-topic order follows venue delivery order.
func (s *Session) Emit(venueExchange, token string, fresh model.MarketData, modes ...model.Mode) int {
	subs := s.registry.Lookup(venueExchange, token)
	if len(subs) == 0 {
		return 0
	}
	merged := make(map[string]model.MarketData, 1)
	n := 0
	for _, sub := range subs {
		if len(modes) > 0 && !containsMode(modes, sub.Mode) {
			continue
		}
		md, ok := merged[sub.Pair()]
		if !ok {
			md = s.retention.Apply(sub.Symbol, sub.Exchange, fresh)
			merged[sub.Pair()] = md
		}
		if sub.Mode == model.ModeDepth {
			md.Depth = model.Depth{
				Buy:  truncate(md.Depth.Buy, sub.DepthLevel),
				Sell: truncate(md.Depth.Sell, sub.DepthLevel),
			}
		}
		s.cfg.Publisher.Publish(sub.Topic(), model.Project(md, sub.Symbol, sub.Exchange, sub.Mode))
		n++
	}
	// Unsubscribe 可能在 Lookup 之后已清掉该 pair，重建的缓存要再删掉
	for _, sub := range subs {
		if _, ok := merged[sub.Pair()]; ok && !s.registry.HasPair(sub.Symbol, sub.Exchange) {
			s.retention.Evict(sub.Symbol, sub.Exchange)
		}
	}
	if n > 0 {
		metrics.Published.WithLabelValues(s.cfg.Venue).Add(float64(n))
	}
	return n
}

// EmitPrivate publishes an account-level event on {venue}_{channel}.
func (s *Session) EmitPrivate(channel string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["venue"] = s.cfg.Venue
	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = time.Now().UnixMilli()
	}
	s.cfg.Publisher.Publish(model.PrivateTopic(s.cfg.Venue, channel), payload)
	metrics.Published.WithLabelValues(s.cfg.Venue).Inc()
}

// Dropped logs and counts a frame or record that could not be decoded.
func (s *Session) Dropped(err error, what string) {
	metrics.DecodeErrors.WithLabelValues(s.cfg.Venue).Inc()
	log.Warn().Str("venue", s.cfg.Venue).Err(err).Msg(what)
}

func (s *Session) onOpen() error {
	n, err := s.registry.ResubscribeAll(s.venue)
	if err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}
	if n > 0 {
		metrics.UpstreamSubscribes.WithLabelValues(s.cfg.Venue).Add(float64(n))
	}
	if pc, ok := s.venue.(PrivateChannels); ok {
		if err := pc.ArmPrivateChannels(); err != nil {
			log.Warn().Str("venue", s.cfg.Venue).Err(err).Msg("arm private channels failed")
		}
	}

	s.mu.Lock()
	if s.registry.Len() > 0 {
		s.state = model.AdapterSubscribed
	} else {
		s.state = model.AdapterAuthenticated
	}
	s.mu.Unlock()
	log.Info().Str("venue", s.cfg.Venue).Int("channels", n).Msg("resubscribed")
	return nil
}

func (s *Session) onClose(err error) {
	s.registry.MarkOffline()
	log.Warn().Str("venue", s.cfg.Venue).Err(err).Msg("ws closed")
}

func (s *Session) onError(err error) {
	log.Warn().Str("venue", s.cfg.Venue).Err(err).Msg("ws error")
}

func (s *Session) onFatal(err error) {
	s.registry.MarkOffline()
	s.mu.Lock()
	s.state = model.AdapterTerminal
	s.mu.Unlock()
	s.fatalOnce.Do(func() {
		s.fatal <- err
		close(s.fatal)
	})
}

func (s *Session) onState(cs ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == model.AdapterTerminal && cs != StateConnecting {
		return
	}
	switch cs {
	case StateConnecting:
		s.state = model.AdapterConnecting
	case StateConnected:
		s.state = model.AdapterConnected
	case StateAuthenticated:
		s.state = model.AdapterAuthenticated
	case StateReconnecting, StateDisconnected:
		s.registry.MarkOffline()
		s.state = model.AdapterDisconnected
	case StateTerminal:
		s.state = model.AdapterTerminal
	}
}

func containsMode(modes []model.Mode, m model.Mode) bool {
	for _, x := range modes {
		if x == m {
			return true
		}
	}
	return false
}

func truncate(levels []model.DepthLevel, n int) []model.DepthLevel {
	if n > 0 && len(levels) > n {
		return levels[:n]
	}
	return levels
}
