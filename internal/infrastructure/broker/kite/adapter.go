package kite

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"mdstream/internal/application"
	"mdstream/internal/domain/model"
	"mdstream/internal/infrastructure/broker"
	"mdstream/internal/infrastructure/codec"
	"mdstream/internal/infrastructure/credentials"
	"mdstream/internal/infrastructure/stream"
)

const defaultURL = "wss://ws.kite.trade"

// all channels are subscribed in full mode so one token serves every canonical mode
const modeFull = "full"

var defaultDepth = map[string][]int{stream.AnyExchange: {5}}

// Adapter streams Kite Connect binary ticks. Auth travels in the URL query; the
// channel is the instrument token.
type Adapter struct {
	broker.Base
	opts broker.Options

	mu     sync.Mutex
	tokens map[uint32]string // token -> venue exchange
}

func New(opts broker.Options) *Adapter {
	return &Adapter{
		Base:   broker.NewBase(application.VenueKite),
		opts:   opts,
		tokens: make(map[uint32]string),
	}
}

func (a *Adapter) Initialize(_ context.Context, userID string, auth *model.AuthData) error {
	creds, err := credentials.Load(a.Name(), auth)
	if err != nil {
		return err
	}
	if err := credentials.Require(a.Name(), creds, "api_key", "access_token"); err != nil {
		return err
	}

	base := a.opts.WSURL
	if base == "" {
		base = defaultURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("kite ws url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", creds.APIKey)
	q.Set("access_token", creds.AccessToken)
	u.RawQuery = q.Encode()

	a.mu.Lock()
	a.tokens = make(map[uint32]string)
	a.mu.Unlock()

	caps := stream.NewCapabilities(
		[]model.Mode{model.ModeLTP, model.ModeQuote, model.ModeDepth},
		a.opts.DepthOr(defaultDepth),
	)
	sess := stream.NewSession(a.opts.SessionConfig(a.Name(), caps), a,
		a.opts.ClientConfig(a.Name(), u.String()),
		stream.Hooks{
			// 重连后 ResubscribeAll 会重新登记全部 token
			Handshake: func(*websocket.Conn) error {
				a.mu.Lock()
				a.tokens = make(map[uint32]string)
				a.mu.Unlock()
				return nil
			},
			OnMessage: a.onMessage,
		})
	a.Attach(sess, userID)
	log.Info().Str("venue", a.Name()).Str("user", userID).Msg("adapter initialized")
	return nil
}

func (a *Adapter) ChannelID(inst model.Instrument, _ model.Mode, _ int) string {
	return inst.Token
}

func (a *Adapter) SubscribeChannels(subs []model.Subscription) error {
	s, err := a.Session()
	if err != nil {
		return err
	}
	tokens, err := tokenList(subs)
	if err != nil {
		return err
	}
	a.track(subs, tokens)
	if err := subscribeFull(s.Client().SendJSON, tokens); err != nil {
		a.untrack(tokens)
		return err
	}
	return nil
}

// subscribeFull sends subscribe then mode. When the mode frame fails the tokens are
// unsubscribed again so upstream matches the unchanged registry.
func subscribeFull(send func(v any) error, tokens []uint32) error {
	if err := send(map[string]any{"a": "subscribe", "v": tokens}); err != nil {
		return err
	}
	if err := send(map[string]any{"a": "mode", "v": []any{modeFull, tokens}}); err != nil {
		if uerr := send(map[string]any{"a": "unsubscribe", "v": tokens}); uerr != nil {
			log.Warn().Str("venue", application.VenueKite).Err(uerr).Msg("rollback unsubscribe failed")
		}
		return err
	}
	return nil
}

func (a *Adapter) UnsubscribeChannels(subs []model.Subscription) error {
	s, err := a.Session()
	if err != nil {
		return err
	}
	tokens, err := tokenList(subs)
	if err != nil {
		return err
	}
	if err := s.Client().SendJSON(map[string]any{"a": "unsubscribe", "v": tokens}); err != nil {
		return err
	}
	a.untrack(tokens)
	return nil
}

func (a *Adapter) track(subs []model.Subscription, tokens []uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, tok := range tokens {
		a.tokens[tok] = subs[i].VenueExchange
	}
}

func (a *Adapter) untrack(tokens []uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, tok := range tokens {
		delete(a.tokens, tok)
	}
}

func tokenList(subs []model.Subscription) ([]uint32, error) {
	out := make([]uint32, 0, len(subs))
	for _, sub := range subs {
		tok, err := strconv.ParseUint(sub.ChannelID, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad instrument token %q: %w", sub.ChannelID, err)
		}
		out = append(out, uint32(tok))
	}
	return out, nil
}

func (a *Adapter) onMessage(mt int, data []byte) {
	s, err := a.Session()
	if err != nil {
		return
	}
	if mt == websocket.TextMessage {
		a.onText(s, data)
		return
	}
	// 1 字节的二进制帧是心跳
	if len(data) < 2 {
		return
	}
	packets, err := splitPackets(data)
	if err != nil {
		s.Dropped(err, "truncated tick frame")
	}
	for _, p := range packets {
		t, err := parsePacket(p)
		if err != nil {
			s.Dropped(err, "bad tick packet")
			continue
		}
		a.mu.Lock()
		exch, ok := a.tokens[t.token]
		a.mu.Unlock()
		if !ok {
			continue
		}
		s.Emit(exch, strconv.FormatUint(uint64(t.token), 10), t.md, t.modes...)
	}
}

// onText handles postbacks: {"type":"order","data":{...}} and error/notice messages.
func (a *Adapter) onText(s *stream.Session, data []byte) {
	f, err := codec.ParseFields(data)
	if err != nil {
		s.Dropped(err, "malformed text frame")
		return
	}
	typ, _ := f.String("type")
	switch typ {
	case "order":
		order, ok := f.Object("data")
		if !ok {
			s.Dropped(fmt.Errorf("order without data"), "malformed order postback")
			return
		}
		s.EmitPrivate("orders", order.Map())
	case "error":
		msg, _ := f.String("data")
		log.Warn().Str("venue", a.Name()).Str("msg", msg).Msg("venue error")
	default:
		log.Debug().Str("venue", a.Name()).Str("type", typ).Msg("text frame")
	}
}
