package shoonya

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
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

const defaultURL = "wss://api.shoonya.com/NorenWSTP/"

const (
	chanTouchline = "t"
	chanDepth     = "d"
)

var defaultDepth = map[string][]int{stream.AnyExchange: {5}}

// Adapter streams Shoonya (NorenWS) touchline and depth feeds. JSON text protocol,
// authenticated by a {"t":"c"} frame right after connect.
type Adapter struct {
	broker.Base
	opts broker.Options

	mu    sync.Mutex
	auth  *model.AuthData
	books map[string]*depthBook
}

func New(opts broker.Options) *Adapter {
	return &Adapter{
		Base:  broker.NewBase(application.VenueShoonya),
		opts:  opts,
		books: make(map[string]*depthBook),
	}
}

func (a *Adapter) Initialize(_ context.Context, userID string, auth *model.AuthData) error {
	creds, err := credentials.Load(a.Name(), auth)
	if err != nil {
		return err
	}
	if err := credentials.Require(a.Name(), creds, "client_id", "access_token"); err != nil {
		return err
	}
	if userID == "" {
		userID = creds.ClientID
	}

	a.mu.Lock()
	a.auth = creds
	a.books = make(map[string]*depthBook)
	a.mu.Unlock()

	url := a.opts.WSURL
	if url == "" {
		url = defaultURL
	}
	caps := stream.NewCapabilities(
		[]model.Mode{model.ModeLTP, model.ModeQuote, model.ModeDepth},
		a.opts.DepthOr(defaultDepth),
	)
	ccfg := a.opts.ClientConfig(a.Name(), url)
	ccfg.Heartbeat = func(c *stream.Client) error {
		return c.SendJSON(map[string]string{"t": "h"})
	}
	sess := stream.NewSession(a.opts.SessionConfig(a.Name(), caps), a, ccfg, stream.Hooks{
		Handshake: a.handshake,
		OnMessage: a.onMessage,
	})
	a.Attach(sess, userID)
	log.Info().Str("venue", a.Name()).Str("user", userID).Msg("adapter initialized")
	return nil
}

type authFrame struct {
	T          string `json:"t"`
	UID        string `json:"uid"`
	ActID      string `json:"actid"`
	SUserToken string `json:"susertoken"`
	Source     string `json:"source"`
}

func (a *Adapter) handshake(conn *websocket.Conn) error {
	a.mu.Lock()
	auth := a.auth
	a.books = make(map[string]*depthBook)
	a.mu.Unlock()

	err := conn.WriteJSON(authFrame{
		T:          "c",
		UID:        auth.ClientID,
		ActID:      auth.ClientID,
		SUserToken: auth.AccessToken,
		Source:     "API",
	})
	if err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read auth ack: %w", err)
		}
		f, err := codec.ParseFields(b)
		if err != nil {
			continue
		}
		if t, _ := f.String("t"); t != "ck" {
			continue
		}
		if s, _ := f.String("s"); !strings.EqualFold(s, "OK") {
			return fmt.Errorf("auth rejected: %q", s)
		}
		return nil
	}
}

// ChannelID: LTP and QUOTE ride the touchline channel, DEPTH has its own.
func (a *Adapter) ChannelID(inst model.Instrument, mode model.Mode, _ int) string {
	kind := chanTouchline
	if mode == model.ModeDepth {
		kind = chanDepth
	}
	return kind + "|" + inst.VenueExchange + "|" + inst.Token
}

func (a *Adapter) SubscribeChannels(subs []model.Subscription) error {
	return a.send(subs, map[string]string{chanTouchline: "t", chanDepth: "d"})
}

func (a *Adapter) UnsubscribeChannels(subs []model.Subscription) error {
	return a.send(subs, map[string]string{chanTouchline: "u", chanDepth: "ud"})
}

// send groups channels by kind into one {"t":op,"k":"EX|TK#EX|TK"} frame per kind.
func (a *Adapter) send(subs []model.Subscription, ops map[string]string) error {
	s, err := a.Session()
	if err != nil {
		return err
	}
	keys := make(map[string][]string, 2)
	for _, sub := range subs {
		kind, key, ok := strings.Cut(sub.ChannelID, "|")
		if !ok {
			return fmt.Errorf("bad channel %q", sub.ChannelID)
		}
		keys[kind] = append(keys[kind], key)
	}
	kinds := make([]string, 0, len(keys))
	for k := range keys {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		op, ok := ops[kind]
		if !ok {
			return fmt.Errorf("unknown channel kind %q", kind)
		}
		if err := s.Client().SendJSON(map[string]string{"t": op, "k": strings.Join(keys[kind], "#")}); err != nil {
			return err
		}
	}
	return nil
}

// ArmPrivateChannels subscribes order updates for the account.
func (a *Adapter) ArmPrivateChannels() error {
	s, err := a.Session()
	if err != nil {
		return err
	}
	a.mu.Lock()
	actid := a.auth.ClientID
	a.mu.Unlock()
	return s.Client().SendJSON(map[string]string{"t": "o", "actid": actid})
}

func (a *Adapter) onMessage(_ int, data []byte) {
	s, err := a.Session()
	if err != nil {
		return
	}
	f, err := codec.ParseFields(data)
	if err != nil {
		s.Dropped(err, "malformed frame")
		return
	}
	t, _ := f.String("t")
	switch t {
	case "tk", "tf":
		exch, tok, err := instrument(f)
		if err != nil {
			s.Dropped(err, "touchline without instrument")
			return
		}
		s.Emit(exch, tok, quote(f), model.ModeLTP, model.ModeQuote)
	case "dk", "df":
		exch, tok, err := instrument(f)
		if err != nil {
			s.Dropped(err, "depth without instrument")
			return
		}
		md := quote(f)
		md.Depth = a.book(exch, tok).apply(f)
		s.Emit(exch, tok, md, model.ModeDepth)
	case "om":
		s.EmitPrivate("orders", f.Map())
	case "ok", "ck", "h":
	default:
		log.Debug().Str("venue", a.Name()).Str("t", t).Msg("unhandled frame")
	}
}

func (a *Adapter) book(exch, tok string) *depthBook {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := model.InstrumentKey(exch, tok)
	b := a.books[key]
	if b == nil {
		b = &depthBook{}
		a.books[key] = b
	}
	return b
}

var errNoInstrument = errors.New("missing e/tk")

func instrument(f codec.Fields) (string, string, error) {
	e, ok1 := f.String("e")
	tk, ok2 := f.String("tk")
	if !ok1 || !ok2 || e == "" || tk == "" {
		return "", "", errNoInstrument
	}
	return e, tk, nil
}
