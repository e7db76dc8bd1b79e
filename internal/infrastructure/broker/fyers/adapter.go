package fyers

import (
	"context"
	"net/http"
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

const defaultURL = "wss://socket.fyers.in/hsm/v1-5/prod"

var defaultDepth = map[string][]int{stream.AnyExchange: {5}}

// Adapter streams the Fyers data socket: JSON subscribe requests, binary field-book
// frames back. A snapshot names its channel ("sf|NSE_CM|2885"), later updates only
// carry the numeric topic.
type Adapter struct {
	broker.Base
	opts broker.Options
	book *codec.FieldBook

	mu     sync.Mutex
	topics map[string]uint16 // channel -> topic id of the current connection
}

func New(opts broker.Options) *Adapter {
	return &Adapter{
		Base: broker.NewBase(application.VenueFyers),
		opts:   opts,
		book:   codec.NewFieldBook(),
		topics: make(map[string]uint16),
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

	url := a.opts.WSURL
	if url == "" {
		url = defaultURL
	}
	caps := stream.NewCapabilities(
		[]model.Mode{model.ModeLTP, model.ModeQuote, model.ModeDepth},
		a.opts.DepthOr(defaultDepth),
	)
	ccfg := a.opts.ClientConfig(a.Name(), url)
	ccfg.Header = http.Header{"Authorization": []string{creds.APIKey + ":" + creds.AccessToken}}
	a.resetBook()
	sess := stream.NewSession(a.opts.SessionConfig(a.Name(), caps), a, ccfg, stream.Hooks{
		// topic ids are per connection
		Handshake: func(*websocket.Conn) error {
			a.resetBook()
			return nil
		},
		OnMessage: a.onMessage,
	})
	a.Attach(sess, userID)
	log.Info().Str("venue", a.Name()).Str("user", userID).Msg("adapter initialized")
	return nil
}

func (a *Adapter) ChannelID(inst model.Instrument, mode model.Mode, _ int) string {
	kind := kindSymbol
	if mode == model.ModeDepth {
		kind = kindDepth
	}
	return kind + "|" + inst.VenueExchange + "|" + inst.Token
}

type request struct {
	T     string   `json:"T"`
	SList []string `json:"SLIST"`
	SubT  int      `json:"SUB_T"`
}

func (a *Adapter) SubscribeChannels(subs []model.Subscription) error {
	return a.request(subs, 1)
}

func (a *Adapter) UnsubscribeChannels(subs []model.Subscription) error {
	if err := a.request(subs, 0); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, sub := range subs {
		topic, ok := a.topics[sub.ChannelID]
		if !ok {
			continue
		}
		delete(a.topics, sub.ChannelID)
		// topic id 可能已被新快照复用
		if name, ok := a.book.Name(topic); ok && name == sub.ChannelID {
			a.book.Forget(topic)
		}
	}
	return nil
}

func (a *Adapter) resetBook() {
	a.mu.Lock()
	a.book.Reset()
	a.topics = make(map[string]uint16)
	a.mu.Unlock()
}

func (a *Adapter) request(subs []model.Subscription, subT int) error {
	s, err := a.Session()
	if err != nil {
		return err
	}
	list := make([]string, 0, len(subs))
	for _, sub := range subs {
		list = append(list, sub.ChannelID)
	}
	return s.Client().SendJSON(request{T: "SUB_DATA", SList: list, SubT: subT})
}

func (a *Adapter) onMessage(mt int, data []byte) {
	s, err := a.Session()
	if err != nil {
		return
	}
	if mt == websocket.TextMessage {
		a.onText(data)
		return
	}
	recs, err := a.book.Apply(data)
	if err != nil {
		s.Dropped(err, "malformed field frame")
	}
	for _, rec := range recs {
		if rec.Snapshot {
			a.mu.Lock()
			a.topics[rec.Name] = rec.Topic
			a.mu.Unlock()
		}
		kind, venueExchange, token, err := parseChannel(rec.Name)
		if err != nil {
			s.Dropped(err, "unnamed topic")
			continue
		}
		switch kind {
		case kindSymbol:
			md, err := symbolData(rec.Fields)
			if err != nil {
				s.Dropped(err, "short symbol feed")
				continue
			}
			s.Emit(venueExchange, token, md, model.ModeLTP, model.ModeQuote)
		case kindDepth:
			md, err := depthData(rec.Fields)
			if err != nil {
				s.Dropped(err, "short depth feed")
				continue
			}
			s.Emit(venueExchange, token, md, model.ModeDepth)
		default:
			log.Debug().Str("venue", a.Name()).Str("channel", rec.Name).Msg("unhandled channel kind")
		}
	}
}

func (a *Adapter) onText(data []byte) {
	if strings.EqualFold(strings.TrimSpace(string(data)), "pong") {
		return
	}
	f, err := codec.ParseFields(data)
	if err != nil {
		log.Debug().Str("venue", a.Name()).Str("frame", string(data)).Msg("text frame")
		return
	}
	if st, _ := f.String("s"); strings.EqualFold(st, "error") {
		msg, _ := f.String("message")
		log.Warn().Str("venue", a.Name()).Str("message", msg).Msg("venue error")
	}
}
