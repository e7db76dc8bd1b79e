package upstox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/encoding/protowire"

	"mdstream/internal/application"
	"mdstream/internal/domain/model"
	"mdstream/internal/infrastructure/broker"
	"mdstream/internal/infrastructure/codec"
	"mdstream/internal/infrastructure/credentials"
	"mdstream/internal/infrastructure/stream"
)

const defaultURL = "wss://api.upstox.com/v3/feed/market-data-feed"

const modeFull = "full"

var defaultDepth = map[string][]int{stream.AnyExchange: {5}}

// Adapter streams the Upstox protobuf market data feed. Requests are JSON sent as binary
// frames; the channel is the instrument key (NSE_EQ|INE002A01018).
type Adapter struct {
	broker.Base
	opts   broker.Options
	merger *codec.Merger
}

func New(opts broker.Options) *Adapter {
	return &Adapter{
		Base:   broker.NewBase(application.VenueUpstox),
		opts:   opts,
		merger: codec.NewMerger([]protowire.Number{feedLTPC, feedFull, feedGreeks}),
	}
}

func (a *Adapter) Initialize(_ context.Context, userID string, auth *model.AuthData) error {
	creds, err := credentials.Load(a.Name(), auth)
	if err != nil {
		return err
	}
	if err := credentials.Require(a.Name(), creds, "access_token"); err != nil {
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
	ccfg.Header = http.Header{
		"Authorization": []string{"Bearer " + creds.AccessToken},
		"Accept":        []string{"*/*"},
	}
	a.merger.Reset()
	sess := stream.NewSession(a.opts.SessionConfig(a.Name(), caps), a, ccfg, stream.Hooks{
		// 重连后服务端会重新下发 initial_feed
		Handshake: func(*websocket.Conn) error {
			a.merger.Reset()
			return nil
		},
		OnMessage: a.onMessage,
	})
	a.Attach(sess, userID)
	log.Info().Str("venue", a.Name()).Str("user", userID).Msg("adapter initialized")
	return nil
}

func (a *Adapter) ChannelID(inst model.Instrument, _ model.Mode, _ int) string {
	return inst.VenueExchange + "|" + inst.Token
}

type request struct {
	GUID   string      `json:"guid"`
	Method string      `json:"method"`
	Data   requestData `json:"data"`
}

type requestData struct {
	Mode           string   `json:"mode,omitempty"`
	InstrumentKeys []string `json:"instrumentKeys"`
}

func (a *Adapter) SubscribeChannels(subs []model.Subscription) error {
	return a.request("sub", modeFull, subs)
}

func (a *Adapter) UnsubscribeChannels(subs []model.Subscription) error {
	for _, sub := range subs {
		a.merger.Forget(sub.ChannelID)
	}
	return a.request("unsub", "", subs)
}

func (a *Adapter) request(method, mode string, subs []model.Subscription) error {
	s, err := a.Session()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(subs))
	for _, sub := range subs {
		keys = append(keys, sub.ChannelID)
	}
	b, err := json.Marshal(request{
		GUID:   uuid.NewString(),
		Method: method,
		Data:   requestData{Mode: mode, InstrumentKeys: keys},
	})
	if err != nil {
		return err
	}
	return s.Client().Send(websocket.BinaryMessage, b)
}

func (a *Adapter) onMessage(mt int, data []byte) {
	s, err := a.Session()
	if err != nil {
		return
	}
	if mt != websocket.BinaryMessage {
		log.Debug().Str("venue", a.Name()).Str("frame", string(data)).Msg("text frame")
		return
	}
	resp, err := codec.DecodeMessage(data)
	if err != nil {
		s.Dropped(err, "malformed feed response")
		return
	}
	typ, _ := resp.Int(respType)
	if typ == feedMarketInfo {
		log.Debug().Str("venue", a.Name()).Msg("market info")
		return
	}
	feeds, err := resp.StringMap(respFeeds)
	if err != nil {
		s.Dropped(err, "malformed feeds map")
	}
	ts, _ := resp.Int(respTs)

	for key, feed := range feeds {
		venueExchange, token, ok := strings.Cut(key, "|")
		if !ok {
			s.Dropped(fmt.Errorf("instrument key %q", key), "bad instrument key")
			continue
		}
		merged := feed
		if typ == feedInitial {
			a.merger.Snapshot(key, feed)
		} else {
			merged = a.merger.Update(key, feed)
		}
		md, modes, err := feedData(merged)
		if err != nil {
			s.Dropped(err, "bad feed")
			continue
		}
		if md.Timestamp == 0 {
			md.Timestamp = ts
		}
		s.Emit(venueExchange, token, md, modes...)
	}
}
