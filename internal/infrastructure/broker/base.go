package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"mdstream/internal/domain/model"
	"mdstream/internal/infrastructure/stream"
)

// Base holds the per-adapter session and implements the parts of port.Adapter that are
// the same for every venue. Venue adapters embed it and add Initialize plus the wire format.
type Base struct {
	name   string
	mu     sync.RWMutex
	sess   *stream.Session
	userID string
}

func NewBase(name string) Base { return Base{name: name} }

func (b *Base) Name() string { return b.name }

func (b *Base) UserID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.userID
}

// Attach installs a freshly built session. An existing one is disconnected first.
func (b *Base) Attach(s *stream.Session, userID string) {
	b.mu.Lock()
	old := b.sess
	b.sess, b.userID = s, userID
	b.mu.Unlock()
	if old != nil {
		log.Info().Str("venue", b.name).Msg("re-initializing, dropping previous session")
		_ = old.Disconnect()
	}
}

// Session returns the current session or a NOT_INITIALIZED error.
func (b *Base) Session() (*stream.Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sess == nil {
		return nil, model.NewError(model.CodeNotInitialized, fmt.Sprintf("%s adapter not initialized", b.name), nil)
	}
	return b.sess, nil
}

func (b *Base) Connect(ctx context.Context) error {
	s, err := b.Session()
	if err != nil {
		return err
	}
	return s.Connect(ctx)
}

func (b *Base) Disconnect() error {
	b.mu.RLock()
	s := b.sess
	b.mu.RUnlock()
	if s == nil {
		return nil
	}
	return s.Disconnect()
}

func (b *Base) Subscribe(symbol, exchange string, mode model.Mode, depthLevel int) (model.SubscribeResult, error) {
	s, err := b.Session()
	if err != nil {
		return model.SubscribeResult{}, err
	}
	return s.Subscribe(symbol, exchange, mode, depthLevel)
}

func (b *Base) Unsubscribe(symbol, exchange string, mode model.Mode) error {
	s, err := b.Session()
	if err != nil {
		return err
	}
	return s.Unsubscribe(symbol, exchange, mode)
}

func (b *Base) State() model.AdapterState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sess == nil {
		return model.AdapterUninitialized
	}
	return b.sess.State()
}

// Fatal 未初始化时返回 nil channel（永不触发）
func (b *Base) Fatal() <-chan error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sess == nil {
		return nil
	}
	return b.sess.Fatal()
}

// SessionConfig fills the shared session settings from opts.
func (o Options) SessionConfig(venue string, caps *stream.Capabilities) stream.SessionConfig {
	return stream.SessionConfig{
		Venue:              venue,
		Resolver:           o.Resolver,
		Publisher:          o.Publisher,
		Capabilities:       caps,
		DisconnectWhenIdle: o.DisconnectWhenIdle,
	}
}

// ClientConfig fills the shared wire client settings from opts.
func (o Options) ClientConfig(venue, url string) stream.ClientConfig {
	return stream.ClientConfig{
		Name:         venue,
		URL:          url,
		PingInterval: o.PingInterval,
		Retry:        o.Retry,
	}
}
