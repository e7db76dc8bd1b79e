package websocket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdstream/internal/application/port"
	"mdstream/internal/domain/model"
	"mdstream/internal/infrastructure/broker"
	"mdstream/internal/infrastructure/bus"
	"mdstream/internal/infrastructure/config"
	"mdstream/internal/infrastructure/storage"
)

type fakeAdapter struct {
	name string
	opts broker.Options

	mu         sync.Mutex
	initErrs   int
	inits      int
	connected  bool
	subscribed []string
	state      model.AdapterState
	fatal      chan error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Initialize(context.Context, string, *model.AuthData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	if f.inits <= f.initErrs {
		return errors.New("venue unavailable")
	}
	f.state = model.AdapterInitialized
	return nil
}

func (f *fakeAdapter) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeAdapter) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.state = model.AdapterDisconnected
	return nil
}

func (f *fakeAdapter) Subscribe(symbol, exchange string, mode model.Mode, depth int) (model.SubscribeResult, error) {
	if _, err := f.opts.Resolver.Resolve(context.Background(), symbol, exchange); err != nil {
		return model.SubscribeResult{}, model.NewError(model.CodeSymbolNotFound, symbol, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	topic := model.Topic(exchange, symbol, mode)
	f.subscribed = append(f.subscribed, topic)
	return model.SubscribeResult{Topic: topic, Mode: mode, RequestedDepth: depth, ActualDepth: depth}, nil
}

func (f *fakeAdapter) Unsubscribe(string, string, model.Mode) error { return nil }
func (f *fakeAdapter) State() model.AdapterState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
func (f *fakeAdapter) Fatal() <-chan error { return f.fatal }

func register(t *testing.T, name string, initErrs int) *fakeAdapter {
	t.Helper()
	fa := &fakeAdapter{name: name, initErrs: initErrs, fatal: make(chan error)}
	broker.Register(name, func(opts broker.Options) port.Adapter {
		fa.opts = opts
		return fa
	})
	return fa
}

func testConfig(t *testing.T, data string) *config.Config {
	t.Helper()
	cfg, err := config.Parse(data)
	require.NoError(t, err)
	return cfg
}

func TestManagerLifecycle(t *testing.T) {
	good := register(t, "fake-good", 1)
	bad := register(t, "fake-bad", 100)

	cfg := testConfig(t, `
[app]
disconnect_when_idle = true
[brokers.fake-good]
enabled = true
[brokers.fake-bad]
enabled = true
[[subscriptions]]
symbol = "RELIANCE"
exchange = "NSE"
mode = "QUOTE"
[[subscriptions]]
broker = "fake-good"
symbol = "UNKNOWN"
exchange = "NSE"
`)
	static := storage.NewStatic(storage.SymbolEntry{Venue: "fake-good", Symbol: "RELIANCE", Exchange: "NSE", Token: "1", VenueExchange: "NSE"})
	m := NewManager(static, bus.New(8))
	m.SetRetryConfig(RetryConfig{MaxRetries: 2, InitialDel: time.Millisecond, MaxDelay: time.Millisecond})

	require.NoError(t, m.Initialize(context.Background(), cfg))
	assert.Equal(t, []string{"fake-good"}, m.Names())
	assert.Equal(t, 2, good.inits)
	assert.Equal(t, 3, bad.inits)
	assert.True(t, good.opts.DisconnectWhenIdle)
	assert.Equal(t, 10, good.opts.Retry.MaxAttempts)

	require.NoError(t, m.ConnectAll(context.Background()))
	assert.True(t, good.connected)

	err := m.ApplySubscriptions(cfg.Subscriptions)
	require.Error(t, err)
	assert.Equal(t, model.CodeSymbolNotFound, model.CodeOf(err))
	assert.Equal(t, []string{"NSE_RELIANCE_QUOTE"}, good.subscribed)

	a, ok := m.Get("FAKE-GOOD")
	require.True(t, ok)
	assert.Same(t, good, a)

	m.DisconnectAll()
	assert.False(t, good.connected)
}

func TestManagerNothingInitialized(t *testing.T) {
	register(t, "fake-down", 100)
	cfg := testConfig(t, "[brokers.fake-down]\nenabled = true\n[brokers.fake-missing]\nenabled = true\n")

	m := NewManager(storage.NewStatic(), bus.New(1))
	m.SetRetryConfig(RetryConfig{MaxRetries: 0})
	err := m.Initialize(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrNoAdapters)
}
