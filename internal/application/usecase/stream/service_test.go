package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdstream/internal/application/port"
	"mdstream/internal/domain/model"
)

type memSink struct {
	mu     sync.Mutex
	live   []string
	events []string
}

func (m *memSink) WriteLive(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = append(m.live, line)
	return nil
}

func (m *memSink) WriteEvent(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, line)
	return nil
}

func (m *memSink) NewLine() error { return nil }

func (m *memSink) snapshot() ([]string, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.live...), append([]string(nil), m.events...)
}

type memRepo struct {
	mu     sync.Mutex
	latest map[string]string
	ts     map[string]int64
}

func newMemRepo() *memRepo {
	return &memRepo{latest: map[string]string{}, ts: map[string]int64{}}
}

func (r *memRepo) UpsertLatest(_ context.Context, topic string, payload []byte, ts int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest[topic] = string(payload)
	r.ts[topic] = ts
	return nil
}

func (r *memRepo) Close() error { return nil }

type fatalAdapter struct {
	name  string
	fatal chan error
}

func (f *fatalAdapter) Name() string { return f.name }
func (f *fatalAdapter) Initialize(context.Context, string, *model.AuthData) error { return nil }
func (f *fatalAdapter) Connect(context.Context) error { return nil }
func (f *fatalAdapter) Disconnect() error { return nil }
func (f *fatalAdapter) Subscribe(string, string, model.Mode, int) (model.SubscribeResult, error) {
	return model.SubscribeResult{}, nil
}
func (f *fatalAdapter) Unsubscribe(string, string, model.Mode) error { return nil }
func (f *fatalAdapter) State() model.AdapterState { return model.AdapterSubscribed }
func (f *fatalAdapter) Fatal() <-chan error { return f.fatal }

func quote(topic string, ltp float64, ts int64) port.Message {
	return port.Message{
		Topic:   topic,
		Payload: map[string]any{"ltp": ltp, "mode": 2, "symbol": "RELIANCE", "exchange": "NSE", "timestamp": ts},
		Ts:      time.Now(),
	}
}

func TestServiceRendersAndPersists(t *testing.T) {
	events := make(chan port.Message, 8)
	sink := &memSink{}
	repo := newMemRepo()
	svc := NewService(ServiceDeps{Events: events, Sink: sink, Repo: repo})

	events <- quote("NSE_RELIANCE_QUOTE", 2500.5, 100)
	events <- quote("NSE_RELIANCE_QUOTE", 2500.5, 101) // unchanged ltp, no redraw
	events <- quote("NSE_RELIANCE_QUOTE", 2499, 102)
	events <- port.Message{Topic: "kite_orders", Payload: map[string]any{"status": "COMPLETE", "venue": "kite"}, Ts: time.Now()}
	close(events)

	require.NoError(t, svc.Run(context.Background()))

	live, evs := sink.snapshot()
	require.Len(t, live, 2)
	assert.Contains(t, live[0], "2500.50")
	assert.Contains(t, live[1], "2499.00")
	assert.Contains(t, live[1], ansiRed)

	require.Len(t, evs, 1)
	assert.True(t, strings.Contains(evs[0], "status=COMPLETE"))
	assert.True(t, strings.Contains(evs[0], "venue=kite"))

	assert.Equal(t, int64(102), repo.ts["NSE_RELIANCE_QUOTE"])
	assert.Contains(t, repo.latest["NSE_RELIANCE_QUOTE"], `"ltp":2499`)
	assert.Contains(t, repo.latest, "kite_orders")
	assert.Equal(t, []string{"NSE_RELIANCE_QUOTE"}, svc.State().Topics())
}

func TestServiceStopsWhenAllAdaptersTerminal(t *testing.T) {
	a := &fatalAdapter{name: "kite", fatal: make(chan error, 1)}
	b := &fatalAdapter{name: "shoonya", fatal: make(chan error, 1)}
	svc := NewService(ServiceDeps{
		Events:   make(chan port.Message),
		Adapters: []port.Adapter{a, b},
		Sink:     &memSink{},
	})

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()

	a.fatal <- errors.New("retry exhausted")
	close(a.fatal)
	select {
	case err := <-done:
		t.Fatalf("service stopped early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	b.fatal <- errors.New("retry exhausted")
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAllTerminal)
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
}

func TestServiceContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := NewService(ServiceDeps{Events: make(chan port.Message), Sink: &memSink{}})
	cancel()
	assert.ErrorIs(t, svc.Run(ctx), context.Canceled)
}
