package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdstream/internal/application/port"
)

func TestBusTopicAndWildcard(t *testing.T) {
	b := New(4)
	quote := b.Subscribe("NSE_RELIANCE_QUOTE")
	all := b.Subscribe(All)

	b.Publish("NSE_RELIANCE_QUOTE", map[string]any{"ltp": 2500.5})
	b.Publish("NSE_TCS_LTP", map[string]any{"ltp": 3500.0})

	msg := <-quote.C
	assert.Equal(t, "NSE_RELIANCE_QUOTE", msg.Topic)
	assert.Equal(t, 2500.5, msg.Payload["ltp"])
	assert.Len(t, quote.C, 0)

	assert.Equal(t, "NSE_RELIANCE_QUOTE", (<-all.C).Topic)
	assert.Equal(t, "NSE_TCS_LTP", (<-all.C).Topic)
}

func TestBusDropsWhenFull(t *testing.T) {
	b := New(2)
	s := b.Subscribe("T")
	for i := 0; i < 5; i++ {
		b.Publish("T", map[string]any{"i": i})
	}
	assert.Len(t, s.C, 2)
	assert.Equal(t, 0, (<-s.C).Payload["i"])
}

func TestBusCloseSubscription(t *testing.T) {
	b := New(1)
	s := b.Subscribe("T")
	s.Close()
	s.Close()
	_, ok := <-s.C
	assert.False(t, ok)
	assert.Zero(t, b.Subscribers("T"))

	other := b.Subscribe("T")
	b.Close()
	_, ok = <-other.C
	assert.False(t, ok)
	b.Publish("T", nil)
}

type recordBridge struct {
	mu   sync.Mutex
	got  []string
	fail bool
}

func (r *recordBridge) Name() string { return "record" }
func (r *recordBridge) Close() error { return nil }
func (r *recordBridge) Forward(msg port.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg.Topic)
	if r.fail {
		return errors.New("down")
	}
	return nil
}

func (r *recordBridge) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestPumpForwardsUntilCancel(t *testing.T) {
	b := New(8)
	br := &recordBridge{fail: true}
	ctx, cancel := context.WithCancel(context.Background())

	sub := b.Subscribe(All)
	done := make(chan error, 1)
	go func() { done <- Pump(ctx, sub, br) }()

	b.Publish("A", nil)
	b.Publish("B", nil)
	require.Eventually(t, func() bool { return len(br.topics()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A", "B"}, br.topics())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, b.Subscribers(All))
}
