package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdstream/internal/application/port"
)

type captureWriter struct {
	msgs     []kafka.Message
	deadline bool
	closed   bool
}

func (c *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, c.deadline = ctx.Deadline()
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error { c.closed = true; return nil }

func TestForwardKeysByTopic(t *testing.T) {
	w := &captureWriter{}
	b := newBridge(w, 0)
	ts := time.UnixMilli(1700000000000)

	require.NoError(t, b.Forward(port.Message{
		Topic:   "NSE_RELIANCE_LTP",
		Payload: map[string]any{"ltp": 2500.5, "symbol": "RELIANCE"},
		Ts:      ts,
	}))
	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, "NSE_RELIANCE_LTP", string(m.Key))
	assert.Equal(t, ts, m.Time)
	assert.True(t, w.deadline)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(m.Value, &payload))
	assert.Equal(t, 2500.5, payload["ltp"])

	require.NoError(t, b.Close())
	assert.True(t, w.closed)
	assert.Equal(t, "kafka", b.Name())
}

func TestForwardRejectsUnencodable(t *testing.T) {
	b := newBridge(&captureWriter{}, time.Second)
	err := b.Forward(port.Message{Topic: "T", Payload: map[string]any{"bad": make(chan int)}})
	assert.Error(t, err)
}
