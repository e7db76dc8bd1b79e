package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"mdstream/internal/application/port"
)

type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Bridge writes every bus message to one Kafka topic, keyed by the bus topic so a
// symbol/mode stream stays on one partition.
type Bridge struct {
	w       writer
	timeout time.Duration
}

func New(cfg Config) *Bridge {
	if cfg.Topic == "" {
		cfg.Topic = "market.ticks"
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return newBridge(w, cfg.WriteTimeout)
}

func newBridge(w writer, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Bridge{w: w, timeout: timeout}
}

func (b *Bridge) Name() string { return "kafka" }

func (b *Bridge) Forward(msg port.Message) error {
	v, err := json.Marshal(msg.Payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	return b.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Topic),
		Value: v,
		Time:  msg.Ts,
		Headers: []kafka.Header{
			{Key: "topic", Value: []byte(msg.Topic)},
		},
	})
}

func (b *Bridge) Close() error { return b.w.Close() }

var _ port.Bridge = (*Bridge)(nil)
