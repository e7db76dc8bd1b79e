package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mdstream/internal/application/port"
)

// Repo keeps the latest payload per topic in one hash and re-publishes bus messages on
// <prefix>:<topic> channels for out-of-process consumers.
type Repo struct {
	rdb       *redis.Client
	prefix    string
	ttl       time.Duration
	keyLatest string // prefix + ":latest"
	timeout   time.Duration
}

func New(rdb *redis.Client, prefix string, ttl time.Duration) *Repo {
	if strings.TrimSpace(prefix) == "" {
		prefix = "mdstream"
	}
	return &Repo{
		rdb:       rdb,
		prefix:    prefix,
		ttl:       ttl,
		keyLatest: prefix + ":latest",
		timeout:   2 * time.Second,
	}
}

type latestValue struct {
	Payload json.RawMessage `json:"payload"`
	Ts      int64           `json:"ts"`
}

func (r *Repo) UpsertLatest(ctx context.Context, topic string, payload []byte, ts int64) error {
	b, err := json.Marshal(latestValue{Payload: payload, Ts: ts})
	if err != nil {
		return err
	}
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, topic, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Channel 某个 topic 对应的 PUBLISH 频道
func (r *Repo) Channel(topic string) string {
	return r.prefix + ":" + topic
}

func (r *Repo) Name() string { return "redis" }

// Forward publishes one bus message as JSON.
func (r *Repo) Forward(msg port.Message) error {
	b, err := json.Marshal(msg.Payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.rdb.Publish(ctx, r.Channel(msg.Topic), b).Err()
}

func (r *Repo) Close() error { return r.rdb.Close() }

var (
	_ port.Repository = (*Repo)(nil)
	_ port.Bridge     = (*Repo)(nil)
)
