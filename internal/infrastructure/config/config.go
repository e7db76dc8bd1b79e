package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"mdstream/internal/domain/model"
	"mdstream/internal/infrastructure/stream"
)

type Config struct {
	App struct {
		LogLevel           string `toml:"log_level"`
		DisconnectWhenIdle bool   `toml:"disconnect_when_idle"`
		BusBuffer          int    `toml:"bus_buffer"`
		InitAttempts       int    `toml:"init_attempts"`
	} `toml:"app"`

	Retry Retry `toml:"retry"`

	Brokers map[string]Broker `toml:"brokers"`

	Subscriptions []Subscription `toml:"subscriptions"`

	Symbols []Symbol `toml:"symbols"`

	Storage struct {
		SQLite struct {
			Enabled bool   `toml:"enabled"`
			Path    string `toml:"path"`
		} `toml:"sqlite"`

		Postgres struct {
			Enabled bool   `toml:"enabled"`
			DSN     string `toml:"dsn"`
		} `toml:"postgres"`

		Redis struct {
			Enabled bool   `toml:"enabled"`
			Addr    string `toml:"addr"`
			DB      int    `toml:"db"`
			Prefix  string `toml:"prefix"`
			TTLSec  int    `toml:"ttl_sec"`
			Publish bool   `toml:"publish"`
		} `toml:"redis"`
	} `toml:"storage"`

	Bridge struct {
		Kafka struct {
			Enabled bool     `toml:"enabled"`
			Brokers []string `toml:"brokers"`
			Topic   string   `toml:"topic"`
		} `toml:"kafka"`
	} `toml:"bridge"`

	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`

	Console struct {
		Enabled bool `toml:"enabled"`
	} `toml:"console"`
}

// Retry 重连策略；数值全部来自配置
type Retry struct {
	MaxAttempts int     `toml:"max_attempts"`
	BaseDelayMs int     `toml:"base_delay_ms"`
	Multiplier  float64 `toml:"multiplier"`
	MaxDelayMs  int     `toml:"max_delay_ms"`
	JitterMs    int     `toml:"jitter_ms"`
}

type Broker struct {
	Enabled         bool             `toml:"enabled"`
	WsURL           string           `toml:"ws_url"`
	UserID          string           `toml:"user_id"`
	PingIntervalSec int              `toml:"ping_interval_sec"`
	Retry           *Retry           `toml:"retry"`
	Depth           map[string][]int `toml:"depth"`
}

type Subscription struct {
	Broker   string `toml:"broker"`
	Symbol   string `toml:"symbol"`
	Exchange string `toml:"exchange"`
	Mode     string `toml:"mode"`
	Depth    int    `toml:"depth"`
}

type Symbol struct {
	Broker        string `toml:"broker"`
	Symbol        string `toml:"symbol"`
	Exchange      string `toml:"exchange"`
	Token         string `toml:"token"`
	VenueExchange string `toml:"venue_exchange"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes a config from a TOML string.
func Parse(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.App.LogLevel) == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.BusBuffer <= 0 {
		cfg.App.BusBuffer = 1024
	}
	if cfg.App.InitAttempts <= 0 {
		cfg.App.InitAttempts = 3
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/symbols.db"
	}
	if cfg.Storage.Redis.Addr == "" {
		cfg.Storage.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "mdstream"
	}
	if cfg.Bridge.Kafka.Topic == "" {
		cfg.Bridge.Kafka.Topic = "market.ticks"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	for i := range cfg.Subscriptions {
		s := &cfg.Subscriptions[i]
		s.Broker = strings.ToLower(strings.TrimSpace(s.Broker))
		s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
		s.Exchange = strings.ToUpper(strings.TrimSpace(s.Exchange))
		if s.Mode == "" {
			s.Mode = "LTP"
		}
	}
	brokers := make(map[string]Broker, len(cfg.Brokers))
	for name, b := range cfg.Brokers {
		brokers[strings.ToLower(name)] = b
	}
	cfg.Brokers = brokers
}

func validate(cfg *Config) error {
	if len(cfg.EnabledBrokers()) == 0 {
		return errors.New("no broker enabled")
	}
	for i, s := range cfg.Subscriptions {
		if s.Symbol == "" || s.Exchange == "" {
			return fmt.Errorf("subscriptions[%d]: symbol and exchange required", i)
		}
		if _, err := model.ParseMode(s.Mode); err != nil {
			return fmt.Errorf("subscriptions[%d]: %w", i, err)
		}
		if s.Broker != "" {
			if b, ok := cfg.Brokers[s.Broker]; !ok || !b.Enabled {
				return fmt.Errorf("subscriptions[%d]: broker %q not enabled", i, s.Broker)
			}
		}
	}
	for i, s := range cfg.Symbols {
		if s.Broker == "" || s.Symbol == "" || s.Exchange == "" || s.Token == "" {
			return fmt.Errorf("symbols[%d]: broker, symbol, exchange and token required", i)
		}
	}
	if cfg.Storage.Postgres.Enabled && strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
		return errors.New("storage.postgres.dsn empty but enabled")
	}
	if cfg.Bridge.Kafka.Enabled && len(cfg.Bridge.Kafka.Brokers) == 0 {
		return errors.New("bridge.kafka.brokers empty but enabled")
	}
	if cfg.Retry.Multiplier != 0 && cfg.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be >= 1")
	}
	return nil
}

// EnabledBrokers returns the enabled broker names, sorted.
func (c *Config) EnabledBrokers() []string {
	var out []string
	for name, b := range c.Brokers {
		if b.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// RetryFor merges the per-broker override over the global policy.
func (c *Config) RetryFor(broker string) stream.RetryPolicy {
	r := c.Retry
	if b, ok := c.Brokers[broker]; ok && b.Retry != nil {
		o := b.Retry
		if o.MaxAttempts > 0 {
			r.MaxAttempts = o.MaxAttempts
		}
		if o.BaseDelayMs > 0 {
			r.BaseDelayMs = o.BaseDelayMs
		}
		if o.Multiplier >= 1 {
			r.Multiplier = o.Multiplier
		}
		if o.MaxDelayMs > 0 {
			r.MaxDelayMs = o.MaxDelayMs
		}
		if o.JitterMs > 0 {
			r.JitterMs = o.JitterMs
		}
	}
	return r.Policy()
}

func (r Retry) Policy() stream.RetryPolicy {
	return stream.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   time.Duration(r.BaseDelayMs) * time.Millisecond,
		Multiplier:  r.Multiplier,
		MaxDelay:    time.Duration(r.MaxDelayMs) * time.Millisecond,
		Jitter:      time.Duration(r.JitterMs) * time.Millisecond,
	}.WithDefaults()
}

// SubscriptionsFor lists the configured subscriptions for broker; entries without a
// broker apply to every enabled broker.
func (c *Config) SubscriptionsFor(broker string) []Subscription {
	var out []Subscription
	for _, s := range c.Subscriptions {
		if s.Broker == "" || s.Broker == broker {
			out = append(out, s)
		}
	}
	return out
}
