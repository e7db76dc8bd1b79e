package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[app]
log_level = "debug"
disconnect_when_idle = true

[retry]
max_attempts = 5
base_delay_ms = 500
multiplier = 2
max_delay_ms = 30000

[brokers.Kite]
enabled = true

[brokers.shoonya]
enabled = true
ws_url = "wss://example.invalid/NorenWSTP/"
[brokers.shoonya.retry]
max_attempts = 20
base_delay_ms = 1000
multiplier = 1

[brokers.upstox]
enabled = false

[[subscriptions]]
symbol = " reliance "
exchange = "nse"
mode = "quote"

[[subscriptions]]
broker = "shoonya"
symbol = "NIFTY"
exchange = "NSE_INDEX"
mode = "DEPTH"
depth = 5

[[symbols]]
broker = "kite"
symbol = "RELIANCE"
exchange = "NSE"
token = "738561"
venue_exchange = "NSE"
`

func TestParse(t *testing.T) {
	cfg, err := Parse(sample)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.True(t, cfg.App.DisconnectWhenIdle)
	assert.Equal(t, 1024, cfg.App.BusBuffer)
	assert.Equal(t, []string{"kite", "shoonya"}, cfg.EnabledBrokers())

	assert.Equal(t, "RELIANCE", cfg.Subscriptions[0].Symbol)
	assert.Equal(t, "NSE", cfg.Subscriptions[0].Exchange)
	assert.Len(t, cfg.SubscriptionsFor("kite"), 1)
	assert.Len(t, cfg.SubscriptionsFor("shoonya"), 2)

	kite := cfg.RetryFor("kite")
	assert.Equal(t, 5, kite.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, kite.BaseDelay)
	assert.Equal(t, 30*time.Second, kite.MaxDelay)

	shoonya := cfg.RetryFor("shoonya")
	assert.Equal(t, 20, shoonya.MaxAttempts)
	assert.Equal(t, time.Second, shoonya.BaseDelay)
	assert.Equal(t, 1.0, shoonya.Multiplier)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"no broker":        `[brokers.kite]` + "\nenabled = false\n",
		"bad mode":         "[brokers.kite]\nenabled = true\n[[subscriptions]]\nsymbol = \"A\"\nexchange = \"NSE\"\nmode = \"TRADES\"\n",
		"disabled broker":  "[brokers.kite]\nenabled = true\n[[subscriptions]]\nbroker = \"fyers\"\nsymbol = \"A\"\nexchange = \"NSE\"\n",
		"postgres dsn":     "[brokers.kite]\nenabled = true\n[storage.postgres]\nenabled = true\n",
		"kafka brokers":    "[brokers.kite]\nenabled = true\n[bridge.kafka]\nenabled = true\n",
		"symbol token":     "[brokers.kite]\nenabled = true\n[[symbols]]\nbroker = \"kite\"\nsymbol = \"A\"\nexchange = \"NSE\"\n",
		"retry multiplier": "[brokers.kite]\nenabled = true\n[retry]\nmultiplier = 0.5\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(data)
			assert.Error(t, err)
		})
	}
}

func TestLoadShippedConfig(t *testing.T) {
	path := filepath.Join("..", "..", "..", "configs", "config.toml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("configs/config.toml not found")
	}
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.EnabledBrokers())
}
