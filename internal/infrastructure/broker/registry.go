package broker

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"mdstream/internal/application/port"
	"mdstream/internal/infrastructure/stream"
)

// Options 构造适配器所需的依赖，由 websocket.Manager 从配置组装
type Options struct {
	WSURL              string
	Resolver           port.SymbolResolver
	Publisher          port.Publisher
	Retry              stream.RetryPolicy
	PingInterval       time.Duration
	DisconnectWhenIdle bool
	// Depth overrides the venue's built-in depth support, keyed by venue exchange.
	Depth map[string][]int
}

// Factory builds an uninitialized adapter.
type Factory func(opts Options) port.Adapter

// registry maps venue names to adapter factories
var registry = make(map[string]Factory)

// Register 注册券商适配器工厂，由各券商包的 init() 调用
func Register(venue string, factory Factory) {
	if factory == nil {
		log.Warn().Str("venue", venue).Msg("invalid adapter factory")
		return
	}
	if _, exists := registry[venue]; exists {
		log.Warn().Str("venue", venue).Msg("adapter factory already registered, overwriting")
	}
	registry[venue] = factory
	log.Debug().Str("venue", venue).Msg("adapter factory registered")
}

// Get 获取已注册的适配器工厂
func Get(venue string) (Factory, bool) {
	factory, ok := registry[venue]
	return factory, ok
}

// Names lists the registered venues, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DepthOr returns the configured depth support when set, otherwise def.
func (o Options) DepthOr(def map[string][]int) map[string][]int {
	if len(o.Depth) > 0 {
		return o.Depth
	}
	return def
}
