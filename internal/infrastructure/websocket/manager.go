package websocket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"mdstream/internal/application/port"
	"mdstream/internal/domain/model"
	"mdstream/internal/infrastructure/broker"
	"mdstream/internal/infrastructure/config"
)

// ErrNoAdapters 所有券商都初始化失败
var ErrNoAdapters = errors.New("no adapter initialized")

// RetryConfig 适配器初始化重试配置
type RetryConfig struct {
	MaxRetries int           // 最大重试次数
	InitialDel time.Duration // 初始延迟
	MaxDelay   time.Duration // 最大延迟
}

// DefaultRetryConfig 默认重试配置
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	InitialDel: 1 * time.Second,
	MaxDelay:   10 * time.Second,
}

// Manager 统一管理所有券商的行情适配器
type Manager struct {
	resolver    port.VenueResolver
	publisher   port.Publisher
	adapters    map[string]port.Adapter
	retryConfig RetryConfig
	// auth 显式凭证（测试或上层注入）；为空时从环境变量读取
	auth map[string]*model.AuthData
}

func NewManager(resolver port.VenueResolver, publisher port.Publisher) *Manager {
	return &Manager{
		resolver:    resolver,
		publisher:   publisher,
		adapters:    make(map[string]port.Adapter),
		retryConfig: DefaultRetryConfig,
		auth:        make(map[string]*model.AuthData),
	}
}

// SetRetryConfig 设置重试配置
func (m *Manager) SetRetryConfig(cfg RetryConfig) {
	m.retryConfig = cfg
}

// SetAuth 为某个券商注入显式凭证
func (m *Manager) SetAuth(venue string, auth *model.AuthData) {
	m.auth[strings.ToLower(venue)] = auth
}

// Initialize 构建并初始化所有已启用券商的适配器
// 单个券商失败时继续初始化其他券商（非关键性失败）
func (m *Manager) Initialize(ctx context.Context, cfg *config.Config) error {
	enabled := cfg.EnabledBrokers()
	var failed []string

	for _, name := range enabled {
		bcfg := cfg.Brokers[name]
		factory, ok := broker.Get(name)
		if !ok {
			log.Error().Str("venue", name).Strs("registered", broker.Names()).Msg("adapter factory not registered")
			failed = append(failed, name)
			continue
		}
		adapter := factory(broker.Options{
			WSURL:              bcfg.WsURL,
			Resolver:           m.resolver.ForVenue(name),
			Publisher:          m.publisher,
			Retry:              cfg.RetryFor(name),
			PingInterval:       time.Duration(bcfg.PingIntervalSec) * time.Second,
			DisconnectWhenIdle: cfg.App.DisconnectWhenIdle,
			Depth:              bcfg.Depth,
		})
		if err := m.initializeWithRetry(ctx, adapter, bcfg.UserID); err != nil {
			log.Error().Err(err).Str("venue", name).Msg("failed to initialize adapter after retries")
			failed = append(failed, name)
			continue
		}
		m.adapters[name] = adapter
	}

	if len(m.adapters) == 0 {
		return fmt.Errorf("%w: %v", ErrNoAdapters, failed)
	}
	if len(failed) > 0 {
		log.Warn().Strs("failed_venues", failed).Msg("some adapters failed to initialize, but others succeeded")
	}
	return nil
}

// initializeWithRetry 带重试的初始化
func (m *Manager) initializeWithRetry(ctx context.Context, adapter port.Adapter, userID string) error {
	var lastErr error
	delay := m.retryConfig.InitialDel

	for attempt := 0; attempt <= m.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Info().
				Str("venue", adapter.Name()).
				Int("attempt", attempt).
				Int64("delay_ms", delay.Milliseconds()).
				Msg("retrying adapter initialization")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// 指数退避：每次重试延迟翻倍，但不超过最大延迟
			delay = delay * 2
			if delay > m.retryConfig.MaxDelay {
				delay = m.retryConfig.MaxDelay
			}
		}

		if err := adapter.Initialize(ctx, userID, m.auth[adapter.Name()]); err != nil {
			lastErr = err
			continue
		}
		log.Info().Str("venue", adapter.Name()).Msg("✓ adapter initialized")
		return nil
	}

	return fmt.Errorf("failed to initialize %s after %d retries: %w",
		adapter.Name(), m.retryConfig.MaxRetries, lastErr)
}

// Add registers an already initialized adapter.
func (m *Manager) Add(adapter port.Adapter) {
	m.adapters[adapter.Name()] = adapter
}

// ConnectAll starts every adapter's connection loop.
func (m *Manager) ConnectAll(ctx context.Context) error {
	var errs []error
	for _, name := range m.Names() {
		if err := m.adapters[name].Connect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ApplySubscriptions subscribes the configured instruments. Failures are logged per
// subscription and returned joined.
func (m *Manager) ApplySubscriptions(subs []config.Subscription) error {
	var errs []error
	for _, name := range m.Names() {
		adapter := m.adapters[name]
		for _, s := range subs {
			if s.Broker != "" && s.Broker != name {
				continue
			}
			mode, err := model.ParseMode(s.Mode)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			res, err := adapter.Subscribe(s.Symbol, s.Exchange, mode, s.Depth)
			if err != nil {
				log.Warn().Err(err).
					Str("venue", name).
					Str("symbol", s.Symbol).
					Str("exchange", s.Exchange).
					Str("code", string(model.CodeOf(err))).
					Msg("subscribe failed")
				errs = append(errs, fmt.Errorf("%s %s/%s: %w", name, s.Symbol, s.Exchange, err))
				continue
			}
			ev := log.Info().Str("venue", name).Str("topic", res.Topic).Str("correlation_id", res.CorrelationID)
			if res.IsFallback {
				ev = ev.Int("requested_depth", res.RequestedDepth).Int("actual_depth", res.ActualDepth)
			}
			ev.Msg("subscribed")
		}
	}
	return errors.Join(errs...)
}

// DisconnectAll 断开所有适配器
func (m *Manager) DisconnectAll() {
	for _, name := range m.Names() {
		if err := m.adapters[name].Disconnect(); err != nil {
			log.Warn().Err(err).Str("venue", name).Msg("disconnect failed")
		}
	}
}

// Get 获取指定券商的适配器
func (m *Manager) Get(venue string) (port.Adapter, bool) {
	a, ok := m.adapters[strings.ToLower(venue)]
	return a, ok
}

// Names 已初始化的券商，排序后返回
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Adapters 已初始化的适配器，按名称排序
func (m *Manager) Adapters() []port.Adapter {
	out := make([]port.Adapter, 0, len(m.adapters))
	for _, name := range m.Names() {
		out = append(out, m.adapters[name])
	}
	return out
}
