package svc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"mdstream/internal/application/port"
	"mdstream/internal/application/usecase/stream"
	"mdstream/internal/infrastructure/bus"
	"mdstream/internal/infrastructure/config"
	"mdstream/internal/infrastructure/container"
	"mdstream/internal/infrastructure/websocket"
	"mdstream/internal/interfaces/console"
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层（第一层初始化）
	container *container.Container
	bus       *bus.Bus
	wsManager *websocket.Manager

	// 输出端口
	Sink port.Sink

	tap *bus.Subscription

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext
// 这是应用启动的唯一入口点，所有依赖初始化都在这里完成
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	c, err := container.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageInitFailed, err)
	}

	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		container:   c,
		bus:         bus.New(cfg.App.BusBuffer),
		Sink:        nopSink{},
		closerChain: []func() error{c.Close},
	}
	if cfg.Console.Enabled {
		sc.Sink = console.NewSink()
	}
	sc.closerChain = append(sc.closerChain, func() error {
		sc.bus.Close()
		return nil
	})

	sc.wsManager = websocket.NewManager(c.Resolvers(), sc.bus)
	sc.wsManager.SetRetryConfig(websocket.RetryConfig{
		MaxRetries: cfg.App.InitAttempts - 1,
		InitialDel: time.Second,
		MaxDelay:   10 * time.Second,
	})
	if err := sc.wsManager.Initialize(ctx, cfg); err != nil {
		_ = sc.Close()
		if errors.Is(err, websocket.ErrNoAdapters) {
			return nil, fmt.Errorf("%w: %v", ErrNoAdaptersEnabled, err)
		}
		return nil, err
	}
	sc.closerChain = append(sc.closerChain, func() error {
		sc.wsManager.DisconnectAll()
		return nil
	})

	// 先挂上总线监听，再连接，避免丢掉第一批行情
	sc.tap = sc.bus.Subscribe(bus.All)

	log.Info().
		Strs("venues", sc.wsManager.Names()).
		Int("bridges", len(c.Bridges())).
		Msg("✓ All components initialized")
	return sc, nil
}

// Start 连接所有适配器并应用配置中的订阅；订阅失败只记录日志
func (sc *ServiceContext) Start() error {
	if err := sc.wsManager.ConnectAll(sc.Ctx); err != nil {
		return err
	}
	if err := sc.wsManager.ApplySubscriptions(sc.Config.Subscriptions); err != nil {
		log.Warn().Err(err).Msg("some subscriptions failed")
	}
	return nil
}

// BuildStreamServiceDeps 构建 Stream Service 所需的所有依赖
func (sc *ServiceContext) BuildStreamServiceDeps() stream.ServiceDeps {
	return stream.ServiceDeps{
		Events:      sc.tap.C,
		Adapters:    sc.wsManager.Adapters(),
		Sink:        sc.Sink,
		Repo:        sc.container.Latest(),
		RenderEvery: 100 * time.Millisecond,
	}
}

// RunBridges 把总线消息转发到每个外部桥接，直到 ctx 结束
func (sc *ServiceContext) RunBridges(ctx context.Context, g *errgroup.Group) {
	for _, br := range sc.container.Bridges() {
		sub := sc.bus.Subscribe(bus.All)
		br := br
		g.Go(func() error {
			log.Info().Str("bridge", br.Name()).Msg("bridge started")
			err := bus.Pump(ctx, sub, br)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
}

// GetWebSocketManager 获取适配器管理器
func (sc *ServiceContext) GetWebSocketManager() *websocket.Manager {
	return sc.wsManager
}

// Bus 进程内事件总线
func (sc *ServiceContext) Bus() *bus.Bus {
	return sc.bus
}

// Close 关闭 ServiceContext 中的所有资源，按初始化的相反顺序
func (sc *ServiceContext) Close() error {
	var firstErr error
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	sc.closerChain = nil
	return firstErr
}

type nopSink struct{}

func (nopSink) WriteLive(string) error  { return nil }
func (nopSink) WriteEvent(string) error { return nil }
func (nopSink) NewLine() error          { return nil }
