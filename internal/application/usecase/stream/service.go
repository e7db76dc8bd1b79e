package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"mdstream/internal/application/port"
)

// ErrAllTerminal 所有适配器都已耗尽重连次数
var ErrAllTerminal = errors.New("all adapters terminal")

type ServiceDeps struct {
	// Events is a bus subscription on every topic.
	Events   <-chan port.Message
	Adapters []port.Adapter
	Sink     port.Sink
	Repo     port.Repository
	// RenderEvery 限制覆盖行的刷新频率，0 表示每次变化都刷新
	RenderEvery time.Duration
}

type Service struct {
	deps ServiceDeps
	st   *State
	fmt  *Formatter
}

func NewService(deps ServiceDeps) *Service {
	return &Service{
		deps: deps,
		st:   NewState(),
		fmt:  NewFormatter(true),
	}
}

func (s *Service) State() *State { return s.st }

// Run consumes bus events until ctx ends, the event channel closes, or every adapter
// went terminal.
func (s *Service) Run(ctx context.Context) error {
	fatal := s.watchFatal(ctx)

	var lastRender time.Time
	for {
		select {
		case <-ctx.Done():
			_ = s.deps.Sink.NewLine()
			return ctx.Err()

		case err := <-fatal:
			_ = s.deps.Sink.NewLine()
			return err

		case msg, ok := <-s.deps.Events:
			if !ok {
				_ = s.deps.Sink.NewLine()
				return nil
			}
			s.persist(ctx, msg)

			if !isMarket(msg) {
				_ = s.deps.Sink.WriteEvent(s.fmt.Event(msg.Topic, msg.Payload))
				continue
			}
			if !s.st.Apply(msg) {
				continue
			}
			if s.deps.RenderEvery > 0 && time.Since(lastRender) < s.deps.RenderEvery {
				continue
			}
			lastRender = time.Now()
			_ = s.deps.Sink.WriteLive(s.fmt.Live(s.st))
		}
	}
}

func (s *Service) persist(ctx context.Context, msg port.Message) {
	if s.deps.Repo == nil {
		return
	}
	b, err := json.Marshal(msg.Payload)
	if err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic).Msg("encode payload failed")
		return
	}
	ts := msg.Ts.UnixMilli()
	if v, ok := number(msg.Payload["timestamp"]); ok && v > 0 {
		ts = int64(v)
	}
	if err := s.deps.Repo.UpsertLatest(ctx, msg.Topic, b, ts); err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic).Msg("persist latest failed")
	}
}

// watchFatal 记录每个适配器的致命错误；全部终止时发出 ErrAllTerminal
func (s *Service) watchFatal(ctx context.Context) <-chan error {
	out := make(chan error, 1)
	var chans []<-chan error
	var names []string
	for _, a := range s.deps.Adapters {
		if ch := a.Fatal(); ch != nil {
			chans = append(chans, ch)
			names = append(names, a.Name())
		}
	}
	if len(chans) == 0 {
		return out
	}

	var remaining atomic.Int32
	remaining.Store(int32(len(chans)))
	for i, ch := range chans {
		go func(name string, ch <-chan error) {
			select {
			case <-ctx.Done():
				return
			case err := <-ch:
				log.Error().Err(err).Str("venue", name).Msg("adapter terminal, reconnect budget exhausted")
			}
			if remaining.Add(-1) == 0 {
				out <- ErrAllTerminal
			}
		}(names[i], ch)
	}
	return out
}

// 行情事件带 mode 字段，账户事件没有
func isMarket(msg port.Message) bool {
	_, ok := msg.Payload["mode"]
	return ok
}
