package bus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mdstream/internal/application/port"
	"mdstream/internal/infrastructure/metrics"
)

// All subscribes to every topic.
const All = "*"

const defaultBuffer = 1024

// Bus is the in-process publish/subscribe bus. Publish never blocks: a subscriber whose
// buffer is full loses the message and the drop is counted.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
}

type Subscription struct {
	C     <-chan port.Message
	ch    chan port.Message
	id    uint64
	topic string
	bus   *Bus
	once  sync.Once
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{subs: make(map[string]map[uint64]*Subscription), buffer: buffer}
}

// Subscribe returns a buffered subscription for topic, or for every topic with All.
func (b *Bus) Subscribe(topic string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan port.Message, b.buffer)
	b.nextID++
	s := &Subscription{C: ch, ch: ch, id: b.nextID, topic: topic, bus: b}
	if b.closed {
		close(ch)
		return s
	}
	set := b.subs[topic]
	if set == nil {
		set = make(map[uint64]*Subscription)
		b.subs[topic] = set
	}
	set[s.id] = s
	return s
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		if set := b.subs[s.topic]; set != nil {
			if _, ok := set[s.id]; ok {
				delete(set, s.id)
				if len(set) == 0 {
					delete(b.subs, s.topic)
				}
				close(s.ch)
			}
		}
	})
}

func (s *Subscription) Topic() string { return s.topic }

func (b *Bus) Publish(topic string, payload map[string]any) {
	msg := port.Message{Topic: topic, Payload: payload, Ts: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.deliver(b.subs[topic], msg)
	if topic != All {
		b.deliver(b.subs[All], msg)
	}
}

func (b *Bus) deliver(set map[uint64]*Subscription, msg port.Message) {
	for _, s := range set {
		select {
		case s.ch <- msg:
		default:
			metrics.BusDropped.WithLabelValues(msg.Topic).Inc()
		}
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close closes every subscription; later Publish calls are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for _, s := range set {
			close(s.ch)
		}
	}
	b.subs = make(map[string]map[uint64]*Subscription)
}

// Pump forwards every message of sub to br until ctx ends or sub is closed.
// Forward errors are logged and counted, never fatal.
func Pump(ctx context.Context, sub *Subscription, br port.Bridge) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := br.Forward(msg); err != nil {
				metrics.BridgeErrors.WithLabelValues(br.Name()).Inc()
				log.Warn().Str("bridge", br.Name()).Str("topic", msg.Topic).Err(err).Msg("bridge forward failed")
			}
		}
	}
}
