package storage

import (
	"context"
	"strings"
	"sync"

	"mdstream/internal/application/port"
	"mdstream/internal/domain/model"
)

// SymbolEntry 一条静态符号映射（来自配置 [[symbols]]）
type SymbolEntry struct {
	Venue         string
	Symbol        string
	Exchange      string
	Token         string
	VenueExchange string
}

// Static is an in-memory symbol table keyed by venue and (symbol, exchange).
type Static struct {
	mu      sync.RWMutex
	entries map[string]map[string]model.Instrument
}

func NewStatic(entries ...SymbolEntry) *Static {
	s := &Static{entries: make(map[string]map[string]model.Instrument)}
	for _, e := range entries {
		s.Add(e)
	}
	return s
}

func (s *Static) Add(e SymbolEntry) {
	venue := strings.ToLower(strings.TrimSpace(e.Venue))
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.entries[venue]
	if m == nil {
		m = make(map[string]model.Instrument)
		s.entries[venue] = m
	}
	m[model.PairKey(e.Symbol, e.Exchange)] = model.Instrument{Token: e.Token, VenueExchange: e.VenueExchange}
}

func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.entries {
		n += len(m)
	}
	return n
}

func (s *Static) ForVenue(venue string) port.SymbolResolver {
	return staticVenue{s: s, venue: strings.ToLower(venue)}
}

type staticVenue struct {
	s     *Static
	venue string
}

func (v staticVenue) Resolve(_ context.Context, symbol, exchange string) (model.Instrument, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if inst, ok := v.s.entries[v.venue][model.PairKey(symbol, exchange)]; ok {
		return inst, nil
	}
	return model.Instrument{}, port.ErrSymbolNotFound
}

// Memory keeps the latest payload per topic in process. Used when no external store is
// configured and by tests.
type Memory struct {
	mu     sync.RWMutex
	latest map[string]Latest
}

type Latest struct {
	Payload []byte
	Ts      int64
}

func NewMemory() *Memory {
	return &Memory{latest: make(map[string]Latest)}
}

func (m *Memory) UpsertLatest(_ context.Context, topic string, payload []byte, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// 乱序到达的旧值不覆盖新值
	if cur, ok := m.latest[topic]; ok && cur.Ts > ts {
		return nil
	}
	m.latest[topic] = Latest{Payload: append([]byte(nil), payload...), Ts: ts}
	return nil
}

func (m *Memory) Get(topic string) (Latest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.latest[topic]
	return l, ok
}

func (m *Memory) Close() error { return nil }

var (
	_ port.VenueResolver = (*Static)(nil)
	_ port.Repository    = (*Memory)(nil)
)
