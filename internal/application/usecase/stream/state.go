package stream

import (
	"sort"
	"sync"

	"mdstream/internal/application/port"
)

type Dir int

const (
	DirSame Dir = 0
	DirUp   Dir = +1
	DirDown Dir = -1
)

type pxState struct {
	ltp  float64
	dir  Dir
	seen bool
}

type topicState struct {
	px      pxState
	payload map[string]any
}

// State 每个 topic 的最新事件和 LTP 方向
type State struct {
	mu     sync.Mutex
	topics map[string]*topicState
	order  []string
}

func NewState() *State {
	return &State{topics: make(map[string]*topicState)}
}

// Topics 按字典序返回已见过的行情 topic
func (s *State) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Apply 记录一条行情事件，返回 LTP 是否变化
func (s *State) Apply(msg port.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.topics[msg.Topic]
	if st == nil {
		st = &topicState{}
		s.topics[msg.Topic] = st
		i := sort.SearchStrings(s.order, msg.Topic)
		s.order = append(s.order, "")
		copy(s.order[i+1:], s.order[i:])
		s.order[i] = msg.Topic
	}
	st.payload = msg.Payload

	ltp, ok := number(msg.Payload["ltp"])
	if !ok || ltp == 0 {
		return false
	}
	prev := st.px
	st.px.seen = true
	st.px.ltp = ltp
	switch {
	case !prev.seen:
		st.px.dir = DirSame
		return true
	case ltp > prev.ltp:
		st.px.dir = DirUp
	case ltp < prev.ltp:
		st.px.dir = DirDown
	default:
		st.px.dir = DirSame
		return false
	}
	return true
}

type snapshot struct {
	ltp  float64
	dir  Dir
	seen bool
	mode int
}

func (s *State) Snapshot() map[string]snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]snapshot, len(s.topics))
	for k, v := range s.topics {
		mode, _ := number(v.payload["mode"])
		out[k] = snapshot{ltp: v.px.ltp, dir: v.px.dir, seen: v.px.seen, mode: int(mode)}
	}
	return out
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
