package stream

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"mdstream/internal/domain/model"
)

// Wire 由各券商实现，把频道订阅翻译成上游帧。
// 每个元素代表一个不同的频道；支持批量的协议可以合并成一帧发送。
type Wire interface {
	SubscribeChannels(subs []model.Subscription) error
	UnsubscribeChannels(subs []model.Subscription) error
}

// AddResult describes what Registry.Add did.
type AddResult struct {
	Duplicate  bool // same (symbol, exchange, mode) on the same channel already registered
	Replaced   bool // same key moved to another channel (e.g. new depth level)
	NewChannel bool // first subscriber of the channel
	Sent       bool // upstream subscribe frame emitted now (false = buffered until next connect)
}

// RemoveResult describes what Registry.Remove did.
type RemoveResult struct {
	NotFound  bool
	Sent      bool // upstream unsubscribe emitted
	PairEmpty bool // no mode left for (symbol, exchange)
	Empty     bool // registry has no entries left
}

// Registry tracks local subscriptions and keeps the set of upstream channel
// subscriptions minimal: one upstream subscribe per channel with at least one entry.
type Registry struct {
	mu          sync.Mutex
	entries     map[string]model.Subscription  // sub key -> sub
	channels    map[string]map[string]struct{} // channel -> sub keys
	instruments map[string]map[string]struct{} // venueExchange|token -> sub keys
	live        map[string]struct{}            // channels subscribed on the current connection
	online      bool
}

func NewRegistry() *Registry {
	return &Registry{
		entries:     make(map[string]model.Subscription),
		channels:    make(map[string]map[string]struct{}),
		instruments: make(map[string]map[string]struct{}),
		live:        make(map[string]struct{}),
	}
}

// Add registers sub. The first subscriber of a channel triggers an upstream subscribe
// when online; offline requests are kept and replayed by ResubscribeAll.
// On a wire error the registry is left unchanged.
func (r *Registry) Add(sub model.Subscription, w Wire) (AddResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res AddResult
	key := sub.Key()
	old, exists := r.entries[key]
	if exists && old.ChannelID == sub.ChannelID {
		res.Duplicate = true
		// 同频道只更新深度档位，保留原 correlation id
		sub.CorrelationID = old.CorrelationID
		r.entries[key] = sub
		return res, nil
	}

	if len(r.channels[sub.ChannelID]) == 0 {
		res.NewChannel = true
		if r.online {
			if err := w.SubscribeChannels([]model.Subscription{sub}); err != nil {
				return AddResult{}, model.NewError(model.CodeSubscriptionError, "upstream subscribe failed", err)
			}
			r.live[sub.ChannelID] = struct{}{}
			res.Sent = true
		}
	}

	if exists {
		res.Replaced = true
		r.release(old, w)
	}
	r.index(sub)
	return res, nil
}

// release 移除 old（替换场景），若其频道已无订阅则退订上游。
// 替换不可回滚，退订失败只记录日志；下一次重连会自然修正
func (r *Registry) release(old model.Subscription, w Wire) {
	key := old.Key()
	r.unindex(old)
	if len(r.channels[old.ChannelID]) > 0 {
		return
	}
	if _, ok := r.live[old.ChannelID]; ok && r.online {
		if err := w.UnsubscribeChannels([]model.Subscription{old}); err != nil {
			log.Warn().Str("channel", old.ChannelID).Str("key", key).Err(err).Msg("upstream unsubscribe of replaced channel failed")
		}
	}
	delete(r.live, old.ChannelID)
}

// Remove drops the (symbol, exchange, mode) entry. An upstream unsubscribe is emitted
// only when no other entry still shares the channel.
func (r *Registry) Remove(symbol, exchange string, mode model.Mode, w Wire) (RemoveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res RemoveResult
	sub, ok := r.entries[model.SubKey(symbol, exchange, mode)]
	if !ok {
		res.NotFound = true
		res.Empty = len(r.entries) == 0
		return res, nil
	}

	if len(r.channels[sub.ChannelID]) == 1 {
		if _, live := r.live[sub.ChannelID]; live && r.online {
			if err := w.UnsubscribeChannels([]model.Subscription{sub}); err != nil {
				return RemoveResult{}, model.NewError(model.CodeUnsubscriptionError, "upstream unsubscribe failed", err)
			}
			res.Sent = true
		}
		delete(r.live, sub.ChannelID)
	}
	r.unindex(sub)

	res.PairEmpty = !r.hasPairLocked(sub.Pair())
	res.Empty = len(r.entries) == 0
	return res, nil
}

// ResubscribeAll marks the registry online and replays one subscribe per channel.
// Called exactly once per successful (re)connect.
func (r *Registry) ResubscribeAll(w Wire) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.online = true
	r.live = make(map[string]struct{}, len(r.channels))

	reps := r.representativesLocked()
	if len(reps) == 0 {
		return 0, nil
	}
	if err := w.SubscribeChannels(reps); err != nil {
		r.online = false
		return 0, err
	}
	for _, s := range reps {
		r.live[s.ChannelID] = struct{}{}
	}
	return len(reps), nil
}

// MarkOffline is called when the connection drops; nothing is live upstream any more.
func (r *Registry) MarkOffline() {
	r.mu.Lock()
	r.online = false
	r.live = make(map[string]struct{})
	r.mu.Unlock()
}

// Clear 清空所有订阅（Disconnect 时调用）
func (r *Registry) Clear() {
	r.mu.Lock()
	r.entries = make(map[string]model.Subscription)
	r.channels = make(map[string]map[string]struct{})
	r.instruments = make(map[string]map[string]struct{})
	r.live = make(map[string]struct{})
	r.online = false
	r.mu.Unlock()
}

// Lookup returns the subscriptions riding on a venue instrument, ordered by mode.
func (r *Registry) Lookup(venueExchange, token string) []model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.instruments[model.InstrumentKey(venueExchange, token)]
	out := make([]model.Subscription, 0, len(keys))
	for k := range keys {
		out = append(out, r.entries[k])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mode < out[j].Mode })
	return out
}

func (r *Registry) Get(symbol, exchange string, mode model.Mode) (model.Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[model.SubKey(symbol, exchange, mode)]
	return s, ok
}

// List returns all entries sorted by key.
func (r *Registry) List() []model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Subscription, 0, len(r.entries))
	for _, s := range r.entries {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// LiveChannels 当前连接上已向上游订阅的频道（排序）
func (r *Registry) LiveChannels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.live))
	for ch := range r.live {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// HasPair reports whether any mode of (symbol, exchange) is still registered.
func (r *Registry) HasPair(symbol, exchange string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasPairLocked(model.PairKey(symbol, exchange))
}

// representativesLocked picks one subscription per channel, the highest mode wins.
func (r *Registry) representativesLocked() []model.Subscription {
	chans := make([]string, 0, len(r.channels))
	for ch := range r.channels {
		chans = append(chans, ch)
	}
	sort.Strings(chans)

	out := make([]model.Subscription, 0, len(chans))
	for _, ch := range chans {
		var rep model.Subscription
		first := true
		for k := range r.channels[ch] {
			s := r.entries[k]
			if first || s.Mode > rep.Mode || (s.Mode == rep.Mode && s.Key() < rep.Key()) {
				rep, first = s, false
			}
		}
		out = append(out, rep)
	}
	return out
}

func (r *Registry) hasPairLocked(pair string) bool {
	for _, s := range r.entries {
		if s.Pair() == pair {
			return true
		}
	}
	return false
}

func (r *Registry) index(s model.Subscription) {
	key := s.Key()
	r.entries[key] = s
	addKey(r.channels, s.ChannelID, key)
	addKey(r.instruments, model.InstrumentKey(s.VenueExchange, s.Token), key)
}

func (r *Registry) unindex(s model.Subscription) {
	key := s.Key()
	delete(r.entries, key)
	delKey(r.channels, s.ChannelID, key)
	delKey(r.instruments, model.InstrumentKey(s.VenueExchange, s.Token), key)
}

func addKey(m map[string]map[string]struct{}, bucket, key string) {
	set := m[bucket]
	if set == nil {
		set = make(map[string]struct{})
		m[bucket] = set
	}
	set[key] = struct{}{}
}

func delKey(m map[string]map[string]struct{}, bucket, key string) {
	set := m[bucket]
	if set == nil {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(m, bucket)
	}
}
