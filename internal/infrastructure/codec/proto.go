package codec

import (
	"fmt"
	"math"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
)

// Value is one occurrence of a field on the wire.
type Value struct {
	Type  protowire.Type
	Num   uint64 // varint, fixed32 and fixed64 payloads
	Bytes []byte // length-delimited payload
}

// Message is a schema-less view of a protobuf message: field number → values in wire
// order. Nested messages stay as bytes until asked for.
type Message struct {
	fields map[protowire.Number][]Value
}

// DecodeMessage walks the tags of b. Groups are skipped.
func DecodeMessage(b []byte) (*Message, error) {
	m := &Message{fields: make(map[protowire.Number][]Value)}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		var v Value
		v.Type = typ
		switch typ {
		case protowire.VarintType:
			v.Num, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var x uint32
			x, n = protowire.ConsumeFixed32(b)
			v.Num = uint64(x)
		case protowire.Fixed64Type:
			v.Num, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			v.Bytes, n = protowire.ConsumeBytes(b)
		case protowire.StartGroupType:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		default:
			return nil, fmt.Errorf("field %d: unsupported wire type %d", num, typ)
		}
		if n < 0 {
			return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		m.fields[num] = append(m.fields[num], v)
	}
	return m, nil
}

func (m *Message) Has(num protowire.Number) bool {
	return m != nil && len(m.fields[num]) > 0
}

// last 标量字段以最后一次出现为准
func (m *Message) last(num protowire.Number) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	vs := m.fields[num]
	if len(vs) == 0 {
		return Value{}, false
	}
	return vs[len(vs)-1], true
}

func (m *Message) Uint(num protowire.Number) (uint64, bool) {
	v, ok := m.last(num)
	if !ok || v.Type != protowire.VarintType {
		return 0, false
	}
	return v.Num, true
}

// Int reads an int32/int64 varint field.
func (m *Message) Int(num protowire.Number) (int64, bool) {
	u, ok := m.Uint(num)
	return int64(u), ok
}

// Sint reads a zigzag-encoded sint32/sint64 field.
func (m *Message) Sint(num protowire.Number) (int64, bool) {
	u, ok := m.Uint(num)
	return protowire.DecodeZigZag(u), ok
}

func (m *Message) Bool(num protowire.Number) (bool, bool) {
	u, ok := m.Uint(num)
	return protowire.DecodeBool(u), ok
}

func (m *Message) Double(num protowire.Number) (float64, bool) {
	v, ok := m.last(num)
	if !ok || v.Type != protowire.Fixed64Type {
		return 0, false
	}
	return math.Float64frombits(v.Num), true
}

func (m *Message) Float(num protowire.Number) (float32, bool) {
	v, ok := m.last(num)
	if !ok || v.Type != protowire.Fixed32Type {
		return 0, false
	}
	return math.Float32frombits(uint32(v.Num)), true
}

func (m *Message) Bytes(num protowire.Number) ([]byte, bool) {
	v, ok := m.last(num)
	if !ok || v.Type != protowire.BytesType {
		return nil, false
	}
	return v.Bytes, true
}

func (m *Message) String(num protowire.Number) (string, bool) {
	b, ok := m.Bytes(num)
	return string(b), ok
}

// Message decodes the last occurrence of a nested message field.
func (m *Message) Message(num protowire.Number) (*Message, bool, error) {
	b, ok := m.Bytes(num)
	if !ok {
		return nil, false, nil
	}
	sub, err := DecodeMessage(b)
	if err != nil {
		return nil, true, fmt.Errorf("field %d: %w", num, err)
	}
	return sub, true, nil
}

// Messages decodes every occurrence of a repeated message field.
func (m *Message) Messages(num protowire.Number) ([]*Message, error) {
	if m == nil {
		return nil, nil
	}
	vs := m.fields[num]
	out := make([]*Message, 0, len(vs))
	for i, v := range vs {
		if v.Type != protowire.BytesType {
			continue
		}
		sub, err := DecodeMessage(v.Bytes)
		if err != nil {
			return out, fmt.Errorf("field %d[%d]: %w", num, i, err)
		}
		out = append(out, sub)
	}
	return out, nil
}

// StringMap decodes a map<string, Message> field (entries of key=1, value=2).
func (m *Message) StringMap(num protowire.Number) (map[string]*Message, error) {
	entries, err := m.Messages(num)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Message, len(entries))
	for _, e := range entries {
		key, _ := e.String(1)
		val, _, err := e.Message(2)
		if err != nil {
			return out, fmt.Errorf("map entry %q: %w", key, err)
		}
		if val == nil {
			val = &Message{fields: map[protowire.Number][]Value{}}
		}
		out[key] = val
	}
	return out, nil
}

func (m *Message) hasAny(nums []protowire.Number) bool {
	for _, n := range nums {
		if m.Has(n) {
			return true
		}
	}
	return false
}

func (m *Message) clone() *Message {
	c := &Message{fields: make(map[protowire.Number][]Value, len(m.fields))}
	for n, vs := range m.fields {
		c.fields[n] = append([]Value(nil), vs...)
	}
	return c
}

// Merger keeps cumulative per-key message state for feeds that send one full snapshot
// followed by partial updates: a snapshot replaces the state, an update replaces only
// the fields it carries. Fields of a oneof group clear their siblings.
type Merger struct {
	mu     sync.Mutex
	state  map[string]*Message
	oneofs [][]protowire.Number
}

func NewMerger(oneofs ...[]protowire.Number) *Merger {
	return &Merger{state: make(map[string]*Message), oneofs: oneofs}
}

func (g *Merger) Snapshot(key string, m *Message) *Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state[key] = m.clone()
	return m
}

// Update patches the state of key and returns the merged message. Without a prior
// snapshot the update becomes the state.
func (g *Merger) Update(key string, m *Message) *Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	cur := g.state[key]
	if cur == nil {
		cur = &Message{fields: make(map[protowire.Number][]Value)}
	}
	for _, group := range g.oneofs {
		if m.hasAny(group) {
			for _, n := range group {
				delete(cur.fields, n)
			}
		}
	}
	for n, vs := range m.fields {
		cur.fields[n] = append([]Value(nil), vs...)
	}
	g.state[key] = cur
	return cur.clone()
}

func (g *Merger) Forget(key string) {
	g.mu.Lock()
	delete(g.state, key)
	g.mu.Unlock()
}

func (g *Merger) Reset() {
	g.mu.Lock()
	g.state = make(map[string]*Message)
	g.mu.Unlock()
}
