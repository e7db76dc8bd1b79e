package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrTruncated   = errors.New("truncated frame")
	ErrUnknownType = errors.New("unknown frame type")
)

// FrameReader is a big-endian cursor over one binary frame.
type FrameReader struct {
	buf []byte
	off int
}

func NewFrameReader(b []byte) *FrameReader { return &FrameReader{buf: b} }

func (r *FrameReader) Remaining() int { return len(r.buf) - r.off }
func (r *FrameReader) Offset() int    { return r.off }

func (r *FrameReader) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, r.Remaining())
	}
	return nil
}

func (r *FrameReader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *FrameReader) U16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *FrameReader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *FrameReader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

// Bytes returns the next n bytes without copying.
func (r *FrameReader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *FrameReader) Skip(n int) error {
	_, err := r.Bytes(n)
	return err
}

const (
	FrameSnapshot byte = 'S'
	FrameUpdate   byte = 'U'
)

// BookRecord is the state of one topic after a snapshot or update record was applied.
type BookRecord struct {
	Topic    uint16
	Name     string
	Snapshot bool
	Fields   []int32 // full cumulative field array, copied
	Changed  []int   // indices present in this record
}

// FieldBook decodes field-indexed binary frames:
//
//	frame    = type:u8 count:u16 record*count
//	snapshot = topic:u16 nameLen:u8 name fieldCount:u8 value:i32*fieldCount
//	update   = topic:u16 pairs:u8 (index:u8 value:i32)*pairs
//
// A snapshot re-initializes the topic's field array, an update patches the listed
// indices only. State is cumulative across frames until Reset.
type FieldBook struct {
	mu     sync.Mutex
	topics map[uint16]*bookTopic
}

type bookTopic struct {
	name   string
	fields []int32
}

func NewFieldBook() *FieldBook {
	return &FieldBook{topics: make(map[uint16]*bookTopic)}
}

// Apply decodes one frame. Records decoded before a truncation are returned together
// with the error; updates for unknown topics or out-of-range indices are skipped.
func (b *FieldBook) Apply(frame []byte) ([]BookRecord, error) {
	r := NewFrameReader(frame)
	typ, err := r.U8()
	if err != nil {
		return nil, err
	}
	if typ != FrameSnapshot && typ != FrameUpdate {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownType, typ)
	}
	count, err := r.U16()
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]BookRecord, 0, count)
	for i := 0; i < int(count); i++ {
		var (
			rec BookRecord
			ok  bool
		)
		if typ == FrameSnapshot {
			rec, err = b.snapshot(r)
			ok = err == nil
		} else {
			rec, ok, err = b.update(r)
		}
		if err != nil {
			return out, fmt.Errorf("record %d/%d: %w", i+1, count, err)
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (b *FieldBook) snapshot(r *FrameReader) (BookRecord, error) {
	topic, err := r.U16()
	if err != nil {
		return BookRecord{}, err
	}
	nameLen, err := r.U8()
	if err != nil {
		return BookRecord{}, err
	}
	name, err := r.Bytes(int(nameLen))
	if err != nil {
		return BookRecord{}, err
	}
	n, err := r.U8()
	if err != nil {
		return BookRecord{}, err
	}
	fields := make([]int32, n)
	changed := make([]int, n)
	for i := range fields {
		if fields[i], err = r.I32(); err != nil {
			return BookRecord{}, err
		}
		changed[i] = i
	}
	t := &bookTopic{name: string(name), fields: fields}
	b.topics[topic] = t
	return BookRecord{
		Topic:    topic,
		Name:     t.name,
		Snapshot: true,
		Fields:   append([]int32(nil), fields...),
		Changed:  changed,
	}, nil
}

func (b *FieldBook) update(r *FrameReader) (BookRecord, bool, error) {
	topic, err := r.U16()
	if err != nil {
		return BookRecord{}, false, err
	}
	pairs, err := r.U8()
	if err != nil {
		return BookRecord{}, false, err
	}
	t := b.topics[topic]
	if t == nil {
		// consume the record to stay aligned with the rest of the frame
		if err := r.Skip(int(pairs) * 5); err != nil {
			return BookRecord{}, false, err
		}
		log.Debug().Uint16("topic", topic).Msg("update for unknown topic skipped")
		return BookRecord{}, false, nil
	}
	// 整条记录解码完才写入，截断的记录不留半个补丁
	type pair struct {
		idx uint8
		v   int32
	}
	patch := make([]pair, 0, pairs)
	for i := 0; i < int(pairs); i++ {
		idx, err := r.U8()
		if err != nil {
			return BookRecord{}, false, err
		}
		v, err := r.I32()
		if err != nil {
			return BookRecord{}, false, err
		}
		patch = append(patch, pair{idx, v})
	}
	changed := make([]int, 0, len(patch))
	for _, p := range patch {
		if int(p.idx) >= len(t.fields) {
			log.Debug().Uint16("topic", topic).Uint8("index", p.idx).Int("fields", len(t.fields)).Msg("field index out of range")
			continue
		}
		t.fields[p.idx] = p.v
		changed = append(changed, int(p.idx))
	}
	return BookRecord{
		Topic:   topic,
		Name:    t.name,
		Fields:  append([]int32(nil), t.fields...),
		Changed: changed,
	}, true, nil
}

// Field returns one value from the cumulative state of topic.
func (b *FieldBook) Field(topic uint16, idx int) (int32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topics[topic]
	if t == nil || idx < 0 || idx >= len(t.fields) {
		return 0, false
	}
	return t.fields[idx], true
}

func (b *FieldBook) Name(topic uint16) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topics[topic]
	if t == nil {
		return "", false
	}
	return t.name, true
}

// Forget drops one topic, e.g. after its channel was unsubscribed.
func (b *FieldBook) Forget(topic uint16) {
	b.mu.Lock()
	delete(b.topics, topic)
	b.mu.Unlock()
}

// Reset drops all topic state; the venue sends fresh snapshots after a reconnect.
func (b *FieldBook) Reset() {
	b.mu.Lock()
	b.topics = make(map[uint16]*bookTopic)
	b.mu.Unlock()
}

func (b *FieldBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}
