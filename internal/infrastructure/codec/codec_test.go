package codec

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

type frameBuilder struct{ b []byte }

func newFrame(typ byte, count int) *frameBuilder {
	f := &frameBuilder{b: []byte{typ}}
	return f.u16(uint16(count))
}

func (f *frameBuilder) u8(v uint8) *frameBuilder { f.b = append(f.b, v); return f }
func (f *frameBuilder) u16(v uint16) *frameBuilder {
	f.b = binary.BigEndian.AppendUint16(f.b, v)
	return f
}
func (f *frameBuilder) i32(v int32) *frameBuilder {
	f.b = binary.BigEndian.AppendUint32(f.b, uint32(v))
	return f
}
func (f *frameBuilder) str(s string) *frameBuilder {
	f.b = append(f.u8(uint8(len(s))).b, s...)
	return f
}

func TestFieldBookUpdateKeepsUnlistedFields(t *testing.T) {
	book := NewFieldBook()

	snap := newFrame(FrameSnapshot, 1).u16(7).str("sf|nse_cm|2885").u8(3).i32(250050).i32(1200).i32(99)
	recs, err := book.Apply(snap.b)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Snapshot)
	assert.Equal(t, "sf|nse_cm|2885", recs[0].Name)
	assert.Equal(t, []int32{250050, 1200, 99}, recs[0].Fields)

	// update touches field 0 only
	upd := newFrame(FrameUpdate, 1).u16(7).u8(1).u8(0).i32(250100)
	recs, err = book.Apply(upd.b)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Snapshot)
	assert.Equal(t, []int{0}, recs[0].Changed)
	assert.Equal(t, []int32{250100, 1200, 99}, recs[0].Fields)

	v, ok := book.Field(7, 1)
	require.True(t, ok)
	assert.Equal(t, int32(1200), v)
}

func TestFieldBookSkipsUnknownTopicAndBadIndex(t *testing.T) {
	book := NewFieldBook()
	_, err := book.Apply(newFrame(FrameSnapshot, 1).u16(1).str("a").u8(2).i32(10).i32(20).b)
	require.NoError(t, err)

	upd := newFrame(FrameUpdate, 2).
		u16(99).u8(1).u8(0).i32(5). // unknown topic
		u16(1).u8(2).u8(9).i32(7).u8(1).i32(21)
	recs, err := book.Apply(upd.b)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []int32{10, 21}, recs[0].Fields)
	assert.Equal(t, []int{1}, recs[0].Changed)
}

func TestFieldBookTruncatedFrame(t *testing.T) {
	book := NewFieldBook()
	frame := newFrame(FrameSnapshot, 2).
		u16(1).str("a").u8(1).i32(10).
		u16(2).str("b").u8(2).i32(5).b // second value missing
	recs, err := book.Apply(frame)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTruncated))
	assert.Len(t, recs, 1)
	assert.Equal(t, 1, book.Len())

	_, err = book.Apply([]byte{'X', 0, 0})
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestFieldBookTruncatedUpdateLeavesState(t *testing.T) {
	book := NewFieldBook()
	_, err := book.Apply(newFrame(FrameSnapshot, 1).u16(7).str("sf|nse_cm|2885").u8(3).i32(10).i32(20).i32(30).b)
	require.NoError(t, err)

	// two pairs announced, the second value is cut short
	upd := newFrame(FrameUpdate, 1).u16(7).u8(2).u8(0).i32(99).u8(1)
	upd.b = append(upd.b, 0, 0)
	recs, err := book.Apply(upd.b)
	require.ErrorIs(t, err, ErrTruncated)
	assert.Empty(t, recs)

	for i, want := range []int32{10, 20, 30} {
		v, ok := book.Field(7, i)
		require.True(t, ok)
		assert.Equal(t, want, v, "field %d", i)
	}

	// the next valid update only carries its own change
	recs, err = book.Apply(newFrame(FrameUpdate, 1).u16(7).u8(1).u8(2).i32(31).b)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []int32{10, 20, 31}, recs[0].Fields)
}

func TestFieldsNumericStrings(t *testing.T) {
	f, err := ParseFields([]byte(`{"ltp":"2500.50","high":2550,"vol":"1200","name":"RELIANCE","extra":{"a":1}}`))
	require.NoError(t, err)

	ltp, ok := f.Float("ltp")
	require.True(t, ok)
	assert.Equal(t, 2500.5, ltp)

	high, ok := f.Float("high")
	require.True(t, ok)
	assert.Equal(t, 2550.0, high)

	vol, ok := f.Int("vol")
	require.True(t, ok)
	assert.Equal(t, int64(1200), vol)

	_, ok = f.Float("low")
	assert.False(t, ok)
	_, ok = f.Float("name")
	assert.False(t, ok)

	sub, ok := f.Object("extra")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": int64(1)}, sub.Map())

	_, err = ParseFields([]byte(`[1,2]`))
	assert.Error(t, err)
}

func TestDecodeMessage(t *testing.T) {
	var inner []byte
	inner = protowire.AppendTag(inner, 1, protowire.Fixed64Type)
	inner = protowire.AppendFixed64(inner, math.Float64bits(2500.3))
	inner = protowire.AppendTag(inner, 2, protowire.VarintType)
	inner = protowire.AppendVarint(inner, 1700000000000)

	var entry []byte
	entry = protowire.AppendTag(entry, 1, protowire.BytesType)
	entry = protowire.AppendString(entry, "NSE_EQ|INE002A01018")
	entry = protowire.AppendTag(entry, 2, protowire.BytesType)
	entry = protowire.AppendBytes(entry, inner)

	var msg []byte
	msg = protowire.AppendTag(msg, 1, protowire.VarintType)
	msg = protowire.AppendVarint(msg, 1)
	msg = protowire.AppendTag(msg, 2, protowire.BytesType)
	msg = protowire.AppendBytes(msg, entry)
	msg = protowire.AppendTag(msg, 3, protowire.VarintType)
	msg = protowire.AppendVarint(msg, protowire.EncodeZigZag(-42))

	m, err := DecodeMessage(msg)
	require.NoError(t, err)

	typ, ok := m.Int(1)
	require.True(t, ok)
	assert.Equal(t, int64(1), typ)

	s, ok := m.Sint(3)
	require.True(t, ok)
	assert.Equal(t, int64(-42), s)

	feeds, err := m.StringMap(2)
	require.NoError(t, err)
	require.Contains(t, feeds, "NSE_EQ|INE002A01018")
	f := feeds["NSE_EQ|INE002A01018"]
	ltp, ok := f.Double(1)
	require.True(t, ok)
	assert.InDelta(t, 2500.3, ltp, 1e-9)
	ts, _ := f.Int(2)
	assert.Equal(t, int64(1700000000000), ts)

	_, err = DecodeMessage([]byte{0x0a, 0x05, 0x01})
	assert.Error(t, err)
}

func TestMergerPatchesFields(t *testing.T) {
	build := func(pairs ...uint64) *Message {
		var b []byte
		for i := 0; i+1 < len(pairs); i += 2 {
			b = protowire.AppendTag(b, protowire.Number(pairs[i]), protowire.VarintType)
			b = protowire.AppendVarint(b, pairs[i+1])
		}
		m, err := DecodeMessage(b)
		require.NoError(t, err)
		return m
	}

	g := NewMerger()
	g.Snapshot("k", build(1, 100, 2, 7))
	merged := g.Update("k", build(1, 101))
	v1, _ := merged.Uint(1)
	v2, _ := merged.Uint(2)
	assert.Equal(t, uint64(101), v1)
	assert.Equal(t, uint64(7), v2)

	g.Snapshot("k", build(1, 5))
	merged = g.Update("k", build(3, 1))
	assert.False(t, merged.Has(2), "snapshot replaces state")
	assert.True(t, merged.Has(1))

	oneof := NewMerger([]protowire.Number{1, 2})
	oneof.Snapshot("k", build(2, 9, 4, 1))
	merged = oneof.Update("k", build(1, 3))
	assert.False(t, merged.Has(2), "oneof sibling cleared")
	assert.True(t, merged.Has(4))
}
