package capnp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudflare/datacore/memarena"
)

func newTestMessage() *Message {
	return NewMessage(memarena.NewHeap())
}

func TestSeedScenarioRootStructSerialize(t *testing.T) {
	mb := NewMessageBuilder(newTestMessage())
	root, err := mb.InitRoot(Layout{DataWords: 1, PointerCount: 0})
	require.NoError(t, err)
	root.SetUint64(0, 0xDEADBEEFCAFEBABE)

	out, err := Serialize(mb.Message())
	require.NoError(t, err)
	require.Len(t, out, 24)
	require.Equal(t, []byte{0, 0, 0, 0}, out[0:4])
	require.Equal(t, []byte{2, 0, 0, 0}, out[4:8])

	ptr := RawPointer(binary.LittleEndian.Uint64(out[8:16]))
	offset, layout, ok := DecodeStructPointer(ptr)
	require.True(t, ok)
	require.Equal(t, int32(0), offset)
	require.Equal(t, Layout{DataWords: 1, PointerCount: 0}, layout)
	require.Equal(t, uint64(0xDEADBEEFCAFEBABE), binary.LittleEndian.Uint64(out[16:24]))
}

func TestRoundTripScalarsTextDataNestedStruct(t *testing.T) {
	mb := NewMessageBuilder(newTestMessage())
	root, err := mb.InitRoot(Layout{DataWords: 2, PointerCount: 3})
	require.NoError(t, err)
	root.SetUint32(0, 42)
	root.SetBool(32, true) // bit 0 of byte 4, disjoint from the uint32 and float64 fields
	root.SetFloat64(8, 3.5)

	require.NoError(t, root.SetText(0, "hello"))
	require.NoError(t, root.SetData(1, []byte{1, 2, 3, 4}))

	child, err := root.InitStruct(2, Layout{DataWords: 1, PointerCount: 0})
	require.NoError(t, err)
	child.SetUint64(0, 777)

	out, err := Serialize(mb.Message())
	require.NoError(t, err)

	mr, err := FromBytes(out, ReadLimits{})
	require.NoError(t, err)
	r, err := mr.Root()
	require.NoError(t, err)

	require.Equal(t, uint32(42), r.Uint32(0, 0))
	require.True(t, r.Bool(32, false))
	require.Equal(t, 3.5, r.Float64(8, 0))

	text, err := r.TextField(0)
	require.NoError(t, err)
	require.Equal(t, "hello", text)

	data, err := r.DataField(1)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, data)

	rc, err := r.StructField(2)
	require.NoError(t, err)
	require.Equal(t, uint64(777), rc.Uint64(0, 0))
}

func TestFrameHeaderSizeRule(t *testing.T) {
	for n := 1; n <= 4; n++ {
		segWords := make([]int32, n)
		h := encodeFrameHeader(segWords)
		want := 4 * (1 + n)
		if want%8 != 0 {
			want += 4
		}
		require.Len(t, h, want)
	}
}

func TestZeroSizedRootEncodesOffsetMinusOne(t *testing.T) {
	mb := NewMessageBuilder(newTestMessage())
	_, err := mb.InitRoot(Layout{})
	require.NoError(t, err)

	out, err := Serialize(mb.Message())
	require.NoError(t, err)
	require.Len(t, out, 8+8) // header + single root pointer word

	ptr := RawPointer(binary.LittleEndian.Uint64(out[8:16]))
	offset, layout, ok := DecodeStructPointer(ptr)
	require.True(t, ok)
	require.Equal(t, int32(-1), offset)
	require.True(t, layout.isZero())
}

func TestZeroLengthDataRequiresNoContentAllocation(t *testing.T) {
	mb := NewMessageBuilder(newTestMessage())
	root, err := mb.InitRoot(Layout{DataWords: 0, PointerCount: 1})
	require.NoError(t, err)
	usedBefore := mb.Message().segments[0].used
	require.NoError(t, root.SetData(0, nil))
	require.Equal(t, usedBefore, mb.Message().segments[0].used)
}

func TestDefaultsOnNullAndOutOfBounds(t *testing.T) {
	mb := NewMessageBuilder(newTestMessage())
	_, err := mb.InitRoot(Layout{DataWords: 1, PointerCount: 1})
	require.NoError(t, err)

	out, err := Serialize(mb.Message())
	require.NoError(t, err)
	mr, err := FromBytes(out, ReadLimits{})
	require.NoError(t, err)
	r, err := mr.Root()
	require.NoError(t, err)

	require.Equal(t, uint32(99), r.Uint32(0, 99))
	require.Equal(t, uint32(7), r.Uint32(1000, 7)) // out-of-bounds byte offset
	child, err := r.StructField(0)                 // null pointer slot
	require.NoError(t, err)
	require.Equal(t, uint64(5), child.Uint64(0, 5))
}

func TestLittleEndianOnWire(t *testing.T) {
	mb := NewMessageBuilder(newTestMessage())
	root, err := mb.InitRoot(Layout{DataWords: 1, PointerCount: 0})
	require.NoError(t, err)
	root.SetUint32(0, 0x01020304)

	out, err := Serialize(mb.Message())
	require.NoError(t, err)
	require.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, out[16:20])
}

func TestSeedScenarioCompositeListOfTwoStructs(t *testing.T) {
	mb := NewMessageBuilder(newTestMessage())
	root, err := mb.InitRoot(Layout{DataWords: 1, PointerCount: 1})
	require.NoError(t, err)
	root.SetUint64(0, 999)

	lb, err := root.InitStructList(0, 2, Layout{DataWords: 1, PointerCount: 0})
	require.NoError(t, err)
	e0, err := lb.StructAt(0)
	require.NoError(t, err)
	e0.SetUint64(0, 111)
	e1, err := lb.StructAt(1)
	require.NoError(t, err)
	e1.SetUint64(0, 222)

	out, err := Serialize(mb.Message())
	require.NoError(t, err)

	wordAt := func(i int) []byte { return out[8+i*8 : 8+i*8+8] }
	tag := RawPointer(binary.LittleEndian.Uint64(wordAt(3)))
	elemCount, layout, ok := DecodeStructPointer(tag)
	require.True(t, ok)
	require.Equal(t, int32(2), elemCount)
	require.Equal(t, Layout{DataWords: 1, PointerCount: 0}, layout)
	require.Equal(t, uint64(111), binary.LittleEndian.Uint64(wordAt(4)))
	require.Equal(t, uint64(222), binary.LittleEndian.Uint64(wordAt(5)))

	mr, err := FromBytes(out, ReadLimits{})
	require.NoError(t, err)
	r, err := mr.Root()
	require.NoError(t, err)
	list, err := r.ListField(0)
	require.NoError(t, err)
	require.Equal(t, int32(2), list.Len())
	s0, err := list.StructAt(0)
	require.NoError(t, err)
	require.Equal(t, uint64(111), s0.Uint64(0, 0))
	s1, err := list.StructAt(1)
	require.NoError(t, err)
	require.Equal(t, uint64(222), s1.Uint64(0, 0))
}

func TestSeedScenarioTraversalLimitOnList(t *testing.T) {
	mb := NewMessageBuilder(newTestMessage())
	root, err := mb.InitRoot(Layout{DataWords: 0, PointerCount: 1})
	require.NoError(t, err)
	lb, err := root.InitList(0, SizeEightByte, 100)
	require.NoError(t, err)
	for i := int32(0); i < 100; i++ {
		lb.SetUint64At(i, uint64(i))
	}

	out, err := Serialize(mb.Message())
	require.NoError(t, err)

	mr, err := FromBytes(out, ReadLimits{TraversalLimitWords: 10})
	require.NoError(t, err)
	r, err := mr.Root()
	require.NoError(t, err)
	_, err = r.ListField(0)
	require.Error(t, err)
	capErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, TraversalLimitExceeded, capErr.Kind)
}

func TestSeedScenarioVoidListAmplification(t *testing.T) {
	mb := NewMessageBuilder(newTestMessage())
	root, err := mb.InitRoot(Layout{DataWords: 0, PointerCount: 1})
	require.NoError(t, err)
	_, err = root.InitList(0, SizeVoid, 10000)
	require.NoError(t, err)

	out, err := Serialize(mb.Message())
	require.NoError(t, err)

	mr, err := FromBytes(out, ReadLimits{TraversalLimitWords: 1000})
	require.NoError(t, err)
	r, err := mr.Root()
	require.NoError(t, err)
	_, err = r.ListField(0)
	require.Error(t, err)
	capErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, TraversalLimitExceeded, capErr.Kind)
}

func TestSeedScenarioNestingLimitExceeded(t *testing.T) {
	mb := NewMessageBuilder(newTestMessage())
	root, err := mb.InitRoot(Layout{DataWords: 0, PointerCount: 1})
	require.NoError(t, err)

	cur := root
	for i := 0; i < 70; i++ {
		next, err := cur.InitStruct(0, Layout{DataWords: 0, PointerCount: 1})
		require.NoError(t, err)
		cur = next
	}

	out, err := Serialize(mb.Message())
	require.NoError(t, err)

	mr, err := FromBytes(out, ReadLimits{NestingLimit: 5})
	require.NoError(t, err)
	r, err := mr.Root()
	require.NoError(t, err)

	var last error
	for i := 0; i < 70; i++ {
		r, last = r.StructField(0)
		if last != nil {
			break
		}
	}
	require.Error(t, last)
	capErr, ok := last.(*Error)
	require.True(t, ok)
	require.Equal(t, NestingLimitExceeded, capErr.Kind)
}

func TestPointerOutOfBoundsOnCraftedOffset(t *testing.T) {
	// A single-segment message whose root pointer claims a struct of
	// 100 data words, but the segment is only 2 words long.
	data := make([]byte, 16)
	raw := EncodeStructPointer(0, Layout{DataWords: 100, PointerCount: 0})
	binary.LittleEndian.PutUint64(data[0:8], uint64(raw))

	mr, err := FromSegments([][]byte{data}, ReadLimits{})
	require.NoError(t, err)
	_, err = mr.Root()
	require.Error(t, err)
	capErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, PointerOutOfBounds, capErr.Kind)
}

func TestCrossSegmentFarPointer(t *testing.T) {
	m := newTestMessage()
	mb := NewMessageBuilder(m)
	root, err := mb.InitRoot(Layout{DataWords: 0, PointerCount: 1})
	require.NoError(t, err)

	// Force the child struct into a new segment by exhausting segment 0
	// first with an oversized sibling allocation.
	_, _, err = root.msg.Allocate(2000)
	require.NoError(t, err)

	child, err := root.InitStruct(0, Layout{DataWords: 1, PointerCount: 0})
	require.NoError(t, err)
	child.SetUint64(0, 12345)

	require.Greater(t, m.NumSegments(), 1)

	out, err := Serialize(m)
	require.NoError(t, err)
	mr, err := FromBytes(out, ReadLimits{})
	require.NoError(t, err)
	r, err := mr.Root()
	require.NoError(t, err)
	rc, err := r.StructField(0)
	require.NoError(t, err)
	require.Equal(t, uint64(12345), rc.Uint64(0, 0))
}
