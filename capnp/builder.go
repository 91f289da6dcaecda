package capnp

import "math"

// MessageBuilder constructs a message by bump-allocating segments off an
// injected memarena.Allocator and wiring struct/list pointers between
// them, per spec section 4.3.
type MessageBuilder struct {
	msg *Message
}

// NewMessageBuilder returns a MessageBuilder with no segments yet; the
// first InitRoot call creates segment 0.
func NewMessageBuilder(m *Message) *MessageBuilder {
	return &MessageBuilder{msg: m}
}

// Message returns the builder's underlying message, e.g. for Serialize.
func (mb *MessageBuilder) Message() *Message { return mb.msg }

// InitRoot allocates 1+D+P words in segment 0 and writes a struct
// pointer at word 0 referencing the content. A zero-sized root (D=P=0)
// writes offset -1 and allocates only the root pointer word, per spec
// section 4.3.
func (mb *MessageBuilder) InitRoot(layout Layout) (StructBuilder, error) {
	if layout.isZero() {
		segID, addr, err := mb.msg.Allocate(1)
		if err != nil {
			return StructBuilder{}, err
		}
		seg, _ := mb.msg.Segment(segID)
		seg.writeRawPointer(addr, EncodeStructPointer(-1, Layout{}))
		return StructBuilder{msg: mb.msg, seg: seg, wordAddr: int64(addr) / 8, layout: Layout{}}, nil
	}
	total := 1 + layout.totalWordCount()
	segID, addr, err := mb.msg.Allocate(total)
	if err != nil {
		return StructBuilder{}, err
	}
	seg, _ := mb.msg.Segment(segID)
	seg.writeRawPointer(addr, EncodeStructPointer(0, layout))
	return StructBuilder{msg: mb.msg, seg: seg, wordAddr: int64(addr)/8 + 1, layout: layout}, nil
}

const maxOffset30 = 1<<29 - 1
const minOffset30 = -(1 << 29)

func fitsOffset30(rel int64) bool {
	return rel >= minOffset30 && rel <= maxOffset30
}

// writePointer encodes the reference from (ptrSeg, ptrWordIdx) to
// content (contentSeg, contentWordIdx), choosing a near struct/list
// pointer when both live in the same segment and the relative offset
// fits in the signed 30-bit offset field, a single-far indirection when
// only the offset overflows or the content landed in a different
// segment, and a double-far indirection when even a one-word landing
// pad can't be placed alongside the content, per spec section 4.3.
func (m *Message) writePointer(ptrSeg *Segment, ptrWordIdx int64, contentSeg *Segment, contentWordIdx int64, tagFor func(offset int32) RawPointer) error {
	if contentSeg.id == ptrSeg.id {
		rel := contentWordIdx - (ptrWordIdx + 1)
		if fitsOffset30(rel) {
			ptrSeg.writeRawPointer(Address(ptrWordIdx*int64(wordSize)), tagFor(int32(rel)))
			return nil
		}
	}

	padSegID, padAddr, err := m.Allocate(1)
	if err != nil {
		return err
	}
	padSeg, _ := m.Segment(padSegID)
	if padSeg.id == contentSeg.id {
		rel := contentWordIdx - (int64(padAddr)/8 + 1)
		if !fitsOffset30(rel) {
			return newErr(PointerOutOfBounds, "landing pad offset overflows signed 30-bit field")
		}
		padSeg.writeRawPointer(padAddr, tagFor(int32(rel)))
		ptrSeg.writeRawPointer(Address(ptrWordIdx*int64(wordSize)), EncodeFarPointer(false, uint32(int64(padAddr)/int64(wordSize)), uint32(padSeg.id)))
		return nil
	}

	// The single-word pad landed in yet another segment; content and
	// pad can't be made adjacent, so fall back to a two-word double-far
	// landing pad (the stranded single word above is simply unused).
	padSegID2, padAddr2, err := m.Allocate(2)
	if err != nil {
		return err
	}
	padSeg2, _ := m.Segment(padSegID2)
	padSeg2.writeRawPointer(padAddr2, EncodeFarPointer(false, uint32(contentWordIdx), uint32(contentSeg.id)))
	padSeg2.writeRawPointer(padAddr2+Address(wordSize), tagFor(0))
	ptrSeg.writeRawPointer(Address(ptrWordIdx*int64(wordSize)), EncodeFarPointer(true, uint32(int64(padAddr2)/int64(wordSize)), uint32(padSeg2.id)))
	return nil
}

// StructBuilder is a writable view over a struct's data and pointer
// sections.
type StructBuilder struct {
	msg      *Message
	seg      *Segment
	wordAddr int64
	layout   Layout
}

func (s StructBuilder) fieldBytes(byteOffset uint32, width uint32) (Address, bool) {
	if uint64(byteOffset)+uint64(width) > uint64(s.layout.DataWords)*8 {
		return 0, false
	}
	return Address(s.wordAddr*8 + int64(byteOffset)), true
}

func (s StructBuilder) SetUint8(byteOffset uint32, v uint8) {
	if addr, ok := s.fieldBytes(byteOffset, 1); ok {
		s.seg.writeUint8(addr, v)
	}
}

func (s StructBuilder) SetUint16(byteOffset uint32, v uint16) {
	if addr, ok := s.fieldBytes(byteOffset, 2); ok {
		s.seg.writeUint16(addr, v)
	}
}

func (s StructBuilder) SetUint32(byteOffset uint32, v uint32) {
	if addr, ok := s.fieldBytes(byteOffset, 4); ok {
		s.seg.writeUint32(addr, v)
	}
}

func (s StructBuilder) SetUint64(byteOffset uint32, v uint64) {
	if addr, ok := s.fieldBytes(byteOffset, 8); ok {
		s.seg.writeUint64(addr, v)
	}
}

func (s StructBuilder) SetInt8(byteOffset uint32, v int8)   { s.SetUint8(byteOffset, uint8(v)) }
func (s StructBuilder) SetInt16(byteOffset uint32, v int16) { s.SetUint16(byteOffset, uint16(v)) }
func (s StructBuilder) SetInt32(byteOffset uint32, v int32) { s.SetUint32(byteOffset, uint32(v)) }
func (s StructBuilder) SetInt64(byteOffset uint32, v int64) { s.SetUint64(byteOffset, uint64(v)) }

func (s StructBuilder) SetFloat32(byteOffset uint32, v float32) {
	s.SetUint32(byteOffset, math.Float32bits(v))
}

func (s StructBuilder) SetFloat64(byteOffset uint32, v float64) {
	s.SetUint64(byteOffset, math.Float64bits(v))
}

// SetBool sets or clears the data-section bit at bitOffset, leaving the
// rest of its containing byte untouched.
func (s StructBuilder) SetBool(bitOffset uint32, v bool) {
	byteOff := bitOffset / 8
	bit := bitOffset % 8
	addr, ok := s.fieldBytes(byteOff, 1)
	if !ok {
		return
	}
	cur := s.seg.readUint8(addr)
	if v {
		cur |= 1 << bit
	} else {
		cur &^= 1 << bit
	}
	s.seg.writeUint8(addr, cur)
}

func (s StructBuilder) ptrWordIdx(ptrIdx uint16) (int64, error) {
	if ptrIdx >= s.layout.PointerCount {
		return 0, newErr(PointerOutOfBounds, "pointer index %d out of bounds (P=%d)", ptrIdx, s.layout.PointerCount)
	}
	return s.wordAddr + int64(s.layout.DataWords) + int64(ptrIdx), nil
}

// InitStruct allocates a new struct of the given layout and wires
// pointer-section slot ptrIdx to reference it.
func (s StructBuilder) InitStruct(ptrIdx uint16, layout Layout) (StructBuilder, error) {
	ptrWordIdx, err := s.ptrWordIdx(ptrIdx)
	if err != nil {
		return StructBuilder{}, err
	}
	words := layout.totalWordCount()
	contentSegID, contentAddr, err := s.msg.Allocate(words)
	if err != nil {
		return StructBuilder{}, err
	}
	contentSeg, _ := s.msg.Segment(contentSegID)
	contentWordIdx := int64(contentAddr) / 8
	tagFor := func(offset int32) RawPointer { return EncodeStructPointer(offset, layout) }
	if err := s.msg.writePointer(s.seg, ptrWordIdx, contentSeg, contentWordIdx, tagFor); err != nil {
		return StructBuilder{}, err
	}
	return StructBuilder{msg: s.msg, seg: contentSeg, wordAddr: contentWordIdx, layout: layout}, nil
}

func listContentWords(esize ElementSize, count int32) int64 {
	var bits int64
	switch esize {
	case SizeVoid:
		return 0
	case SizeBit:
		bits = int64(count)
	default:
		bits = int64(count) * int64(esize.bytes()) * 8
	}
	bytesNeeded := (bits + 7) / 8
	return (bytesNeeded + 7) / 8
}

// InitList allocates a new primitive (non-composite) list and wires
// pointer-section slot ptrIdx to reference it.
func (s StructBuilder) InitList(ptrIdx uint16, esize ElementSize, count int32) (ListBuilder, error) {
	ptrWordIdx, err := s.ptrWordIdx(ptrIdx)
	if err != nil {
		return ListBuilder{}, err
	}
	words := int32(listContentWords(esize, count))
	contentSegID, contentAddr, err := s.msg.Allocate(words)
	if err != nil {
		return ListBuilder{}, err
	}
	contentSeg, _ := s.msg.Segment(contentSegID)
	contentWordIdx := int64(contentAddr) / 8
	tagFor := func(offset int32) RawPointer { return EncodeListPointer(offset, esize, count) }
	if err := s.msg.writePointer(s.seg, ptrWordIdx, contentSeg, contentWordIdx, tagFor); err != nil {
		return ListBuilder{}, err
	}
	return ListBuilder{msg: s.msg, seg: contentSeg, wordAddr: contentWordIdx, esize: esize, count: count}, nil
}

// InitStructList allocates a composite (struct) list of count elements,
// each shaped by layout, and wires pointer-section slot ptrIdx to
// reference it, per spec section 4.3.
func (s StructBuilder) InitStructList(ptrIdx uint16, count int32, layout Layout) (ListBuilder, error) {
	ptrWordIdx, err := s.ptrWordIdx(ptrIdx)
	if err != nil {
		return ListBuilder{}, err
	}
	elemWords := int64(layout.totalWordCount())
	contentWords := int64(count) * elemWords
	total := int32(1 + contentWords)
	segID, addr, err := s.msg.Allocate(total)
	if err != nil {
		return ListBuilder{}, err
	}
	seg, _ := s.msg.Segment(segID)
	tagWordIdx := int64(addr) / 8
	seg.writeRawPointer(addr, EncodeStructPointer(count, layout))
	tagFor := func(offset int32) RawPointer { return EncodeListPointer(offset, SizeComposite, int32(contentWords)) }
	if err := s.msg.writePointer(s.seg, ptrWordIdx, seg, tagWordIdx, tagFor); err != nil {
		return ListBuilder{}, err
	}
	return ListBuilder{msg: s.msg, seg: seg, wordAddr: tagWordIdx + 1, esize: SizeComposite, count: count, elemLayout: layout}, nil
}

// SetText writes a NUL-terminated byte list (length |s|+1) to pointer-
// section slot ptrIdx.
func (s StructBuilder) SetText(ptrIdx uint16, text string) error {
	lb, err := s.InitList(ptrIdx, SizeByte, int32(len(text)+1))
	if err != nil {
		return err
	}
	for i := 0; i < len(text); i++ {
		lb.SetUint8At(int32(i), text[i])
	}
	return nil
}

// SetData writes a raw byte list (length |data|, no NUL) to pointer-
// section slot ptrIdx. A zero-length slice is permitted and allocates
// nothing.
func (s StructBuilder) SetData(ptrIdx uint16, data []byte) error {
	lb, err := s.InitList(ptrIdx, SizeByte, int32(len(data)))
	if err != nil {
		return err
	}
	for i, b := range data {
		lb.SetUint8At(int32(i), b)
	}
	return nil
}

// ListBuilder is a writable view over a list's elements.
type ListBuilder struct {
	msg        *Message
	seg        *Segment
	wordAddr   int64
	esize      ElementSize
	count      int32
	elemLayout Layout
}

// Len returns the list's element count.
func (l ListBuilder) Len() int32 { return l.count }

func (l ListBuilder) inBounds(i int32, esize ElementSize) bool {
	return l.esize == esize && i >= 0 && i < l.count
}

func (l ListBuilder) SetUint8At(i int32, v uint8) {
	if l.inBounds(i, SizeByte) {
		l.seg.writeUint8(Address(l.wordAddr*8+int64(i)), v)
	}
}

func (l ListBuilder) SetUint16At(i int32, v uint16) {
	if l.inBounds(i, SizeTwoBytes) {
		l.seg.writeUint16(Address(l.wordAddr*8+int64(i)*2), v)
	}
}

func (l ListBuilder) SetUint32At(i int32, v uint32) {
	if l.inBounds(i, SizeFourBytes) {
		l.seg.writeUint32(Address(l.wordAddr*8+int64(i)*4), v)
	}
}

func (l ListBuilder) SetUint64At(i int32, v uint64) {
	if l.inBounds(i, SizeEightByte) {
		l.seg.writeUint64(Address(l.wordAddr*8+int64(i)*8), v)
	}
}

func (l ListBuilder) SetBoolAt(i int32, v bool) {
	if !l.inBounds(i, SizeBit) {
		return
	}
	byteAddr := Address(l.wordAddr*8 + int64(i)/8)
	bit := uint(i % 8)
	cur := l.seg.readUint8(byteAddr)
	if v {
		cur |= 1 << bit
	} else {
		cur &^= 1 << bit
	}
	l.seg.writeUint8(byteAddr, cur)
}

// StructAt returns a builder over element i of a composite list.
func (l ListBuilder) StructAt(i int32) (StructBuilder, error) {
	if l.esize != SizeComposite || i < 0 || i >= l.count {
		return StructBuilder{}, newErr(ListIndexOutOfBounds, "struct list index %d out of bounds (len=%d)", i, l.count)
	}
	elemWords := int64(l.elemLayout.totalWordCount())
	addr := l.wordAddr + int64(i)*elemWords
	return StructBuilder{msg: l.msg, seg: l.seg, wordAddr: addr, layout: l.elemLayout}, nil
}
