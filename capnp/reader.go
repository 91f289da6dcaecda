package capnp

import (
	"encoding/binary"
	"math"
)

// DefaultTraversalLimitWords bounds the total words a MessageReader will
// follow across every pointer dereference, defending against amplification
// attacks built from a small message with many overlapping pointers.
const DefaultTraversalLimitWords uint64 = 8 * 1024 * 1024

// DefaultNestingLimit bounds how many pointer hops deep a reader will
// follow before refusing to descend further, defending against a
// message crafted with deeply nested or self-referential pointers.
const DefaultNestingLimit = 64

// ReadLimits configures a MessageReader's traversal accounting, per spec
// section 4.4. A zero value for either field selects its default.
type ReadLimits struct {
	TraversalLimitWords uint64
	NestingLimit        int
}

func (l ReadLimits) withDefaults() ReadLimits {
	if l.TraversalLimitWords == 0 {
		l.TraversalLimitWords = DefaultTraversalLimitWords
	}
	if l.NestingLimit == 0 {
		l.NestingLimit = DefaultNestingLimit
	}
	return l
}

// MessageReader holds a message's segments plus the shared, mutable read
// context (remaining traversal budget) that every dereference through it
// draws down. It never mutates the underlying bytes.
type MessageReader struct {
	segments     [][]byte
	budget       uint64
	nestingLimit int
}

// FromSegments constructs a MessageReader directly from pre-split
// segment byte slices, bypassing frame-header parsing.
func FromSegments(segs [][]byte, limits ReadLimits) (*MessageReader, error) {
	if len(segs) == 0 {
		return nil, newErr(UnexpectedEndOfInput, "message has no segments")
	}
	limits = limits.withDefaults()
	return &MessageReader{
		segments:     segs,
		budget:       limits.TraversalLimitWords,
		nestingLimit: limits.NestingLimit,
	}, nil
}

// FromBytes parses a stream frame header from data and constructs a
// MessageReader borrowing the remaining bytes as segments (zero-copy).
func FromBytes(data []byte, limits ReadLimits) (*MessageReader, error) {
	segWords, headerLen, err := decodeFrameHeader(data)
	if err != nil {
		return nil, err
	}
	segs := make([][]byte, len(segWords))
	off := headerLen
	for i, words := range segWords {
		need := int(words) * int(wordSize)
		if off+need > len(data) {
			return nil, newErr(UnexpectedEndOfInput, "segment %d truncated", i)
		}
		segs[i] = data[off : off+need]
		off += need
	}
	return FromSegments(segs, limits)
}

func (mr *MessageReader) segment(id SegmentID) ([]byte, error) {
	if int(id) >= len(mr.segments) {
		return nil, newErr(PointerOutOfBounds, "segment %d does not exist", id)
	}
	return mr.segments[id], nil
}

func (mr *MessageReader) spend(words uint64) error {
	if words > mr.budget {
		return newErr(TraversalLimitExceeded, "traversal budget exhausted")
	}
	mr.budget -= words
	return nil
}

// Root returns a reader over the message's root struct. An empty
// message (null root pointer) yields a zero-valued StructReader whose
// getters all return their defaults.
func (mr *MessageReader) Root() (StructReader, error) {
	data, err := mr.segment(0)
	if err != nil {
		return StructReader{}, err
	}
	raw, err := readRawPointerWord(data, 0)
	if err != nil {
		return StructReader{}, err
	}
	if raw.IsNull() {
		return zeroStructReader(mr, mr.nestingLimit), nil
	}
	rp, err := mr.resolve(0, 0, raw, true)
	if err != nil {
		return StructReader{}, err
	}
	if rp.Null {
		return zeroStructReader(mr, mr.nestingLimit), nil
	}
	if rp.Kind != KindStruct {
		return StructReader{}, newErr(InvalidPointerType, "root pointer is not a struct")
	}
	cdata, err := mr.segment(rp.Seg)
	if err != nil {
		return StructReader{}, err
	}
	return StructReader{mr: mr, seg: rp.Seg, data: cdata, wordAddr: rp.ContentWord, layout: rp.Layout, nesting: mr.nestingLimit - 1}, nil
}

func wordBytes(data []byte, wordIndex int64) ([]byte, error) {
	if wordIndex < 0 {
		return nil, newErr(PointerOutOfBounds, "negative word index")
	}
	byteOff := wordIndex * int64(wordSize)
	end := byteOff + int64(wordSize)
	if end > int64(len(data)) {
		return nil, newErr(PointerOutOfBounds, "word %d out of bounds", wordIndex)
	}
	return data[byteOff:end], nil
}

func readRawPointerWord(data []byte, wordIndex int64) (RawPointer, error) {
	b, err := wordBytes(data, wordIndex)
	if err != nil {
		return 0, err
	}
	return RawPointer(binary.LittleEndian.Uint64(b)), nil
}

// resolvedPointer is the validator's output: the dereferenced content's
// location and shape, per spec section 4.4.
type resolvedPointer struct {
	Null       bool
	Kind       PointerKind
	Seg        SegmentID
	ContentWord int64
	Layout     Layout
	ElemSize   ElementSize
	Count      int32
	ElemLayout Layout
}

// resolve runs the pointer validator: non-null check, kind check, Far
// resolution (single or double landing pad), bounds check, and
// traversal-budget accounting.
func (mr *MessageReader) resolve(segID SegmentID, wordIndex int64, raw RawPointer, accountTraversal bool) (resolvedPointer, error) {
	if raw.IsNull() {
		return resolvedPointer{Null: true}, nil
	}
	switch raw.Kind() {
	case KindStruct, KindList:
		return mr.resolveNear(segID, wordIndex, raw, accountTraversal)
	case KindFar:
		return mr.resolveFar(raw, accountTraversal)
	default:
		return resolvedPointer{}, newErr(InvalidPointerType, "capability pointers are not supported")
	}
}

func (mr *MessageReader) resolveNear(segID SegmentID, wordIndex int64, raw RawPointer, accountTraversal bool) (resolvedPointer, error) {
	data, err := mr.segment(segID)
	if err != nil {
		return resolvedPointer{}, err
	}
	target, ok := Target(wordIndex, raw.offset())
	if !ok {
		return resolvedPointer{}, newErr(PointerOutOfBounds, "pointer offset overflows target address")
	}
	return mr.finishResolve(segID, target, raw, accountTraversal, data)
}

func (mr *MessageReader) resolveFar(raw RawPointer, accountTraversal bool) (resolvedPointer, error) {
	double, off, fsid, _ := DecodeFarPointer(raw)
	landingData, err := mr.segment(SegmentID(fsid))
	if err != nil {
		return resolvedPointer{}, err
	}
	if !double {
		near, err := readRawPointerWord(landingData, int64(off))
		if err != nil {
			return resolvedPointer{}, err
		}
		if near.Kind() == KindFar {
			return resolvedPointer{}, newErr(InvalidPointerType, "far landing pad must not itself be far")
		}
		if near.IsNull() {
			return resolvedPointer{Null: true}, nil
		}
		return mr.resolveNear(SegmentID(fsid), int64(off), near, accountTraversal)
	}
	word0, err := readRawPointerWord(landingData, int64(off))
	if err != nil {
		return resolvedPointer{}, err
	}
	word1, err := readRawPointerWord(landingData, int64(off)+1)
	if err != nil {
		return resolvedPointer{}, err
	}
	if word0.Kind() != KindFar {
		return resolvedPointer{}, newErr(InvalidPointerType, "double-far landing pad word 0 must be far")
	}
	doubleInner, contentOff, contentSeg, _ := DecodeFarPointer(word0)
	if doubleInner {
		return resolvedPointer{}, newErr(InvalidPointerType, "double-far landing pad must not chain")
	}
	contentData, err := mr.segment(SegmentID(contentSeg))
	if err != nil {
		return resolvedPointer{}, err
	}
	if word1.IsNull() {
		return resolvedPointer{Null: true}, nil
	}
	return mr.finishResolve(SegmentID(contentSeg), int64(contentOff), word1, accountTraversal, contentData)
}

func (mr *MessageReader) finishResolve(segID SegmentID, contentWord int64, raw RawPointer, accountTraversal bool, data []byte) (resolvedPointer, error) {
	switch raw.Kind() {
	case KindStruct:
		_, layout, _ := DecodeStructPointer(raw)
		words := int64(layout.totalWordCount())
		if contentWord < 0 || (contentWord+words)*int64(wordSize) > int64(len(data)) {
			return resolvedPointer{}, newErr(PointerOutOfBounds, "struct content out of bounds")
		}
		if accountTraversal {
			travWords := uint64(words)
			if travWords == 0 {
				travWords = 1
			}
			if err := mr.spend(travWords); err != nil {
				return resolvedPointer{}, err
			}
		}
		return resolvedPointer{Kind: KindStruct, Seg: segID, ContentWord: contentWord, Layout: layout}, nil

	case KindList:
		return mr.finishResolveList(segID, contentWord, raw, accountTraversal, data)

	default:
		return resolvedPointer{}, newErr(InvalidPointerType, "unexpected pointer kind in landing pad")
	}
}

func (mr *MessageReader) finishResolveList(segID SegmentID, contentWord int64, raw RawPointer, accountTraversal bool, data []byte) (resolvedPointer, error) {
	_, esize, count, _ := DecodeListPointer(raw)
	if esize == SizeComposite {
		tag, err := readRawPointerWord(data, contentWord)
		if err != nil {
			return resolvedPointer{}, err
		}
		elemCount := uint32(tag.offset())
		elemLayout := Layout{DataWords: uint16(tag >> 32), PointerCount: uint16(tag >> 48)}
		elemWords := int64(elemLayout.totalWordCount())
		contentWords := int64(count)
		if elemWords > 0 && int64(elemCount)*elemWords != contentWords {
			return resolvedPointer{}, newErr(InvalidElementSize, "composite list tag inconsistent with pointer count")
		}
		listStart := contentWord + 1
		if listStart < 0 || (listStart+contentWords)*int64(wordSize) > int64(len(data)) {
			return resolvedPointer{}, newErr(PointerOutOfBounds, "composite list content out of bounds")
		}
		if accountTraversal {
			var travWords uint64
			if elemLayout.isZero() {
				travWords = uint64(elemCount)
			} else {
				travWords = uint64(contentWords)
			}
			if travWords == 0 {
				travWords = 1
			}
			if err := mr.spend(travWords); err != nil {
				return resolvedPointer{}, err
			}
		}
		return resolvedPointer{
			Kind: KindList, Seg: segID, ContentWord: listStart,
			ElemSize: SizeComposite, Count: int32(elemCount), ElemLayout: elemLayout,
		}, nil
	}

	var contentBytes int64
	switch esize {
	case SizeVoid:
		contentBytes = 0
	case SizeBit:
		contentBytes = (int64(count) + 7) / 8
	default:
		contentBytes = int64(count) * int64(esize.bytes())
	}
	contentWords := (contentBytes + int64(wordSize) - 1) / int64(wordSize)
	if contentWord < 0 || (contentWord+contentWords)*int64(wordSize) > int64(len(data)) {
		return resolvedPointer{}, newErr(PointerOutOfBounds, "list content out of bounds")
	}
	if accountTraversal {
		var travWords uint64
		if esize == SizeVoid {
			travWords = uint64(count)
		} else {
			travWords = uint64(contentWords)
		}
		if travWords == 0 {
			travWords = 1
		}
		if err := mr.spend(travWords); err != nil {
			return resolvedPointer{}, err
		}
	}
	return resolvedPointer{Kind: KindList, Seg: segID, ContentWord: contentWord, ElemSize: esize, Count: count}, nil
}

// StructReader is a read-only view over a struct's data and pointer
// sections. Its zero value (a default/null struct) answers every getter
// with its default.
type StructReader struct {
	mr       *MessageReader
	seg      SegmentID
	data     []byte
	wordAddr int64
	layout   Layout
	nesting  int
}

func zeroStructReader(mr *MessageReader, nesting int) StructReader {
	return StructReader{mr: mr, nesting: nesting}
}

func (s StructReader) byteInDataSection(byteOffset uint32, width uint32) ([]byte, bool) {
	if s.data == nil {
		return nil, false
	}
	if uint64(byteOffset)+uint64(width) > uint64(s.layout.DataWords)*8 {
		return nil, false
	}
	base := s.wordAddr*8 + int64(byteOffset)
	return s.data[base : base+int64(width)], true
}

// Uint8 reads the data-section byte at byteOffset, XORed with def per
// the on-wire "stored XOR default" convention.
func (s StructReader) Uint8(byteOffset uint32, def uint8) uint8 {
	b, ok := s.byteInDataSection(byteOffset, 1)
	if !ok {
		return def
	}
	return b[0] ^ def
}

func (s StructReader) Uint16(byteOffset uint32, def uint16) uint16 {
	b, ok := s.byteInDataSection(byteOffset, 2)
	if !ok {
		return def
	}
	return binary.LittleEndian.Uint16(b) ^ def
}

func (s StructReader) Uint32(byteOffset uint32, def uint32) uint32 {
	b, ok := s.byteInDataSection(byteOffset, 4)
	if !ok {
		return def
	}
	return binary.LittleEndian.Uint32(b) ^ def
}

func (s StructReader) Uint64(byteOffset uint32, def uint64) uint64 {
	b, ok := s.byteInDataSection(byteOffset, 8)
	if !ok {
		return def
	}
	return binary.LittleEndian.Uint64(b) ^ def
}

func (s StructReader) Int8(byteOffset uint32, def int8) int8 {
	return int8(s.Uint8(byteOffset, uint8(def)))
}
func (s StructReader) Int16(byteOffset uint32, def int16) int16 {
	return int16(s.Uint16(byteOffset, uint16(def)))
}
func (s StructReader) Int32(byteOffset uint32, def int32) int32 {
	return int32(s.Uint32(byteOffset, uint32(def)))
}
func (s StructReader) Int64(byteOffset uint32, def int64) int64 {
	return int64(s.Uint64(byteOffset, uint64(def)))
}

func (s StructReader) Float32(byteOffset uint32, def float32) float32 {
	return math.Float32frombits(s.Uint32(byteOffset, math.Float32bits(def)))
}

func (s StructReader) Float64(byteOffset uint32, def float64) float64 {
	return math.Float64frombits(s.Uint64(byteOffset, math.Float64bits(def)))
}

// Bool reads the data-section bit at bitOffset, XORed with def.
func (s StructReader) Bool(bitOffset uint32, def bool) bool {
	byteOff := bitOffset / 8
	bit := bitOffset % 8
	b, ok := s.byteInDataSection(byteOff, 1)
	if !ok {
		return def
	}
	stored := (b[0]>>bit)&1 != 0
	return stored != def
}

// pointerWord returns the raw pointer stored at the given pointer-
// section slot, or the null pointer if the struct is default or index
// is out of range.
func (s StructReader) pointerWord(index uint16) (RawPointer, int64, bool) {
	if s.data == nil || index >= s.layout.PointerCount {
		return 0, 0, false
	}
	ptrWord := s.wordAddr + int64(s.layout.DataWords) + int64(index)
	raw, err := readRawPointerWord(s.data, ptrWord)
	if err != nil {
		return 0, 0, false
	}
	return raw, ptrWord, true
}

// StructField dereferences pointer-section slot index as a struct. An
// out-of-range index, a null pointer, or a kind mismatch all yield the
// default empty struct rather than an error.
func (s StructReader) StructField(index uint16) (StructReader, error) {
	raw, ptrWord, ok := s.pointerWord(index)
	if !ok || raw.IsNull() {
		return zeroStructReader(s.mr, s.nesting), nil
	}
	if s.nesting <= 0 {
		return StructReader{}, newErr(NestingLimitExceeded, "max nesting depth exceeded")
	}
	rp, err := s.mr.resolve(s.seg, ptrWord, raw, true)
	if err != nil {
		return StructReader{}, err
	}
	if rp.Null || rp.Kind != KindStruct {
		return zeroStructReader(s.mr, s.nesting-1), nil
	}
	data, err := s.mr.segment(rp.Seg)
	if err != nil {
		return StructReader{}, err
	}
	return StructReader{mr: s.mr, seg: rp.Seg, data: data, wordAddr: rp.ContentWord, layout: rp.Layout, nesting: s.nesting - 1}, nil
}

// ListField dereferences pointer-section slot index as a list. A kind
// mismatch yields a zero-length default list.
func (s StructReader) ListField(index uint16) (ListReader, error) {
	raw, ptrWord, ok := s.pointerWord(index)
	if !ok || raw.IsNull() {
		return zeroListReader(s.mr, s.nesting), nil
	}
	if s.nesting <= 0 {
		return ListReader{}, newErr(NestingLimitExceeded, "max nesting depth exceeded")
	}
	rp, err := s.mr.resolve(s.seg, ptrWord, raw, true)
	if err != nil {
		return ListReader{}, err
	}
	if rp.Null || rp.Kind != KindList {
		return zeroListReader(s.mr, s.nesting-1), nil
	}
	data, err := s.mr.segment(rp.Seg)
	if err != nil {
		return ListReader{}, err
	}
	return ListReader{
		mr: s.mr, seg: rp.Seg, data: data, wordAddr: rp.ContentWord,
		esize: rp.ElemSize, count: rp.Count, elemLayout: rp.ElemLayout, nesting: s.nesting - 1,
	}, nil
}

// TextField dereferences pointer-section slot index as NUL-terminated
// text (a byte list). It fails TextNotNulTerminated if the final byte
// of a non-empty list isn't zero.
func (s StructReader) TextField(index uint16) (string, error) {
	lr, err := s.ListField(index)
	if err != nil {
		return "", err
	}
	if lr.data == nil || lr.count == 0 {
		return "", nil
	}
	if lr.esize != SizeByte {
		return "", nil
	}
	raw := lr.data[lr.wordAddr*8 : lr.wordAddr*8+int64(lr.count)]
	if raw[len(raw)-1] != 0 {
		return "", newErr(TextNotNulTerminated, "text field missing trailing NUL")
	}
	return string(raw[:len(raw)-1]), nil
}

// DataField dereferences pointer-section slot index as a raw byte list.
func (s StructReader) DataField(index uint16) ([]byte, error) {
	lr, err := s.ListField(index)
	if err != nil {
		return nil, err
	}
	if lr.data == nil || lr.count == 0 || lr.esize != SizeByte {
		return nil, nil
	}
	return lr.data[lr.wordAddr*8 : lr.wordAddr*8+int64(lr.count)], nil
}

// ListReader is a read-only view over a list's elements. Its zero value
// is an empty default list.
type ListReader struct {
	mr         *MessageReader
	seg        SegmentID
	data       []byte
	wordAddr   int64
	esize      ElementSize
	count      int32
	elemLayout Layout
	nesting    int
}

func zeroListReader(mr *MessageReader, nesting int) ListReader {
	return ListReader{mr: mr, nesting: nesting}
}

// Len returns the list's element count.
func (l ListReader) Len() int32 { return l.count }

func (l ListReader) inBounds(i int32, esize ElementSize) bool {
	return l.data != nil && l.esize == esize && i >= 0 && i < l.count
}

func (l ListReader) Uint8At(i int32) uint8 {
	if !l.inBounds(i, SizeByte) {
		return 0
	}
	return l.data[l.wordAddr*8+int64(i)]
}

func (l ListReader) Uint16At(i int32) uint16 {
	if !l.inBounds(i, SizeTwoBytes) {
		return 0
	}
	off := l.wordAddr*8 + int64(i)*2
	return binary.LittleEndian.Uint16(l.data[off : off+2])
}

func (l ListReader) Uint32At(i int32) uint32 {
	if !l.inBounds(i, SizeFourBytes) {
		return 0
	}
	off := l.wordAddr*8 + int64(i)*4
	return binary.LittleEndian.Uint32(l.data[off : off+4])
}

func (l ListReader) Uint64At(i int32) uint64 {
	if !l.inBounds(i, SizeEightByte) {
		return 0
	}
	off := l.wordAddr*8 + int64(i)*8
	return binary.LittleEndian.Uint64(l.data[off : off+8])
}

func (l ListReader) BoolAt(i int32) bool {
	if !l.inBounds(i, SizeBit) {
		return false
	}
	bitOff := int64(i)
	byteOff := l.wordAddr*8 + bitOff/8
	bit := uint(bitOff % 8)
	return (l.data[byteOff]>>bit)&1 != 0
}

// StructAt returns element i of a composite (struct) list.
func (l ListReader) StructAt(i int32) (StructReader, error) {
	if l.esize != SizeComposite || i < 0 || i >= l.count {
		return zeroStructReader(l.mr, l.nesting), nil
	}
	if l.nesting <= 0 {
		return StructReader{}, newErr(NestingLimitExceeded, "max nesting depth exceeded")
	}
	elemWords := int64(l.elemLayout.totalWordCount())
	addr := l.wordAddr + int64(i)*elemWords
	return StructReader{mr: l.mr, seg: l.seg, data: l.data, wordAddr: addr, layout: l.elemLayout, nesting: l.nesting - 1}, nil
}
