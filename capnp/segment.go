package capnp

import (
	"encoding/binary"

	"github.com/cloudflare/datacore/memarena"
)

// SegmentID numbers a Segment within a Message.
type SegmentID uint32

// defaultSegmentWords is the word count a freshly grown segment gets
// when the requested allocation doesn't already demand more, chosen to
// amortize allocator calls across many small struct/list allocations.
const defaultSegmentWords = 1024

// Segment is a word-aligned bump-allocation arena: one of a Message's
// ordered buffers. Segment never frees individual objects; only
// Message.Clear or Message.Destroy release its storage.
type Segment struct {
	msg  *Message
	id   SegmentID
	data []byte // full allocator-backed capacity
	used Size   // bytes already bumped out
}

// ID returns the segment's index within its message.
func (s *Segment) ID() SegmentID { return s.id }

// Data returns the in-use byte range of the segment (zero-copy view).
func (s *Segment) Data() []byte { return s.data[:s.used] }

func (s *Segment) inBounds(addr Address) bool {
	return addr < Address(len(s.data))
}

func (s *Segment) regionInBounds(base Address, sz Size) bool {
	end, ok := base.addSize(sz)
	if !ok {
		return false
	}
	return end <= Address(len(s.data))
}

// slice returns the byte range [base, base+sz). Callers must bounds
// check first; slice panics on an out-of-range request since that
// indicates a codec bug, not untrusted input (untrusted input is
// rejected earlier by regionInBounds).
func (s *Segment) slice(base Address, sz Size) []byte {
	return s.data[base : base+Address(sz)]
}

func (s *Segment) readUint8(addr Address) uint8  { return s.slice(addr, 1)[0] }
func (s *Segment) readUint16(addr Address) uint16 {
	return binary.LittleEndian.Uint16(s.slice(addr, 2))
}
func (s *Segment) readUint32(addr Address) uint32 {
	return binary.LittleEndian.Uint32(s.slice(addr, 4))
}
func (s *Segment) readUint64(addr Address) uint64 {
	return binary.LittleEndian.Uint64(s.slice(addr, 8))
}

func (s *Segment) writeUint8(addr Address, v uint8) { s.slice(addr, 1)[0] = v }
func (s *Segment) writeUint16(addr Address, v uint16) {
	binary.LittleEndian.PutUint16(s.slice(addr, 2), v)
}
func (s *Segment) writeUint32(addr Address, v uint32) {
	binary.LittleEndian.PutUint32(s.slice(addr, 4), v)
}
func (s *Segment) writeUint64(addr Address, v uint64) {
	binary.LittleEndian.PutUint64(s.slice(addr, 8), v)
}

func (s *Segment) readRawPointer(addr Address) RawPointer {
	return RawPointer(s.readUint64(addr))
}

func (s *Segment) writeRawPointer(addr Address, p RawPointer) {
	s.writeUint64(addr, uint64(p))
}

// Message is an ordered sequence of segments, all owned by a single
// injected allocator. It implements the Segment Manager operations of
// spec section 4.2.
type Message struct {
	alloc    memarena.Allocator
	segments []*Segment
}

// NewMessage returns an empty Message backed by alloc. Segment 0 is not
// created until the first allocation (InitRoot typically triggers it).
func NewMessage(alloc memarena.Allocator) *Message {
	return &Message{alloc: alloc}
}

// NumSegments returns the number of segments currently in the message.
func (m *Message) NumSegments() int { return len(m.segments) }

// Segment returns the segment with the given id.
func (m *Message) Segment(id SegmentID) (*Segment, error) {
	if int(id) >= len(m.segments) {
		return nil, newErr(PointerOutOfBounds, "segment %d does not exist", id)
	}
	return m.segments[id], nil
}

// Allocate bumps words*wordSize bytes off the last segment if it has
// room, otherwise grows a new segment of max(words, defaultSegmentWords)
// words and allocates from that. It returns the segment id and the byte
// offset (within that segment) where the allocation starts.
func (m *Message) Allocate(words int32) (SegmentID, Address, error) {
	need := Size(words) * wordSize
	if len(m.segments) > 0 {
		last := m.segments[len(m.segments)-1]
		if last.regionInBounds(Address(last.used), need) {
			off := last.used
			last.used += need
			return last.id, Address(off), nil
		}
	}
	grow := words
	if grow < defaultSegmentWords {
		grow = defaultSegmentWords
	}
	buf, err := m.alloc.Alloc(int(Size(grow) * wordSize))
	if err != nil {
		return 0, 0, wrapErr(OutOfMemory, err, "allocating new segment")
	}
	seg := &Segment{
		msg:  m,
		id:   SegmentID(len(m.segments)),
		data: buf,
		used: need,
	}
	m.segments = append(m.segments, seg)
	return seg.id, 0, nil
}

// Clear frees all segments past index 0 and zeroes segment 0, resetting
// its used cursor to zero, per spec section 4.2.
func (m *Message) Clear() {
	for _, seg := range m.segments[min(1, len(m.segments)):] {
		m.alloc.Free(seg.data)
	}
	if len(m.segments) > 0 {
		seg0 := m.segments[0]
		for i := range seg0.data {
			seg0.data[i] = 0
		}
		seg0.used = 0
		m.segments = m.segments[:1]
	}
}

// Destroy releases every segment's storage back to the allocator. The
// Message must not be used afterward.
func (m *Message) Destroy() {
	for _, seg := range m.segments {
		m.alloc.Free(seg.data)
	}
	m.segments = nil
}
