package capnp

import (
	"encoding/binary"
	"io"

	"github.com/cloudflare/datacore/capnp/packed"
)

// encodeFrameHeader builds the stream framing header for the given
// per-segment word counts, per spec section 3.1: a little-endian u32 of
// (N-1), N little-endian u32 segment sizes in words, and a 4-byte zero
// pad if the header length isn't 8-byte aligned.
func encodeFrameHeader(segWords []int32) []byte {
	n := len(segWords)
	headerLen := 4 * (1 + n)
	padded := headerLen
	if padded%8 != 0 {
		padded += 4
	}
	buf := make([]byte, padded)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(n-1))
	for i, words := range segWords {
		binary.LittleEndian.PutUint32(buf[4+4*i:8+4*i], uint32(words))
	}
	return buf
}

// decodeFrameHeader parses a stream framing header from the start of
// data, returning the per-segment word counts and the header's byte
// length (including any pad word).
func decodeFrameHeader(data []byte) (segWords []int32, headerLen int, err error) {
	if len(data) < 4 {
		return nil, 0, newErr(UnexpectedEndOfInput, "frame header truncated")
	}
	n := int64(binary.LittleEndian.Uint32(data[0:4])) + 1
	if n <= 0 || n > 1<<20 {
		return nil, 0, newErr(SegmentCountOverflow, "segment count %d out of range", n)
	}
	need := 4 * (1 + n)
	if int64(len(data)) < need {
		return nil, 0, newErr(UnexpectedEndOfInput, "frame header truncated")
	}
	sizes := make([]int32, n)
	for i := int64(0); i < n; i++ {
		sizes[i] = int32(binary.LittleEndian.Uint32(data[4+4*i : 8+4*i]))
		if sizes[i] < 0 {
			return nil, 0, newErr(SegmentSizeOverflow, "segment %d has negative size", i)
		}
	}
	headerLen = int(need)
	if headerLen%8 != 0 {
		headerLen += 4
	}
	return sizes, headerLen, nil
}

// Serialize encodes m's frame header followed by every segment's raw
// bytes, per spec section 6.1.
func Serialize(m *Message) ([]byte, error) {
	segWords := make([]int32, len(m.segments))
	total := 0
	for i, seg := range m.segments {
		w := int32(seg.used / wordSize)
		segWords[i] = w
		total += int(seg.used)
	}
	header := encodeFrameHeader(segWords)
	out := make([]byte, 0, len(header)+total)
	out = append(out, header...)
	for _, seg := range m.segments {
		out = append(out, seg.Data()...)
	}
	return out, nil
}

// SerializeToWriter streams Serialize's output to w.
func SerializeToWriter(w io.Writer, m *Message) error {
	data, err := Serialize(m)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// SerializePacked serializes m and then compresses it with the packing
// codec of spec section 4.5.
func SerializePacked(m *Message) ([]byte, error) {
	raw, err := Serialize(m)
	if err != nil {
		return nil, err
	}
	return packed.Pack(raw), nil
}

// DeserializePacked decompresses packed data (with the given max output
// size, see packed.Unpack) and returns a MessageReader over the result.
func DeserializePacked(data []byte, limits ReadLimits, maxOutputSize int) (*MessageReader, error) {
	raw, err := packed.Unpack(data, maxOutputSize)
	if err != nil {
		return nil, wrapErr(InvalidPackedData, err, "unpacking message")
	}
	return FromBytes(raw, limits)
}
