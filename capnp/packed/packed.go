// Package packed implements the Cap'n Proto packing codec: a bytewise
// compression scheme over 8-byte-aligned word streams, described in
// spec section 4.5. It operates independently of the rest of the capnp
// package so it can be tested and used against arbitrary byte streams.
package packed

import "errors"

// DefaultMaxOutputSize bounds Unpack's output when the caller passes
// zero, defending against decompression bombs crafted from a small
// input (an all-zero-word run byte pair can expand to 2048 bytes; a
// crafted stream of those expands without bound).
const DefaultMaxOutputSize = 64 << 20

// ErrInvalidPackedData indicates truncated or malformed packed input.
var ErrInvalidPackedData = errors.New("packed: invalid packed data")

// ErrOutputTooLarge indicates Unpack's output would exceed the caller's
// max output size.
var ErrOutputTooLarge = errors.New("packed: output exceeds max size")

func tagByte(word []byte) byte {
	var tag byte
	for i, b := range word {
		if b != 0 {
			tag |= 1 << uint(i)
		}
	}
	return tag
}

func isZeroWord(word []byte) bool {
	for _, b := range word {
		if b != 0 {
			return false
		}
	}
	return true
}

func popcount8(b byte) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

// Pack compresses an 8-byte-aligned input word stream. Behavior on
// inputs whose length isn't a multiple of 8 is undefined by the spec;
// this implementation tags any trailing partial word as if it were
// padded with zero bytes and emits that tag followed by the partial
// word's non-zero bytes. Such input does not round-trip: Unpack expands
// the partial word to a full 8-byte word, or rejects it as truncated
// when the partial word is all zeros.
func Pack(input []byte) []byte {
	out := make([]byte, 0, len(input))
	n := len(input)
	i := 0
	for i < n {
		end := i + 8
		if end > n {
			end = n
		}
		word := input[i:end]
		tag := tagByte(word)

		switch {
		case len(word) == 8 && tag == 0x00:
			c := 0
			j := i + 8
			for c < 255 && j+8 <= n && isZeroWord(input[j:j+8]) {
				c++
				j += 8
			}
			out = append(out, 0x00, byte(c))
			i = j

		case len(word) == 8 && tag == 0xff:
			out = append(out, 0xff)
			out = append(out, word...)
			litStart := i + 8
			l := 0
			j := litStart
			for l < 255 && j+8 <= n {
				next := input[j : j+8]
				nextTag := tagByte(next)
				if nextTag == 0x00 || popcount8(nextTag) <= 2 {
					break
				}
				l++
				j += 8
			}
			out = append(out, byte(l))
			out = append(out, input[litStart:j]...)
			i = j

		default:
			out = append(out, tag)
			for bit := 0; bit < len(word); bit++ {
				if tag&(1<<uint(bit)) != 0 {
					out = append(out, word[bit])
				}
			}
			i = end
		}
	}
	return out
}

// Unpack decompresses data produced by Pack, failing with
// ErrOutputTooLarge if the decompressed size would exceed maxOutputSize
// (DefaultMaxOutputSize is used when maxOutputSize <= 0), and
// ErrInvalidPackedData on truncated or malformed input.
func Unpack(data []byte, maxOutputSize int) ([]byte, error) {
	if maxOutputSize <= 0 {
		maxOutputSize = DefaultMaxOutputSize
	}
	out := make([]byte, 0, len(data)*2)
	i := 0
	n := len(data)
	for i < n {
		tag := data[i]
		i++
		switch tag {
		case 0x00:
			if i >= n {
				return nil, ErrInvalidPackedData
			}
			c := int(data[i])
			i++
			grown := len(out) + 8*(1+c)
			if grown > maxOutputSize {
				return nil, ErrOutputTooLarge
			}
			for k := 0; k < 8*(1+c); k++ {
				out = append(out, 0)
			}
		case 0xff:
			if i+8 > n {
				return nil, ErrInvalidPackedData
			}
			if len(out)+8 > maxOutputSize {
				return nil, ErrOutputTooLarge
			}
			out = append(out, data[i:i+8]...)
			i += 8
			if i >= n {
				return nil, ErrInvalidPackedData
			}
			l := int(data[i])
			i++
			need := l * 8
			if i+need > n {
				return nil, ErrInvalidPackedData
			}
			if len(out)+need > maxOutputSize {
				return nil, ErrOutputTooLarge
			}
			// Literal-run words may contain interior zeros: copy all
			// eight raw bytes regardless of value.
			out = append(out, data[i:i+need]...)
			i += need
		default:
			if len(out)+8 > maxOutputSize {
				return nil, ErrOutputTooLarge
			}
			word := make([]byte, 8)
			for bit := 0; bit < 8; bit++ {
				if tag&(1<<uint(bit)) != 0 {
					if i >= n {
						return nil, ErrInvalidPackedData
					}
					word[bit] = data[i]
					i++
				}
			}
			out = append(out, word...)
		}
	}
	return out, nil
}
