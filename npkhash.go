// npkhash.go
//
// The archive's own path hash. Index records identify files by a hash of
// the original asset path rather than by name; HashName reproduces the
// packer's algorithm so callers can look up an entry from a plain path when
// no external name table is present.
//
// The algorithm is a 32-bit multiply-accumulate over the lowercased path,
// read as little-endian words with two fixed tail constants, carrying two
// state words that absorb every input word. Faithful to the shipped packer,
// including its odd carry increments.

package npk

import (
	"encoding/binary"
	"strings"
)

// HashName computes the archive signature for an asset path, for example
// "textures/hero_diffuse.dds". Matching is case-insensitive; non-ASCII
// bytes are dropped the way the packer drops them.
func HashName(name string) uint32 {
	lower := strings.ToLower(name)
	raw := make([]byte, 0, len(lower))
	for i := 0; i < len(lower); i++ {
		if lower[i] < 0x80 {
			raw = append(raw, lower[i])
		}
	}

	words := (len(raw) + 3) >> 2
	padded := make([]byte, words*4)
	copy(padded, raw)

	data := make([]uint32, 0, words+2)
	for i := 0; i < words; i++ {
		data = append(data, binary.LittleEndian.Uint32(padded[i*4:]))
	}
	data = append(data, 0x9BE74448, 0x66F42C48)

	var (
		hash  uint32 = 0xF4FA8928
		state uint32 = 0x37A8470E
		tweak uint32 = 0x7758B42B
	)

	for _, chunk := range data {
		e := uint32(0x267B0B11)
		hash = hash<<1 | hash>>31
		e ^= hash

		state ^= chunk
		tweak ^= chunk

		b := ((e + tweak) | 0x02040801) & 0xBFEF7FDF
		f := uint64(b) * uint64(state)
		a := uint32(f)
		hi := uint32(f >> 32)
		if hi != 0 {
			a++
		}

		f = uint64(a) + uint64(hi)
		a = uint32(f)
		if f>>32 != 0 {
			a++
		}

		b = ((e + state) | 0x00804021) & 0x7DFEFBFF
		state = a

		f = uint64(tweak) * uint64(b)
		a = uint32(f)
		hi = uint32(f >> 32)

		f = uint64(hi) + uint64(hi)
		b = uint32(f)
		if f>>32 != 0 {
			a++
		}

		f = uint64(a) + uint64(b)
		a = uint32(f)
		if f>>32 != 0 {
			a += 2
		}
		tweak = a
	}

	return state ^ tweak
}
