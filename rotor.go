// rotor.go
//
// Legacy rotor-machine stream cipher found wrapped around some payloads
// (first bytes 1D 04 or 15 23). Six 256-entry rotors are permuted from a
// fixed embedded key by a three-seed Lehmer generator; decryption walks the
// inverse rotors and advances their positions after every byte.
//
// The generator's arithmetic mirrors the packer byte-for-byte, including
// its floor division on negative seeds; the permutations come out different
// otherwise and every decrypted byte after the first is garbage.

package npk

import "math"

const (
	rotorCount = 6
	rotorSize  = 256
)

// rotorKeyMaterial assembles the fixed embedded rotor key.
func rotorKeyMaterial() string {
	dn := "j2h56ogodh3se"
	dt := "=dziaq."
	df := `|os=5v7!"-234`

	tm := ""
	for i := 0; i < 4; i++ {
		tm += dn
	}
	for i := 0; i < 5; i++ {
		tm += dt + dn + df
	}
	tm += "!" + "#"
	for i := 0; i < 7; i++ {
		tm += dt
	}
	tm += df + df + "*" + "&" + "'"
	return tm
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	m := a % b
	if m != 0 && (a < 0) != (b < 0) {
		m += b
	}
	return m
}

// rotorRand derives the keyed pseudorandom function that drives rotor
// construction. Three 16-bit seeds are mixed from the key, signed-adjusted,
// and reduced to Lehmer generator states.
func rotorRand(key string) func(n float64) int {
	const mask = 0xFFFF
	x, y, z := 995, 576, 767
	for i := 0; i < len(key); i++ {
		c := int(key[i])
		x = ((x<<3 | x>>13) + c) & mask
		y = ((y<<3 | y>>13) ^ c) & mask
		z = ((z<<3 | z>>13) - c) & mask
	}

	const maxpos = mask >> 1
	if x > maxpos {
		x -= mask + 1
	}
	if y > maxpos {
		y -= mask + 1
	}
	if z > maxpos {
		z -= mask + 1
	}
	y |= 1

	x = 171*floorMod(x, 177) - 2*floorDiv(x, 177)
	y = 172*floorMod(y, 176) - 35*floorDiv(y, 176)
	z = 170*floorMod(z, 178) - 63*floorDiv(z, 178)
	if x < 0 {
		x += 30269
	}
	if y < 0 {
		y += 30307
	}
	if z < 0 {
		z += 30323
	}

	sx, sy, sz := float64(x), float64(y), float64(z)
	return func(n float64) int {
		x0, y0, z0 := sx, sy, sz
		sx = math.Mod(171*x0, 30269)
		sy = math.Mod(172*y0, 30307)
		sz = math.Mod(170*z0, 30323)
		v := math.Trunc((x0/30269 + y0/30307 + z0/30323) * n)
		return int(math.Mod(v, n))
	}
}

// rotorMachine holds the decrypt-direction rotors. Each rotor has 256
// permutation entries plus a position increment at index 256.
type rotorMachine struct {
	dec [rotorCount][rotorSize + 1]int
	pos [rotorCount]int
}

// newRotorMachine builds the rotor set from the embedded key.
func newRotorMachine() *rotorMachine {
	rand := rotorRand(rotorKeyMaterial())
	m := &rotorMachine{}

	for r := 0; r < rotorCount; r++ {
		m.pos[r] = rand(rotorSize)

		var enc [rotorSize + 1]int
		for i := range enc {
			enc[i] = i
		}
		inc := 1 + 2*rand(rotorSize/2)
		enc[rotorSize] = inc
		m.dec[r][rotorSize] = inc

		for i := rotorSize; i > 1; {
			rnd := rand(float64(i))
			i--
			enc[rnd], enc[i] = enc[i], enc[rnd]
			m.dec[r][enc[i]] = i
		}
		m.dec[r][enc[0]] = 0
	}
	return m
}

// decrypt runs buf through the rotor bank and returns the plaintext.
// Positions reset at the start of every call, so one machine can decrypt
// any number of independent payloads.
func (m *rotorMachine) decrypt(buf []byte) []byte {
	pos := m.pos

	out := make([]byte, len(buf))
	for n, b := range buf {
		c := int(b)
		for i := rotorCount - 1; i >= 0; i-- {
			c = pos[i] ^ m.dec[i][c]
		}
		out[n] = byte(c)

		pnew := 0
		for i := 0; i < rotorCount; i++ {
			carry := 0
			if pnew >= rotorSize {
				carry = 1
			}
			pnew = ((pos[i]+carry)&0xFF + m.dec[i][rotorSize])
			pos[i] = pnew % rotorSize
		}
	}
	return out
}

// reverseTail undoes the packer's final scramble: XOR the first 128 bytes
// with 0x9A, then reverse the whole buffer.
func reverseTail(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	for i := 0; i < len(out) && i < 128; i++ {
		out[i] ^= 154
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
