package npk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNXS3(t *testing.T) {
	assert.True(t, isNXS3(append([]byte("NXS3\x03\x00\x00\x01"), 0xAA, 0xBB)))
	assert.False(t, isNXS3([]byte("NXS3\x03\x00\x00\x02")))
	assert.False(t, isNXS3([]byte("NXS")))
	assert.False(t, isNXS3(nil))
}

func TestIsRotorPacked(t *testing.T) {
	assert.True(t, isRotorPacked([]byte{0x1D, 0x04, 0xFF}))
	assert.True(t, isRotorPacked([]byte{0x15, 0x23}))
	assert.False(t, isRotorPacked([]byte{0x1D, 0x05}))
	assert.False(t, isRotorPacked([]byte{0x1D}))
}

func TestUnwrapNXS3_TooShort(t *testing.T) {
	_, err := unwrapNXS3([]byte("NXS3\x03\x00\x00\x01 short"))
	assert.ErrorIs(t, err, ErrNestedEnvelope)
}

func TestUnwrapNXS3_GarbageKeyBlock(t *testing.T) {
	// Valid magic and length, but the RSA block is noise: the padding
	// check must reject it instead of emitting scrambled bytes.
	data := make([]byte, nxs3KeyOffset+nxs3KeySize+64)
	copy(data, nxs3Magic)
	for i := nxs3KeyOffset; i < len(data); i++ {
		data[i] = byte(i * 31)
	}
	_, err := unwrapNXS3(data)
	assert.ErrorIs(t, err, ErrNestedEnvelope)
}

func TestRSAPublicDecrypt_WrongLength(t *testing.T) {
	_, err := rsaPublicDecrypt(make([]byte, 64))
	assert.Error(t, err)
}

func TestRotorMachine_Deterministic(t *testing.T) {
	m := newRotorMachine()
	in := []byte("rotor stream input with some length to walk the positions")

	first := m.decrypt(in)
	second := m.decrypt(in)
	assert.Equal(t, first, second, "positions must reset between calls")

	other := newRotorMachine()
	assert.Equal(t, first, other.decrypt(in), "construction must be reproducible")
}

func TestRotorMachine_ByteRange(t *testing.T) {
	m := newRotorMachine()
	out := m.decrypt([]byte{0x00, 0x7F, 0xFF, 0x10, 0x80})
	require.Len(t, out, 5)
}

func TestReverseTail(t *testing.T) {
	got := reverseTail([]byte{1, 2, 3})
	assert.Equal(t, []byte{3 ^ 154, 2 ^ 154, 1 ^ 154}, got)

	// Only the first 128 bytes are XORed, before the reversal.
	long := make([]byte, 130)
	out := reverseTail(long)
	assert.Equal(t, byte(0), out[0])
	assert.Equal(t, byte(0), out[1])
	assert.Equal(t, byte(154), out[2])
	assert.Equal(t, byte(154), out[129])
}

func TestUnwrapRotor_GarbageBody(t *testing.T) {
	// Detected by prefix but the stream inside is noise; the zlib stage
	// has to reject it.
	_, err := unwrapRotor([]byte{0x1D, 0x04, 0xDE, 0xAD, 0xBE, 0xEF})
	assert.Error(t, err)
}
