package npk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSniffExtension_BinaryMagics(t *testing.T) {
	cases := []struct {
		data []byte
		want string
	}{
		{[]byte("PVR\x03trailing"), "pvr"},
		{[]byte{0x34, 0x80, 0xC8, 0xBB, 0x01, 0x00}, "mesh"},
		{[]byte("NEOXMESH rest"), "uimesh"},
		{[]byte("DDS |data"), "dds"},
		{append([]byte{0x00}, []byte("KTX 11")...), "ktx"},
		{[]byte("BM\x00\x00bitmap"), "bmp"},
		{[]byte("OggS\x00vorbis"), "ogg"},
		{[]byte{0x13, 0xAB, 0xA1, 0x5C, 0x00}, "astc"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sniffExtension(tc.data, 0), "payload %q", tc.data)
	}
}

func TestSniffExtension_RIFFVariants(t *testing.T) {
	assert.Equal(t, "fev", sniffExtension([]byte("RIFF\x00\x00FEV sound bank"), 0))
	assert.Equal(t, "wem", sniffExtension([]byte("RIFF\x00\x00WAVEfmt"), 0))
}

func TestSniffExtension_TGAFooter(t *testing.T) {
	data := append(make([]byte, 64), []byte("TRUEVISION-XFILE.\x00")...)
	assert.Equal(t, "tga", sniffExtension(data, 0))
}

func TestSniffExtension_TGABeatsLaterMagics(t *testing.T) {
	// A typeless TGA header wins even when the payload happens to carry
	// the slpb float pattern at 0x3B.
	data := make([]byte, 0x40)
	copy(data, []byte{0x00, 0x00, 0x02})
	copy(data[0x3B:], []byte{0xC5, 0x00, 0x00, 0x80, 0x3F})
	assert.Equal(t, "tga", sniffExtension(data, 0))

	// Without the TGA prefix the slpb pattern still matches.
	data[2] = 0x01
	assert.Equal(t, "slpb", sniffExtension(data, 0))
}

func TestSniffExtension_TextMarkers(t *testing.T) {
	cases := []struct {
		data string
		want string
	}{
		{`<Material name="steel">`, "mtl"},
		{`<Scene version="7">`, "scn"},
		{`<?xml version="1.0"?><Unknowable/>`, "xml"},
		{`format: RGBA8888` + "\n" + `filter: Linear,Linear`, "atlas"},
		{"nothing recognizable here", "dat"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sniffExtension([]byte(tc.data), FlagText), "payload %q", tc.data)
	}
}

func TestSniffExtension_Empty(t *testing.T) {
	assert.Equal(t, "empty", sniffExtension(nil, 0))
	assert.Equal(t, "empty", sniffExtension([]byte{}, FlagText))
}

func TestIsBinaryData(t *testing.T) {
	assert.False(t, isBinaryData([]byte("plain ascii text")))
	assert.True(t, isBinaryData([]byte("has a NUL\x00inside")))
	assert.True(t, isBinaryData([]byte{0xFF, 0xFE, 0xC0, 0xC1}))

	// NUL past the scan window does not flip the verdict.
	big := append(bytes.Repeat([]byte("a"), 5000), 0x00)
	assert.False(t, isBinaryData(big))
}

func TestCategoryForExtension(t *testing.T) {
	assert.Equal(t, CategoryTexture, categoryForExtension("png"))
	assert.Equal(t, CategoryTexture, categoryForExtension("pvr"))
	assert.Equal(t, CategoryMesh, categoryForExtension("mesh"))
	assert.Equal(t, CategoryOther, categoryForExtension("xml"))
}
