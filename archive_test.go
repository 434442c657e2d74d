package npk

import (
	"bytes"
	"compress/zlib"
	"crypto/rc4"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixtureEntry describes one archived file for the synthetic builder.
// stored is the on-disk payload (already compressed and ciphered by the
// test); original is what decoding should give back.
type fixtureEntry struct {
	sig      uint64
	stored   []byte
	original []byte
	comp     CompressionKind
	ciph     CipherKind
}

// fixtureArchive assembles a minimal archive: 24-byte header, payloads in
// entry order, index table at the end.
type fixtureArchive struct {
	outer          bool
	wide           bool
	encryptionMode uint32
	hashMode       uint32
	entries        []fixtureEntry
	nameBlob       []byte
	recordPad      int // zero bytes after each record's common layout
	trailingJunk   int
}

func (fa *fixtureArchive) build(t *testing.T) string {
	t.Helper()

	var payloads bytes.Buffer
	offsets := make([]uint32, len(fa.entries))
	for i, e := range fa.entries {
		offsets[i] = uint32(24 + payloads.Len())
		payloads.Write(e.stored)
	}
	indexOffset := uint32(24 + payloads.Len())

	var index bytes.Buffer
	for i, e := range fa.entries {
		if fa.wide {
			binary.Write(&index, binary.LittleEndian, e.sig)
		} else {
			binary.Write(&index, binary.LittleEndian, uint32(e.sig))
		}
		binary.Write(&index, binary.LittleEndian, offsets[i])
		binary.Write(&index, binary.LittleEndian, uint32(len(e.stored)))
		binary.Write(&index, binary.LittleEndian, uint32(len(e.original)))
		binary.Write(&index, binary.LittleEndian, crc32.ChecksumIEEE(e.stored))
		binary.Write(&index, binary.LittleEndian, crc32.ChecksumIEEE(e.original))
		binary.Write(&index, binary.LittleEndian, uint16(e.comp))
		binary.Write(&index, binary.LittleEndian, uint16(e.ciph))
		index.Write(make([]byte, fa.recordPad))
	}
	indexBytes := index.Bytes()
	payloadBytes := payloads.Bytes()

	magic := "NXPK"
	if fa.outer {
		magic = "EXPK"
		// The writer mirrors the reader's keystream order: index first,
		// payloads in retrieval order on the same evolving state.
		g := newKeyGenerator()
		indexBytes = g.decrypt(indexBytes)
		payloadBytes = g.decrypt(payloadBytes)
	}
	if fa.hashMode == 3 {
		c, err := rc4.NewCipher(rc4IndexKey)
		require.NoError(t, err)
		c.XORKeyStream(indexBytes, indexBytes)
	}

	var f bytes.Buffer
	f.WriteString(magic)
	binary.Write(&f, binary.LittleEndian, uint32(len(fa.entries)))
	binary.Write(&f, binary.LittleEndian, uint32(0))
	binary.Write(&f, binary.LittleEndian, fa.encryptionMode)
	binary.Write(&f, binary.LittleEndian, fa.hashMode)
	binary.Write(&f, binary.LittleEndian, indexOffset)
	f.Write(payloadBytes)
	f.Write(indexBytes)
	if fa.encryptionMode == 256 {
		f.Write(make([]byte, nameGapSize))
		f.Write(fa.nameBlob)
	}
	f.Write(make([]byte, fa.trailingJunk))

	path := filepath.Join(t.TempDir(), "fixture.npk")
	require.NoError(t, os.WriteFile(path, f.Bytes(), 0o644))
	return path
}

func plainEntry(sig uint64, data []byte) fixtureEntry {
	return fixtureEntry{sig: sig, stored: data, original: data}
}

func zlibEntry(t *testing.T, sig uint64, data []byte) fixtureEntry {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return fixtureEntry{sig: sig, stored: buf.Bytes(), original: data, comp: CompressZlib}
}

func TestOpen_PlainSingleEntry(t *testing.T) {
	fa := &fixtureArchive{entries: []fixtureEntry{plainEntry(1, []byte("TEST"))}}
	a, err := Open(fa.build(t))
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.Encrypted())
	assert.Equal(t, 1, a.EntryCount())
	assert.Equal(t, minRecordWidth, a.RecordWidth())
	assert.Empty(t, a.Warnings())

	e, err := a.GetEntry(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("TEST"), e.Data)
	assert.Equal(t, "dat", e.Extension)
	assert.NotZero(t, e.Flags&FlagText)
	assert.Equal(t, CategoryOther, e.Category)
}

func TestOpen_ZlibEntry(t *testing.T) {
	fa := &fixtureArchive{entries: []fixtureEntry{zlibEntry(t, 7, []byte("HELLO"))}}
	a, err := Open(fa.build(t))
	require.NoError(t, err)
	defer a.Close()

	e, err := a.GetEntry(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("HELLO"), e.Data)
	assert.Equal(t, uint32(5), e.OriginalLength)
}

func TestGetEntry_IndexOutOfRange(t *testing.T) {
	fa := &fixtureArchive{entries: []fixtureEntry{plainEntry(1, []byte("x"))}}
	a, err := Open(fa.build(t))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.GetEntry(1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = a.GetEntry(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestOpen_BadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.npk")
	require.NoError(t, os.WriteFile(path, append([]byte("JUNK"), make([]byte, 20)...), 0o644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	a, err := Open(path, WithForce())
	require.NoError(t, err)
	defer a.Close()
	assert.NotEmpty(t, a.Warnings())
}

func TestOpen_WideRecords(t *testing.T) {
	fa := &fixtureArchive{
		wide: true,
		entries: []fixtureEntry{
			plainEntry(0x1122334455667788, []byte("first payload")),
			plainEntry(42, []byte("second")),
		},
	}
	a, err := Open(fa.build(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, wideRecordWidth, a.RecordWidth())
	e, err := a.GetEntry(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1122334455667788), e.Signature)
	assert.Equal(t, "1122334455667788.dat", e.Name())

	e, err = a.GetEntry(1)
	require.NoError(t, err)
	assert.Equal(t, "0000002a.dat", e.Name())
}

func TestOpen_PaddedRecords(t *testing.T) {
	// 30-byte records: the common 28-byte layout plus 2 padding bytes that
	// must be skipped so later records stay aligned.
	fa := &fixtureArchive{
		recordPad: 2,
		entries: []fixtureEntry{
			plainEntry(1, []byte("abc")),
			plainEntry(2, []byte("defg")),
		},
	}
	a, err := Open(fa.build(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 30, a.RecordWidth())
	recs := a.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(2), recs[1].Signature)
	assert.Equal(t, uint32(24+3), recs[1].Offset)

	e, err := a.GetEntry(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("defg"), e.Data)
}

func TestOpen_WidthRemainderWarning(t *testing.T) {
	fa := &fixtureArchive{
		entries: []fixtureEntry{
			plainEntry(9, []byte("abc")),
			plainEntry(10, []byte("def")),
		},
		trailingJunk: 1, // index tail no longer divides evenly
	}
	a, err := Open(fa.build(t))
	require.NoError(t, err)
	defer a.Close()

	require.Len(t, a.Warnings(), 1)
	assert.Contains(t, a.Warnings()[0], "remainder")
	// Floor width still lands on a decodable record.
	e, err := a.GetEntry(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), e.Data)
}

func TestOpen_OuterEncrypted(t *testing.T) {
	fa := &fixtureArchive{
		outer:   true,
		entries: []fixtureEntry{zlibEntry(t, 3, []byte("hidden payload"))},
	}
	a, err := Open(fa.build(t))
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.Encrypted())
	e, err := a.GetEntry(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("hidden payload"), e.Data)
}

func TestOpen_RC4Index(t *testing.T) {
	fa := &fixtureArchive{
		hashMode: 3,
		entries:  []fixtureEntry{plainEntry(11, []byte("rc4 indexed"))},
	}
	a, err := Open(fa.build(t))
	require.NoError(t, err)
	defer a.Close()

	e, err := a.GetEntry(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("rc4 indexed"), e.Data)
}

func TestOpen_NameTable(t *testing.T) {
	fa := &fixtureArchive{
		encryptionMode: 256,
		entries: []fixtureEntry{
			plainEntry(1, []byte("one")),
			plainEntry(2, []byte("two")),
		},
		nameBlob: []byte("textures/a.png\x00models/b.mesh\x00"),
	}
	a, err := Open(fa.build(t))
	require.NoError(t, err)
	defer a.Close()

	e, err := a.GetEntry(0)
	require.NoError(t, err)
	assert.Equal(t, "textures/a.png", e.Name())

	var names bytes.Buffer
	require.NoError(t, a.WriteNames(&names))
	assert.Equal(t, "textures/a.png\nmodels/b.mesh\n", names.String())
}

func TestGetEntry_BasicXorNeedsKey(t *testing.T) {
	const key = uint32(10)
	data := []byte("payload behind the basic scheme")
	stored := append([]byte(nil), data...)
	basicXor(stored, key)

	fa := &fixtureArchive{entries: []fixtureEntry{{
		sig: 5, stored: stored, original: data, ciph: CipherBasicXor,
	}}}
	path := fa.build(t)

	a, err := Open(path)
	require.NoError(t, err)
	_, err = a.GetEntry(0)
	assert.ErrorIs(t, err, ErrMissingKey)
	var perr *PayloadDecodeError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 0, perr.Index)
	a.Close()

	a, err = Open(path, WithBasicKey(key))
	require.NoError(t, err)
	defer a.Close()
	e, err := a.GetEntry(0)
	require.NoError(t, err)
	assert.Equal(t, data, e.Data)
}

func TestGetEntry_VerifyCRC(t *testing.T) {
	fa := &fixtureArchive{entries: []fixtureEntry{zlibEntry(t, 1, []byte("checked"))}}
	path := fa.build(t)

	a, err := Open(path, WithVerifyCRC())
	require.NoError(t, err)
	e, err := a.GetEntry(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("checked"), e.Data)
	a.Close()

	// Flip one payload byte; the stored checksum no longer matches.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[24] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	a, err = Open(path, WithVerifyCRC())
	require.NoError(t, err)
	defer a.Close()
	_, err = a.GetEntry(0)
	assert.ErrorIs(t, err, ErrCRCMismatch)
}

func TestGetEntry_EmptyEntry(t *testing.T) {
	fa := &fixtureArchive{entries: []fixtureEntry{plainEntry(4, nil)}}
	a, err := Open(fa.build(t))
	require.NoError(t, err)
	defer a.Close()

	e, err := a.GetEntry(0)
	require.NoError(t, err)
	assert.Empty(t, e.Data)
	assert.Equal(t, "empty", e.Extension)
}

func TestGetEntry_Cached(t *testing.T) {
	fa := &fixtureArchive{entries: []fixtureEntry{plainEntry(1, []byte("once"))}}
	a, err := Open(fa.build(t))
	require.NoError(t, err)
	defer a.Close()

	e1, err := a.GetEntry(0)
	require.NoError(t, err)
	e2, err := a.GetEntry(0)
	require.NoError(t, err)
	assert.Same(t, e1, e2)
}

func TestFindByName(t *testing.T) {
	name := "models/hero.mesh"
	fa := &fixtureArchive{entries: []fixtureEntry{
		plainEntry(uint64(HashName(name)), []byte("mesh bytes")),
		plainEntry(999, []byte("other")),
	}}
	a, err := Open(fa.build(t))
	require.NoError(t, err)
	defer a.Close()

	idx, ok := a.FindByName(name)
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	_, ok = a.FindByName("no/such/asset.png")
	assert.False(t, ok)
}
