// record.go
//
// On-disk index record layout and the per-entry transform flags.
// One fixed-width record per archived file describes where the payload
// lives, how large it is before and after decompression, the checksums the
// packer recorded, and which compression and obfuscation schemes apply.

package npk

import "fmt"

// CompressionKind enumerates the payload compression schemes stored in the
// low flag word of an index record.
type CompressionKind uint16

const (
	CompressNone CompressionKind = 0
	CompressZlib CompressionKind = 1
	CompressLZ4  CompressionKind = 2
	CompressZstd CompressionKind = 3
)

// CipherKind enumerates the per-entry payload obfuscation schemes stored in
// the high flag word of an index record.
type CipherKind uint16

const (
	CipherNone           CipherKind = 0
	CipherBasicXor       CipherKind = 1
	CipherAdvancedXor    CipherKind = 2
	CipherIncrementalXor CipherKind = 4
)

// Legacy numeric aliases observed in newer archives. Normalization is table
// driven so the remapping lives in exactly one place.
var (
	compressionAliases = map[uint16]CompressionKind{
		5: CompressZstd,
	}
	cipherAliases = map[uint16]CipherKind{
		3: CipherAdvancedXor,
	}
)

// normalizeCompression maps a stored compression code to its canonical kind.
func normalizeCompression(code uint16) CompressionKind {
	if k, ok := compressionAliases[code]; ok {
		return k
	}
	return CompressionKind(code)
}

// normalizeCipher maps a stored cipher code to its canonical kind.
func normalizeCipher(code uint16) CipherKind {
	if k, ok := cipherAliases[code]; ok {
		return k
	}
	return CipherKind(code)
}

var compressionNames = map[CompressionKind]string{
	CompressNone: "none",
	CompressZlib: "zlib",
	CompressLZ4:  "lz4",
	CompressZstd: "zstd",
}

func (k CompressionKind) String() string {
	if s, ok := compressionNames[k]; ok {
		return s
	}
	return fmt.Sprintf("compression(%d)", uint16(k))
}

var cipherNames = map[CipherKind]string{
	CipherNone:           "none",
	CipherBasicXor:       "basic-xor",
	CipherAdvancedXor:    "advanced-xor",
	CipherIncrementalXor: "incremental-xor",
}

func (k CipherKind) String() string {
	if s, ok := cipherNames[k]; ok {
		return s
	}
	return fmt.Sprintf("cipher(%d)", uint16(k))
}

// IndexRecord describes a single archived file as recorded in the index
// table. All offsets are absolute into the archive file. The struct is
// immutable once the index has been parsed.
type IndexRecord struct {
	// Signature is the archive's hash of the original asset path. Stored as
	// u32 in 28-byte records and u64 in 32-byte records.
	Signature uint64

	// Offset is the absolute byte position of the stored payload.
	Offset uint32

	// StoredLength is the on-disk payload size (after compression and
	// obfuscation).
	StoredLength uint32

	// OriginalLength is the payload size after decompression.
	OriginalLength uint32

	// CompressedCRC is the CRC-32 the packer recorded for the stored bytes.
	CompressedCRC uint32

	// OriginalCRC is the CRC-32 of the decompressed payload.
	OriginalCRC uint32

	Compression CompressionKind
	Cipher      CipherKind

	// ExternalName is the path from the trailing name blob, when the
	// archive carries one. Nil otherwise.
	ExternalName []byte
}

// EntryFlags is a bitmask of conditions detected while decoding an entry.
type EntryFlags uint8

const (
	// FlagText marks a payload that decoded to plain text.
	FlagText EntryFlags = 1 << iota

	// FlagNXS3 marks a payload that arrived inside a nested NXS3 envelope.
	FlagNXS3

	// FlagRotor marks a payload that was rotor-stream obfuscated.
	FlagRotor

	// FlagUndecrypted marks a payload whose decode failed in a way that
	// suggests a wrong or missing basic XOR key.
	FlagUndecrypted
)

// Category is a coarse grouping of entries by sniffed extension, used by
// batch extraction to sort output directories.
type Category string

const (
	CategoryTexture Category = "texture"
	CategoryMesh    Category = "mesh"
	CategoryOther   Category = "other"
)

var textureExtensions = map[string]bool{
	"bmp": true, "gif": true, "jpg": true, "jpeg": true, "png": true,
	"pbm": true, "pgm": true, "ppm": true, "xbm": true, "xpm": true,
	"tga": true, "ico": true, "tiff": true, "dds": true, "pvr": true,
	"astc": true, "ktx": true, "cbk": true, "pkm": true,
}

// categoryForExtension groups a sniffed extension into a Category.
func categoryForExtension(ext string) Category {
	if textureExtensions[ext] {
		return CategoryTexture
	}
	if ext == "mesh" {
		return CategoryMesh
	}
	return CategoryOther
}

// Entry is a fully decoded archived file: its index record plus the
// materialized payload and the sniffed extension. Entries are built at most
// once per index per archive handle and are immutable once cached.
type Entry struct {
	IndexRecord

	// Index is the logical position of the entry in the archive.
	Index int

	// Data holds the payload after the full decode pipeline.
	Data []byte

	// Extension is the sniffed file extension, without a leading dot.
	Extension string

	// Category groups the entry by extension.
	Category Category

	// Flags records conditions detected during decode.
	Flags EntryFlags
}

// Name returns the entry's external name when the archive carries one, and
// otherwise synthesizes a hex name from the signature plus the sniffed
// extension.
func (e *Entry) Name() string {
	if len(e.ExternalName) != 0 {
		return string(e.ExternalName)
	}
	if e.Signature > 0xFFFFFFFF {
		return fmt.Sprintf("%016x.%s", e.Signature, e.Extension)
	}
	return fmt.Sprintf("%08x.%s", e.Signature, e.Extension)
}
