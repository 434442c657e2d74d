// decompress.go
//
// Payload decompression dispatch. The index record names the algorithm and
// the decompressed size; the kind is trusted as given. There is no fallback
// between algorithms, a mismatch is a decode failure for that entry alone.

package npk

import (
	"bytes"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// decompress expands data according to kind.
//
// expectedSize is the original length from the index record. LZ4 block
// streams carry no embedded size, so it is required there; for zlib it
// pre-sizes the output buffer; zstd self-describes and uses it only as a
// capacity hint. Sizing the output from the record instead of growing it on
// demand also caps what a corrupt stream can make us allocate.
func decompress(data []byte, kind CompressionKind, expectedSize uint32) ([]byte, error) {
	switch kind {
	case CompressNone:
		return data, nil

	case CompressZlib:
		zr, err := getZlibReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		defer putZlibReader(zr)

		out := bytes.NewBuffer(make([]byte, 0, expectedSize))
		if _, err := out.ReadFrom(zr); err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		return out.Bytes(), nil

	case CompressLZ4:
		dst := make([]byte, expectedSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		return dst[:n], nil

	case CompressZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		out, err := dec.DecodeAll(data, make([]byte, 0, expectedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown compression kind %d", uint16(kind))
	}
}
