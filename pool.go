// pool.go
//
// Reusable decoder state shared by every entry decode. Batch extraction
// inflates thousands of payloads back to back; recycling the zlib reader and
// keeping a single shared zstd decoder avoids re-allocating their window
// buffers for every entry.

package npk

import (
	"compress/zlib"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zrPool reuses zlib.Reader instances to reduce allocations.
// A fresh one is created on demand the first time New() is hit, because
// there is no exported zero-value constructor for zlib.Reader.
var zrPool = sync.Pool{New: func() any { return nil }}

// getZlibReader obtains a zlib.Reader from the pool or creates a new one,
// reset to read from src. It returns an error if the zlib stream header is
// invalid.
func getZlibReader(src io.Reader) (io.ReadCloser, error) {
	if v := zrPool.Get(); v != nil {
		if zr, ok := v.(interface {
			Reset(io.Reader, []byte) error
		}); ok {
			if err := zr.Reset(src, nil); err == nil {
				return zr.(io.ReadCloser), nil
			}
		}
		// Could not reset (corrupt stream) - fall through to fresh alloc.
	}
	return zlib.NewReader(src)
}

// putZlibReader returns a zlib.Reader to the pool for reuse.
func putZlibReader(r io.ReadCloser) {
	_ = r.Close()
	zrPool.Put(r)
}

var (
	zstdOnce    sync.Once
	zstdDec     *zstd.Decoder
	zstdInitErr error
)

// getZstdDecoder returns the shared zstd decoder. DecodeAll on a decoder
// created without an attached reader is safe for concurrent use, so one
// instance serves the whole process.
func getZstdDecoder() (*zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdDec, zstdInitErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zstdDec, zstdInitErr
}
