// crc.go
//
// Checksum verification against the CRC-32 values the packer recorded in
// the index. Verification is opt-in (WithVerifyCRC); the index stores one
// checksum for the compressed payload and one for the decompressed result,
// both IEEE polynomial.

package npk

import (
	"fmt"
	"hash/crc32"
)

// verifyStoredCRC checks the stored (compressed, post-cipher) payload
// against the index record's compressed checksum.
func verifyStoredCRC(data []byte, want uint32) error {
	if got := crc32.ChecksumIEEE(data); got != want {
		return fmt.Errorf("%w: stored payload crc %08x, index records %08x",
			ErrCRCMismatch, got, want)
	}
	return nil
}

// verifyOriginalCRC checks the decompressed payload against the index
// record's original checksum.
func verifyOriginalCRC(data []byte, want uint32) error {
	if got := crc32.ChecksumIEEE(data); got != want {
		return fmt.Errorf("%w: decoded payload crc %08x, index records %08x",
			ErrCRCMismatch, got, want)
	}
	return nil
}
