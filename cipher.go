// cipher.go
//
// Per-entry XOR obfuscation schemes. All three are symmetric: applying the
// same transform twice with the same key material restores the original
// bytes, so a single decode-direction implementation covers both ways.
//
// The advanced and incremental schemes obfuscate only a small window of the
// payload when it is larger than 128 bytes; the window position and length
// are derived from the record's CRC and lengths. The two schemes share the
// windowing rule but differ in how the per-byte key evolves.

package npk

// basicXor transforms at most the first 128 bytes of data using a 256-entry
// key table derived from a caller-supplied key. The key cannot be derived
// from the record, so callers must configure one (WithBasicKey).
func basicXor(data []byte, key uint32) {
	var table [0x100]byte
	for i := range table {
		table[i] = byte(key + uint32(i))
	}

	size := len(data)
	if size > 0x80 {
		size = 0x80
	}
	for j := 0; j < size; j++ {
		data[j] ^= table[j%0xFF]
	}
}

// cipherWindow computes the byte range transformed by the advanced and
// incremental schemes. Payloads up to 128 bytes are transformed whole;
// larger payloads only in a short window whose position depends on the
// record's original CRC and whose length on the original size.
func cipherWindow(n int, originalCRC, originalLength uint32) (start, size int) {
	if n <= 0x80 {
		return 0, n
	}
	start = int((originalCRC >> 1) % uint32(n-0x80))
	size = int((2*uint64(originalLength))%0x60) + 0x20
	return start, size
}

// advancedXor transforms the window with a 129-entry key table seeded by
// originalCRC XOR originalLength.
func advancedXor(data []byte, originalCRC, originalLength uint32) {
	b := originalCRC ^ originalLength

	var table [0x81]byte
	for i := range table {
		table[i] = byte(uint32(i) + b)
	}

	start, size := cipherWindow(len(data), originalCRC, originalLength)
	for j := 0; j < size; j++ {
		data[start+j] ^= table[j%0x80]
	}
}

// incrementalXor transforms the same window as advancedXor but with a single
// key byte that increments after every transformed byte.
func incrementalXor(data []byte, originalCRC, originalLength uint32) {
	key := byte(originalLength ^ originalCRC)

	start, size := cipherWindow(len(data), originalCRC, originalLength)
	for j := 0; j < size; j++ {
		data[start+j] ^= key
		key++
	}
}

// decryptEntry applies the record's cipher scheme to data in place.
// basicKey is consulted only for the basic scheme; nil means unconfigured.
func decryptEntry(data []byte, rec *IndexRecord, basicKey *uint32) error {
	switch rec.Cipher {
	case CipherNone:
		return nil
	case CipherBasicXor:
		if basicKey == nil {
			return ErrMissingKey
		}
		basicXor(data, *basicKey)
	case CipherAdvancedXor:
		advancedXor(data, rec.OriginalCRC, rec.OriginalLength)
	case CipherIncrementalXor:
		incrementalXor(data, rec.OriginalCRC, rec.OriginalLength)
	}
	return nil
}
