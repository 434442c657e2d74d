// envelope.go
//
// Secondary payload envelopes that appear inside already-decoded entries.
//
// The NXS3 envelope carries a 1024-bit RSA block whose public-key operation
// recovers a 4-byte ephemeral key; the body is XOR-rolled against that key
// with a rotate-and-multiply state update, then LZ4 block decompressed to
// the size stored at offset 16. The rotor envelope is older: a rotor-machine
// stream decrypt, zlib inflate, then a fixed tail scramble to undo.
//
// Both unwraps are strict: a malformed envelope surfaces ErrNestedEnvelope
// rather than passing undecrypted bytes downstream.

package npk

import (
	"bytes"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"math/big"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// nxs3Magic opens every nested NXS3 envelope.
var nxs3Magic = []byte{'N', 'X', 'S', '3', 0x03, 0x00, 0x00, 0x01}

// nxs3PublicKey is the packer's embedded RSA public key, a constant of the
// format.
const nxs3PublicKey = `-----BEGIN RSA PUBLIC KEY-----
MIGJAoGBAOZAaZe2qB7dpT9Y8WfZIdDv+ooS1HsFEDW2hFnnvcuFJ4vIuPgKhISm
pY4/jT3aipwPNVTjM6yHbzOLhrnGJh7Ec3CQG/FZu6VKoCqVEtCeh15hjcu6QYtn
YWIEf8qgkylqsOQ3IIn76udV6m0AWC2jDlmLeRcR04w9NNw7+9t9AgMBAAE=
-----END RSA PUBLIC KEY-----`

const (
	nxs3SizeOffset = 16  // LE u32 decompressed size
	nxs3KeyOffset  = 20  // start of the RSA block
	nxs3KeySize    = 128 // 1024-bit key
)

// isNXS3 reports whether data starts with the nested envelope magic.
func isNXS3(data []byte) bool { return bytes.HasPrefix(data, nxs3Magic) }

// isRotorPacked reports whether data carries the legacy rotor envelope.
func isRotorPacked(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	return (data[0] == 0x1D && data[1] == 0x04) ||
		(data[0] == 0x15 && data[1] == 0x23)
}

var (
	nxs3KeyOnce   sync.Once
	nxs3ParsedN   *big.Int
	nxs3ParsedE   *big.Int
	nxs3KeyperErr error
)

func nxs3Key() (n, e *big.Int, err error) {
	nxs3KeyOnce.Do(func() {
		block, _ := pem.Decode([]byte(nxs3PublicKey))
		if block == nil {
			nxs3KeyperErr = fmt.Errorf("embedded key: bad PEM")
			return
		}
		pub, perr := x509.ParsePKCS1PublicKey(block.Bytes)
		if perr != nil {
			nxs3KeyperErr = fmt.Errorf("embedded key: %w", perr)
			return
		}
		nxs3ParsedN = pub.N
		nxs3ParsedE = big.NewInt(int64(pub.E))
	})
	return nxs3ParsedN, nxs3ParsedE, nxs3KeyperErr
}

// rsaPublicDecrypt runs the raw RSA public operation sig^e mod n and strips
// the PKCS#1 v1.5 type-1 padding, returning the embedded message.
// The stdlib rsa package only exposes the verify-and-compare direction, so
// the modular exponentiation is done directly.
func rsaPublicDecrypt(sig []byte) ([]byte, error) {
	n, e, err := nxs3Key()
	if err != nil {
		return nil, err
	}

	k := (n.BitLen() + 7) / 8
	if len(sig) != k {
		return nil, fmt.Errorf("signature length %d does not match key size %d", len(sig), k)
	}

	m := new(big.Int).Exp(new(big.Int).SetBytes(sig), e, n)
	dec := m.FillBytes(make([]byte, k))

	if dec[0] != 0x00 || dec[1] != 0x01 {
		return nil, fmt.Errorf("incorrect padding header")
	}
	end := bytes.IndexByte(dec[2:], 0x00)
	if end < 0 {
		return nil, fmt.Errorf("padding terminator not found")
	}
	return dec[2+end+1:], nil
}

// unwrapNXS3 recovers the ephemeral key from the envelope, de-obfuscates the
// body with the rolling XOR, and LZ4-decompresses it to the embedded size.
func unwrapNXS3(data []byte) ([]byte, error) {
	if len(data) < nxs3KeyOffset+nxs3KeySize {
		return nil, fmt.Errorf("%w: envelope too short (%d bytes)", ErrNestedEnvelope, len(data))
	}

	recovered, err := rsaPublicDecrypt(data[nxs3KeyOffset : nxs3KeyOffset+nxs3KeySize])
	if err != nil {
		return nil, fmt.Errorf("%w: key recovery: %v", ErrNestedEnvelope, err)
	}
	if len(recovered) < 4 {
		return nil, fmt.Errorf("%w: recovered key too short", ErrNestedEnvelope)
	}
	key := binary.LittleEndian.Uint32(recovered[:4])

	body := data[nxs3KeyOffset+nxs3KeySize:]
	plain := make([]byte, len(body))
	for i, b := range body {
		plain[i] = b ^ byte(key>>(i%4*8))
		if i%4 == 3 {
			ror := key>>19 | key<<13
			key = ror + ror<<2 + 0xE6546B64
		}
	}

	size := binary.LittleEndian.Uint32(data[nxs3SizeOffset : nxs3SizeOffset+4])
	dst := make([]byte, size)
	nOut, err := lz4.UncompressBlock(plain, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrNestedEnvelope, err)
	}
	return dst[:nOut], nil
}

var (
	rotorOnce   sync.Once
	rotorShared *rotorMachine
)

// unwrapRotor decrypts a rotor-packed payload: rotor stream decrypt, zlib
// inflate, tail scramble undo. The rotor bank is built once and is read-only
// afterwards; positions reset per call, so concurrent unwraps are safe.
func unwrapRotor(data []byte) ([]byte, error) {
	rotorOnce.Do(func() { rotorShared = newRotorMachine() })

	plain := rotorShared.decrypt(data)

	zr, err := getZlibReader(bytes.NewReader(plain))
	if err != nil {
		return nil, fmt.Errorf("rotor: %w", err)
	}
	defer putZlibReader(zr)

	var out bytes.Buffer
	if _, err := out.ReadFrom(zr); err != nil {
		return nil, fmt.Errorf("rotor: %w", err)
	}
	return reverseTail(out.Bytes()), nil
}
