// errors.go
//
// Error taxonomy for the archive reader and mesh parser.
// Flat conditions are exported sentinel values so callers can branch with
// errors.Is; failures that carry context (which entry, which decode stage,
// which grammars were attempted) are small structured types that still
// unwrap to a sentinel where one applies.

package npk

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidFormat reports that the archive magic is neither NXPK nor
	// EXPK. The file cannot be opened.
	ErrInvalidFormat = errors.New("npk: not an NXPK/EXPK archive")

	// ErrUnsupportedRecordWidth reports an inferred index record width that
	// has no known field layout.
	ErrUnsupportedRecordWidth = errors.New("npk: unsupported index record width")

	// ErrTruncatedArchive reports a read that ran past the end of the file.
	ErrTruncatedArchive = errors.New("npk: read past end of archive")

	// ErrIndexOutOfRange reports an entry index >= the archive's entry count.
	ErrIndexOutOfRange = errors.New("npk: entry index out of range")

	// ErrMissingKey reports that an entry uses the basic XOR scheme but no
	// decryption key was configured. Recoverable: reopen with WithBasicKey.
	ErrMissingKey = errors.New("npk: basic XOR entry requires a decryption key")

	// ErrNestedEnvelope reports an NXS3 envelope whose embedded key could
	// not be recovered. Surfaced instead of returning corrupted bytes.
	ErrNestedEnvelope = errors.New("npk: nested NXS3 envelope could not be unwrapped")

	// ErrCountOutOfBounds reports a vertex/face/bone count beyond the
	// configured sanity limits.
	ErrCountOutOfBounds = errors.New("mesh: count exceeds sanity bounds")

	// ErrCRCMismatch reports a checksum that does not match the value
	// recorded in the index.
	ErrCRCMismatch = errors.New("npk: crc mismatch")
)

// decodeStage names one step of the per-entry decode pipeline for error
// reporting.
type decodeStage string

const (
	stageRead       decodeStage = "read"
	stageKeystream  decodeStage = "keystream"
	stageCipher     decodeStage = "cipher"
	stageDecompress decodeStage = "decompress"
	stageEnvelope   decodeStage = "envelope"
	stageCRC        decodeStage = "crc"
)

// PayloadDecodeError reports that a single entry failed one stage of its
// decode pipeline. The archive handle remains valid; other entries are
// unaffected.
type PayloadDecodeError struct {
	// Index is the logical index of the failing entry.
	Index int

	// Stage names the pipeline step that failed.
	Stage string

	// Err is the underlying cause.
	Err error
}

func (e *PayloadDecodeError) Error() string {
	return fmt.Sprintf("npk: entry %d: %s stage failed: %v", e.Index, e.Stage, e.Err)
}

func (e *PayloadDecodeError) Unwrap() error { return e.Err }

// ParseAttempt records the outcome of one mesh grammar attempt.
type ParseAttempt struct {
	Grammar MeshGrammar

	// Offset is the byte position at which the grammar gave up.
	Offset int

	Err error
}

// ExhaustedError reports that every mesh grammar failed on the same input.
// It is never returned alongside a partially populated MeshData.
type ExhaustedError struct {
	Attempts []ParseAttempt
}

func (e *ExhaustedError) Error() string {
	var sb strings.Builder
	sb.WriteString("mesh: all parsers exhausted:")
	for _, a := range e.Attempts {
		fmt.Fprintf(&sb, " [%s @%d: %v]", a.Grammar, a.Offset, a.Err)
	}
	return sb.String()
}
