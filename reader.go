// reader.go
//
// Little-endian primitive readers over an in-memory byte buffer.
// Every structured decode in this package (the archive index, per-entry
// payload headers, and all four mesh grammars) goes through a cursor so
// that a single out-of-bounds read is reported once, at the offset where it
// happened, instead of cascading through dozens of call sites.

package npk

import (
	"encoding/binary"
	"math"
)

// cursor is a seekable read position over an immutable byte slice.
//
// The cursor carries a sticky error: once any read runs past the end of the
// buffer, every subsequent read returns the zero value and the first error is
// preserved together with the offset at which it occurred. Callers check
// Err() at structural boundaries rather than after every primitive read.
//
// A cursor never mutates the underlying slice and multiple cursors may read
// the same slice concurrently.
type cursor struct {
	buf []byte
	off int

	err    error
	errOff int
}

func newCursor(b []byte) *cursor { return &cursor{buf: b} }

// fail records the first error and the offset it occurred at.
func (c *cursor) fail(err error) {
	if c.err == nil {
		c.err = err
		c.errOff = c.off
	}
}

// Err returns the sticky error, if any.
func (c *cursor) Err() error { return c.err }

// ErrOffset returns the byte offset of the first failed read.
func (c *cursor) ErrOffset() int { return c.errOff }

// Tell returns the current read offset.
func (c *cursor) Tell() int { return c.off }

// Len returns the total length of the underlying buffer.
func (c *cursor) Len() int { return len(c.buf) }

// Remaining returns the number of unread bytes.
func (c *cursor) Remaining() int {
	if c.off > len(c.buf) {
		return 0
	}
	return len(c.buf) - c.off
}

// Seek moves the cursor to an absolute offset. Seeking out of range sets the
// sticky error; seeking exactly to Len() is allowed (EOF position).
func (c *cursor) Seek(off int) {
	if c.err != nil {
		return
	}
	if off < 0 || off > len(c.buf) {
		c.fail(ErrTruncatedArchive)
		return
	}
	c.off = off
}

// Skip advances the cursor n bytes without decoding them.
func (c *cursor) Skip(n int) {
	if c.err != nil {
		return
	}
	if n < 0 || c.off+n > len(c.buf) {
		c.fail(ErrTruncatedArchive)
		return
	}
	c.off += n
}

// Bytes reads exactly n raw bytes. The returned slice aliases the underlying
// buffer and must not be mutated.
func (c *cursor) Bytes(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || c.off+n > len(c.buf) {
		c.fail(ErrTruncatedArchive)
		return nil
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b
}

func (c *cursor) Uint8() uint8 {
	b := c.Bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (c *cursor) Uint16() uint16 {
	b := c.Bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (c *cursor) Uint32() uint32 {
	b := c.Bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (c *cursor) Uint64() uint64 {
	b := c.Bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (c *cursor) Float32() float32 {
	return math.Float32frombits(c.Uint32())
}

// peekUint16 reads a u16 without advancing, used by the submesh sentinel
// check where the value may belong to the next structure.
func (c *cursor) peekUint16() uint16 {
	if c.err != nil || c.off+2 > len(c.buf) {
		// Deliberately not sticky: the caller decides whether running out
		// of bytes here is an error.
		return 0
	}
	return binary.LittleEndian.Uint16(c.buf[c.off:])
}
