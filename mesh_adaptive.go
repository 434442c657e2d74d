// mesh_adaptive.go
//
// Forward scan for the adaptive grammar. Some mesh files carry opaque
// bytes between the bone table and the mesh body that no structured layout
// accounts for; rather than walking the submesh descriptor loop, the
// adaptive grammar searches byte-by-byte for the first u32 pair that looks
// like a real vertex/face-count header and resumes structured parsing
// there.

package npk

import (
	"encoding/binary"
	"fmt"
)

// Hard ceilings on scanned counts. A candidate outside these is treated as
// "not a real header" and the scan moves on; they also bound allocations
// when a candidate is accepted.
const (
	maxVertexCount = 500_000
	maxFaceCount   = 250_000
	maxBoneCount   = 2_000
)

// plausibleCounts reports whether a scanned vertex/face-count pair could
// start a real mesh body. Tiny values are rejected too: real meshes have
// more than a handful of vertices, and small integers are the most common
// false positive in padding.
func plausibleCounts(vertices, faces uint32) bool {
	return vertices > 10 && vertices < maxVertexCount &&
		faces > 10 && faces < maxFaceCount
}

// scanMeshBody advances the cursor to the first offset at or after the
// current position where a plausible vertex/face-count pair begins. The
// counts themselves are left unread for the structured parser.
func scanMeshBody(c *cursor) error {
	buf := c.buf
	for off := c.Tell(); off+8 <= len(buf); off++ {
		v := binary.LittleEndian.Uint32(buf[off:])
		f := binary.LittleEndian.Uint32(buf[off+4:])
		if plausibleCounts(v, f) {
			c.Seek(off)
			return c.Err()
		}
	}
	return fmt.Errorf("mesh: no plausible vertex/face-count header after offset %d", c.Tell())
}
