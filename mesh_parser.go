// mesh_parser.go
//
// The mesh binary format ships in several structurally similar but
// incompatible layouts, distinguishable only by trial parsing: no header
// field reliably says which one a given file uses. Each layout is a
// grammar here; they share one parse skeleton parameterized by field
// widths and strictness, and a fixed fallback order tries them until one
// produces a mesh that passes structural validation.

package npk

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

// MeshGrammar identifies one of the known mesh binary layouts.
type MeshGrammar uint8

const (
	// GrammarStandard uses 16-bit bone parent and skin indices.
	GrammarStandard MeshGrammar = iota

	// GrammarSimplified uses 8-bit bone parent and skin indices and the
	// alternate auxiliary-table trigger.
	GrammarSimplified

	// GrammarRobust shares GrammarSimplified's field widths but rejects
	// submesh descriptors the simplified layout would tolerate.
	GrammarRobust

	// GrammarAdaptive decodes the bone table like GrammarRobust, then
	// scans forward for a plausible vertex/face-count pair instead of
	// trusting the submesh sentinel.
	GrammarAdaptive
)

var grammarNames = map[MeshGrammar]string{
	GrammarStandard:   "standard",
	GrammarSimplified: "simplified",
	GrammarRobust:     "robust",
	GrammarAdaptive:   "adaptive",
}

func (g MeshGrammar) String() string {
	if s, ok := grammarNames[g]; ok {
		return s
	}
	return fmt.Sprintf("grammar(%d)", uint8(g))
}

// grammarLayout captures the structural knobs that distinguish one grammar
// from another. Everything else about the parse is shared.
type grammarLayout struct {
	// wideParents reads bone parent indices as u16 (sentinel 65535)
	// instead of u8 (sentinel 255).
	wideParents bool

	// wideSkin reads per-vertex skin bone indices as u16 instead of u8.
	wideSkin bool

	// auxOnOne triggers the opaque auxiliary bone table on bone_exist
	// values 1 and 4 instead of the usual >1.
	auxOnOne bool

	// strict rejects submesh descriptors with implausible stream layouts.
	strict bool

	// adaptive scans for the mesh body instead of walking the submesh
	// descriptor loop, and enforces hard count ceilings.
	adaptive bool
}

var grammarLayouts = map[MeshGrammar]grammarLayout{
	GrammarStandard:   {wideParents: true, wideSkin: true},
	GrammarSimplified: {auxOnOne: true},
	GrammarRobust:     {strict: true},
	GrammarAdaptive:   {adaptive: true},
}

var grammarOrder = [...]MeshGrammar{
	GrammarStandard, GrammarSimplified, GrammarRobust, GrammarAdaptive,
}

// ParseMesh decodes raw mesh bytes, trying each grammar in fixed order on a
// fresh cursor until one completes and its output passes validation. On
// total failure it returns an *ExhaustedError carrying every attempt's
// grammar, failure offset, and reason; it never returns a partial mesh.
func ParseMesh(data []byte) (*MeshData, error) {
	attempts := make([]ParseAttempt, 0, len(grammarOrder))
	for _, g := range grammarOrder {
		m, off, err := parseMeshAs(data, g)
		if err == nil {
			return m, nil
		}
		attempts = append(attempts, ParseAttempt{Grammar: g, Offset: off, Err: err})
	}
	return nil, &ExhaustedError{Attempts: attempts}
}

// parseMeshAs runs a single grammar over the full buffer. The returned
// offset is where the parse stopped, for diagnostics.
func parseMeshAs(data []byte, g MeshGrammar) (*MeshData, int, error) {
	lay := grammarLayouts[g]

	if len(data) < 8 {
		return nil, 0, fmt.Errorf("mesh: %d bytes is too short for a header", len(data))
	}
	m := &MeshData{Version: data[4]}

	c := newCursor(data)
	c.Skip(8) // magic

	boneExist := c.Uint32()
	if boneExist != 0 {
		if err := parseBoneTable(c, m, boneExist, lay); err != nil {
			return nil, failOffset(c), err
		}
	}

	if lay.adaptive {
		if err := scanMeshBody(c); err != nil {
			return nil, failOffset(c), err
		}
	} else {
		c.Uint32() // opaque offset field
		if err := parseSubmeshTable(c, m, lay); err != nil {
			return nil, failOffset(c), err
		}
	}

	if err := parseMeshBody(c, m, boneExist != 0, lay); err != nil {
		return nil, failOffset(c), err
	}

	m.normalize()
	if err := m.validate(); err != nil {
		return nil, c.Tell(), err
	}
	return m, c.Tell(), nil
}

func failOffset(c *cursor) int {
	if c.Err() != nil {
		return c.ErrOffset()
	}
	return c.Tell()
}

// parseBoneTable decodes the skeleton block: optional auxiliary table,
// parent indices, fixed-width names, optional per-bone extra block, bind
// matrices. Multi-root hierarchies are merged under a synthetic root here,
// before the trailing flag byte is checked.
func parseBoneTable(c *cursor, m *MeshData, boneExist uint32, lay grammarLayout) error {
	aux := boneExist > 1
	if lay.auxOnOne {
		aux = boneExist == 1 || boneExist == 4
	}
	if aux {
		n := c.Uint8()
		c.Skip(2)
		c.Skip(int(n) * 4)
	}

	boneCount := int(c.Uint16())
	if err := c.Err(); err != nil {
		return fmt.Errorf("bone header: %w", err)
	}
	if lay.adaptive && boneCount > maxBoneCount {
		return fmt.Errorf("%w: %d bones (limit %d)", ErrCountOutOfBounds, boneCount, maxBoneCount)
	}

	m.BoneParent = make([]int32, boneCount)
	for i := range m.BoneParent {
		if lay.wideParents {
			p := c.Uint16()
			if p == 65535 {
				m.BoneParent[i] = -1
			} else {
				m.BoneParent[i] = int32(p)
			}
		} else {
			p := c.Uint8()
			if p == 255 {
				m.BoneParent[i] = -1
			} else {
				m.BoneParent[i] = int32(p)
			}
		}
	}

	m.BoneName = make([]string, boneCount)
	for i := range m.BoneName {
		m.BoneName[i] = decodeBoneName(c.Bytes(32))
	}

	if extra := c.Uint8(); extra != 0 {
		c.Skip(boneCount * 28)
	}

	m.BoneMatrix = make([]mgl32.Mat4, boneCount)
	for i := range m.BoneMatrix {
		for j := 0; j < 16; j++ {
			m.BoneMatrix[i][j] = c.Float32()
		}
	}
	if err := c.Err(); err != nil {
		return fmt.Errorf("bone table: %w", err)
	}

	m.mergeRoots()

	if !lay.adaptive {
		if flag := c.Uint8(); flag != 0 {
			return fmt.Errorf("mesh: bone table trailer byte %d, want 0", flag)
		}
		if err := c.Err(); err != nil {
			return fmt.Errorf("bone table trailer: %w", err)
		}
	}
	return nil
}

// decodeBoneName trims NUL padding from a fixed 32-byte name field and
// replaces embedded spaces with underscores.
func decodeBoneName(raw []byte) string {
	s := strings.ReplaceAll(string(raw), "\x00", "")
	return strings.ReplaceAll(s, " ", "_")
}

// parseSubmeshTable walks the submesh descriptor loop: a u16 sentinel of 1
// ends it, anything else is the start of another descriptor.
func parseSubmeshTable(c *cursor, m *MeshData, lay grammarLayout) error {
	for {
		if c.peekUint16() == 1 {
			c.Skip(2)
			return c.Err()
		}
		d := SubmeshDescriptor{
			VertexCount:       c.Uint32(),
			FaceCount:         c.Uint32(),
			UVLayerCount:      c.Uint8(),
			ColorChannelCount: c.Uint8(),
		}
		if err := c.Err(); err != nil {
			return fmt.Errorf("submesh descriptor %d: %w", len(m.Submeshes), err)
		}
		if lay.strict {
			if d.UVLayerCount > 8 || d.ColorChannelCount > 4 {
				return fmt.Errorf("mesh: submesh descriptor %d has %d uv layers, %d color channels",
					len(m.Submeshes), d.UVLayerCount, d.ColorChannelCount)
			}
			if d.VertexCount == 0 || d.FaceCount == 0 {
				return fmt.Errorf("mesh: submesh descriptor %d is empty", len(m.Submeshes))
			}
		}
		m.Submeshes = append(m.Submeshes, d)
	}
}

// parseMeshBody reads the interleaved vertex streams, face table, per-
// submesh UV and color streams, and optional skinning records.
func parseMeshBody(c *cursor, m *MeshData, hasBones bool, lay grammarLayout) error {
	vertexCount := c.Uint32()
	faceCount := c.Uint32()
	if err := c.Err(); err != nil {
		return fmt.Errorf("mesh body header: %w", err)
	}
	if lay.adaptive {
		if vertexCount > maxVertexCount || faceCount > maxFaceCount {
			return fmt.Errorf("%w: %d vertices, %d faces", ErrCountOutOfBounds, vertexCount, faceCount)
		}
	}
	// Cheap ceiling before allocation: the position stream alone needs 12
	// bytes per vertex.
	if int64(vertexCount)*12 > int64(c.Remaining()) {
		return fmt.Errorf("mesh: %d vertices cannot fit in %d remaining bytes: %w",
			vertexCount, c.Remaining(), ErrTruncatedArchive)
	}

	m.Position = readVec3Stream(c, int(vertexCount))
	m.Normal = readVec3Stream(c, int(vertexCount))

	if secondary := c.Uint16(); secondary != 0 {
		c.Skip(int(vertexCount) * 12)
	}

	if int64(faceCount)*6 > int64(c.Remaining()) {
		return fmt.Errorf("mesh: %d faces cannot fit in %d remaining bytes: %w",
			faceCount, c.Remaining(), ErrTruncatedArchive)
	}
	m.Face = make([][3]uint32, faceCount)
	for i := range m.Face {
		m.Face[i] = [3]uint32{uint32(c.Uint16()), uint32(c.Uint16()), uint32(c.Uint16())}
	}

	for si, d := range m.Submeshes {
		// Descriptor counts are untrusted; bound them before growing m.UV.
		if d.UVLayerCount > 0 {
			if int64(d.VertexCount)*8 > int64(c.Remaining()) {
				return fmt.Errorf("mesh: submesh %d uv stream of %d vertices cannot fit in %d remaining bytes: %w",
					si, d.VertexCount, c.Remaining(), ErrTruncatedArchive)
			}
			for i := uint32(0); i < d.VertexCount; i++ {
				m.UV = append(m.UV, [2]float32{c.Float32(), c.Float32()})
			}
			// Only the first UV layer is retained.
			c.Skip(int(d.VertexCount) * 8 * (int(d.UVLayerCount) - 1))
		} else {
			if uint64(len(m.UV))+uint64(d.VertexCount) > uint64(vertexCount) {
				return fmt.Errorf("mesh: submesh %d claims %d uvs beyond the %d-vertex total",
					si, d.VertexCount, vertexCount)
			}
			for i := uint32(0); i < d.VertexCount; i++ {
				m.UV = append(m.UV, [2]float32{})
			}
		}
	}

	// Vertex color streams are not part of the canonical mesh.
	for _, d := range m.Submeshes {
		c.Skip(int(d.VertexCount) * 4 * int(d.ColorChannelCount))
	}

	if hasBones {
		m.VertexBone = make([][4]uint32, vertexCount)
		for i := range m.VertexBone {
			for j := 0; j < 4; j++ {
				if lay.wideSkin {
					m.VertexBone[i][j] = uint32(c.Uint16())
				} else {
					m.VertexBone[i][j] = uint32(c.Uint8())
				}
			}
		}
		m.VertexWeight = make([][4]float32, vertexCount)
		for i := range m.VertexWeight {
			for j := 0; j < 4; j++ {
				m.VertexWeight[i][j] = c.Float32()
			}
		}
	}

	if err := c.Err(); err != nil {
		return fmt.Errorf("mesh body: %w", err)
	}
	return nil
}

func readVec3Stream(c *cursor, n int) [][3]float32 {
	out := make([][3]float32, n)
	for i := range out {
		out[i] = [3]float32{c.Float32(), c.Float32(), c.Float32()}
	}
	return out
}
