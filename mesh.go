// mesh.go
//
// Canonical in-memory mesh record and the normalization pass that maps the
// differing raw grammar layouts onto it. Every grammar produces this one
// shape; downstream exporters and viewers never see grammar differences.

package npk

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// SubmeshDescriptor is one entry of the submesh table: vertex and face
// counts plus the per-vertex stream layout of that submesh.
type SubmeshDescriptor struct {
	VertexCount       uint32
	FaceCount         uint32
	UVLayerCount      uint8
	ColorChannelCount uint8
}

// MeshData is the canonical, normalized mesh. Position, Normal, and UV
// share index space and always have equal length; Face indexes into them.
// BoneName, BoneParent, and BoneMatrix are parallel arrays; after
// normalization exactly one parent is -1. Immutable once returned.
type MeshData struct {
	// Version is the format revision byte at offset 4 of the file.
	Version uint8

	Position [][3]float32
	Normal   [][3]float32
	UV       [][2]float32
	Face     [][3]uint32

	Submeshes []SubmeshDescriptor

	BoneName   []string
	BoneParent []int32
	BoneMatrix []mgl32.Mat4

	VertexBone   [][4]uint32
	VertexWeight [][4]float32
}

// VertexCount returns the number of vertices.
func (m *MeshData) VertexCount() int { return len(m.Position) }

// FaceCount returns the number of triangles.
func (m *MeshData) FaceCount() int { return len(m.Face) }

// BoneCount returns the number of bones after normalization.
func (m *MeshData) BoneCount() int { return len(m.BoneName) }

// HasBones reports whether the mesh carries a skeleton.
func (m *MeshData) HasBones() bool { return len(m.BoneName) > 0 }

// mergeRoots rewrites a multi-root bone hierarchy into a single-root one by
// appending a synthetic dummy_root bone with identity bind matrix and
// pointing every former root at it. A single-root (or empty) hierarchy is
// returned untouched.
func (m *MeshData) mergeRoots() {
	roots := 0
	for _, p := range m.BoneParent {
		if p == -1 {
			roots++
		}
	}
	if roots <= 1 {
		return
	}

	newRoot := int32(len(m.BoneParent))
	for i, p := range m.BoneParent {
		if p == -1 {
			m.BoneParent[i] = newRoot
		}
	}
	m.BoneParent = append(m.BoneParent, -1)
	m.BoneName = append(m.BoneName, "dummy_root")
	m.BoneMatrix = append(m.BoneMatrix, mgl32.Ident4())
}

// normalize pads the secondary per-vertex streams out to the position
// stream's length so that all streams share index space. Missing normals
// and UVs become zeros; missing skin assignments fall back to bone 0 with
// full weight.
func (m *MeshData) normalize() {
	n := len(m.Position)
	if n == 0 {
		return
	}
	for len(m.Normal) < n {
		m.Normal = append(m.Normal, [3]float32{})
	}
	for len(m.UV) < n {
		m.UV = append(m.UV, [2]float32{})
	}
	if m.HasBones() {
		for len(m.VertexBone) < n {
			m.VertexBone = append(m.VertexBone, [4]uint32{})
		}
		for len(m.VertexWeight) < n {
			m.VertexWeight = append(m.VertexWeight, [4]float32{1, 0, 0, 0})
		}
	}
}

// validate checks the structural invariants a finished MeshData must hold.
// A grammar whose output fails validation is treated as a mismatch, exactly
// like a decode error mid-parse.
func (m *MeshData) validate() error {
	n := len(m.Position)
	if len(m.Normal) != n || len(m.UV) != n {
		return fmt.Errorf("mesh: stream lengths diverge: %d positions, %d normals, %d uvs",
			n, len(m.Normal), len(m.UV))
	}
	for _, f := range m.Face {
		for _, idx := range f {
			if int(idx) >= n {
				return fmt.Errorf("mesh: face index %d out of %d vertices", idx, n)
			}
		}
	}
	if len(m.BoneName) != len(m.BoneParent) || len(m.BoneName) != len(m.BoneMatrix) {
		return fmt.Errorf("mesh: bone arrays diverge: %d names, %d parents, %d matrices",
			len(m.BoneName), len(m.BoneParent), len(m.BoneMatrix))
	}
	if m.HasBones() {
		if len(m.VertexBone) != n || len(m.VertexWeight) != n {
			return fmt.Errorf("mesh: skin arrays diverge: %d assignments, %d weights, %d vertices",
				len(m.VertexBone), len(m.VertexWeight), n)
		}
		bones := uint32(len(m.BoneName))
		for _, vb := range m.VertexBone {
			for _, idx := range vb {
				if idx >= bones {
					return fmt.Errorf("mesh: skin bone index %d out of %d bones", idx, bones)
				}
			}
		}
	}
	return nil
}
