// mesh_cache.go
//
// Content-addressed cache in front of ParseMesh. Archives routinely store
// the same mesh bytes under several signatures (LOD sets, shared props),
// and a failed parse costs four full grammar attempts, so both outcomes
// are cached, keyed by a 64-bit fingerprint of the raw bytes.

package npk

import (
	farm "github.com/dgryski/go-farm"
	lru "github.com/hashicorp/golang-lru/v2"
)

type meshResult struct {
	mesh *MeshData
	err  error
}

// MeshCache memoizes ParseMesh results by content fingerprint. Safe for
// concurrent use.
type MeshCache struct {
	entries *lru.Cache[uint64, meshResult]
}

// NewMeshCache returns a cache holding up to size parse results.
func NewMeshCache(size int) (*MeshCache, error) {
	entries, err := lru.New[uint64, meshResult](size)
	if err != nil {
		return nil, err
	}
	return &MeshCache{entries: entries}, nil
}

// Parse returns the cached result for data's fingerprint, running ParseMesh
// on a miss. The returned mesh is shared between callers and must not be
// mutated.
func (mc *MeshCache) Parse(data []byte) (*MeshData, error) {
	key := farm.Fingerprint64(data)
	if r, ok := mc.entries.Get(key); ok {
		return r.mesh, r.err
	}
	mesh, err := ParseMesh(data)
	mc.entries.Add(key, meshResult{mesh: mesh, err: err})
	return mesh, err
}

// Len returns the number of cached results.
func (mc *MeshCache) Len() int { return mc.entries.Len() }
