package meshbvh

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/meshbvh/compute"
)

// MeshBVH is a built hierarchy. The node buffer holds NodeCount records of
// NodeSize bytes with the root at index 0; the index buffer holds the
// triangle permutation that node ranges refer to.
//
// A MeshBVH owns its buffers until Release.
type MeshBVH struct {
	mu       sync.Mutex
	cc       compute.Context
	nodes    compute.Buffer
	indices  compute.Buffer
	released bool

	nodeCount     uint32
	triangleCount uint32
	levels        int
	truncated     bool
	strategy      Strategy
	stats         Stats
}

// Nodes returns the node buffer, or nil after Release.
func (b *MeshBVH) Nodes() compute.Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nodes
}

// Indices returns the triangle index buffer, or nil after Release.
func (b *MeshBVH) Indices() compute.Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indices
}

// NodeCount returns the number of valid node records.
func (b *MeshBVH) NodeCount() uint32 { return b.nodeCount }

// TriangleCount returns the number of triangles of the source mesh.
func (b *MeshBVH) TriangleCount() uint32 { return b.triangleCount }

// Levels returns the depth of the tree. A single root leaf has one level.
func (b *MeshBVH) Levels() int { return b.levels }

// Truncated reports whether the build stopped at the level cap with nodes
// still above the leaf threshold.
func (b *MeshBVH) Truncated() bool { return b.truncated }

// Strategy returns the strategy the tree was built with.
func (b *MeshBVH) Strategy() Strategy { return b.strategy }

// Stats returns the timings of the build that produced b.
func (b *MeshBVH) Stats() Stats { return b.stats.clone() }

// ReadNodes reads the node records back to the host.
func (b *MeshBVH) ReadNodes(ctx context.Context) ([]Node, error) {
	data, err := b.read(ctx, b.Nodes, uint64(b.nodeCount)*NodeSize)
	if err != nil {
		return nil, err
	}
	return DecodeNodes(data), nil
}

// ReadIndices reads the triangle permutation back to the host.
func (b *MeshBVH) ReadIndices(ctx context.Context) ([]uint32, error) {
	data, err := b.read(ctx, b.Indices, uint64(b.triangleCount)*4)
	if err != nil {
		return nil, err
	}
	return compute.Words(data), nil
}

func (b *MeshBVH) read(ctx context.Context, buf func() compute.Buffer, size uint64) ([]byte, error) {
	src := buf()
	if src == nil {
		return nil, ErrReleased
	}
	if size == 0 {
		return nil, nil
	}
	data, err := b.cc.ReadBuffer(ctx, src, 0, size)
	if err != nil {
		return nil, fmt.Errorf("meshbvh: read %s: %w", src.Label(), err)
	}
	return data, nil
}

// Release destroys the buffers. Release is safe to call more than once.
func (b *MeshBVH) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	b.cc.DestroyBuffer(b.nodes)
	b.cc.DestroyBuffer(b.indices)
	b.nodes, b.indices = nil, nil
}
