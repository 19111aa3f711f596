package meshbvh

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/f32"

	"github.com/gogpu/meshbvh/compute"
)

// VertexSize is the byte stride of a mesh vertex: a vec4<f32> position
// followed by a vec4<f32> normal.
const VertexSize = 32

// Mesh is the triangle source of a build. The builder reads both buffers
// through copies, so they only need CopySrc usage, and it never writes them.
type Mesh interface {
	VertexBuffer() compute.Buffer
	VertexCount() uint32
	IndexBuffer() compute.Buffer
	IndexCount() uint32
}

// HostMesh is an indexed triangle mesh in host memory.
type HostMesh struct {
	Positions []f32.Vec3
	// Normals is optional; missing entries are uploaded as zero.
	Normals []f32.Vec3
	Indices []uint32
}

// TriangleCount returns len(Indices)/3.
func (m *HostMesh) TriangleCount() int { return len(m.Indices) / 3 }

// Bounds returns the box of all referenced vertices.
func (m *HostMesh) Bounds() (lo, hi f32.Vec3) {
	lo, hi = emptyBox()
	for _, i := range m.Indices {
		if int(i) < len(m.Positions) {
			lo = minVec(lo, m.Positions[i])
			hi = maxVec(hi, m.Positions[i])
		}
	}
	return lo, hi
}

// TriangleBounds computes the bounds record of every triangle on the host.
// Out-of-range vertex indices are clamped like the GPU kernel does.
func (m *HostMesh) TriangleBounds() []TriangleBounds {
	if len(m.Positions) == 0 {
		return nil
	}
	last := uint32(len(m.Positions)) - 1
	out := make([]TriangleBounds, m.TriangleCount())
	for t := range out {
		a := m.Positions[min(m.Indices[3*t], last)]
		b := m.Positions[min(m.Indices[3*t+1], last)]
		c := m.Positions[min(m.Indices[3*t+2], last)]
		out[t] = TriangleBounds{
			Min: minVec(minVec(a, b), c),
			Max: maxVec(maxVec(a, b), c),
			Centroid: f32.Vec3{
				(a[0] + b[0] + c[0]) / 3,
				(a[1] + b[1] + c[1]) / 3,
				(a[2] + b[2] + c[2]) / 3,
			},
		}
	}
	return out
}

// VertexBytes encodes the vertices in the VertexSize layout.
func (m *HostMesh) VertexBytes() []byte {
	words := make([]uint32, len(m.Positions)*VertexSize/4)
	for i, p := range m.Positions {
		w := words[i*VertexSize/4:]
		putVec3(w, 0, p)
		w[3] = compute.U32(1)
		if i < len(m.Normals) {
			putVec3(w, 4, m.Normals[i])
		}
	}
	return compute.Bytes(words)
}

// Upload copies the mesh into new buffers on cc.
func (m *HostMesh) Upload(cc compute.Context) (*GPUMesh, error) {
	vb, err := cc.CreateBuffer("mesh_vertices", uint64(len(m.Positions))*VertexSize,
		gputypes.BufferUsageVertex|gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("meshbvh: upload vertices: %w", err)
	}
	ib, err := cc.CreateBuffer("mesh_indices", uint64(len(m.Indices))*4,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst)
	if err != nil {
		cc.DestroyBuffer(vb)
		return nil, fmt.Errorf("meshbvh: upload indices: %w", err)
	}

	if err := cc.WriteBuffer(vb, 0, m.VertexBytes()); err != nil {
		cc.DestroyBuffer(vb)
		cc.DestroyBuffer(ib)
		return nil, fmt.Errorf("meshbvh: upload vertices: %w", err)
	}
	if err := cc.WriteBuffer(ib, 0, compute.Bytes(m.Indices)); err != nil {
		cc.DestroyBuffer(vb)
		cc.DestroyBuffer(ib)
		return nil, fmt.Errorf("meshbvh: upload indices: %w", err)
	}

	return &GPUMesh{
		cc:          cc,
		vertices:    vb,
		indices:     ib,
		vertexCount: uint32(len(m.Positions)),
		indexCount:  uint32(len(m.Indices)),
	}, nil
}

// GPUMesh is a mesh uploaded by HostMesh.Upload.
type GPUMesh struct {
	cc          compute.Context
	vertices    compute.Buffer
	indices     compute.Buffer
	vertexCount uint32
	indexCount  uint32
}

func (m *GPUMesh) VertexBuffer() compute.Buffer { return m.vertices }
func (m *GPUMesh) VertexCount() uint32          { return m.vertexCount }
func (m *GPUMesh) IndexBuffer() compute.Buffer  { return m.indices }
func (m *GPUMesh) IndexCount() uint32           { return m.indexCount }

// Release destroys the mesh buffers.
func (m *GPUMesh) Release() {
	if m.vertices != nil {
		m.cc.DestroyBuffer(m.vertices)
		m.vertices = nil
	}
	if m.indices != nil {
		m.cc.DestroyBuffer(m.indices)
		m.indices = nil
	}
}

// validateMesh checks the mesh contract before any GPU work is planned.
func validateMesh(m Mesh) error {
	if m == nil {
		return fmt.Errorf("%w: nil mesh", ErrInvalidMesh)
	}
	if m.IndexCount()%3 != 0 {
		return fmt.Errorf("%w: index count %d is not a multiple of 3", ErrInvalidMesh, m.IndexCount())
	}
	if m.IndexCount() == 0 {
		return nil
	}
	if m.VertexCount() == 0 {
		return fmt.Errorf("%w: %d indices but no vertices", ErrInvalidMesh, m.IndexCount())
	}

	vb, ib := m.VertexBuffer(), m.IndexBuffer()
	if vb == nil || ib == nil {
		return fmt.Errorf("%w: missing vertex or index buffer", ErrInvalidMesh)
	}
	if need := uint64(m.VertexCount()) * VertexSize; vb.Size() < need {
		return fmt.Errorf("%w: vertex buffer holds %d bytes, %d vertices need %d", ErrInvalidMesh, vb.Size(), m.VertexCount(), need)
	}
	if need := uint64(m.IndexCount()) * 4; ib.Size() < need {
		return fmt.Errorf("%w: index buffer holds %d bytes, %d indices need %d", ErrInvalidMesh, ib.Size(), m.IndexCount(), need)
	}
	for _, b := range []compute.Buffer{vb, ib} {
		if b.Usage()&gputypes.BufferUsageCopySrc == 0 {
			return fmt.Errorf("%w: %q lacks CopySrc usage", ErrInvalidMesh, b.Label())
		}
	}
	return nil
}
