package meshbvh

import (
	"math"

	"golang.org/x/image/math/f32"

	"github.com/gogpu/meshbvh/compute"
)

// NodeSize is the byte stride of a node record in the node buffer.
//
// Word layout (WGSL struct of two vec3<f32> followed by three u32):
//
//	0..2   min corner
//	3      padding
//	4..6   max corner
//	7      first primitive (inclusive)
//	8      last primitive (exclusive)
//	9      left child, 0 for leaves
//	10..11 padding
const NodeSize = 48

// TriangleBoundsSize is the byte stride of a triangle bounds record.
//
// Word layout: min corner at 0..2, max corner at 4..6, centroid at 8..10.
const TriangleBoundsSize = 48

const (
	nodeWords   = NodeSize / 4
	boundsWords = TriangleBoundsSize / 4

	nodeMin       = 0
	nodeMax       = 4
	nodeStart     = 7
	nodeEnd       = 8
	nodeLeftChild = 9

	boundsMin      = 0
	boundsMax      = 4
	boundsCentroid = 8
)

// Node is the host view of one node record.
type Node struct {
	Min, Max  f32.Vec3
	Start     uint32
	End       uint32
	LeftChild uint32
}

// Count returns the number of primitives in the node's range.
func (n Node) Count() uint32 { return n.End - n.Start }

// IsLeaf reports whether the node has no children. The root is never a
// child, so a zero child pointer marks a leaf.
func (n Node) IsLeaf() bool { return n.LeftChild == 0 }

// DecodeNodes parses node records from little-endian bytes.
func DecodeNodes(data []byte) []Node {
	words := compute.Words(data)
	nodes := make([]Node, len(words)/nodeWords)
	for i := range nodes {
		w := words[i*nodeWords:]
		nodes[i] = Node{
			Min:       vec3At(w, nodeMin),
			Max:       vec3At(w, nodeMax),
			Start:     w[nodeStart],
			End:       w[nodeEnd],
			LeftChild: w[nodeLeftChild],
		}
	}
	return nodes
}

// EncodeNodes serializes nodes into the GPU layout.
func EncodeNodes(nodes []Node) []byte {
	words := make([]uint32, len(nodes)*nodeWords)
	for i, n := range nodes {
		w := words[i*nodeWords:]
		putVec3(w, nodeMin, n.Min)
		putVec3(w, nodeMax, n.Max)
		w[nodeStart] = n.Start
		w[nodeEnd] = n.End
		w[nodeLeftChild] = n.LeftChild
	}
	return compute.Bytes(words)
}

// TriangleBounds is the host view of one triangle bounds record.
type TriangleBounds struct {
	Min, Max, Centroid f32.Vec3
}

// DecodeTriangleBounds parses triangle bounds records.
func DecodeTriangleBounds(data []byte) []TriangleBounds {
	words := compute.Words(data)
	out := make([]TriangleBounds, len(words)/boundsWords)
	for i := range out {
		w := words[i*boundsWords:]
		out[i] = TriangleBounds{
			Min:      vec3At(w, boundsMin),
			Max:      vec3At(w, boundsMax),
			Centroid: vec3At(w, boundsCentroid),
		}
	}
	return out
}

func vec3At(w []uint32, at int) f32.Vec3 {
	return f32.Vec3{compute.F32(w[at]), compute.F32(w[at+1]), compute.F32(w[at+2])}
}

func putVec3(w []uint32, at int, v f32.Vec3) {
	w[at] = compute.U32(v[0])
	w[at+1] = compute.U32(v[1])
	w[at+2] = compute.U32(v[2])
}

// emptyBox returns the identity element of box union.
func emptyBox() (lo, hi f32.Vec3) {
	return f32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		f32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
}

func minVec(a, b f32.Vec3) f32.Vec3 {
	return f32.Vec3{min(a[0], b[0]), min(a[1], b[1]), min(a[2], b[2])}
}

func maxVec(a, b f32.Vec3) f32.Vec3 {
	return f32.Vec3{max(a[0], b[0]), max(a[1], b[1]), max(a[2], b[2])}
}

// contains reports whether box [lo, hi] contains box [ilo, ihi].
func contains(lo, hi, ilo, ihi f32.Vec3) bool {
	for a := range 3 {
		if ilo[a] < lo[a] || ihi[a] > hi[a] {
			return false
		}
	}
	return true
}
