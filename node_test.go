package meshbvh

import (
	"slices"
	"testing"

	"golang.org/x/image/math/f32"

	"github.com/gogpu/meshbvh/compute"
)

func TestNodeRoundTrip(t *testing.T) {
	nodes := []Node{
		{Min: f32.Vec3{-1, -2, -3}, Max: f32.Vec3{1, 2, 3}, Start: 0, End: 10, LeftChild: 1},
		{Min: f32.Vec3{-1, -2, -3}, Max: f32.Vec3{0, 2, 3}, Start: 0, End: 4},
		{Min: f32.Vec3{0, -2, -3}, Max: f32.Vec3{1, 2, 3}, Start: 4, End: 10},
	}
	data := EncodeNodes(nodes)
	if len(data) != len(nodes)*NodeSize {
		t.Fatalf("encoded %d bytes, want %d", len(data), len(nodes)*NodeSize)
	}
	if got := DecodeNodes(data); !slices.Equal(got, nodes) {
		t.Errorf("DecodeNodes = %+v", got)
	}
}

func TestNodeLayout(t *testing.T) {
	data := EncodeNodes([]Node{{Min: f32.Vec3{1, 2, 3}, Max: f32.Vec3{4, 5, 6}, Start: 7, End: 8, LeftChild: 9}})
	w := compute.Words(data)
	if compute.F32(w[2]) != 3 || compute.F32(w[4]) != 4 || w[3] != 0 {
		t.Errorf("vector words %v", w[:7])
	}
	if w[7] != 7 || w[8] != 8 || w[9] != 9 || w[10] != 0 || w[11] != 0 {
		t.Errorf("scalar words %v", w[7:])
	}
}

func TestNodeLeaf(t *testing.T) {
	if !(Node{Start: 2, End: 5}).IsLeaf() {
		t.Error("node without child is not a leaf")
	}
	n := Node{Start: 2, End: 5, LeftChild: 3}
	if n.IsLeaf() || n.Count() != 3 {
		t.Errorf("IsLeaf %v Count %d", n.IsLeaf(), n.Count())
	}
}

func TestDecodeTriangleBounds(t *testing.T) {
	words := make([]uint32, boundsWords)
	putVec3(words, boundsMin, f32.Vec3{0, 0, 0})
	putVec3(words, boundsMax, f32.Vec3{1, 1, 0})
	putVec3(words, boundsCentroid, f32.Vec3{0.5, 0.25, 0})
	got := DecodeTriangleBounds(compute.Bytes(words))
	want := TriangleBounds{Max: f32.Vec3{1, 1, 0}, Centroid: f32.Vec3{0.5, 0.25, 0}}
	if len(got) != 1 || got[0] != want {
		t.Errorf("DecodeTriangleBounds = %+v", got)
	}
}

func TestHostTriangleBounds(t *testing.T) {
	m := &HostMesh{
		Positions: []f32.Vec3{{0, 0, 0}, {3, 0, 0}, {0, 3, 3}},
		Indices:   []uint32{0, 1, 2, 0, 1, 7},
	}
	tb := m.TriangleBounds()
	if len(tb) != 2 {
		t.Fatalf("%d records", len(tb))
	}
	if tb[0].Max != (f32.Vec3{3, 3, 3}) || tb[0].Centroid != (f32.Vec3{1, 1, 1}) {
		t.Errorf("triangle 0: %+v", tb[0])
	}
	// Index 7 is clamped to the last vertex.
	if tb[1] != tb[0] {
		t.Errorf("clamped triangle: %+v, want %+v", tb[1], tb[0])
	}
	if (&HostMesh{Indices: []uint32{0, 0, 0}}).TriangleBounds() != nil {
		t.Error("mesh without positions produced bounds")
	}
}

func TestVertexBytes(t *testing.T) {
	m := &HostMesh{
		Positions: []f32.Vec3{{1, 2, 3}, {4, 5, 6}},
		Normals:   []f32.Vec3{{0, 0, 1}},
	}
	w := compute.Words(m.VertexBytes())
	if len(w) != 2*VertexSize/4 {
		t.Fatalf("%d words", len(w))
	}
	if compute.F32(w[3]) != 1 || compute.F32(w[6]) != 1 || compute.F32(w[8]) != 4 {
		t.Errorf("vertex words %v", w)
	}
	if w[12] != 0 || w[13] != 0 || w[14] != 0 {
		t.Error("missing normal not zero")
	}
}

func TestHostMeshBounds(t *testing.T) {
	lo, hi := testCube().Bounds()
	if lo != (f32.Vec3{0, 0, 0}) || hi != (f32.Vec3{1, 1, 1}) {
		t.Errorf("Bounds = %v, %v", lo, hi)
	}
}
