package meshbvh

import (
	"math/bits"
	"strings"
	"testing"

	"github.com/gogpu/naga"
	"golang.org/x/image/math/f32"

	"github.com/gogpu/meshbvh/compute"
)

func TestKernelsValid(t *testing.T) {
	for s := stage(0); s < stageCount; s++ {
		if err := s.kernel().Validate(); err != nil {
			t.Errorf("%s: %v", s, err)
		}
		if s.kernel().Invoke == nil {
			t.Errorf("%s: no host reference", s)
		}
	}
	if !strings.HasPrefix(stageCount.String(), "stage(") {
		t.Errorf("stageCount.String() = %q", stageCount.String())
	}
}

func TestShadersCompile(t *testing.T) {
	for s := stage(0); s < stageCount; s++ {
		t.Run(s.String(), func(t *testing.T) {
			spirv, err := naga.Compile(s.kernel().Source)
			if err != nil {
				if strings.Contains(err.Error(), "not yet implemented") ||
					strings.Contains(err.Error(), "not supported") {
					t.Skipf("naga limitation: %v", err)
				}
				t.Fatalf("naga.Compile: %v", err)
			}
			if len(spirv) == 0 || len(spirv)%4 != 0 {
				t.Errorf("SPIR-V length %d", len(spirv))
			}
		})
	}
}

func TestExpandBits(t *testing.T) {
	tests := []struct{ in, want uint32 }{
		{0, 0},
		{1, 1},
		{2, 8},
		{3, 9},
		{0x3ff, 0x09249249},
		{0x7ff, 0x09249249}, // bits above 10 are dropped
	}
	for _, tt := range tests {
		if got := expandBits(tt.in); got != tt.want {
			t.Errorf("expandBits(%#x) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestMortonCode(t *testing.T) {
	lo, hi := f32.Vec3{0, 0, 0}, f32.Vec3{2, 2, 2}
	if got := mortonCode(lo, lo, hi); got != 0 {
		t.Errorf("min corner code %#x", got)
	}
	if got := mortonCode(hi, lo, hi); got != 1<<30-1 {
		t.Errorf("max corner code %#x, want %#x", got, uint32(1<<30-1))
	}
	// x occupies the highest bit of each triple.
	if got := mortonCode(f32.Vec3{1.5, 0, 0}, lo, hi); got&(1<<29) == 0 {
		t.Errorf("x high bit not set: %#x", got)
	}
	// A flat axis maps to zero.
	if got := mortonCode(f32.Vec3{1, 0, 1}, lo, f32.Vec3{2, 0, 2}); got&0x12492492 != 0 {
		t.Errorf("flat y axis produced bits: %#x", got)
	}
}

func TestBoxEdges(t *testing.T) {
	seen := make(map[[2]uint32]bool)
	for e := range uint32(12) {
		a, b := boxEdge(e)
		if a > 7 || b > 7 || bits.OnesCount32(a^b) != 1 {
			t.Fatalf("edge %d = (%d, %d)", e, a, b)
		}
		if seen[[2]uint32{a, b}] {
			t.Fatalf("edge %d = (%d, %d) repeated", e, a, b)
		}
		seen[[2]uint32{a, b}] = true
	}
}

func TestLongestAxis(t *testing.T) {
	tests := []struct {
		e    f32.Vec3
		want int
	}{
		{f32.Vec3{1, 1, 1}, 0},
		{f32.Vec3{1, 2, 2}, 1},
		{f32.Vec3{1, 2, 3}, 2},
		{f32.Vec3{0, 0, 0}, 0},
	}
	for _, tt := range tests {
		if got := longestAxis(tt.e); got != tt.want {
			t.Errorf("longestAxis(%v) = %d, want %d", tt.e, got, tt.want)
		}
	}
}

func TestHalfArea(t *testing.T) {
	if got := halfArea(f32.Vec3{0, 0, 0}, f32.Vec3{1, 2, 3}); got != 11 {
		t.Errorf("halfArea = %v, want 11", got)
	}
	lo, hi := emptyBox()
	if got := halfArea(lo, hi); got != 0 {
		t.Errorf("halfArea(empty) = %v, want 0", got)
	}
}

// splitFixture lays out one root node over boxes, in the order given by
// order, with room for two children.
func splitFixture(boxes [][2]f32.Vec3, order []uint32) (bounds, indices, nodes []uint32) {
	bounds = make([]uint32, len(boxes)*boundsWords)
	lo, hi := emptyBox()
	for i, b := range boxes {
		w := bounds[i*boundsWords:]
		putVec3(w, boundsMin, b[0])
		putVec3(w, boundsMax, b[1])
		putVec3(w, boundsCentroid, f32.Vec3{
			(b[0][0] + b[1][0]) / 2,
			(b[0][1] + b[1][1]) / 2,
			(b[0][2] + b[1][2]) / 2,
		})
		lo, hi = minVec(lo, b[0]), maxVec(hi, b[1])
	}
	indices = append([]uint32(nil), order...)
	nodes = make([]uint32, 3*nodeWords)
	root := Node{Min: lo, Max: hi, Start: 0, End: uint32(len(boxes))}
	copy(nodes, compute.Words(EncodeNodes([]Node{root})))
	return bounds, indices, nodes
}

// splitRoot scores every candidate plane of the root and partitions it.
func splitRoot(bounds, indices, nodes []uint32, candidates, maxLeaf uint32) []uint32 {
	splits := make([]uint32, candidates*splitWords)
	for k := range candidates {
		invokeSplitEvaluations(compute.Invocation{
			GlobalID: [3]uint32{0, k, 0},
			Params:   []uint32{0, 1, candidates, maxLeaf},
			Buffers:  [][]uint32{bounds, indices, nodes, splits},
		})
	}
	invokeBuildNextLevel(compute.Invocation{
		Params:  []uint32{0, 1, candidates},
		Buffers: [][]uint32{bounds, splits, {0, 1}, indices, nodes},
	})
	return splits
}

func childSet(t *testing.T, indices []uint32, n Node) map[uint32]bool {
	t.Helper()
	set := make(map[uint32]bool)
	for _, idx := range indices[n.Start:n.End] {
		set[idx] = true
	}
	return set
}

func TestBuildNextLevelPicksCheapestSplit(t *testing.T) {
	box := func(x float32) [2]f32.Vec3 {
		return [2]f32.Vec3{{x, 0, 0}, {x + 1, 1, 1}}
	}
	// Two clusters of three unit boxes, x in [0,3] and [8,11]. Planes at
	// 11/9 and 88/9 cut a cluster; the planes between them do not.
	boxes := [][2]f32.Vec3{box(0), box(1), box(2), box(8), box(9), box(10)}
	bounds, indices, nodes := splitFixture(boxes, []uint32{0, 3, 1, 4, 2, 5})

	const candidates = 8
	splits := splitRoot(bounds, indices, nodes, candidates, 1)

	best := float32(noSplitCost)
	var bestLeft uint32
	finite := 0
	for k := range candidates {
		s := splits[k*splitWords:]
		if s[splitAxis] != 0 {
			t.Errorf("candidate %d: axis %d, want 0", k, s[splitAxis])
		}
		c := compute.F32(s[splitCost])
		if c == noSplitCost {
			continue
		}
		finite++
		if c < best {
			best, bestLeft = c, s[splitLeftCount]
		}
	}
	if finite != candidates {
		t.Fatalf("%d finite candidates, want %d", finite, candidates)
	}
	// Each cluster box has half area 3+1+3.
	if best != 42 || bestLeft != 3 {
		t.Errorf("cheapest candidate cost %v left %d, want 42 and 3", best, bestLeft)
	}

	got := DecodeNodes(compute.Bytes(nodes))
	if got[0].LeftChild != 1 {
		t.Fatalf("root left child %d, want 1", got[0].LeftChild)
	}
	left, right := got[1], got[2]
	if left.Start != 0 || left.End != bestLeft || right.Start != bestLeft || right.End != 6 {
		t.Fatalf("children [%d,%d) [%d,%d), want [0,3) [3,6)", left.Start, left.End, right.Start, right.End)
	}
	for _, c := range []struct {
		name string
		set  map[uint32]bool
		want []uint32
	}{
		{"left", childSet(t, indices, left), []uint32{0, 1, 2}},
		{"right", childSet(t, indices, right), []uint32{3, 4, 5}},
	} {
		for _, idx := range c.want {
			if !c.set[idx] {
				t.Errorf("%s child %v is missing triangle %d", c.name, c.set, idx)
			}
		}
	}
}

func TestBuildNextLevelMidpointFallback(t *testing.T) {
	// Coincident boxes share one centroid, so every plane leaves a side empty.
	unit := [2]f32.Vec3{{0, 0, 0}, {1, 1, 1}}
	boxes := [][2]f32.Vec3{unit, unit, unit, unit}
	order := []uint32{2, 0, 3, 1}
	bounds, indices, nodes := splitFixture(boxes, order)

	const candidates = 8
	splits := splitRoot(bounds, indices, nodes, candidates, 1)
	for k := range candidates {
		if c := compute.F32(splits[k*splitWords+splitCost]); c != noSplitCost {
			t.Errorf("candidate %d cost %v, want no split", k, c)
		}
	}

	got := DecodeNodes(compute.Bytes(nodes))
	if got[0].LeftChild != 1 {
		t.Fatalf("root left child %d, want 1", got[0].LeftChild)
	}
	if got[1].Start != 0 || got[1].End != 2 || got[2].Start != 2 || got[2].End != 4 {
		t.Errorf("children [%d,%d) [%d,%d), want [0,2) [2,4)", got[1].Start, got[1].End, got[2].Start, got[2].End)
	}
	for i, idx := range indices {
		if idx != order[i] {
			t.Errorf("indices %v reordered, want %v", indices, order)
			break
		}
	}
}
