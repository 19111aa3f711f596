// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package meshbvh

import (
	_ "embed"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/f32"

	"github.com/gogpu/meshbvh/compute"
)

//go:embed shaders/triangle_bounds.wgsl
var triangleBoundsShaderSource string

//go:embed shaders/build_bounds.wgsl
var buildBoundsShaderSource string

//go:embed shaders/find_node_offsets.wgsl
var findNodeOffsetsShaderSource string

//go:embed shaders/split_evaluations.wgsl
var splitEvaluationsShaderSource string

//go:embed shaders/build_next_level.wgsl
var buildNextLevelShaderSource string

//go:embed shaders/build_next_level_midpoint.wgsl
var buildNextLevelMidpointShaderSource string

//go:embed shaders/morton_codes.wgsl
var mortonCodesShaderSource string

//go:embed shaders/box_lines.wgsl
var boxLinesShaderSource string

// stage identifies one BVH kernel.
type stage int

const (
	stageTriangleBounds stage = iota
	stageBuildBounds
	stageFindNodeOffsets
	stageSplitEvaluations
	stageBuildNextLevel
	stageBuildNextLevelMidpoint
	stageMortonCodes
	stageBoxLines

	stageCount
)

func (s stage) String() string {
	if k := s.kernel(); k != nil {
		return k.Label
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

func (s stage) kernel() *compute.Kernel {
	if s < 0 || s >= stageCount {
		return nil
	}
	return kernels[s]
}

const (
	ro = gputypes.BufferBindingTypeReadOnlyStorage
	rw = gputypes.BufferBindingTypeStorage
)

// Split record word layout.
const (
	splitWords     = 4
	splitAxis      = 0
	splitPosition  = 1
	splitCost      = 2
	splitLeftCount = 3

	// noSplitCost scores a candidate that leaves one side empty.
	noSplitCost = math.MaxFloat32
	// noAxis marks a split decision without a usable plane.
	noAxis = 3
)

var kernels = [stageCount]*compute.Kernel{
	stageTriangleBounds: {
		Label:         "triangle_bounds",
		Source:        triangleBoundsShaderSource,
		WorkgroupSize: [3]uint32{64, 1, 1},
		ParamWords:    2,
		Bindings:      []gputypes.BufferBindingType{ro, ro, rw},
		Invoke:        invokeTriangleBounds,
	},
	stageBuildBounds: {
		Label:         "build_bounds",
		Source:        buildBoundsShaderSource,
		WorkgroupSize: [3]uint32{64, 1, 1},
		ParamWords:    2,
		Bindings:      []gputypes.BufferBindingType{ro, ro, rw},
		Invoke:        invokeBuildBounds,
	},
	stageFindNodeOffsets: {
		Label:         "find_node_offsets",
		Source:        findNodeOffsetsShaderSource,
		WorkgroupSize: [3]uint32{64, 1, 1},
		ParamWords:    3,
		Bindings:      []gputypes.BufferBindingType{ro, rw},
		Invoke:        invokeFindNodeOffsets,
	},
	stageSplitEvaluations: {
		Label:         "split_evaluations",
		Source:        splitEvaluationsShaderSource,
		WorkgroupSize: [3]uint32{64, 1, 1},
		ParamWords:    4,
		Bindings:      []gputypes.BufferBindingType{ro, ro, ro, rw},
		Invoke:        invokeSplitEvaluations,
	},
	stageBuildNextLevel: {
		Label:         "build_next_level",
		Source:        buildNextLevelShaderSource,
		WorkgroupSize: [3]uint32{64, 1, 1},
		ParamWords:    3,
		Bindings:      []gputypes.BufferBindingType{ro, ro, ro, rw, rw},
		Invoke:        invokeBuildNextLevel,
	},
	stageBuildNextLevelMidpoint: {
		Label:         "build_next_level_midpoint",
		Source:        buildNextLevelMidpointShaderSource,
		WorkgroupSize: [3]uint32{64, 1, 1},
		ParamWords:    2,
		Bindings:      []gputypes.BufferBindingType{ro, rw},
		Invoke:        invokeBuildNextLevelMidpoint,
	},
	stageMortonCodes: {
		Label:         "morton_codes",
		Source:        mortonCodesShaderSource,
		WorkgroupSize: [3]uint32{64, 1, 1},
		ParamWords:    2,
		Bindings:      []gputypes.BufferBindingType{ro, ro, ro, rw},
		Invoke:        invokeMortonCodes,
	},
	stageBoxLines: {
		Label:         "box_lines",
		Source:        boxLinesShaderSource,
		WorkgroupSize: [3]uint32{64, 1, 1},
		ParamWords:    1,
		Bindings:      []gputypes.BufferBindingType{ro, rw},
		Invoke:        invokeBoxLines,
	},
}

func invokeTriangleBounds(inv compute.Invocation) {
	t := inv.GlobalID[0]
	if t >= inv.Params[0] {
		return
	}
	last := inv.Params[1] - 1
	vertices, indices, bounds := inv.Buffers[0], inv.Buffers[1], inv.Buffers[2]

	pos := func(i uint32) f32.Vec3 { return vec3At(vertices, int(min(i, last))*VertexSize/4) }
	a, b, c := pos(indices[3*t]), pos(indices[3*t+1]), pos(indices[3*t+2])

	w := bounds[t*boundsWords:]
	putVec3(w, boundsMin, minVec(minVec(a, b), c))
	putVec3(w, boundsMax, maxVec(maxVec(a, b), c))
	putVec3(w, boundsCentroid, f32.Vec3{
		(a[0] + b[0] + c[0]) / 3,
		(a[1] + b[1] + c[1]) / 3,
		(a[2] + b[2] + c[2]) / 3,
	})
}

func invokeBuildBounds(inv compute.Invocation) {
	n := inv.Params[0] + inv.GlobalID[0]
	if n >= inv.Params[1] {
		return
	}
	bounds, indices, nodes := inv.Buffers[0], inv.Buffers[1], inv.Buffers[2]

	w := nodes[n*nodeWords:]
	lo, hi := emptyBox()
	for i := w[nodeStart]; i < w[nodeEnd]; i++ {
		tb := bounds[indices[i]*boundsWords:]
		lo = minVec(lo, vec3At(tb, boundsMin))
		hi = maxVec(hi, vec3At(tb, boundsMax))
	}
	putVec3(w, nodeMin, lo)
	putVec3(w, nodeMax, hi)
}

func invokeFindNodeOffsets(inv compute.Invocation) {
	start, end, maxLeaf := inv.Params[0], inv.Params[1], inv.Params[2]
	i := inv.GlobalID[0]
	if i >= end-start {
		return
	}
	nodes, flags := inv.Buffers[0], inv.Buffers[1]
	w := nodes[(start+i)*nodeWords:]
	if w[nodeEnd]-w[nodeStart] > maxLeaf {
		flags[i] = 1
	} else {
		flags[i] = 0
	}
}

func longestAxis(e f32.Vec3) int {
	if e[0] >= e[1] && e[0] >= e[2] {
		return 0
	}
	if e[1] >= e[2] {
		return 1
	}
	return 2
}

func halfArea(lo, hi f32.Vec3) float32 {
	e := f32.Vec3{max(hi[0]-lo[0], 0), max(hi[1]-lo[1], 0), max(hi[2]-lo[2], 0)}
	return e[0]*e[1] + e[1]*e[2] + e[2]*e[0]
}

func invokeSplitEvaluations(inv compute.Invocation) {
	start, end, candidates, maxLeaf := inv.Params[0], inv.Params[1], inv.Params[2], inv.Params[3]
	i, k := inv.GlobalID[0], inv.GlobalID[1]
	if i >= end-start || k >= candidates {
		return
	}
	bounds, indices, nodes, splits := inv.Buffers[0], inv.Buffers[1], inv.Buffers[2], inv.Buffers[3]

	w := nodes[(start+i)*nodeWords:]
	lo, hi := vec3At(w, nodeMin), vec3At(w, nodeMax)
	extent := f32.Vec3{hi[0] - lo[0], hi[1] - lo[1], hi[2] - lo[2]}
	axis := longestAxis(extent)
	t := float32(k+1) / float32(candidates+1)
	position := lo[axis] + float32(extent[axis]*t)

	cost := float32(noSplitCost)
	var left uint32
	first, last := w[nodeStart], w[nodeEnd]
	if count := last - first; count > maxLeaf {
		leftLo, leftHi := emptyBox()
		rightLo, rightHi := emptyBox()
		for p := first; p < last; p++ {
			tb := bounds[indices[p]*boundsWords:]
			bmin, bmax := vec3At(tb, boundsMin), vec3At(tb, boundsMax)
			if compute.F32(tb[boundsCentroid+axis]) < position {
				left++
				leftLo, leftHi = minVec(leftLo, bmin), maxVec(leftHi, bmax)
			} else {
				rightLo, rightHi = minVec(rightLo, bmin), maxVec(rightHi, bmax)
			}
		}
		if right := count - left; left > 0 && right > 0 {
			cost = float32(halfArea(leftLo, leftHi)*float32(left)) + float32(halfArea(rightLo, rightHi)*float32(right))
		}
	}

	s := splits[(i*candidates+k)*splitWords:]
	s[splitAxis] = uint32(axis)
	s[splitPosition] = compute.U32(position)
	s[splitCost] = compute.U32(cost)
	s[splitLeftCount] = left
}

// writeChildren appends the two children of node n at child and links them.
func writeChildren(nodes []uint32, n, child, first, mid, last uint32) {
	l := nodes[child*nodeWords : (child+2)*nodeWords]
	clear(l)
	l[nodeStart], l[nodeEnd] = first, mid
	l[nodeWords+nodeStart], l[nodeWords+nodeEnd] = mid, last
	nodes[n*nodeWords+nodeLeftChild] = child
}

func invokeBuildNextLevel(inv compute.Invocation) {
	start, end, candidates := inv.Params[0], inv.Params[1], inv.Params[2]
	i := inv.GlobalID[0]
	if i >= end-start {
		return
	}
	bounds, splits, offsets, indices, nodes := inv.Buffers[0], inv.Buffers[1], inv.Buffers[2], inv.Buffers[3], inv.Buffers[4]
	offset := offsets[i]
	if offsets[i+1] == offset {
		return
	}

	n := start + i
	first, last := nodes[n*nodeWords+nodeStart], nodes[n*nodeWords+nodeEnd]

	best := float32(noSplitCost)
	axis := uint32(noAxis)
	var position float32
	for k := range candidates {
		s := splits[(i*candidates+k)*splitWords:]
		if c := compute.F32(s[splitCost]); c < best {
			best = c
			axis = s[splitAxis]
			position = compute.F32(s[splitPosition])
		}
	}

	mid := first + (last-first)/2
	if axis != noAxis {
		lo, hi := first, last
		for lo < hi {
			t := indices[lo]
			if compute.F32(bounds[t*boundsWords+boundsCentroid+axis]) < position {
				lo++
			} else {
				hi--
				indices[lo], indices[hi] = indices[hi], t
			}
		}
		if lo > first && lo < last {
			mid = lo
		}
	}

	writeChildren(nodes, n, end+2*offset, first, mid, last)
}

func invokeBuildNextLevelMidpoint(inv compute.Invocation) {
	start, end := inv.Params[0], inv.Params[1]
	i := inv.GlobalID[0]
	if i >= end-start {
		return
	}
	offsets, nodes := inv.Buffers[0], inv.Buffers[1]
	offset := offsets[i]
	if offsets[i+1] == offset {
		return
	}

	n := start + i
	first, last := nodes[n*nodeWords+nodeStart], nodes[n*nodeWords+nodeEnd]
	writeChildren(nodes, n, end+2*offset, first, first+(last-first)/2, last)
}

// expandBits spreads the low 10 bits of v two zero bits apart.
func expandBits(v uint32) uint32 {
	x := v & 0x3ff
	x = (x * 0x00010001) & 0xff0000ff
	x = (x * 0x00000101) & 0x0f00f00f
	x = (x * 0x00000011) & 0xc30c30c3
	x = (x * 0x00000005) & 0x49249249
	return x
}

// mortonCode returns the 30-bit key of point c inside box [lo, hi].
func mortonCode(c, lo, hi f32.Vec3) uint32 {
	var q [3]uint32
	for a := range 3 {
		extent := hi[a] - lo[a]
		if extent <= 0 {
			extent = 1
		}
		unit := min(max((c[a]-lo[a])/extent, 0), 1)
		q[a] = uint32(min(unit*1024, 1023))
	}
	return expandBits(q[0])<<2 | expandBits(q[1])<<1 | expandBits(q[2])
}

func invokeMortonCodes(inv compute.Invocation) {
	triangles, length := inv.Params[0], inv.Params[1]
	i := inv.GlobalID[0]
	if i >= length {
		return
	}
	bounds, indices, nodes, keys := inv.Buffers[0], inv.Buffers[1], inv.Buffers[2], inv.Buffers[3]
	t := indices[i]
	if t >= triangles {
		keys[i] = math.MaxUint32
		return
	}
	c := vec3At(bounds[t*boundsWords:], boundsCentroid)
	keys[i] = mortonCode(c, vec3At(nodes, nodeMin), vec3At(nodes, nodeMax))
}

// boxEdge returns the corner bit masks of edge e (0..11) of a box.
func boxEdge(e uint32) (a, b uint32) {
	axis, r := e/4, e%4
	switch axis {
	case 0:
		a = r << 1
	case 1:
		a = r&1 | (r&2)<<1
	default:
		a = r
	}
	return a, a | 1<<axis
}

func boxCorner(lo, hi f32.Vec3, bits uint32) [4]float32 {
	c := [4]float32{lo[0], lo[1], lo[2], 1}
	for a := range 3 {
		if bits&(1<<a) != 0 {
			c[a] = hi[a]
		}
	}
	return c
}

func invokeBoxLines(inv compute.Invocation) {
	n := inv.GlobalID[0]
	if n >= inv.Params[0] {
		return
	}
	nodes, lines := inv.Buffers[0], inv.Buffers[1]
	w := nodes[n*nodeWords:]
	lo, hi := vec3At(w, nodeMin), vec3At(w, nodeMax)

	for e := range uint32(12) {
		a, b := boxEdge(e)
		for j, bits := range [2]uint32{a, b} {
			c := boxCorner(lo, hi, bits)
			out := lines[(n*LineVerticesPerNode+2*e+uint32(j))*4:]
			for x := range 4 {
				out[x] = compute.U32(c[x])
			}
		}
	}
}
