package meshbvh

import (
	"errors"
	"fmt"
)

// maxViolations bounds the number of errors Verify reports.
const maxViolations = 16

// Verify checks a hierarchy read back from the device against the triangle
// bounds of its mesh (see HostMesh.TriangleBounds):
//
//   - indices is a permutation of [0, len(bounds))
//   - every node box contains the boxes of its triangles and children
//   - every node is reached exactly once from the root, and children
//     split their parent's range into two non-empty halves
//   - leaves hold at most maxLeaf triangles; maxLeaf 0 skips this check,
//     as needed for truncated trees
//
// All violations found, up to a limit, are joined into the returned error.
func Verify(nodes []Node, indices []uint32, bounds []TriangleBounds, maxLeaf uint32) error {
	v := &verifier{nodes: nodes, indices: indices, bounds: bounds, maxLeaf: maxLeaf}
	v.permutation()
	if len(bounds) == 0 {
		if len(nodes) != 0 {
			v.fail("empty mesh has %d nodes", len(nodes))
		}
		return v.err()
	}
	if len(nodes) == 0 {
		v.fail("no nodes for %d triangles", len(bounds))
		return v.err()
	}
	if n := nodes[0]; n.Start != 0 || int(n.End) != len(bounds) {
		v.fail("root range [%d, %d), want [0, %d)", n.Start, n.End, len(bounds))
	}
	v.tree()
	return v.err()
}

type verifier struct {
	nodes   []Node
	indices []uint32
	bounds  []TriangleBounds
	maxLeaf uint32
	errs    []error
}

func (v *verifier) fail(format string, args ...any) {
	if len(v.errs) < maxViolations {
		v.errs = append(v.errs, fmt.Errorf(format, args...))
	}
}

func (v *verifier) err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return fmt.Errorf("meshbvh: invalid hierarchy: %w", errors.Join(v.errs...))
}

func (v *verifier) permutation() {
	if len(v.indices) != len(v.bounds) {
		v.fail("%d indices for %d triangles", len(v.indices), len(v.bounds))
		return
	}
	seen := make([]bool, len(v.indices))
	for i, t := range v.indices {
		switch {
		case int(t) >= len(seen):
			v.fail("indices[%d] = %d out of range", i, t)
		case seen[t]:
			v.fail("triangle %d appears twice", t)
		default:
			seen[t] = true
		}
	}
}

func (v *verifier) tree() {
	visited := make([]bool, len(v.nodes))
	stack := []uint32{0}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[i] {
			v.fail("node %d reached twice", i)
			continue
		}
		visited[i] = true

		n := v.nodes[i]
		if n.Count() == 0 || n.End > uint32(len(v.indices)) {
			v.fail("node %d has range [%d, %d)", i, n.Start, n.End)
			continue
		}
		for p := n.Start; p < n.End; p++ {
			t := v.indices[p]
			if int(t) >= len(v.bounds) {
				continue
			}
			if tb := v.bounds[t]; !contains(n.Min, n.Max, tb.Min, tb.Max) {
				v.fail("node %d box does not contain triangle %d", i, t)
				break
			}
		}

		if n.IsLeaf() {
			if v.maxLeaf > 0 && n.Count() > v.maxLeaf {
				v.fail("leaf %d holds %d triangles, limit %d", i, n.Count(), v.maxLeaf)
			}
			continue
		}

		l := n.LeftChild
		if int(l)+1 >= len(v.nodes) || l <= i {
			v.fail("node %d has child index %d of %d nodes", i, l, len(v.nodes))
			continue
		}
		left, right := v.nodes[l], v.nodes[l+1]
		if left.Start != n.Start || left.End != right.Start || right.End != n.End ||
			left.Count() == 0 || right.Count() == 0 {
			v.fail("node %d [%d, %d) split into [%d, %d) and [%d, %d)",
				i, n.Start, n.End, left.Start, left.End, right.Start, right.End)
		}
		for _, c := range []Node{left, right} {
			if !contains(n.Min, n.Max, c.Min, c.Max) {
				v.fail("node %d box does not contain child box", i)
				break
			}
		}
		stack = append(stack, l, l+1)
	}

	for i, ok := range visited {
		if !ok {
			v.fail("node %d is unreachable", i)
		}
	}
}
