package meshbvh

import (
	"context"
	"errors"
	"testing"

	"github.com/gogpu/meshbvh/compute"
)

func TestBoxLines(t *testing.T) {
	g, cc := newTestGenerator(t)
	bvh, nodes, _ := buildHost(t, g, testCube())

	lines, count, err := g.BoxLines(bvh)
	if err != nil {
		t.Fatal(err)
	}
	defer cc.DestroyBuffer(lines)
	if count != bvh.NodeCount()*LineVerticesPerNode {
		t.Fatalf("%d vertices for %d nodes", count, bvh.NodeCount())
	}

	data, err := cc.ReadBuffer(context.Background(), lines, 0, uint64(count)*16)
	if err != nil {
		t.Fatal(err)
	}
	w := compute.Words(data)
	for i, n := range nodes {
		for e := range 12 {
			var ends [2][4]float32
			for j := range 2 {
				v := w[(i*LineVerticesPerNode+2*e+j)*4:]
				for x := range 4 {
					ends[j][x] = compute.F32(v[x])
				}
				if ends[j][3] != 1 {
					t.Fatalf("node %d edge %d: w = %v", i, e, ends[j][3])
				}
				for a := range 3 {
					if ends[j][a] != n.Min[a] && ends[j][a] != n.Max[a] {
						t.Fatalf("node %d edge %d: vertex %v is not a corner", i, e, ends[j])
					}
				}
			}
			// Endpoints differ along the edge axis only.
			axis := e / 4
			for a := range 3 {
				differ := ends[0][a] != ends[1][a]
				if n.Min[a] != n.Max[a] && differ != (a == axis) {
					t.Fatalf("node %d edge %d: %v to %v", i, e, ends[0], ends[1])
				}
			}
		}
	}
}

func TestBoxLinesReleased(t *testing.T) {
	g, _ := newTestGenerator(t)
	bvh, _, _ := buildHost(t, g, testCube())
	bvh.Release()
	if _, _, err := g.BoxLines(bvh); !errors.Is(err, ErrReleased) {
		t.Errorf("BoxLines of released bvh = %v, want ErrReleased", err)
	}
}

func TestBoxLinesEmpty(t *testing.T) {
	g, cc := newTestGenerator(t)
	bvh, err := g.Build(context.Background(), stubMesh{})
	if err != nil {
		t.Fatal(err)
	}
	defer bvh.Release()
	lines, count, err := g.BoxLines(bvh)
	if err != nil || count != 0 {
		t.Fatalf("BoxLines(empty) = %d, %v", count, err)
	}
	cc.DestroyBuffer(lines)
}
