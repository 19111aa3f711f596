package meshbvh

import (
	"context"
	"testing"

	"github.com/gogpu/meshbvh/compute"
	"github.com/gogpu/meshbvh/compute/cpu"
	"github.com/gogpu/meshbvh/internal/meshgen"
)

var strategies = []Strategy{StrategyFastTrace, StrategyFastBuild}

func hostMesh(m *meshgen.Mesh) *HostMesh {
	return &HostMesh{Positions: m.Positions, Normals: m.Normals, Indices: m.Indices}
}

func testCube() *HostMesh { return hostMesh(meshgen.Cube()) }

func uploadMesh(t *testing.T, cc compute.Context, m *HostMesh) *GPUMesh {
	t.Helper()
	gm, err := m.Upload(cc)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	t.Cleanup(gm.Release)
	return gm
}

func newTestGenerator(t *testing.T, opts ...Option) (*Generator, *cpu.Context) {
	t.Helper()
	cc := cpu.New(4)
	g, err := NewGenerator(cc, opts...)
	if err != nil {
		cc.Close()
		t.Fatalf("NewGenerator: %v", err)
	}
	t.Cleanup(func() {
		g.Close()
		cc.Close()
	})
	return g, cc
}

// buildHost uploads m, builds it with g and reads the result back.
func buildHost(t *testing.T, g *Generator, m *HostMesh) (*MeshBVH, []Node, []uint32) {
	t.Helper()
	bvh, err := g.Build(context.Background(), uploadMesh(t, g.Context(), m))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(bvh.Release)

	nodes, err := bvh.ReadNodes(context.Background())
	if err != nil {
		t.Fatalf("ReadNodes: %v", err)
	}
	indices, err := bvh.ReadIndices(context.Background())
	if err != nil {
		t.Fatalf("ReadIndices: %v", err)
	}
	if len(nodes) != int(bvh.NodeCount()) || len(indices) != int(bvh.TriangleCount()) {
		t.Fatalf("read %d nodes and %d indices, bvh reports %d and %d",
			len(nodes), len(indices), bvh.NodeCount(), bvh.TriangleCount())
	}
	return bvh, nodes, indices
}

func leaves(nodes []Node) []Node {
	var out []Node
	for _, n := range nodes {
		if n.IsLeaf() {
			out = append(out, n)
		}
	}
	return out
}
