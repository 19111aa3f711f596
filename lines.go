package meshbvh

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/meshbvh/compute"
)

// LineVerticesPerNode is the number of line-list vertices BoxLines emits
// for each node: two per box edge.
const LineVerticesPerNode = 24

// BoxLines writes the boxes of every node of bvh as a line list of
// vec4<f32> positions (w = 1). It returns the buffer and its vertex count;
// the caller owns the buffer. Node i's edges start at vertex
// i * LineVerticesPerNode.
func (g *Generator) BoxLines(bvh *MeshBVH) (compute.Buffer, uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, 0, ErrClosed
	}
	nodes := bvh.Nodes()
	if nodes == nil {
		return nil, 0, ErrReleased
	}

	count := bvh.NodeCount()
	vertices := count * LineVerticesPerNode
	lines, err := g.cc.CreateBuffer("bvh_box_lines", max(uint64(vertices)*16, 16),
		gputypes.BufferUsageVertex|gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, 0, fmt.Errorf("meshbvh: box_lines: %w", err)
	}
	if count == 0 {
		return lines, 0, nil
	}

	err = g.cc.Submit(stageBoxLines.String(), compute.Dispatch{
		Pipeline:   g.pipelines[stageBoxLines],
		Params:     []uint32{count},
		Buffers:    []compute.Buffer{nodes, lines},
		Workgroups: [3]uint32{stageBoxLines.kernel().Groups(count), 1, 1},
	})
	if err != nil {
		g.cc.DestroyBuffer(lines)
		return nil, 0, fmt.Errorf("meshbvh: box_lines: %w", err)
	}
	return lines, vertices, nil
}
