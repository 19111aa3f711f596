// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package meshbvh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
	"time"

	"github.com/gogpu/meshbvh/algorithms"
	"github.com/gogpu/meshbvh/compute"
)

// Generator builds MeshBVHs on one compute context. The pipelines of all
// build kernels are created once by NewGenerator.
//
// Build calls are serialized; a Generator is safe for concurrent use but
// runs one build at a time.
type Generator struct {
	mu        sync.Mutex
	cc        compute.Context
	algos     *algorithms.Resources
	pipelines [stageCount]compute.Pipeline
	opts      options
	closed    bool
	stats     Stats
}

// NewGenerator compiles the build pipelines on cc.
func NewGenerator(cc compute.Context, opts ...Option) (*Generator, error) {
	if cc == nil {
		return nil, errors.New("meshbvh: nil compute context")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	log := slogger()
	propagateLogger(cc, log)

	algos, err := algorithms.NewResources(cc, log)
	if err != nil {
		return nil, fmt.Errorf("meshbvh: %w", err)
	}
	g := &Generator{cc: cc, algos: algos, opts: o}
	for s := stage(0); s < stageCount; s++ {
		p, err := cc.CreatePipeline(s.kernel())
		if err != nil {
			g.releasePipelines()
			return nil, fmt.Errorf("meshbvh: %s: %w", s, err)
		}
		g.pipelines[s] = p
	}

	log.Debug("meshbvh: generator ready",
		"context", cc.Name(),
		"strategy", o.strategy,
		"max_tris_per_leaf", o.maxTrisPerLeaf,
		"split_candidates", o.splitCandidates,
		"max_levels", o.maxLevels)
	return g, nil
}

// Strategy returns the split strategy of the generator.
func (g *Generator) Strategy() Strategy { return g.opts.strategy }

// MaxTriangles returns the largest triangle count Build accepts. Beyond it
// some dispatch of the build would exceed the workgroup count limit.
func (g *Generator) MaxTriangles() uint32 {
	limit := ^uint32(0)
	for s := stage(0); s < stageCount; s++ {
		limit = min(limit, s.kernel().MaxInvocations())
	}
	for a := algorithms.Algorithm(0); a < algorithms.AlgorithmCount; a++ {
		limit = min(limit, a.Kernel().MaxInvocations())
	}

	// Prefix sums scan one word more than the frontier.
	n := limit - 1
	if g.opts.strategy == StrategyFastBuild {
		// The index buffer is padded to a power of two.
		return min(n, 1<<(bits.Len32(limit)-1))
	}
	return min(n, limit/iotaResolution*iotaResolution)
}

// Context returns the compute context the generator runs on.
func (g *Generator) Context() compute.Context { return g.cc }

// Stats returns the timings accumulated over all builds so far.
func (g *Generator) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats.clone()
}

// Close releases the pipelines. MeshBVHs built earlier stay valid.
func (g *Generator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	g.releasePipelines()
	return nil
}

func (g *Generator) releasePipelines() {
	for i, p := range g.pipelines {
		if p != nil {
			g.cc.DestroyPipeline(p)
			g.pipelines[i] = nil
		}
	}
	g.algos.Close()
}

// Build constructs the hierarchy of mesh. The mesh buffers are copied
// first and never written.
//
// ctx is observed while waiting for the per-level split counts. A
// cancelled or failed build releases every buffer it created and returns
// no MeshBVH.
func (g *Generator) Build(ctx context.Context, mesh Mesh) (*MeshBVH, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrClosed
	}
	if err := validateMesh(mesh); err != nil {
		return nil, err
	}
	if n, limit := mesh.IndexCount()/3, g.MaxTriangles(); n > limit {
		return nil, fmt.Errorf("%w: %d triangles, %s builds support at most %d",
			ErrInvalidMesh, n, g.opts.strategy, limit)
	}

	log := slogger()
	propagateLogger(g.cc, log)

	b := &build{
		g:    g,
		ctx:  ctx,
		log:  log,
		opts: g.opts,
		n:    mesh.IndexCount() / 3,
	}
	started := time.Now()
	log.Info("meshbvh: build started", "triangles", b.n, "strategy", b.opts.strategy)

	bvh, err := b.run(mesh)
	b.release()
	if err != nil {
		log.Debug("meshbvh: build failed", "state", b.state, "level", b.levels, "err", err)
		return nil, err
	}

	b.stats.Builds = 1
	b.stats.Triangles = int64(b.n)
	b.stats.Levels = b.levels
	b.stats.Total = time.Since(started)
	bvh.stats = b.stats.clone()
	g.stats.merge(&b.stats)

	log.Info("meshbvh: build complete",
		"triangles", bvh.triangleCount,
		"nodes", bvh.nodeCount,
		"levels", bvh.levels,
		"truncated", bvh.truncated,
		"stats", b.stats)
	return bvh, nil
}

// buildState is the position of a build in its level loop.
type buildState int

const (
	stateInit buildState = iota
	stateBuildBounds
	stateEvaluate
	statePartition
	stateDone
)

func (s buildState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateBuildBounds:
		return "build_bounds"
	case stateEvaluate:
		return "evaluate"
	case statePartition:
		return "partition"
	case stateDone:
		return "done"
	default:
		return fmt.Sprintf("buildState(%d)", int(s))
	}
}

// build holds the buffers and loop state of one Build call.
type build struct {
	g    *Generator
	ctx  context.Context
	log  *slog.Logger
	opts options

	n      uint32 // triangles
	padded uint32 // index buffer length

	bounds  compute.Buffer
	indices compute.Buffer
	nodes   compute.Buffer
	flags   compute.Buffer
	offsets compute.Buffer // child offsets of the frontier being split
	splits  compute.Buffer
	total   uint32 // frontier nodes being split

	splitCapacity uint32 // frontier nodes the splits buffer holds

	state      buildState
	start, end uint32 // frontier
	levels     int
	truncated  bool

	stats Stats
	owned []compute.Buffer
}

func (b *build) run(mesh Mesh) (*MeshBVH, error) {
	if b.n == 0 {
		return b.empty()
	}
	if err := b.triangleBounds(mesh); err != nil {
		return nil, err
	}

	resolution := uint32(iotaResolution)
	if b.opts.strategy == StrategyFastBuild {
		resolution = algorithms.NextPowerOfTwo(b.n)
	}
	err := b.timed("iota", func() error {
		var err error
		b.indices, b.padded, err = b.g.algos.Iota("bvh_indices", b.n, resolution)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("meshbvh: iota: %w", err)
	}
	b.owned = append(b.owned, b.indices)

	if b.nodes, err = b.alloc("bvh_nodes", uint64(b.capacity())*nodeWords); err != nil {
		return nil, err
	}
	if b.flags, err = b.alloc("bvh_split_flags", uint64(b.n)); err != nil {
		return nil, err
	}

	for b.state = stateInit; b.state != stateDone; {
		if err := b.step(); err != nil {
			return nil, err
		}
	}
	return b.finish()
}

// capacity is the node array length. A binary tree over n non-empty leaves
// has at most 2n-1 nodes.
func (b *build) capacity() uint32 { return 2 * b.n }

func (b *build) step() error {
	switch b.state {
	case stateInit:
		root := EncodeNodes([]Node{{Start: 0, End: b.n}})
		if err := b.g.cc.WriteBuffer(b.nodes, 0, root); err != nil {
			return fmt.Errorf("meshbvh: write root: %w", err)
		}
		b.start, b.end = 0, 1
		if b.opts.strategy == StrategyFastBuild {
			if err := b.mortonSort(); err != nil {
				return err
			}
		}
		b.state = stateBuildBounds

	case stateBuildBounds:
		if err := b.buildBounds(); err != nil {
			return err
		}
		b.levels++
		b.log.Debug("meshbvh: level", "level", b.levels, "start", b.start, "end", b.end)
		b.state = stateEvaluate

	case stateEvaluate:
		split, err := b.evaluate()
		if err != nil {
			return err
		}
		b.state = stateDone
		if split {
			b.state = statePartition
		}

	case statePartition:
		if err := b.partition(); err != nil {
			return err
		}
		b.state = stateBuildBounds
	}
	return nil
}

func (b *build) buildBounds() error {
	return b.dispatch(stageBuildBounds, b.end-b.start, 1,
		[]uint32{b.start, b.end},
		b.bounds, b.indices, b.nodes)
}

// evaluate flags the frontier nodes that must split and, when any does,
// leaves their child offsets in b.offsets. It reports whether the frontier
// is split.
func (b *build) evaluate() (bool, error) {
	size := b.end - b.start
	err := b.dispatch(stageFindNodeOffsets, size, 1,
		[]uint32{b.start, b.end, b.opts.maxTrisPerLeaf},
		b.nodes, b.flags)
	if err != nil {
		return false, err
	}

	var offsets compute.Buffer
	var total uint32
	err = b.timed("prefix_sum", func() error {
		var err error
		offsets, total, err = b.g.algos.PrefixSum(b.ctx, b.flags, size)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("meshbvh: prefix_sum: %w", err)
	}
	b.owned = append(b.owned, offsets)

	if total == 0 {
		b.discard(offsets)
		return false, nil
	}
	if b.levels >= b.opts.maxLevels {
		b.discard(offsets)
		b.truncated = true
		b.log.Warn("meshbvh: level cap reached, tree truncated",
			"levels", b.levels, "pending_splits", total)
		return false, nil
	}
	b.offsets = offsets
	b.total = total

	if b.opts.strategy == StrategyFastTrace {
		if err := b.ensureSplits(size); err != nil {
			return false, err
		}
		err := b.dispatch(stageSplitEvaluations, size, b.opts.splitCandidates,
			[]uint32{b.start, b.end, b.opts.splitCandidates, b.opts.maxTrisPerLeaf},
			b.bounds, b.indices, b.nodes, b.splits)
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

func (b *build) partition() error {
	next := b.end + 2*b.total
	if next > b.capacity() {
		return fmt.Errorf("%w: level %d needs %d nodes, capacity %d",
			ErrCapacityExceeded, b.levels, next, b.capacity())
	}

	size := b.end - b.start
	var err error
	if b.opts.strategy == StrategyFastTrace {
		err = b.dispatch(stageBuildNextLevel, size, 1,
			[]uint32{b.start, b.end, b.opts.splitCandidates},
			b.bounds, b.splits, b.offsets, b.indices, b.nodes)
	} else {
		err = b.dispatch(stageBuildNextLevelMidpoint, size, 1,
			[]uint32{b.start, b.end},
			b.offsets, b.nodes)
	}
	if err != nil {
		return err
	}

	b.discard(b.offsets)
	b.offsets = nil
	b.start, b.end = b.end, next
	return nil
}

// triangleBounds copies the mesh into private storage buffers and fills
// b.bounds. The copies are dropped afterwards.
func (b *build) triangleBounds(mesh Mesh) error {
	vertexWords := uint64(mesh.VertexCount()) * VertexSize / 4
	vertices, err := b.alloc("bvh_vertices", vertexWords)
	if err != nil {
		return err
	}
	indices, err := b.alloc("bvh_mesh_indices", uint64(mesh.IndexCount()))
	if err != nil {
		return err
	}
	err = b.timed("copy_mesh", func() error {
		return b.g.cc.Submit("copy_mesh",
			compute.Copy{Src: mesh.VertexBuffer(), Dst: vertices, Size: vertexWords * 4},
			compute.Copy{Src: mesh.IndexBuffer(), Dst: indices, Size: uint64(mesh.IndexCount()) * 4},
		)
	})
	if err != nil {
		return fmt.Errorf("meshbvh: copy mesh: %w", err)
	}

	if b.bounds, err = b.alloc("bvh_triangle_bounds", uint64(b.n)*boundsWords); err != nil {
		return err
	}
	err = b.dispatch(stageTriangleBounds, b.n, 1,
		[]uint32{b.n, mesh.VertexCount()},
		vertices, indices, b.bounds)
	if err != nil {
		return err
	}
	b.discard(vertices)
	b.discard(indices)
	return nil
}

// mortonSort orders the index buffer by the Morton code of each centroid
// in the root box. Padding entries sort last.
func (b *build) mortonSort() error {
	if err := b.buildBounds(); err != nil {
		return err
	}
	keys, err := b.alloc("bvh_morton_keys", uint64(b.padded))
	if err != nil {
		return err
	}
	err = b.dispatch(stageMortonCodes, b.padded, 1,
		[]uint32{b.n, b.padded},
		b.bounds, b.indices, b.nodes, keys)
	if err != nil {
		return err
	}
	err = b.timed("bitonic_sort", func() error {
		return b.g.algos.BitonicSort(keys, b.indices, b.padded)
	})
	if err != nil {
		return fmt.Errorf("meshbvh: bitonic_sort: %w", err)
	}
	b.discard(keys)
	return nil
}

// ensureSplits grows the split record buffer to hold size frontier nodes.
func (b *build) ensureSplits(size uint32) error {
	if size <= b.splitCapacity {
		return nil
	}
	capacity := max(size, 2*b.splitCapacity)
	capacity = min(capacity, b.n)
	if b.splits != nil {
		b.discard(b.splits)
	}
	words := uint64(capacity) * uint64(b.opts.splitCandidates) * splitWords
	splits, err := b.alloc("bvh_splits", words)
	if err != nil {
		return err
	}
	b.splits, b.splitCapacity = splits, capacity
	return nil
}

// finish copies the used node prefix and the first n indices into buffers
// owned by the result.
func (b *build) finish() (*MeshBVH, error) {
	nodeCount := b.end
	nodes, err := b.g.cc.CreateBuffer("bvh_nodes_final", uint64(nodeCount)*NodeSize, algorithms.BufferUsage)
	if err != nil {
		return nil, fmt.Errorf("meshbvh: allocate result: %w", err)
	}
	indices, err := b.g.cc.CreateBuffer("bvh_indices_final", uint64(b.n)*4, algorithms.BufferUsage)
	if err != nil {
		b.g.cc.DestroyBuffer(nodes)
		return nil, fmt.Errorf("meshbvh: allocate result: %w", err)
	}

	err = b.timed("compact", func() error {
		return b.g.cc.Submit("compact",
			compute.Copy{Src: b.nodes, Dst: nodes, Size: uint64(nodeCount) * NodeSize},
			compute.Copy{Src: b.indices, Dst: indices, Size: uint64(b.n) * 4},
		)
	})
	if err != nil {
		b.g.cc.DestroyBuffer(nodes)
		b.g.cc.DestroyBuffer(indices)
		return nil, fmt.Errorf("meshbvh: compact: %w", err)
	}

	return &MeshBVH{
		cc:            b.g.cc,
		nodes:         nodes,
		indices:       indices,
		nodeCount:     nodeCount,
		triangleCount: b.n,
		levels:        b.levels,
		truncated:     b.truncated,
		strategy:      b.opts.strategy,
	}, nil
}

// empty returns the hierarchy of a mesh without triangles. Its buffers hold
// a single zero word so they can still be bound.
func (b *build) empty() (*MeshBVH, error) {
	nodes, err := b.g.cc.CreateBuffer("bvh_nodes_final", NodeSize, algorithms.BufferUsage)
	if err != nil {
		return nil, fmt.Errorf("meshbvh: allocate result: %w", err)
	}
	indices, err := b.g.cc.CreateBuffer("bvh_indices_final", 4, algorithms.BufferUsage)
	if err != nil {
		b.g.cc.DestroyBuffer(nodes)
		return nil, fmt.Errorf("meshbvh: allocate result: %w", err)
	}
	b.state = stateDone
	return &MeshBVH{
		cc:       b.g.cc,
		nodes:    nodes,
		indices:  indices,
		strategy: b.opts.strategy,
	}, nil
}

func (b *build) dispatch(s stage, items, layers uint32, params []uint32, bufs ...compute.Buffer) error {
	k := s.kernel()
	err := b.timed(s.String(), func() error {
		return b.g.cc.Submit(s.String(), compute.Dispatch{
			Pipeline:   b.g.pipelines[s],
			Params:     params,
			Buffers:    bufs,
			Workgroups: [3]uint32{k.Groups(items), layers, 1},
		})
	})
	if err != nil {
		return fmt.Errorf("meshbvh: %s: %w", s, err)
	}
	return nil
}

func (b *build) timed(name string, fn func() error) error {
	t := time.Now()
	err := fn()
	b.stats.record(name, time.Since(t))
	return err
}

func (b *build) alloc(label string, words uint64) (compute.Buffer, error) {
	buf, err := b.g.cc.CreateBuffer(label, max(words, 1)*4, algorithms.BufferUsage)
	if err != nil {
		return nil, fmt.Errorf("meshbvh: allocate %s: %w", label, err)
	}
	b.owned = append(b.owned, buf)
	return buf, nil
}

// discard destroys an owned buffer before the build ends.
func (b *build) discard(buf compute.Buffer) {
	for i, o := range b.owned {
		if o == buf {
			b.owned = append(b.owned[:i], b.owned[i+1:]...)
			break
		}
	}
	b.g.cc.DestroyBuffer(buf)
}

// release destroys every buffer the build still owns.
func (b *build) release() {
	for _, buf := range b.owned {
		b.g.cc.DestroyBuffer(buf)
	}
	b.owned = nil
}
