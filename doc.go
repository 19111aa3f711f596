// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package meshbvh builds bounding volume hierarchies over triangle meshes
// on a compute device.
//
// # Overview
//
// A Generator turns a Mesh (a vertex buffer and an index buffer on a
// compute.Context) into a MeshBVH: a flat array of 48-byte nodes and a
// permutation of the triangle indices. Every node covers a contiguous range
// of that permutation; inner nodes store the index of their left child and
// the right child follows it.
//
// The tree is built one level at a time. For every level the device
// computes node boxes, flags the nodes above the leaf threshold, prefix sums
// the flags into child slots, and partitions the flagged nodes. The host
// only reads back the number of splits per level.
//
// # Strategies
//
// StrategyFastTrace scores candidate planes on the longest axis of each
// node with the surface area heuristic and partitions triangles by
// centroid. StrategyFastBuild sorts triangles by the Morton code of their
// centroid once and splits every node at the middle of its range.
//
// # Quick Start
//
//	cc := cpu.New(0)
//	defer cc.Close()
//
//	gen, err := meshbvh.NewGenerator(cc, meshbvh.WithMaxTrisPerLeaf(4))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer gen.Close()
//
//	mesh, err := hostMesh.Upload(cc)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mesh.Release()
//
//	bvh, err := gen.Build(ctx, mesh)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer bvh.Release()
//
// # Backends
//
// compute/cpu runs every kernel on host goroutines. compute/gpu runs the
// same kernels as WGSL compute shaders through wgpu's HAL.
//
// # Logging
//
// Logging is off by default. Use SetLogger to route build progress to a
// slog.Logger.
package meshbvh
