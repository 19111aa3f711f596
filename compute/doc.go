// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package compute defines the compute context that GPU BVH construction
// runs on.
//
// A [Context] owns device memory and executes [Kernel] dispatches. Two
// implementations exist:
//   - compute/gpu runs kernels as WGSL compute shaders through gogpu/wgpu HAL
//   - compute/cpu runs the Go reference of every kernel on a worker pool
//
// Kernels carry both forms. The WGSL source is what the GPU executes and the
// Invoke function is an exact host rendition of one shader invocation, so a
// build on the CPU context produces the same tree as a build on the GPU.
//
// # Binding model
//
// Every kernel uses bind group 0. When the kernel declares parameters they
// are uploaded as a uniform buffer at binding 0 and the storage buffers
// follow at bindings 1..N in [Kernel.Bindings] order. Without parameters the
// storage buffers start at binding 0.
//
// # Synchronization
//
// [Context.Submit] blocks until the submitted work completes. The only
// asynchronous operation is [Context.ReadBuffer], which copies a range into
// a staging buffer, maps it, and waits for the mapping with a
// [context.Context].
package compute
