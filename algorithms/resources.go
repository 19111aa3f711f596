// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package algorithms provides data-parallel building blocks on a
// compute.Context: index sequences, prefix sums and bitonic sorting.
//
// The pipelines behind these operations are created once by NewResources
// and reused by every call. The buffers each call creates belong to the
// caller.
package algorithms

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/meshbvh/compute"
)

//go:embed shaders/iota.wgsl
var iotaShaderSource string

//go:embed shaders/prefix_sum.wgsl
var prefixSumShaderSource string

//go:embed shaders/bitonic_sort.wgsl
var bitonicSortShaderSource string

// BufferUsage is the usage of every buffer the algorithms allocate.
const BufferUsage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst

// ErrNotPowerOfTwo is returned by BitonicSort for lengths that are not
// a power of two.
var ErrNotPowerOfTwo = errors.New("algorithms: length is not a power of two")

// Algorithm identifies one of the shared pipelines.
type Algorithm int

const (
	AlgorithmIota Algorithm = iota
	AlgorithmPrefixSum
	AlgorithmBitonicSort

	// AlgorithmCount is the number of shared pipelines.
	AlgorithmCount
)

// String returns the kernel label of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmIota:
		return "iota"
	case AlgorithmPrefixSum:
		return "prefix_sum"
	case AlgorithmBitonicSort:
		return "bitonic_sort"
	default:
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
}

// Kernel returns the kernel description of a.
func (a Algorithm) Kernel() *compute.Kernel {
	switch a {
	case AlgorithmIota:
		return iotaKernel
	case AlgorithmPrefixSum:
		return prefixSumKernel
	case AlgorithmBitonicSort:
		return bitonicSortKernel
	default:
		return nil
	}
}

// Resources holds the compiled pipelines of every algorithm. It is safe to
// reuse across calls as long as the calls do not overlap on the same
// compute.Context.
type Resources struct {
	cc        compute.Context
	pipelines [AlgorithmCount]compute.Pipeline
	logger    *slog.Logger
}

// NewResources compiles all algorithm pipelines on cc.
func NewResources(cc compute.Context, logger *slog.Logger) (*Resources, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Resources{cc: cc, logger: logger}
	for a := Algorithm(0); a < AlgorithmCount; a++ {
		p, err := cc.CreatePipeline(a.Kernel())
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("algorithms: %s: %w", a, err)
		}
		r.pipelines[a] = p
	}
	logger.Debug("algorithms: pipelines ready", "context", cc.Name(), "count", int(AlgorithmCount))
	return r, nil
}

// Close releases the pipelines. Close is safe to call more than once.
func (r *Resources) Close() {
	for i, p := range r.pipelines {
		if p != nil {
			r.cc.DestroyPipeline(p)
			r.pipelines[i] = nil
		}
	}
}

// Context returns the compute context the resources were created on.
func (r *Resources) Context() compute.Context { return r.cc }

func (r *Resources) pipeline(a Algorithm) (compute.Pipeline, error) {
	p := r.pipelines[a]
	if p == nil {
		return nil, fmt.Errorf("algorithms: %s: %w", a, compute.ErrClosed)
	}
	return p, nil
}

func isPowerOfTwo(n uint32) bool { return n != 0 && n&(n-1) == 0 }

// NextPowerOfTwo returns the smallest power of two >= n. It returns 1 for 0.
func NextPowerOfTwo(n uint32) uint32 {
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}
