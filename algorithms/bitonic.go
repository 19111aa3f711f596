package algorithms

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/meshbvh/compute"
)

var bitonicSortKernel = &compute.Kernel{
	Label:         "bitonic_sort",
	Source:        bitonicSortShaderSource,
	WorkgroupSize: [3]uint32{64, 1, 1},
	ParamWords:    3,
	Bindings: []gputypes.BufferBindingType{
		gputypes.BufferBindingTypeStorage,
		gputypes.BufferBindingTypeStorage,
	},
	Invoke: func(inv compute.Invocation) {
		sortSize, stride, count := inv.Params[0], inv.Params[1], inv.Params[2]
		t := inv.GlobalID[0]
		if t >= count/2 {
			return
		}
		i := (t/stride)*stride*2 + t%stride
		j := i + stride
		ascending := i&sortSize == 0

		keys, values := inv.Buffers[0], inv.Buffers[1]
		ki, kj := keys[i], keys[j]
		if (ascending && ki > kj) || (!ascending && ki < kj) {
			keys[i], keys[j] = kj, ki
			values[i], values[j] = values[j], values[i]
		}
	},
}

// BitonicSort sorts the first n (key, value) pairs ascending by key. n must
// be a power of two; 0 and 1 are accepted and leave the buffers untouched.
// The order of equal keys is unspecified.
//
// Every (sort size, step size) combination is one dispatch of n/2
// compare-and-swap invocations. All dispatches go into one submission, each
// in its own compute pass.
func (r *Resources) BitonicSort(keys, values compute.Buffer, n uint32) error {
	if n <= 1 {
		return nil
	}
	if !isPowerOfTwo(n) {
		return fmt.Errorf("algorithms: bitonic sort of %d elements: %w", n, ErrNotPowerOfTwo)
	}
	p, err := r.pipeline(AlgorithmBitonicSort)
	if err != nil {
		return err
	}

	groups := bitonicSortKernel.Groups(n / 2)
	var cmds []compute.Command
	for sortSize := uint32(2); sortSize <= n; sortSize <<= 1 {
		for stride := sortSize / 2; stride > 0; stride >>= 1 {
			cmds = append(cmds, compute.Dispatch{
				Pipeline:   p,
				Params:     []uint32{sortSize, stride, n},
				Buffers:    []compute.Buffer{keys, values},
				Workgroups: [3]uint32{groups, 1, 1},
			})
		}
	}

	if err := r.cc.Submit("bitonic_sort", cmds...); err != nil {
		return fmt.Errorf("algorithms: bitonic sort: %w", err)
	}
	r.logger.Debug("algorithms: bitonic sort", "n", n, "passes", len(cmds))
	return nil
}
