package algorithms

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/meshbvh/compute"
)

var prefixSumKernel = &compute.Kernel{
	Label:         "prefix_sum",
	Source:        prefixSumShaderSource,
	WorkgroupSize: [3]uint32{64, 1, 1},
	ParamWords:    2,
	Bindings: []gputypes.BufferBindingType{
		gputypes.BufferBindingTypeReadOnlyStorage,
		gputypes.BufferBindingTypeStorage,
	},
	Invoke: func(inv compute.Invocation) {
		offset, length := inv.Params[0], inv.Params[1]
		i := inv.GlobalID[0]
		if i >= length {
			return
		}
		in, out := inv.Buffers[0], inv.Buffers[1]
		v := in[i]
		if i >= offset {
			v += in[i-offset]
		}
		out[i] = v
	},
}

// PrefixSum computes the exclusive prefix sum of the first n words of
// values. The returned buffer holds n+1 words: word 0 is 0 and word i is
// values[0] + ... + values[i-1], so word n is the total. The total is also
// read back to the host and returned; ctx bounds that readback.
//
// Each scan step is its own submission because it reads the complete
// output of the previous one. values needs CopySrc usage.
func (r *Resources) PrefixSum(ctx context.Context, values compute.Buffer, n uint32) (compute.Buffer, uint32, error) {
	p, err := r.pipeline(AlgorithmPrefixSum)
	if err != nil {
		return nil, 0, err
	}

	length := n + 1
	size := uint64(length) * 4

	ping, err := r.cc.CreateBuffer("prefix_sum_a", size, BufferUsage)
	if err != nil {
		return nil, 0, fmt.Errorf("algorithms: prefix sum: %w", err)
	}
	pong, err := r.cc.CreateBuffer("prefix_sum_b", size, BufferUsage)
	if err != nil {
		r.cc.DestroyBuffer(ping)
		return nil, 0, fmt.Errorf("algorithms: prefix sum: %w", err)
	}
	fail := func(err error) (compute.Buffer, uint32, error) {
		r.cc.DestroyBuffer(ping)
		r.cc.DestroyBuffer(pong)
		return nil, 0, fmt.Errorf("algorithms: prefix sum: %w", err)
	}

	if n == 0 {
		r.cc.DestroyBuffer(pong)
		return ping, 0, nil
	}

	// ping[0] stays 0; the values are shifted one word right.
	err = r.cc.Submit("prefix_sum_load", compute.Copy{
		Src:       values,
		Dst:       ping,
		DstOffset: 4,
		Size:      uint64(n) * 4,
	})
	if err != nil {
		return fail(err)
	}

	passes := 0
	for offset := uint32(1); offset < length; offset <<= 1 {
		err = r.cc.Submit("prefix_sum", compute.Dispatch{
			Pipeline:   p,
			Params:     []uint32{offset, length},
			Buffers:    []compute.Buffer{ping, pong},
			Workgroups: [3]uint32{prefixSumKernel.Groups(length), 1, 1},
		})
		if err != nil {
			return fail(err)
		}
		ping, pong = pong, ping
		passes++
	}
	r.cc.DestroyBuffer(pong)

	data, err := r.cc.ReadBuffer(ctx, ping, uint64(n)*4, 4)
	if err != nil {
		r.cc.DestroyBuffer(ping)
		return nil, 0, fmt.Errorf("algorithms: prefix sum: read total: %w", err)
	}
	total := binary.LittleEndian.Uint32(data)

	r.logger.Debug("algorithms: prefix sum", "n", n, "passes", passes, "total", total)
	return ping, total, nil
}
