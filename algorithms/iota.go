package algorithms

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/meshbvh/compute"
)

var iotaKernel = &compute.Kernel{
	Label:         "iota",
	Source:        iotaShaderSource,
	WorkgroupSize: [3]uint32{64, 1, 1},
	ParamWords:    1,
	Bindings: []gputypes.BufferBindingType{
		gputypes.BufferBindingTypeStorage,
	},
	Invoke: func(inv compute.Invocation) {
		i := inv.GlobalID[0]
		if i >= inv.Params[0] {
			return
		}
		inv.Buffers[0][i] = i
	},
}

// Iota allocates a buffer holding 0, 1, ..., m-1 where m is length rounded
// up to a multiple of resolution. It returns the buffer and m.
// A resolution of 0 or 1 means no rounding.
func (r *Resources) Iota(label string, length, resolution uint32) (compute.Buffer, uint32, error) {
	p, err := r.pipeline(AlgorithmIota)
	if err != nil {
		return nil, 0, err
	}

	padded := length
	if resolution > 1 {
		padded = (length + resolution - 1) / resolution * resolution
	}

	buf, err := r.cc.CreateBuffer(label, uint64(padded)*4, BufferUsage)
	if err != nil {
		return nil, 0, fmt.Errorf("algorithms: iota: %w", err)
	}
	if padded == 0 {
		return buf, 0, nil
	}

	err = r.cc.Submit("iota", compute.Dispatch{
		Pipeline:   p,
		Params:     []uint32{padded},
		Buffers:    []compute.Buffer{buf},
		Workgroups: [3]uint32{iotaKernel.Groups(padded), 1, 1},
	})
	if err != nil {
		r.cc.DestroyBuffer(buf)
		return nil, 0, fmt.Errorf("algorithms: iota: %w", err)
	}
	return buf, padded, nil
}
