package compute

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
)

// Kernel describes one compute shader together with its host reference.
type Kernel struct {
	// Label names the kernel in logs and GPU debug labels.
	Label string

	// Source is the WGSL module.
	Source string

	// EntryPoint is the compute entry point. Empty means "main".
	EntryPoint string

	// WorkgroupSize must match the @workgroup_size attribute in Source.
	WorkgroupSize [3]uint32

	// ParamWords is the number of u32 words in the uniform parameter
	// struct at binding 0. Zero means the kernel takes no uniform.
	ParamWords int

	// Bindings lists the storage bindings in order. Only
	// BufferBindingTypeStorage and BufferBindingTypeReadOnlyStorage are valid.
	Bindings []gputypes.BufferBindingType

	// Invoke executes one invocation on the host. Invocations of a
	// dispatch may run concurrently, so Invoke must only write the
	// elements owned by inv.GlobalID.
	Invoke func(inv Invocation)
}

// Invocation is the host view of one shader invocation.
type Invocation struct {
	GlobalID [3]uint32
	Params   []uint32
	Buffers  [][]uint32
}

// Entry returns the entry point name.
func (k *Kernel) Entry() string {
	if k.EntryPoint == "" {
		return "main"
	}
	return k.EntryPoint
}

// BindingIndex maps the i-th storage buffer to its WGSL @binding.
func (k *Kernel) BindingIndex(i int) uint32 {
	if k.ParamWords > 0 {
		return uint32(i) + 1
	}
	return uint32(i)
}

// ParamBytes is the uniform buffer size, rounded up to 16 bytes.
func (k *Kernel) ParamBytes() uint64 {
	n := uint64(k.ParamWords) * 4
	return (n + 15) &^ 15
}

// Device limits every kernel and dispatch is held to. Both backends
// enforce the WebGPU defaults.
var (
	limits = gputypes.DefaultLimits()

	// MaxWorkgroupsPerDimension bounds each component of Dispatch.Workgroups.
	MaxWorkgroupsPerDimension = limits.MaxComputeWorkgroupsPerDimension
)

// MaxInvocations returns the largest n for which Groups(n) stays within
// MaxWorkgroupsPerDimension.
func (k *Kernel) MaxInvocations() uint32 {
	return MaxWorkgroupsPerDimension * max(k.WorkgroupSize[0], 1)
}

// Groups returns the workgroup count needed to cover n invocations along x.
func (k *Kernel) Groups(n uint32) uint32 {
	w := k.WorkgroupSize[0]
	if w == 0 {
		w = 1
	}
	return (n + w - 1) / w
}

// Validate reports an incomplete kernel description.
func (k *Kernel) Validate() error {
	if k.Label == "" {
		return errors.New("compute: kernel without label")
	}
	if k.Source == "" {
		return fmt.Errorf("compute: kernel %s: empty WGSL source", k.Label)
	}
	sizeLimits := [3]uint32{limits.MaxComputeWorkgroupSizeX, limits.MaxComputeWorkgroupSizeY, limits.MaxComputeWorkgroupSizeZ}
	invocations := uint32(1)
	for i, s := range k.WorkgroupSize {
		if s == 0 {
			return fmt.Errorf("compute: kernel %s: workgroup size[%d] is zero", k.Label, i)
		}
		if s > sizeLimits[i] {
			return fmt.Errorf("%w: kernel %s: workgroup size[%d] = %d, limit %d", ErrLimits, k.Label, i, s, sizeLimits[i])
		}
		invocations *= s
	}
	if invocations > limits.MaxComputeInvocationsPerWorkgroup {
		return fmt.Errorf("%w: kernel %s: %d invocations per workgroup, limit %d",
			ErrLimits, k.Label, invocations, limits.MaxComputeInvocationsPerWorkgroup)
	}
	for i, t := range k.Bindings {
		if t != gputypes.BufferBindingTypeStorage && t != gputypes.BufferBindingTypeReadOnlyStorage {
			return fmt.Errorf("compute: kernel %s: binding %d is not a storage binding", k.Label, i)
		}
	}
	return nil
}
