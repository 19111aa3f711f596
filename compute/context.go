package compute

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
)

// Errors shared by all compute backends.
var (
	// ErrClosed is returned by operations on a closed Context.
	ErrClosed = errors.New("compute: context closed")

	// ErrDestroyed is returned when a destroyed buffer or pipeline is used.
	ErrDestroyed = errors.New("compute: resource destroyed")

	// ErrUsage is returned when a buffer lacks the usage an operation needs.
	ErrUsage = errors.New("compute: buffer usage does not allow operation")

	// ErrOutOfRange is returned for offsets and sizes outside a buffer.
	ErrOutOfRange = errors.New("compute: range outside buffer")

	// ErrAlignment is returned for offsets or sizes not aligned to 4 bytes.
	ErrAlignment = errors.New("compute: offset or size not 4-byte aligned")

	// ErrBindings is returned when a dispatch does not match its kernel layout.
	ErrBindings = errors.New("compute: dispatch does not match kernel bindings")

	// ErrLimits is returned for kernels and dispatches beyond the WebGPU
	// default limits.
	ErrLimits = errors.New("compute: exceeds device limits")

	// ErrForeignResource is returned when a resource from another backend
	// is passed to a Context.
	ErrForeignResource = errors.New("compute: resource belongs to another context")
)

// Buffer is a region of device memory owned by a Context.
type Buffer interface {
	Label() string
	Size() uint64
	Usage() gputypes.BufferUsage
}

// Pipeline is a compiled kernel ready for dispatch.
type Pipeline interface {
	Kernel() *Kernel
}

// Context allocates device memory and executes kernels.
//
// A Context is not required to be safe for concurrent submission.
// Callers serialize their work; meshbvh.Generator holds a mutex for this.
type Context interface {
	// Name identifies the backend and device, for logs.
	Name() string

	// CreateBuffer allocates a zero-filled buffer of size bytes.
	CreateBuffer(label string, size uint64, usage gputypes.BufferUsage) (Buffer, error)

	// WriteBuffer uploads data at offset. The buffer needs CopyDst usage.
	WriteBuffer(dst Buffer, offset uint64, data []byte) error

	// CreatePipeline compiles k.
	CreatePipeline(k *Kernel) (Pipeline, error)

	// Submit records cmds in order, submits them and blocks until the
	// device has finished executing them.
	Submit(label string, cmds ...Command) error

	// ReadBuffer copies size bytes at offset back to the host. The
	// source needs CopySrc usage. The wait for the mapping honours ctx.
	ReadBuffer(ctx context.Context, src Buffer, offset, size uint64) ([]byte, error)

	// DestroyBuffer releases b. Destroying twice is a no-op.
	DestroyBuffer(b Buffer)

	// DestroyPipeline releases p. Destroying twice is a no-op.
	DestroyPipeline(p Pipeline)

	// Close releases the context and everything it still owns.
	Close() error
}

// Command is one recorded operation of a submission.
type Command interface {
	command()
}

// Dispatch runs a pipeline over Workgroups.
type Dispatch struct {
	Pipeline   Pipeline
	Params     []uint32
	Buffers    []Buffer
	Workgroups [3]uint32
}

// Copy copies Size bytes between two buffers.
type Copy struct {
	Src       Buffer
	SrcOffset uint64
	Dst       Buffer
	DstOffset uint64
	Size      uint64
}

func (Dispatch) command() {}
func (Copy) command()     {}

// Validate checks a dispatch against its kernel layout and buffer usages.
func (d Dispatch) Validate() error {
	if d.Pipeline == nil {
		return fmt.Errorf("%w: nil pipeline", ErrBindings)
	}
	k := d.Pipeline.Kernel()
	if len(d.Params) != k.ParamWords {
		return fmt.Errorf("%w: %s: got %d param words, want %d", ErrBindings, k.Label, len(d.Params), k.ParamWords)
	}
	if len(d.Buffers) != len(k.Bindings) {
		return fmt.Errorf("%w: %s: got %d buffers, want %d", ErrBindings, k.Label, len(d.Buffers), len(k.Bindings))
	}
	for axis, n := range d.Workgroups {
		if n > MaxWorkgroupsPerDimension {
			return fmt.Errorf("%w: %s: %d workgroups along axis %d, limit %d",
				ErrLimits, k.Label, n, axis, MaxWorkgroupsPerDimension)
		}
	}
	for i, b := range d.Buffers {
		if b == nil {
			return fmt.Errorf("%w: %s: binding %d is nil", ErrBindings, k.Label, k.BindingIndex(i))
		}
		if b.Usage()&gputypes.BufferUsageStorage == 0 {
			return fmt.Errorf("%w: %s: %q bound as storage", ErrUsage, k.Label, b.Label())
		}
	}
	return nil
}

// Validate checks a copy against buffer bounds and usages.
func (c Copy) Validate() error {
	if c.Src == nil || c.Dst == nil {
		return fmt.Errorf("%w: copy with nil buffer", ErrBindings)
	}
	if c.Src.Usage()&gputypes.BufferUsageCopySrc == 0 {
		return fmt.Errorf("%w: %q is not a copy source", ErrUsage, c.Src.Label())
	}
	if c.Dst.Usage()&gputypes.BufferUsageCopyDst == 0 {
		return fmt.Errorf("%w: %q is not a copy destination", ErrUsage, c.Dst.Label())
	}
	if err := CheckRange(c.Src, c.SrcOffset, c.Size); err != nil {
		return err
	}
	return CheckRange(c.Dst, c.DstOffset, c.Size)
}

// CheckRange verifies that [offset, offset+size) lies inside b and that both
// values are 4-byte aligned.
func CheckRange(b Buffer, offset, size uint64) error {
	if offset%4 != 0 || size%4 != 0 {
		return fmt.Errorf("%w: %q offset %d size %d", ErrAlignment, b.Label(), offset, size)
	}
	if offset > b.Size() || size > b.Size()-offset {
		return fmt.Errorf("%w: %q [%d, %d) of %d bytes", ErrOutOfRange, b.Label(), offset, offset+size, b.Size())
	}
	return nil
}
