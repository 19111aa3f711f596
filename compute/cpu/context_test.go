package cpu

import (
	"context"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/meshbvh/compute"
)

const rw = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst

// scaleKernel multiplies every element of binding 1 by params[1].
var scaleKernel = &compute.Kernel{
	Label:         "scale",
	Source:        "// host only",
	WorkgroupSize: [3]uint32{8, 1, 1},
	ParamWords:    2,
	Bindings:      []gputypes.BufferBindingType{gputypes.BufferBindingTypeStorage},
	Invoke: func(inv compute.Invocation) {
		i := inv.GlobalID[0]
		if i >= inv.Params[0] {
			return
		}
		inv.Buffers[0][i] *= inv.Params[1]
	},
}

func newBuffer(t *testing.T, c *Context, words []uint32) compute.Buffer {
	t.Helper()
	b, err := c.CreateBuffer("test", uint64(len(words))*4, rw)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if err := c.WriteBuffer(b, 0, compute.Bytes(words)); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	return b
}

func read(t *testing.T, c *Context, b compute.Buffer) []uint32 {
	t.Helper()
	data, err := c.ReadBuffer(context.Background(), b, 0, b.Size())
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	return compute.Words(data)
}

func TestDispatchAndCopy(t *testing.T) {
	c := New(4)
	defer c.Close()

	words := make([]uint32, 1000)
	for i := range words {
		words[i] = uint32(i)
	}
	src := newBuffer(t, c, words)
	dst := newBuffer(t, c, make([]uint32, 1000))

	p, err := c.CreatePipeline(scaleKernel)
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	defer c.DestroyPipeline(p)

	err = c.Submit("scale",
		compute.Dispatch{
			Pipeline:   p,
			Params:     []uint32{1000, 3},
			Buffers:    []compute.Buffer{src},
			Workgroups: [3]uint32{scaleKernel.Groups(1000), 1, 1},
		},
		compute.Copy{Src: src, Dst: dst, SrcOffset: 40, DstOffset: 0, Size: 16},
	)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := read(t, c, src)
	for i, v := range got {
		if v != uint32(i)*3 {
			t.Fatalf("src[%d] = %d, want %d", i, v, i*3)
		}
	}
	copied := read(t, c, dst)[:5]
	want := []uint32{30, 33, 36, 39, 0}
	for i := range want {
		if copied[i] != want[i] {
			t.Errorf("dst[%d] = %d, want %d", i, copied[i], want[i])
		}
	}
	if c.Submissions() != 1 {
		t.Errorf("Submissions() = %d, want 1", c.Submissions())
	}
}

func TestDispatchFaultIsReported(t *testing.T) {
	c := New(2)
	defer c.Close()

	b := newBuffer(t, c, make([]uint32, 4))
	p, err := c.CreatePipeline(scaleKernel)
	if err != nil {
		t.Fatal(err)
	}

	// A length larger than the buffer makes Invoke index out of range.
	err = c.Submit("oob", compute.Dispatch{
		Pipeline:   p,
		Params:     []uint32{16, 2},
		Buffers:    []compute.Buffer{b},
		Workgroups: [3]uint32{2, 1, 1},
	})
	if err == nil {
		t.Fatal("Submit succeeded, want fault")
	}
}

func TestUsageChecks(t *testing.T) {
	c := New(1)
	defer c.Close()

	staging, err := c.CreateBuffer("staging", 16, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	if err != nil {
		t.Fatal(err)
	}
	p, err := c.CreatePipeline(scaleKernel)
	if err != nil {
		t.Fatal(err)
	}

	err = c.Submit("bad", compute.Dispatch{
		Pipeline:   p,
		Params:     []uint32{4, 1},
		Buffers:    []compute.Buffer{staging},
		Workgroups: [3]uint32{1, 1, 1},
	})
	if !errors.Is(err, compute.ErrUsage) {
		t.Errorf("storage bind of staging buffer = %v, want ErrUsage", err)
	}

	if _, err := c.ReadBuffer(context.Background(), staging, 0, 16); !errors.Is(err, compute.ErrUsage) {
		t.Errorf("ReadBuffer without CopySrc = %v, want ErrUsage", err)
	}
	if err := c.WriteBuffer(staging, 2, []byte{1, 2, 3, 4}); !errors.Is(err, compute.ErrAlignment) {
		t.Errorf("unaligned WriteBuffer = %v, want ErrAlignment", err)
	}
}

func TestDestroyedAndForeignResources(t *testing.T) {
	c := New(1)
	defer c.Close()
	other := New(1)
	defer other.Close()

	b := newBuffer(t, c, []uint32{1, 2})
	c.DestroyBuffer(b)
	c.DestroyBuffer(b)

	if err := c.WriteBuffer(b, 0, compute.Bytes([]uint32{1})); !errors.Is(err, compute.ErrDestroyed) {
		t.Errorf("write to destroyed buffer = %v, want ErrDestroyed", err)
	}

	foreign := newBuffer(t, other, []uint32{1})
	if _, err := c.ReadBuffer(context.Background(), foreign, 0, 4); !errors.Is(err, compute.ErrForeignResource) {
		t.Errorf("read of foreign buffer = %v, want ErrForeignResource", err)
	}
	if c.LiveBuffers() != 0 {
		t.Errorf("LiveBuffers() = %d, want 0", c.LiveBuffers())
	}
}

func TestReadBufferHonoursContext(t *testing.T) {
	c := New(1)
	defer c.Close()

	b := newBuffer(t, c, []uint32{7})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.ReadBuffer(ctx, b, 0, 4); !errors.Is(err, context.Canceled) {
		t.Errorf("ReadBuffer with cancelled context = %v, want context.Canceled", err)
	}
}

func TestClosedContext(t *testing.T) {
	c := New(1)
	if _, err := c.CreateBuffer("x", 4, rw); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if _, err := c.CreateBuffer("y", 4, rw); !errors.Is(err, compute.ErrClosed) {
		t.Errorf("CreateBuffer after Close = %v, want ErrClosed", err)
	}
	if err := c.Submit("none"); !errors.Is(err, compute.ErrClosed) {
		t.Errorf("Submit after Close = %v, want ErrClosed", err)
	}
}

func TestDispatchWorkgroupLimit(t *testing.T) {
	c := New(1)
	defer c.Close()

	words := []uint32{1, 2, 3, 4}
	b := newBuffer(t, c, words)
	p, err := c.CreatePipeline(scaleKernel)
	if err != nil {
		t.Fatal(err)
	}

	err = c.Submit("too_wide", compute.Dispatch{
		Pipeline:   p,
		Params:     []uint32{4, 2},
		Buffers:    []compute.Buffer{b},
		Workgroups: [3]uint32{compute.MaxWorkgroupsPerDimension + 1, 1, 1},
	})
	if !errors.Is(err, compute.ErrLimits) {
		t.Fatalf("Submit = %v, want %v", err, compute.ErrLimits)
	}
	for i, v := range read(t, c, b) {
		if v != words[i] {
			t.Errorf("word %d = %d after a rejected dispatch, want %d", i, v, words[i])
		}
	}
}
