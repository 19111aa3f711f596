// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cpu implements compute.Context on the host.
//
// Buffers are word slices and dispatches call each kernel's Invoke function
// once per invocation, spreading workgroups over a work-stealing pool. The
// backend checks usages, ranges, bindings and the WebGPU default limits on
// workgroup sizes and counts exactly like a WebGPU device would, so it
// doubles as a validation layer in tests.
package cpu

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/meshbvh/compute"
	"github.com/gogpu/meshbvh/internal/parallel"
)

// invocationsPerTask is the host work, in invocations, given to one pool task.
const invocationsPerTask = 4096

// Context is a host compute context.
type Context struct {
	mu     sync.Mutex
	pool   *parallel.Pool
	closed bool

	buffers   map[*buffer]struct{}
	pipelines map[*pipeline]struct{}

	logger      atomic.Pointer[slog.Logger]
	submissions atomic.Uint64
}

type buffer struct {
	owner *Context
	label string
	usage gputypes.BufferUsage
	size  uint64
	words []uint32
	freed bool
}

func (b *buffer) Label() string                { return b.label }
func (b *buffer) Size() uint64                 { return b.size }
func (b *buffer) Usage() gputypes.BufferUsage { return b.usage }

type pipeline struct {
	owner  *Context
	kernel *compute.Kernel
	freed  bool
}

func (p *pipeline) Kernel() *compute.Kernel { return p.kernel }

// New creates a host context running on workers goroutines.
// workers <= 0 uses GOMAXPROCS.
func New(workers int) *Context {
	c := &Context{
		pool:      parallel.NewPool(workers),
		buffers:   make(map[*buffer]struct{}),
		pipelines: make(map[*pipeline]struct{}),
	}
	c.logger.Store(slog.New(slog.DiscardHandler))
	return c
}

// SetLogger sets the logger for this context. nil disables logging.
func (c *Context) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	c.logger.Store(l)
}

func (c *Context) slogger() *slog.Logger { return c.logger.Load() }

// Name implements compute.Context.
func (c *Context) Name() string {
	return fmt.Sprintf("cpu (%d workers)", c.pool.Workers())
}

// Submissions returns the number of completed submissions.
func (c *Context) Submissions() uint64 { return c.submissions.Load() }

// LiveBuffers returns the number of buffers not yet destroyed.
func (c *Context) LiveBuffers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffers)
}

// CreateBuffer implements compute.Context.
func (c *Context) CreateBuffer(label string, size uint64, usage gputypes.BufferUsage) (compute.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, compute.ErrClosed
	}
	if size%4 != 0 {
		return nil, fmt.Errorf("%w: buffer %q size %d", compute.ErrAlignment, label, size)
	}
	b := &buffer{
		owner: c,
		label: label,
		usage: usage,
		size:  size,
		words: make([]uint32, size/4),
	}
	c.buffers[b] = struct{}{}
	return b, nil
}

// WriteBuffer implements compute.Context.
func (c *Context) WriteBuffer(dst compute.Buffer, offset uint64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return compute.ErrClosed
	}
	b, err := c.buffer(dst)
	if err != nil {
		return err
	}
	if b.usage&gputypes.BufferUsageCopyDst == 0 {
		return fmt.Errorf("%w: write to %q", compute.ErrUsage, b.label)
	}
	if err := compute.CheckRange(b, offset, uint64(len(data))); err != nil {
		return err
	}
	copy(b.words[offset/4:], compute.Words(data))
	return nil
}

// CreatePipeline implements compute.Context.
func (c *Context) CreatePipeline(k *compute.Kernel) (compute.Pipeline, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	if k.Invoke == nil {
		return nil, fmt.Errorf("compute/cpu: kernel %s has no host implementation", k.Label)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, compute.ErrClosed
	}
	p := &pipeline{owner: c, kernel: k}
	c.pipelines[p] = struct{}{}
	return p, nil
}

// Submit implements compute.Context. Commands execute in order and every
// dispatch completes before the next command starts.
func (c *Context) Submit(label string, cmds ...compute.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return compute.ErrClosed
	}

	for i, cmd := range cmds {
		var err error
		switch cmd := cmd.(type) {
		case compute.Dispatch:
			err = c.dispatch(cmd)
		case compute.Copy:
			err = c.copy(cmd)
		default:
			err = fmt.Errorf("compute/cpu: unknown command %T", cmd)
		}
		if err != nil {
			return fmt.Errorf("compute/cpu: %s: command %d: %w", label, i, err)
		}
	}

	c.submissions.Add(1)
	return nil
}

func (c *Context) dispatch(d compute.Dispatch) error {
	if err := d.Validate(); err != nil {
		return err
	}
	p, ok := d.Pipeline.(*pipeline)
	if !ok || p.owner != c {
		return compute.ErrForeignResource
	}
	if p.freed {
		return fmt.Errorf("%w: pipeline %s", compute.ErrDestroyed, p.kernel.Label)
	}

	views := make([][]uint32, len(d.Buffers))
	for i, buf := range d.Buffers {
		b, err := c.buffer(buf)
		if err != nil {
			return err
		}
		views[i] = b.words
	}

	k := p.kernel
	ws := k.WorkgroupSize
	local := int(ws[0] * ws[1] * ws[2])
	groups := int(d.Workgroups[0]) * int(d.Workgroups[1]) * int(d.Workgroups[2])
	if groups == 0 {
		return nil
	}

	params := append([]uint32(nil), d.Params...)
	gx, gy := int(d.Workgroups[0]), int(d.Workgroups[1])

	var fault atomic.Pointer[string]
	c.pool.For(groups, max(1, invocationsPerTask/local), func(lo, hi int) {
		defer func() {
			if r := recover(); r != nil {
				msg := fmt.Sprint(r)
				fault.CompareAndSwap(nil, &msg)
			}
		}()
		inv := compute.Invocation{Params: params, Buffers: views}
		for g := lo; g < hi; g++ {
			wx := uint32(g % gx)
			wy := uint32((g / gx) % gy)
			wz := uint32(g / (gx * gy))
			for z := uint32(0); z < ws[2]; z++ {
				for y := uint32(0); y < ws[1]; y++ {
					for x := uint32(0); x < ws[0]; x++ {
						inv.GlobalID = [3]uint32{wx*ws[0] + x, wy*ws[1] + y, wz*ws[2] + z}
						k.Invoke(inv)
					}
				}
			}
		}
	})

	if msg := fault.Load(); msg != nil {
		return fmt.Errorf("compute/cpu: kernel %s faulted: %s", k.Label, *msg)
	}
	c.slogger().Debug("compute/cpu: dispatch",
		"kernel", k.Label,
		"workgroups", d.Workgroups)
	return nil
}

func (c *Context) copy(cp compute.Copy) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	src, err := c.buffer(cp.Src)
	if err != nil {
		return err
	}
	dst, err := c.buffer(cp.Dst)
	if err != nil {
		return err
	}
	n := cp.Size / 4
	copy(dst.words[cp.DstOffset/4:cp.DstOffset/4+n], src.words[cp.SrcOffset/4:cp.SrcOffset/4+n])
	return nil
}

// ReadBuffer implements compute.Context.
func (c *Context) ReadBuffer(ctx context.Context, src compute.Buffer, offset, size uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, compute.ErrClosed
	}
	b, err := c.buffer(src)
	if err != nil {
		return nil, err
	}
	if b.usage&gputypes.BufferUsageCopySrc == 0 {
		return nil, fmt.Errorf("%w: read back %q", compute.ErrUsage, b.label)
	}
	if err := compute.CheckRange(b, offset, size); err != nil {
		return nil, err
	}
	return compute.Bytes(b.words[offset/4 : (offset+size)/4]), nil
}

// DestroyBuffer implements compute.Context.
func (c *Context) DestroyBuffer(buf compute.Buffer) {
	b, ok := buf.(*buffer)
	if !ok || b == nil || b.owner != c {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b.freed {
		return
	}
	b.freed = true
	b.words = nil
	delete(c.buffers, b)
}

// DestroyPipeline implements compute.Context.
func (c *Context) DestroyPipeline(pl compute.Pipeline) {
	p, ok := pl.(*pipeline)
	if !ok || p == nil || p.owner != c {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p.freed = true
	delete(c.pipelines, p)
}

// Close implements compute.Context.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if n := len(c.buffers); n > 0 {
		c.slogger().Debug("compute/cpu: releasing live buffers on close", "count", n)
	}
	for b := range c.buffers {
		b.freed = true
		b.words = nil
	}
	clear(c.buffers)
	clear(c.pipelines)
	c.pool.Close()
	return nil
}

// buffer resolves a compute.Buffer owned by c. Callers hold c.mu.
func (c *Context) buffer(buf compute.Buffer) (*buffer, error) {
	b, ok := buf.(*buffer)
	if !ok || b == nil || b.owner != c {
		return nil, compute.ErrForeignResource
	}
	if b.freed {
		return nil, fmt.Errorf("%w: buffer %q", compute.ErrDestroyed, b.label)
	}
	return b, nil
}

var _ compute.Context = (*Context)(nil)
