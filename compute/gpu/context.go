// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpu implements compute.Context on a gogpu/wgpu HAL device.
//
// The context either opens its own device (see NewDefault) or borrows one
// from a host application through New or NewFromProvider. Borrowed devices
// are never destroyed by Close.
//
// Each Submit records one command encoder, submits it with a fence and
// blocks on the fence. ReadBuffer copies into a MapRead staging buffer and
// completes the readback on a goroutine so the caller can abandon the wait
// through its context.Context.
package gpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/meshbvh/compute"
)

// DefaultFenceTimeout bounds every blocking wait on a submission.
const DefaultFenceTimeout = 5 * time.Second

// ErrFenceTimeout is returned when the device does not signal a fence in time.
var ErrFenceTimeout = errors.New("compute/gpu: fence wait timed out")

// Option configures a Context.
type Option func(*options)

type options struct {
	spirv        bool
	fenceTimeout time.Duration
	name         string
}

// WithSPIRV compiles kernels to SPIR-V with naga instead of handing WGSL
// to the HAL.
func WithSPIRV(enabled bool) Option {
	return func(o *options) { o.spirv = enabled }
}

// WithFenceTimeout overrides DefaultFenceTimeout.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.fenceTimeout = d
		}
	}
}

// WithName sets the adapter name reported by Name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// Context is a compute context on a HAL device.
type Context struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	// externalDevice is true when device and queue belong to the caller.
	externalDevice bool
	closed         bool

	opts   options
	logger atomic.Pointer[slog.Logger]

	buffers   map[*buffer]struct{}
	pipelines map[*pipeline]struct{}
}

type buffer struct {
	owner *Context
	raw   hal.Buffer
	label string
	size  uint64
	usage gputypes.BufferUsage
}

func (b *buffer) Label() string                { return b.label }
func (b *buffer) Size() uint64                 { return b.size }
func (b *buffer) Usage() gputypes.BufferUsage { return b.usage }

type pipeline struct {
	owner    *Context
	kernel   *compute.Kernel
	module   hal.ShaderModule
	layout   hal.BindGroupLayout
	pipeLay  hal.PipelineLayout
	pipeline hal.ComputePipeline
}

func (p *pipeline) Kernel() *compute.Kernel { return p.kernel }

// New wraps a device and queue owned by the caller.
func New(device hal.Device, queue hal.Queue, opts ...Option) (*Context, error) {
	if device == nil || queue == nil {
		return nil, errors.New("compute/gpu: nil device or queue")
	}
	c := newContext(opts)
	c.device = device
	c.queue = queue
	c.externalDevice = true
	return c, nil
}

// NewFromProvider borrows the HAL device of a gpucontext.DeviceProvider.
// The provider must expose HalDevice() any and HalQueue() any returning a
// hal.Device and a hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Context, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, errors.New("compute/gpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, errors.New("compute/gpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, errors.New("compute/gpu: provider HalQueue is not hal.Queue")
	}
	return New(device, queue, opts...)
}

func newContext(opts []Option) *Context {
	o := options{fenceTimeout: DefaultFenceTimeout, name: "hal"}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Context{
		opts:      o,
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
func (c *Context) Name() string { return "gpu (" + c.opts.name + ")" }

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

	// Zero-sized buffers cannot be bound; keep the 4-byte minimum.
	rawSize := max(size, 4)
	raw, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  rawSize,
		Usage: usage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("compute/gpu: create buffer %q: %w", label, err)
	}
	// HAL buffers are not guaranteed to be cleared.
	c.queue.WriteBuffer(raw, 0, make([]byte, rawSize))

	b := &buffer{owner: c, raw: raw, label: label, size: size, usage: usage}
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
	if len(data) > 0 {
		c.queue.WriteBuffer(b.raw, offset, data)
	}
	return nil
}

// CreatePipeline implements compute.Context.
func (c *Context) CreatePipeline(k *compute.Kernel) (compute.Pipeline, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, compute.ErrClosed
	}

	p := &pipeline{owner: c, kernel: k}
	if err := c.initPipeline(p); err != nil {
		c.destroyPipeline(p)
		return nil, fmt.Errorf("compute/gpu: kernel %s: %w", k.Label, err)
	}
	c.pipelines[p] = struct{}{}

	c.slogger().Debug("compute/gpu: pipeline created",
		"kernel", k.Label,
		"bindings", len(k.Bindings),
		"spirv", c.opts.spirv)
	return p, nil
}

func (c *Context) initPipeline(p *pipeline) error {
	k := p.kernel

	source := hal.ShaderSource{WGSL: k.Source}
	if c.opts.spirv {
		words, err := CompileSPIRV(k.Source)
		if err != nil {
			return err
		}
		source = hal.ShaderSource{SPIRV: words}
	}

	var err error
	p.module, err = c.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  k.Label,
		Source: source,
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}

	p.layout, err = c.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   k.Label + "_bgl",
		Entries: layoutEntries(k),
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}

	p.pipeLay, err = c.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            k.Label + "_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.layout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}

	p.pipeline, err = c.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   k.Label,
		Layout:  p.pipeLay,
		Compute: hal.ComputeState{Module: p.module, EntryPoint: k.Entry()},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	return nil
}

// layoutEntries builds the bind group layout: an optional uniform at
// binding 0 followed by the storage bindings.
func layoutEntries(k *compute.Kernel) []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(k.Bindings)+1)
	if k.ParamWords > 0 {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    0,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		})
	}
	for i, t := range k.Bindings {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    k.BindingIndex(i),
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: t},
		})
	}
	return entries
}

// destroyPipeline releases the HAL objects of p in reverse creation order.
// Callers hold c.mu.
func (c *Context) destroyPipeline(p *pipeline) {
	if p.pipeline != nil {
		c.device.DestroyComputePipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipeLay != nil {
		c.device.DestroyPipelineLayout(p.pipeLay)
		p.pipeLay = nil
	}
	if p.layout != nil {
		c.device.DestroyBindGroupLayout(p.layout)
		p.layout = nil
	}
	if p.module != nil {
		c.device.DestroyShaderModule(p.module)
		p.module = nil
	}
}

// DestroyPipeline implements compute.Context.
func (c *Context) DestroyPipeline(pl compute.Pipeline) {
	p, ok := pl.(*pipeline)
	if !ok || p == nil || p.owner != c {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, live := c.pipelines[p]; !live {
		return
	}
	delete(c.pipelines, p)
	if !c.closed {
		c.destroyPipeline(p)
	}
}

// DestroyBuffer implements compute.Context.
func (c *Context) DestroyBuffer(buf compute.Buffer) {
	b, ok := buf.(*buffer)
	if !ok || b == nil || b.owner != c {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, live := c.buffers[b]; !live {
		return
	}
	delete(c.buffers, b)
	if !c.closed {
		c.device.DestroyBuffer(b.raw)
	}
	b.raw = nil
}

// Close implements compute.Context. It releases every buffer and pipeline
// still alive and, when the context opened the device itself, the device.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	for p := range c.pipelines {
		c.destroyPipeline(p)
	}
	clear(c.pipelines)
	for b := range c.buffers {
		c.device.DestroyBuffer(b.raw)
		b.raw = nil
	}
	clear(c.buffers)

	if !c.externalDevice {
		if c.device != nil {
			c.device.Destroy()
		}
		if c.instance != nil {
			c.instance.Destroy()
		}
	}
	c.device = nil
	c.queue = nil
	c.instance = nil
	return nil
}

// buffer resolves a compute.Buffer owned by c. Callers hold c.mu.
func (c *Context) buffer(buf compute.Buffer) (*buffer, error) {
	b, ok := buf.(*buffer)
	if !ok || b == nil || b.owner != c {
		return nil, compute.ErrForeignResource
	}
	if b.raw == nil {
		return nil, fmt.Errorf("%w: buffer %q", compute.ErrDestroyed, b.label)
	}
	return b, nil
}

var _ compute.Context = (*Context)(nil)
