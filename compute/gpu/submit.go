package gpu

import (
	"context"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/meshbvh/compute"
)

// submission tracks the transient objects of one Submit call.
type submission struct {
	uniforms   []hal.Buffer
	bindGroups []hal.BindGroup
	cmdBuf     hal.CommandBuffer
	fence      hal.Fence
}

func (s *submission) cleanup(device hal.Device) {
	if s.fence != nil {
		device.DestroyFence(s.fence)
	}
	if s.cmdBuf != nil {
		device.FreeCommandBuffer(s.cmdBuf)
	}
	for _, bg := range s.bindGroups {
		device.DestroyBindGroup(bg)
	}
	for _, ub := range s.uniforms {
		device.DestroyBuffer(ub)
	}
}

// Submit implements compute.Context. Every dispatch gets its own compute
// pass so the passes act as storage barriers between dependent dispatches.
func (c *Context) Submit(label string, cmds ...compute.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return compute.ErrClosed
	}
	return c.submitLocked(label, cmds)
}

func (c *Context) submitLocked(label string, cmds []compute.Command) error {
	var s submission
	defer s.cleanup(c.device)

	// Resolve every command and create its bindings before encoding starts.
	type passBinding struct {
		pipeline  *pipeline
		bindGroup hal.BindGroup
		groups    [3]uint32
	}
	passes := make([]*passBinding, len(cmds))
	for i, cmd := range cmds {
		d, ok := cmd.(compute.Dispatch)
		if !ok {
			continue
		}
		p, bg, err := c.bindDispatch(&s, d)
		if err != nil {
			return fmt.Errorf("compute/gpu: %s: command %d: %w", label, i, err)
		}
		passes[i] = &passBinding{pipeline: p, bindGroup: bg, groups: d.Workgroups}
	}

	encoder, err := c.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("compute/gpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return fmt.Errorf("compute/gpu: begin encoding: %w", err)
	}

	for i, cmd := range cmds {
		switch cmd := cmd.(type) {
		case compute.Dispatch:
			pb := passes[i]
			if pb.groups[0] == 0 || pb.groups[1] == 0 || pb.groups[2] == 0 {
				continue
			}
			pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: pb.pipeline.kernel.Label})
			pass.SetPipeline(pb.pipeline.pipeline)
			pass.SetBindGroup(0, pb.bindGroup, nil)
			pass.Dispatch(pb.groups[0], pb.groups[1], pb.groups[2])
			pass.End()

		case compute.Copy:
			src, dst, err := c.resolveCopy(cmd)
			if err != nil {
				encoder.DiscardEncoding()
				return fmt.Errorf("compute/gpu: %s: command %d: %w", label, i, err)
			}
			if cmd.Size == 0 {
				continue
			}
			encoder.CopyBufferToBuffer(src.raw, dst.raw, []hal.BufferCopy{
				{SrcOffset: cmd.SrcOffset, DstOffset: cmd.DstOffset, Size: cmd.Size},
			})

		default:
			encoder.DiscardEncoding()
			return fmt.Errorf("compute/gpu: %s: unknown command %T", label, cmd)
		}
	}

	s.cmdBuf, err = encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("compute/gpu: end encoding: %w", err)
	}
	return c.submitAndWait(&s)
}

// bindDispatch validates d, uploads its parameters and creates its bind group.
func (c *Context) bindDispatch(s *submission, d compute.Dispatch) (*pipeline, hal.BindGroup, error) {
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}
	p, ok := d.Pipeline.(*pipeline)
	if !ok || p.owner != c {
		return nil, nil, compute.ErrForeignResource
	}
	if _, live := c.pipelines[p]; !live {
		return nil, nil, fmt.Errorf("%w: pipeline %s", compute.ErrDestroyed, p.kernel.Label)
	}

	k := p.kernel
	entries := make([]gputypes.BindGroupEntry, 0, len(d.Buffers)+1)
	if k.ParamWords > 0 {
		size := k.ParamBytes()
		ub, err := c.device.CreateBuffer(&hal.BufferDescriptor{
			Label: k.Label + "_params",
			Size:  size,
			Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create uniform buffer: %w", err)
		}
		s.uniforms = append(s.uniforms, ub)

		params := make([]byte, size)
		copy(params, compute.Bytes(d.Params))
		c.queue.WriteBuffer(ub, 0, params)

		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  0,
			Resource: gputypes.BufferBinding{Buffer: ub.NativeHandle(), Offset: 0, Size: size},
		})
	}
	for i, buf := range d.Buffers {
		b, err := c.buffer(buf)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  k.BindingIndex(i),
			Resource: gputypes.BufferBinding{Buffer: b.raw.NativeHandle(), Offset: 0, Size: max(b.size, 4)},
		})
	}

	bg, err := c.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   k.Label + "_bind",
		Layout:  p.layout,
		Entries: entries,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create bind group: %w", err)
	}
	s.bindGroups = append(s.bindGroups, bg)
	return p, bg, nil
}

func (c *Context) resolveCopy(cp compute.Copy) (*buffer, *buffer, error) {
	if err := cp.Validate(); err != nil {
		return nil, nil, err
	}
	src, err := c.buffer(cp.Src)
	if err != nil {
		return nil, nil, err
	}
	dst, err := c.buffer(cp.Dst)
	if err != nil {
		return nil, nil, err
	}
	return src, dst, nil
}

// submitAndWait submits the encoded command buffer and blocks on its fence.
func (c *Context) submitAndWait(s *submission) error {
	var err error
	s.fence, err = c.device.CreateFence()
	if err != nil {
		return fmt.Errorf("compute/gpu: create fence: %w", err)
	}
	if err := c.queue.Submit([]hal.CommandBuffer{s.cmdBuf}, s.fence, 1); err != nil {
		return fmt.Errorf("compute/gpu: submit: %w", err)
	}
	ok, err := c.device.Wait(s.fence, 1, c.opts.fenceTimeout)
	if err != nil {
		return fmt.Errorf("compute/gpu: wait: %w", err)
	}
	if !ok {
		return ErrFenceTimeout
	}
	return nil
}

// ReadBuffer implements compute.Context. The copy into a staging buffer is
// submitted synchronously; mapping the staging buffer runs on a goroutine
// and ctx bounds the wait for it. An abandoned readback still releases its
// staging buffer when the mapping finishes.
func (c *Context) ReadBuffer(ctx context.Context, src compute.Buffer, offset, size uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	staging, err := c.stageReadback(src, offset, size)
	if err != nil {
		return nil, err
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data := make([]byte, max(size, 4))
		err := c.mapStaging(staging, data)
		done <- result{data: data[:size], err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("compute/gpu: readback %q: %w", src.Label(), r.err)
		}
		return r.data, nil
	case <-ctx.Done():
		c.slogger().Debug("compute/gpu: readback abandoned", "buffer", src.Label(), "err", ctx.Err())
		return nil, ctx.Err()
	}
}

// stageReadback copies [offset, offset+size) of src into a new staging buffer.
func (c *Context) stageReadback(src compute.Buffer, offset, size uint64) (*buffer, error) {
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

	raw, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: b.label + "_staging",
		Size:  max(size, 4),
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("compute/gpu: create staging buffer: %w", err)
	}
	staging := &buffer{
		owner: c,
		raw:   raw,
		label: b.label + "_staging",
		size:  size,
		usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	}
	c.buffers[staging] = struct{}{}

	if size > 0 {
		err = c.submitLocked("readback_"+b.label, []compute.Command{
			compute.Copy{Src: b, SrcOffset: offset, Dst: staging, Size: size},
		})
	}
	if err != nil {
		delete(c.buffers, staging)
		c.device.DestroyBuffer(raw)
		return nil, err
	}
	return staging, nil
}

// mapStaging reads staging into dst and destroys it.
func (c *Context) mapStaging(staging *buffer, dst []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return compute.ErrClosed
	}
	if _, live := c.buffers[staging]; !live {
		return fmt.Errorf("%w: buffer %q", compute.ErrDestroyed, staging.label)
	}
	defer func() {
		delete(c.buffers, staging)
		c.device.DestroyBuffer(staging.raw)
		staging.raw = nil
	}()
	return c.queue.ReadBuffer(staging.raw, 0, dst)
}
