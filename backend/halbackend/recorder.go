package halbackend

import (
	"errors"
	"fmt"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Recorder records one submission batch into a hal command encoder.
// Pass callbacks reach it through framegraph.PassContext.Recorder.
type Recorder struct {
	b       *Backend
	encoder hal.CommandEncoder
	pass    hal.RenderPassEncoder
	label   string
	queue   framegraph.QueueKind
	done    bool
}

var _ framegraph.CommandRecorder = (*Recorder)(nil)

// Encoder returns the command encoder of the batch.
func (r *Recorder) Encoder() hal.CommandEncoder { return r.encoder }

// RenderPass returns the render pass open for the current render scope,
// or nil outside a scope.
func (r *Recorder) RenderPass() hal.RenderPassEncoder { return r.pass }

// Queue returns the queue kind the batch was planned for.
func (r *Recorder) Queue() framegraph.QueueKind { return r.queue }

// Barriers implements framegraph.CommandRecorder. Image barriers become
// texture usage transitions; transitions between layouts mapping to the
// same usage are dropped.
func (r *Recorder) Barriers(barriers []framegraph.BoundBarrier) {
	var transitions []hal.TextureBarrier
	buffers := 0
	for _, b := range barriers {
		if !b.Kind.IsImage() {
			buffers++
			continue
		}
		img, ok := b.Handle.(*Image)
		if !ok || img == nil {
			r.b.log.Load().Warn("halbackend: barrier on unbound image", "resource", b.Name, "batch", r.label)
			continue
		}
		from, to := LayoutUsage(b.OldLayout), LayoutUsage(b.NewLayout)
		if from == to {
			continue
		}
		transitions = append(transitions, hal.TextureBarrier{
			Texture: img.Texture,
			Usage: hal.TextureUsageTransition{
				OldUsage: from,
				NewUsage: to,
			},
		})
	}
	if len(transitions) > 0 {
		r.encoder.TransitionTextures(transitions)
	}

	r.b.mu.Lock()
	r.b.stats.TextureBarriers += len(transitions)
	r.b.stats.BufferBarriers += buffers
	r.b.mu.Unlock()
}

// BeginRenderScope implements framegraph.CommandRecorder.
func (r *Recorder) BeginRenderScope(scope *framegraph.RenderScope) error {
	if r.pass != nil {
		return fmt.Errorf("halbackend: render scope %q begun inside another scope", scope.Name)
	}
	desc := &hal.RenderPassDescriptor{Label: scope.Name}
	for _, c := range scope.Color {
		img, err := attachment(c)
		if err != nil {
			return err
		}
		desc.ColorAttachments = append(desc.ColorAttachments, hal.RenderPassColorAttachment{
			View:       img.View,
			LoadOp:     c.Usage.LoadOp,
			StoreOp:    c.Usage.StoreOp,
			ClearValue: c.Usage.Clear,
		})
	}
	if d := scope.Depth; d != nil {
		img, err := attachment(*d)
		if err != nil {
			return err
		}
		ds := &hal.RenderPassDepthStencilAttachment{
			View:            img.View,
			DepthLoadOp:     d.Usage.LoadOp,
			DepthStoreOp:    d.Usage.StoreOp,
			DepthClearValue: d.Usage.Depth,
		}
		if hasStencil(img.Desc.Format) {
			ds.StencilLoadOp = d.Usage.LoadOp
			ds.StencilStoreOp = d.Usage.StoreOp
			ds.StencilClearValue = d.Usage.Stencil
		}
		desc.DepthStencilAttachment = ds
	}

	r.pass = r.encoder.BeginRenderPass(desc)
	r.b.mu.Lock()
	r.b.stats.RenderPasses++
	r.b.mu.Unlock()
	return nil
}

// EndRenderScope implements framegraph.CommandRecorder.
func (r *Recorder) EndRenderScope() {
	if r.pass == nil {
		return
	}
	r.pass.End()
	r.pass = nil
}

// Discard implements framegraph.CommandRecorder.
func (r *Recorder) Discard() {
	if r.done {
		return
	}
	r.done = true
	if r.pass != nil {
		r.pass.End()
		r.pass = nil
	}
	r.encoder.DiscardEncoding()
}

func attachment(a framegraph.AttachmentBinding) (*Image, error) {
	img, ok := a.Handle.(*Image)
	if !ok || img == nil {
		return nil, fmt.Errorf("%w: attachment %q is %T", ErrHandle, a.Name, a.Handle)
	}
	if img.View == nil {
		return nil, errors.New("halbackend: attachment " + a.Name + " has no view")
	}
	return img, nil
}

func hasStencil(f gputypes.TextureFormat) bool {
	return f == gputypes.TextureFormatDepth24PlusStencil8
}

// LayoutUsage maps an image layout to the texture usage the hal tracks
// for it. The present layout maps to the attachment usage: presentation
// itself is handled by the surface.
func LayoutUsage(l framegraph.Layout) gputypes.TextureUsage {
	switch l {
	case framegraph.LayoutGeneral:
		return gputypes.TextureUsageStorageBinding
	case framegraph.LayoutColorAttachment, framegraph.LayoutDepthAttachment, framegraph.LayoutPresent:
		return gputypes.TextureUsageRenderAttachment
	case framegraph.LayoutDepthReadOnly:
		return gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding
	case framegraph.LayoutShaderReadOnly:
		return gputypes.TextureUsageTextureBinding
	case framegraph.LayoutTransferSrc:
		return gputypes.TextureUsageCopySrc
	case framegraph.LayoutTransferDst:
		return gputypes.TextureUsageCopyDst
	}
	return 0
}
