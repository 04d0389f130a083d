package halbackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

func init() {
	backend.Register(backend.BackendHAL, func() (backend.Instance, error) {
		return OpenNoop()
	})
}

// closeTimeout bounds the wait for outstanding frames in Close.
const closeTimeout = 5 * time.Second

var (
	// ErrFenceTimeout is returned when a frame fence is not reached in time.
	ErrFenceTimeout = errors.New("halbackend: frame fence wait timed out")

	// ErrClosed is returned by a backend after Close.
	ErrClosed = errors.New("halbackend: backend closed")

	// ErrHandle is returned when a handle does not belong to this backend.
	ErrHandle = errors.New("halbackend: foreign resource handle")
)

// Image is the backing of an image resource. Applications wrap their own
// textures, such as the current surface texture, in an Image to import
// them.
type Image struct {
	Name    string
	Texture hal.Texture
	View    hal.TextureView
	Desc    framegraph.ImageDesc
}

// Buffer is the backing of a buffer resource.
type Buffer struct {
	Name   string
	Buffer hal.Buffer
	Size   uint64
}

// Stats counts the work done by a backend.
type Stats struct {
	Images          int
	Buffers         int
	Submits         int
	TextureBarriers int
	BufferBarriers  int
	RenderPasses    int
	PendingReleases int
	CompletedValue  uint64
}

// deferred is a release waiting for a fence value.
type deferred struct {
	value   uint64
	release func()
}

// Backend implements framegraph.Backend on a hal device and queue.
type Backend struct {
	device hal.Device
	queue  hal.Queue
	log    atomic.Pointer[slog.Logger]

	mu        sync.Mutex
	fence     hal.Fence
	value     uint64            // last fence value submitted
	completed uint64            // last fence value observed
	frames    map[uint64]uint64 // frame index -> fence value
	pending   []deferred
	stats     Stats
	closed    bool

	// cleanup releases what OpenNoop created.
	cleanup func()
}

var (
	_ backend.Instance        = (*Backend)(nil)
	_ framegraph.LoggerSetter = (*Backend)(nil)
)

// New returns a backend recording on device and submitting to queue.
// The caller keeps ownership of both.
func New(device hal.Device, queue hal.Queue) (*Backend, error) {
	if device == nil || queue == nil {
		return nil, errors.New("halbackend: nil device or queue")
	}
	fence, err := device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("halbackend: create fence: %w", err)
	}
	b := &Backend{
		device: device,
		queue:  queue,
		fence:  fence,
		frames: make(map[uint64]uint64),
	}
	b.SetLogger(framegraph.Logger())
	return b, nil
}

// SetLogger implements framegraph.LoggerSetter. nil falls back to the
// framegraph package logger.
func (b *Backend) SetLogger(l *slog.Logger) {
	if l == nil {
		l = framegraph.Logger()
	}
	b.log.Store(l.With("backend", backend.BackendHAL))
}

// OpenNoop opens the first adapter of the noop HAL and returns a backend
// owning the device. It needs no GPU and suits headless runs and tests.
func OpenNoop() (*Backend, error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: noop instance: %w", backend.ErrBackendNotAvailable, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no noop adapter", backend.ErrBackendNotAvailable)
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("%w: open noop device: %w", backend.ErrBackendNotAvailable, err)
	}
	b, err := New(openDev.Device, openDev.Queue)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	b.cleanup = func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return b, nil
}

// Device returns the hal device.
func (b *Backend) Device() hal.Device { return b.device }

// Queue returns the hal queue.
func (b *Backend) Queue() hal.Queue { return b.queue }

// Stats returns a snapshot of the backend counters.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.PendingReleases = len(b.pending)
	s.CompletedValue = b.completed
	return s
}

// CreateImage implements framegraph.Backend.
func (b *Backend) CreateImage(name string, desc framegraph.ImageDesc, usage gputypes.TextureUsage) (framegraph.Handle, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	tex, err := b.device.CreateTexture(&hal.TextureDescriptor{
		Label: name,
		Size: hal.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: desc.MipLevels,
		SampleCount:   desc.SampleCount,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         usage,
	})
	if err != nil {
		return nil, fmt.Errorf("create texture %q: %w", name, err)
	}
	view, err := b.device.CreateTextureView(tex, &hal.TextureViewDescriptor{Label: name + "_view"})
	if err != nil {
		b.device.DestroyTexture(tex)
		return nil, fmt.Errorf("create texture view %q: %w", name, err)
	}
	b.mu.Lock()
	b.stats.Images++
	b.mu.Unlock()
	return &Image{Name: name, Texture: tex, View: view, Desc: desc}, nil
}

// CreateBuffer implements framegraph.Backend.
func (b *Backend) CreateBuffer(name string, desc framegraph.BufferDesc, usage gputypes.BufferUsage) (framegraph.Handle, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	buf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: name,
		Size:  desc.Size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", name, err)
	}
	b.mu.Lock()
	b.stats.Buffers++
	b.mu.Unlock()
	return &Buffer{Name: name, Buffer: buf, Size: desc.Size}, nil
}

// DestroyImage implements framegraph.Backend. The texture is released
// after the frame in flight completes.
func (b *Backend) DestroyImage(h framegraph.Handle) {
	img, ok := h.(*Image)
	if !ok || img == nil {
		b.log.Load().Warn("halbackend: destroy of foreign image handle", "handle", fmt.Sprintf("%T", h))
		return
	}
	b.deferRelease(func() {
		b.device.DestroyTextureView(img.View)
		b.device.DestroyTexture(img.Texture)
	})
}

// DestroyBuffer implements framegraph.Backend.
func (b *Backend) DestroyBuffer(h framegraph.Handle) {
	buf, ok := h.(*Buffer)
	if !ok || buf == nil {
		b.log.Load().Warn("halbackend: destroy of foreign buffer handle", "handle", fmt.Sprintf("%T", h))
		return
	}
	b.deferRelease(func() { b.device.DestroyBuffer(buf.Buffer) })
}

// deferRelease queues release until the next fence value is reached.
func (b *Backend) deferRelease(release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, deferred{value: b.value + 1, release: release})
}

// BeginBatch implements framegraph.Backend.
func (b *Backend) BeginBatch(queue framegraph.QueueKind, label string) (framegraph.CommandRecorder, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	enc, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("begin encoding %s: %w", label, err)
	}
	return &Recorder{b: b, encoder: enc, label: label, queue: queue}, nil
}

// Submit implements framegraph.Backend. Batches that signal the frame
// fence advance the fence value and map the frame to it.
func (b *Backend) Submit(rec framegraph.CommandRecorder, info framegraph.SubmitInfo) error {
	r, ok := rec.(*Recorder)
	if !ok || r.b != b {
		return fmt.Errorf("%w: recorder %T", ErrHandle, rec)
	}
	if r.done {
		return fmt.Errorf("halbackend: batch %s already finished", r.label)
	}
	r.done = true
	if r.pass != nil {
		r.pass.End()
		r.pass = nil
	}
	cmd, err := r.encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding %s: %w", r.label, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var (
		fence hal.Fence
		value uint64
	)
	if info.SignalFence {
		fence, value = b.fence, b.value+1
	}
	if err := b.queue.Submit([]hal.CommandBuffer{cmd}, fence, value); err != nil {
		b.device.FreeCommandBuffer(cmd)
		return fmt.Errorf("submit %s: %w", r.label, err)
	}
	b.pending = append(b.pending, deferred{value: b.value + 1, release: func() { b.device.FreeCommandBuffer(cmd) }})
	if info.SignalFence {
		b.value = value
		b.frames[info.Frame.Index] = value
	}
	b.stats.Submits++
	return nil
}

// WaitFrame implements framegraph.Backend. Frames that never signalled
// the fence are treated as complete.
func (b *Backend) WaitFrame(ctx context.Context, frame uint64, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	value, ok := b.frames[frame]
	done := value <= b.completed
	b.mu.Unlock()
	if !ok || done {
		return nil
	}

	reached, err := b.device.Wait(b.fence, value, timeout)
	if err != nil {
		return fmt.Errorf("halbackend: wait for frame %d: %w", frame, err)
	}
	if !reached {
		return fmt.Errorf("%w: frame %d after %v", ErrFenceTimeout, frame, timeout)
	}
	b.mu.Lock()
	for f := range b.frames {
		if f <= frame {
			delete(b.frames, f)
		}
	}
	b.mu.Unlock()
	b.complete(value)
	return nil
}

// complete runs the releases queued for fence values up to value.
func (b *Backend) complete(value uint64) {
	b.mu.Lock()
	if value > b.completed {
		b.completed = value
	}
	var ready []func()
	kept := b.pending[:0]
	for _, d := range b.pending {
		if d.value <= b.completed {
			ready = append(ready, d.release)
		} else {
			kept = append(kept, d)
		}
	}
	clear(b.pending[len(kept):])
	b.pending = kept
	b.mu.Unlock()

	for _, release := range ready {
		release()
	}
}

// Close waits for the last submitted frame, releases everything pending
// and destroys the fence. A device opened by OpenNoop is destroyed too.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	last := b.value
	done := last <= b.completed
	b.mu.Unlock()

	var err error
	if !done {
		reached, werr := b.device.Wait(b.fence, last, closeTimeout)
		switch {
		case werr != nil:
			err = fmt.Errorf("halbackend: wait on close: %w", werr)
		case !reached:
			err = fmt.Errorf("%w: on close", ErrFenceTimeout)
		}
	}
	// Releases run even when the wait failed: the device is going away.
	b.complete(last + 1)
	b.device.DestroyFence(b.fence)
	if b.cleanup != nil {
		b.cleanup()
	}
	return err
}

func (b *Backend) check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}
