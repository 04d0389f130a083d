package framegraph

import (
	"context"
	"time"

	"github.com/gogpu/gputypes"
)

// Handle is a backend-specific resource object: a texture, a buffer, or
// whatever the platform layer returns from its create calls.
type Handle any

// FrameInfo identifies the frame a plan is executed in.
type FrameInfo struct {
	// Index counts frames from 0 since the context was created.
	Index uint64
	// Slot is the frame-in-flight slot, Index modulo the frames in flight.
	Slot int
}

// Backend is the platform layer that executes compiled plans.
//
// Destroy calls may be deferred by the backend until the frame that
// used the resource has completed on the device.
type Backend interface {
	CreateImage(name string, desc ImageDesc, usage gputypes.TextureUsage) (Handle, error)
	CreateBuffer(name string, desc BufferDesc, usage gputypes.BufferUsage) (Handle, error)
	DestroyImage(h Handle)
	DestroyBuffer(h Handle)

	// BeginBatch opens a command recorder for one submission batch.
	BeginBatch(queue QueueKind, label string) (CommandRecorder, error)

	// Submit ends recording and submits the batch.
	Submit(rec CommandRecorder, info SubmitInfo) error

	// WaitFrame blocks until the fence signalled by frame has completed,
	// the timeout expired, or ctx was cancelled.
	WaitFrame(ctx context.Context, frame uint64, timeout time.Duration) error
}

// CommandRecorder records the commands of one submission batch.
type CommandRecorder interface {
	// Barriers applies a set of acquire or release barriers in one call.
	Barriers(barriers []BoundBarrier)

	BeginRenderScope(scope *RenderScope) error
	EndRenderScope()

	// Discard abandons the recording without submitting it.
	Discard()
}

// BoundBarrier is a barrier together with the live resource it applies to.
type BoundBarrier struct {
	Barrier
	Handle Handle
}

// SubmitInfo carries the synchronization of one submitted batch.
type SubmitInfo struct {
	Queue   QueueKind
	Label   string
	Frame   FrameInfo
	Waits   []SemaphoreWait
	Signals []SemaphoreSignal
	// SignalFence is set on every batch of the last submission of a frame,
	// one per queue, so the frame is complete once each of them signalled.
	// Backends with a single fence keep the highest value per frame.
	SignalFence bool
}

// AttachmentBinding is one render target of a render scope.
type AttachmentBinding struct {
	Resource ResourceID
	Name     string
	Handle   Handle
	Usage    ResourceUsage
}

// ReadOnly reports whether the attachment is only read by the scope.
func (a *AttachmentBinding) ReadOnly() bool { return !a.Usage.Access.HasWrite() }

// RenderScope groups the attachments a graphics pass renders into.
type RenderScope struct {
	Name  string
	Color []AttachmentBinding
	Depth *AttachmentBinding
}
