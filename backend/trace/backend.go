package trace

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/gputypes"
)

func init() {
	backend.Register(backend.BackendTrace, func() (backend.Instance, error) {
		return New(), nil
	})
}

// Backend records backend calls. Every submission completes immediately.
type Backend struct {
	mu       sync.Mutex
	commands []Command
	nextID   int
	live     int
	frame    uint64 // highest frame whose fence was signalled, plus one

	// FailCreate, if set, is called before every create; a non-nil result
	// is returned as the allocation error.
	FailCreate func(name string) error
}

var _ framegraph.Backend = (*Backend)(nil)

// New returns an empty trace backend.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) record(cmd Command) {
	b.mu.Lock()
	b.commands = append(b.commands, cmd)
	b.mu.Unlock()
}

func (b *Backend) newResource(name string, image bool) (*Resource, error) {
	if b.FailCreate != nil {
		if err := b.FailCreate(name); err != nil {
			return nil, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.live++
	return &Resource{ID: b.nextID, Name: name, Image: image}, nil
}

// CreateImage implements framegraph.Backend.
func (b *Backend) CreateImage(name string, desc framegraph.ImageDesc, usage gputypes.TextureUsage) (framegraph.Handle, error) {
	r, err := b.newResource(name, true)
	if err != nil {
		return nil, err
	}
	b.record(CreateImageCommand{Resource: r, Desc: desc, Usage: usage})
	return r, nil
}

// CreateBuffer implements framegraph.Backend.
func (b *Backend) CreateBuffer(name string, desc framegraph.BufferDesc, usage gputypes.BufferUsage) (framegraph.Handle, error) {
	r, err := b.newResource(name, false)
	if err != nil {
		return nil, err
	}
	b.record(CreateBufferCommand{Resource: r, Desc: desc, Usage: usage})
	return r, nil
}

// DestroyImage implements framegraph.Backend.
func (b *Backend) DestroyImage(h framegraph.Handle) {
	b.release(h)
	b.record(DestroyImageCommand{Handle: h})
}

// DestroyBuffer implements framegraph.Backend.
func (b *Backend) DestroyBuffer(h framegraph.Handle) {
	b.release(h)
	b.record(DestroyBufferCommand{Handle: h})
}

func (b *Backend) release(h framegraph.Handle) {
	r, ok := h.(*Resource)
	if !ok || r.Destroyed {
		return
	}
	b.mu.Lock()
	r.Destroyed = true
	b.live--
	b.mu.Unlock()
}

// BeginBatch implements framegraph.Backend.
func (b *Backend) BeginBatch(queue framegraph.QueueKind, label string) (framegraph.CommandRecorder, error) {
	b.record(BeginBatchCommand{Queue: queue, Label: label})
	return &Recorder{b: b, label: label}, nil
}

// Submit implements framegraph.Backend.
func (b *Backend) Submit(rec framegraph.CommandRecorder, info framegraph.SubmitInfo) error {
	r, ok := rec.(*Recorder)
	if !ok || r.b != b {
		return fmt.Errorf("trace: submit of foreign recorder %T", rec)
	}
	if r.done {
		return fmt.Errorf("trace: batch %s submitted twice", r.label)
	}
	r.done = true
	b.record(SubmitCommand{Info: info})
	if info.SignalFence {
		b.mu.Lock()
		b.frame = max(b.frame, info.Frame.Index+1)
		b.mu.Unlock()
	}
	return nil
}

// WaitFrame implements framegraph.Backend. Submissions complete
// immediately, so it only records the call.
func (b *Backend) WaitFrame(ctx context.Context, frame uint64, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.record(WaitFrameCommand{Frame: frame})
	return nil
}

// SignalledFrames returns how many frames have signalled their fence.
func (b *Backend) SignalledFrames() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame
}

// Close implements io.Closer.
func (b *Backend) Close() error { return nil }

// Commands returns a copy of the recorded commands.
func (b *Backend) Commands() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Command(nil), b.commands...)
}

// Count returns the number of recorded commands of type t.
func (b *Backend) Count(t CommandType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.commands {
		if c.Type() == t {
			n++
		}
	}
	return n
}

// Live returns the number of created resources not yet destroyed.
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

// Reset drops the recorded commands.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = b.commands[:0]
}

// Dump writes one line per recorded command to w.
func (b *Backend) Dump(w io.Writer) error {
	for i, c := range b.Commands() {
		if _, err := fmt.Fprintf(w, "%4d %s\n", i, String(c)); err != nil {
			return err
		}
	}
	return nil
}

// Recorder records the commands of one batch.
type Recorder struct {
	b     *Backend
	label string
	scope bool
	done  bool
}

// Label returns the batch label.
func (r *Recorder) Label() string { return r.label }

// Barriers implements framegraph.CommandRecorder.
func (r *Recorder) Barriers(barriers []framegraph.BoundBarrier) {
	r.b.record(BarriersCommand{Label: r.label, Barriers: append([]framegraph.BoundBarrier(nil), barriers...)})
}

// BeginRenderScope implements framegraph.CommandRecorder.
func (r *Recorder) BeginRenderScope(scope *framegraph.RenderScope) error {
	if r.scope {
		return fmt.Errorf("trace: render scope %q begun inside another scope", scope.Name)
	}
	r.scope = true
	r.b.record(BeginRenderScopeCommand{Label: r.label, Scope: *scope})
	return nil
}

// EndRenderScope implements framegraph.CommandRecorder.
func (r *Recorder) EndRenderScope() {
	r.scope = false
	r.b.record(EndRenderScopeCommand{Label: r.label})
}

// Discard implements framegraph.CommandRecorder.
func (r *Recorder) Discard() {
	r.done = true
	r.b.record(DiscardCommand{Label: r.label})
}

// Mark records that the named pass ran. Pass callbacks call it to make
// their position in the batch visible in the trace.
func (r *Recorder) Mark(pass string) {
	r.b.record(PassCommand{Label: r.label, Pass: pass})
}
