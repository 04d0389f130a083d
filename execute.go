package framegraph

import (
	"context"
	"errors"
	"fmt"
)

// PassContext is handed to pass callbacks while a plan executes.
type PassContext struct {
	Frame FrameInfo
	// Pass is the final pass being executed and Name the member pass whose
	// callback runs.
	Pass *FinalPass
	Name string
	// Recorder records the commands of the current batch.
	Recorder CommandRecorder
	// Scope is the render scope open around the pass, or nil.
	Scope *RenderScope

	exec *execution
}

// Resource returns the live backing of a resource.
func (pc *PassContext) Resource(id ResourceID) Handle {
	if !pc.exec.a.validResource(id) {
		return nil
	}
	return pc.exec.handle(id)
}

// ResourceByName returns the live backing of the named resource.
func (pc *PassContext) ResourceByName(name string) Handle {
	r := pc.exec.plan.ResourceByName(name)
	if r == nil {
		return nil
	}
	return pc.exec.handle(r.ID)
}

type execution struct {
	c       *Context
	backend Backend
	plan    *Plan
	a       *Arena
	frame   FrameInfo

	handles  []Handle
	live     []ResourceID
	rec      CommandRecorder
	acquired bool // the image acquired semaphore was waited on
}

// Execute records and submits a compiled plan on the context's backend.
//
// A failure aborts the plan: the open batch is discarded, transients
// created so far are destroyed and an empty batch still signals the frame
// fence, so the frame loop keeps running. Failures are never retried; the
// outcome is kept in Plan.LastExecution.
func (c *Context) Execute(ctx context.Context, plan *Plan) error {
	switch {
	case plan == nil:
		return ErrNotCompiled
	case plan.Err() != nil:
		return fmt.Errorf("%w: %w", ErrNotCompiled, plan.Err())
	case !plan.OK():
		return ErrNotCompiled
	case plan.Stale():
		return ErrStalePlan
	case c.backend == nil:
		return ErrNoBackend
	}

	e := &execution{
		c:       c,
		backend: c.backend,
		plan:    plan,
		a:       plan.arena,
		frame:   c.Frame(),
		handles: make([]Handle, len(plan.arena.resources)),
	}
	c.executions.Add(1)
	plan.executions.Add(1)
	err := e.run(ctx)
	plan.recordExecution(err)
	if err != nil {
		c.failures.Add(1)
	}
	return err
}

// CompileAndWait builds, compiles and executes a one-shot frame graph and
// blocks until the device has finished it. It is meant for uploads and
// other work outside the per-frame loop.
func (c *Context) CompileAndWait(ctx context.Context, name string, build func(*Builder) error) error {
	if c.backend == nil {
		return ErrNoBackend
	}
	b, err := c.Begin(name)
	if err != nil {
		return err
	}
	if err := build(b); err != nil {
		_, _ = b.End()
		return err
	}
	plan, err := b.End()
	if err != nil {
		return err
	}
	if err := c.Execute(ctx, plan); err != nil {
		return err
	}
	return c.backend.WaitFrame(ctx, c.frame, c.opts.fenceTimeout)
}

func (e *execution) run(ctx context.Context) error {
	a := e.a
	if e.plan.Empty() || len(a.submissions) == 0 {
		e.c.log.Debug("framegraph: empty plan executed", "graph", e.plan.Name)
		return e.submitEmpty(e.plan.PendingAcquire)
	}
	if err := e.importHandles(); err != nil {
		return e.abort(err)
	}

	lastSub := len(a.submissions) - 1
	for si := range a.submissions {
		batches := a.submissions[si].Batches
		for bi := range batches {
			if err := ctx.Err(); err != nil {
				return e.abort(err)
			}
			b := &batches[bi]
			label := fmt.Sprintf("%s/%d/%s", e.plan.Name, si, b.Queue)
			rec, err := e.backend.BeginBatch(b.Queue, label)
			if err != nil {
				return e.abort(fmt.Errorf("framegraph: begin batch %s: %w", label, err))
			}
			e.rec = rec
			for _, fi := range b.Passes {
				if err := e.runPass(&a.finals[fi]); err != nil {
					return e.abort(err)
				}
			}

			e.rec = nil
			info := SubmitInfo{
				Queue:       b.Queue,
				Label:       label,
				Frame:       e.frame,
				Waits:       b.Waits,
				Signals:     b.Signals,
				SignalFence: si == lastSub,
			}
			if err := e.backend.Submit(rec, info); err != nil {
				return e.abort(fmt.Errorf("framegraph: submit %s: %w", label, err))
			}
			for _, w := range b.Waits {
				if w.Kind == SemaphoreImageAcquired {
					e.acquired = true
				}
			}
		}
	}
	e.c.log.Debug("framegraph: plan executed", "graph", e.plan.Name, "frame", e.frame.Index, "submissions", len(a.submissions))
	return nil
}

func (e *execution) runPass(f *FinalPass) error {
	for _, id := range f.Creates {
		if err := e.create(id); err != nil {
			return err
		}
	}
	if len(f.Acquire) > 0 {
		e.rec.Barriers(e.bind(f.Acquire))
	}

	scope := e.renderScope(f)
	if scope != nil {
		if err := e.rec.BeginRenderScope(scope); err != nil {
			return fmt.Errorf("framegraph: begin render scope %q: %w", f.Name, err)
		}
	}
	pc := &PassContext{Frame: e.frame, Pass: f, Recorder: e.rec, Scope: scope, exec: e}
	for _, m := range f.Members {
		p := &e.a.passes[m]
		pc.Name = p.Name
		if err := p.Execute(pc, p.UserData); err != nil {
			if scope != nil {
				e.rec.EndRenderScope()
			}
			return fmt.Errorf("%w: %q: %w", ErrPassFailed, p.Name, err)
		}
	}
	if scope != nil {
		e.rec.EndRenderScope()
	}

	if len(f.Release) > 0 {
		e.rec.Barriers(e.bind(f.Release))
	}
	for _, id := range f.Destroys {
		e.destroy(id)
	}
	return nil
}

// importHandles asks the providers of live imported resources for this
// frame's backing.
func (e *execution) importHandles() error {
	for i := range e.a.resources {
		r := &e.a.resources[i]
		if !r.Root() || !r.Imported || r.Provider == nil || len(r.Journey) == 0 {
			continue
		}
		h, err := r.Provider(e.frame)
		if err != nil {
			return fmt.Errorf("framegraph: provider of %q: %w", r.Name, err)
		}
		e.handles[r.ID] = h
	}
	return nil
}

func (e *execution) create(id ResourceID) error {
	r := &e.a.resources[id]
	var (
		h   Handle
		err error
	)
	if r.Kind.IsImage() {
		h, err = e.backend.CreateImage(r.Name, r.Image, r.TextureUsage)
	} else {
		h, err = e.backend.CreateBuffer(r.Name, r.Buffer, r.BufferUsage)
	}
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrTransientResource, r.Name, err)
	}
	e.handles[id] = h
	e.live = append(e.live, id)
	return nil
}

func (e *execution) destroy(id ResourceID) {
	for i, l := range e.live {
		if l == id {
			e.live = append(e.live[:i], e.live[i+1:]...)
			break
		}
	}
	h := e.handles[id]
	e.handles[id] = nil
	if h == nil {
		return
	}
	if e.a.resources[id].Kind.IsImage() {
		e.backend.DestroyImage(h)
	} else {
		e.backend.DestroyBuffer(h)
	}
}

// backing returns the resource whose allocation id uses.
func (e *execution) backing(id ResourceID) ResourceID {
	id = e.a.resources[id].OriginalID
	for e.a.resources[id].Aliased != NoResource {
		id = e.a.resources[id].Aliased
	}
	return id
}

func (e *execution) handle(id ResourceID) Handle {
	return e.handles[e.backing(id)]
}

func (e *execution) bind(barriers []Barrier) []BoundBarrier {
	bound := make([]BoundBarrier, len(barriers))
	for i, b := range barriers {
		bound[i] = BoundBarrier{Barrier: b, Handle: e.handle(b.Resource)}
	}
	return bound
}

// renderScope collects the attachments of a graphics pass. Passes without
// attachments run outside a render scope.
func (e *execution) renderScope(f *FinalPass) *RenderScope {
	if f.Queue != QueueGraphics {
		return nil
	}
	var scope *RenderScope
	attach := func(b Binding) {
		if !b.Usage.Purpose.IsAttachment() {
			return
		}
		if scope == nil {
			scope = &RenderScope{Name: f.Name}
		}
		ab := AttachmentBinding{Resource: b.Resource, Name: b.Name, Handle: e.handle(b.Resource), Usage: b.Usage}
		if b.Usage.Purpose == PurposeColorWrite {
			scope.Color = append(scope.Color, ab)
		} else if scope.Depth == nil || b.Usage.IsOutput {
			scope.Depth = &ab
		}
	}
	for _, b := range f.Outputs {
		attach(b)
	}
	for _, b := range f.Inputs {
		attach(b)
	}
	return scope
}

// submitEmpty submits a batch without passes that signals the frame fence
// and, when acquire is set, consumes the image acquired semaphore.
func (e *execution) submitEmpty(acquire bool) error {
	label := e.plan.Name + "/empty"
	rec, err := e.backend.BeginBatch(QueueGraphics, label)
	if err != nil {
		return fmt.Errorf("framegraph: begin batch %s: %w", label, err)
	}
	info := SubmitInfo{Queue: QueueGraphics, Label: label, Frame: e.frame, SignalFence: true}
	if acquire {
		info.Waits = []SemaphoreWait{{Kind: SemaphoreImageAcquired, Queue: QueueIgnored, Stages: StageBottomOfPipe}}
	}
	if err := e.backend.Submit(rec, info); err != nil {
		return fmt.Errorf("framegraph: submit %s: %w", label, err)
	}
	return nil
}

func (e *execution) abort(err error) error {
	if e.rec != nil {
		e.rec.Discard()
		e.rec = nil
	}
	for len(e.live) > 0 {
		e.destroy(e.live[len(e.live)-1])
	}
	if serr := e.submitEmpty(e.hasSwapchain() && !e.acquired); serr != nil {
		err = errors.Join(err, serr)
	}
	e.c.log.Error("framegraph: execution aborted", "graph", e.plan.Name, "frame", e.frame.Index, "err", err)
	return err
}

func (e *execution) hasSwapchain() bool {
	for i := range e.a.resources {
		if e.a.resources[i].Root() && e.a.resources[i].Kind == ResourceSwapchain {
			return true
		}
	}
	return false
}
