package framegraph

import (
	"fmt"
	"slices"
)

// Builder declares the resources and passes of one frame graph.
//
// Declaration errors do not stop the builder: they are recorded as
// ResultCriticalError on the graph and reported by End, so a render loop
// can declare a whole frame and check once.
type Builder struct {
	ctx   *Context
	arena *Arena
	name  string

	keyed  bool
	key    uint64
	cached *Plan

	pass   int // index of the open pass, noPass outside BeginPass/EndPass
	closed bool

	flags ResultFlags
	diags []Diagnostic
	err   error
}

func newBuilder(c *Context, name string) *Builder {
	return &Builder{
		ctx:   c,
		arena: c.arena(),
		name:  name,
		pass:  noPass,
	}
}

// Name returns the frame graph name.
func (b *Builder) Name() string { return b.name }

// Cached reports whether End will return a cached plan. Callers may skip
// their declarations when it returns true.
func (b *Builder) Cached() bool { return b.cached != nil }

// Err returns the first declaration error.
func (b *Builder) Err() error { return b.err }

// fail records a critical declaration error.
func (b *Builder) fail(pass, resource string, err error) error {
	cerr := &CompileError{Flags: ResultCriticalError, Pass: pass, Resource: resource, Err: err}
	b.flags |= ResultCriticalError
	b.diags = append(b.diags, Diagnostic{
		Severity: SeverityError,
		Flags:    ResultCriticalError,
		Pass:     pass,
		Resource: resource,
		Message:  err.Error(),
	})
	if b.err == nil {
		b.err = cerr
	}
	b.ctx.log.Error("framegraph: invalid declaration", "graph", b.name, "pass", pass, "resource", resource, "err", err)
	return cerr
}

func (b *Builder) usable() bool {
	if b.closed {
		if b.err == nil {
			b.err = ErrBuilderClosed
		}
		return false
	}
	return true
}

// AddTransientImage declares an image created and destroyed by the graph.
func (b *Builder) AddTransientImage(name string, desc ImageDesc) ResourceID {
	return b.addImage(name, ResourceImage, desc, false)
}

// AddTransientDepth declares a transient depth/stencil image.
func (b *Builder) AddTransientDepth(name string, desc ImageDesc) ResourceID {
	return b.addImage(name, ResourceDepth, desc, false)
}

// AddTransientBuffer declares a buffer created and destroyed by the graph.
func (b *Builder) AddTransientBuffer(name string, desc BufferDesc) ResourceID {
	if !b.usable() {
		return NoResource
	}
	id := b.arena.addResource(name, ResourceBuffer, false)
	b.arena.resources[id].Buffer = desc
	return id
}

// ImportImage declares an image owned outside the graph. The provider
// supplies its live backing each time the plan is executed; it may be nil
// for backends that need no handle.
func (b *Builder) ImportImage(name string, desc ImageDesc, state ImportState, provider ResourceProvider) ResourceID {
	id := b.addImage(name, ResourceImage, desc, true)
	if id != NoResource {
		b.importState(id, state, provider)
	}
	return id
}

// ImportDepth declares a depth/stencil image owned outside the graph.
func (b *Builder) ImportDepth(name string, desc ImageDesc, state ImportState, provider ResourceProvider) ResourceID {
	id := b.addImage(name, ResourceDepth, desc, true)
	if id != NoResource {
		b.importState(id, state, provider)
	}
	return id
}

// ImportBuffer declares a buffer owned outside the graph.
func (b *Builder) ImportBuffer(name string, desc BufferDesc, state ImportState, provider ResourceProvider) ResourceID {
	if !b.usable() {
		return NoResource
	}
	id := b.arena.addResource(name, ResourceBuffer, true)
	b.arena.resources[id].Buffer = desc
	state.Layout = LayoutUndefined
	b.importState(id, state, provider)
	return id
}

// ImportSwapchain declares the presentation image of the frame. It is
// essential: passes writing it are never culled.
func (b *Builder) ImportSwapchain(name string, desc ImageDesc, provider ResourceProvider) ResourceID {
	id := b.addImage(name, ResourceSwapchain, desc, true)
	if id != NoResource {
		b.arena.resources[id].Provider = provider
	}
	return id
}

func (b *Builder) addImage(name string, kind ResourceKind, desc ImageDesc, imported bool) ResourceID {
	if !b.usable() {
		return NoResource
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	if desc.SampleCount == 0 {
		desc.SampleCount = 1
	}
	id := b.arena.addResource(name, kind, imported)
	b.arena.resources[id].Image = desc
	return id
}

func (b *Builder) importState(id ResourceID, state ImportState, provider ResourceProvider) {
	r := &b.arena.resources[id]
	r.Access = state.Access
	r.Layout = state.Layout
	r.LastStages = state.Stages
	if state.Owned {
		r.Queue = state.Owner
	}
	r.Provider = provider
}

// SetEssential pins a resource: passes writing any version of it are never
// culled.
func (b *Builder) SetEssential(id ResourceID) error {
	return b.markRoot(id, func(r *ResourceNode) { r.Essential = true })
}

// SetReleaseAfterUse asks for the resource to be released to the graphics
// queue after its last use, for resources reused next frame by another
// queue.
func (b *Builder) SetReleaseAfterUse(id ResourceID) error {
	return b.markRoot(id, func(r *ResourceNode) { r.ReleaseAfterUse = true })
}

func (b *Builder) markRoot(id ResourceID, mark func(*ResourceNode)) error {
	if !b.usable() {
		return b.err
	}
	if !b.arena.validResource(id) {
		return b.fail("", "", fmt.Errorf("%w: id %d", ErrInvalidResource, id))
	}
	root := b.arena.resources[id].OriginalID
	for i := range b.arena.resources {
		if b.arena.resources[i].OriginalID == root {
			mark(&b.arena.resources[i])
		}
	}
	return nil
}

// BeginPass opens a pass on the given queue kind. Passes do not nest.
func (b *Builder) BeginPass(name string, queue QueueKind) error {
	if !b.usable() {
		return b.err
	}
	if b.pass != noPass {
		return b.fail(name, "", fmt.Errorf("%w: pass %q is still open", ErrCritical, b.arena.passes[b.pass].Name))
	}
	if queue >= queueKindCount {
		return b.fail(name, "", fmt.Errorf("%w: invalid queue kind %v", ErrInvalidPurpose, queue))
	}
	id := len(b.arena.passes)
	b.arena.passes = append(b.arena.passes, PassNode{
		ID:    id,
		Name:  name,
		Queue: queue,
		Final: noPass,
	})
	b.pass = id
	return nil
}

func (b *Builder) openPass() (*PassNode, error) {
	if !b.usable() {
		return nil, b.err
	}
	if b.pass == noPass {
		return nil, b.fail("", "", fmt.Errorf("%w: no open pass", ErrCritical))
	}
	return &b.arena.passes[b.pass], nil
}

// AddInput connects the current version of a resource to the open pass.
// Several inputs of one resource are merged when their layouts agree.
func (b *Builder) AddInput(id ResourceID, purpose Purpose, opts ...UsageOption) error {
	p, err := b.openPass()
	if err != nil {
		return err
	}
	if !b.arena.validResource(id) {
		return b.fail(p.Name, "", fmt.Errorf("%w: id %d", ErrInvalidResource, id))
	}
	cur := b.arena.current(id)
	r := &b.arena.resources[cur]
	u, err := newUsage(purpose, p.Queue, r.Kind, false, opts)
	if err != nil {
		return b.fail(p.Name, r.Name, err)
	}

	if i := findBinding(p.Inputs, r.Name); i >= 0 {
		in := &p.Inputs[i]
		if in.Usage.Layout != u.Layout {
			return b.fail(p.Name, r.Name, fmt.Errorf("%w: %s and %s", ErrConflictingUsage, in.Usage.Layout, u.Layout))
		}
		in.Usage.Access |= u.Access
		in.Usage.Stages |= u.Stages
		return nil
	}
	p.Inputs = append(p.Inputs, Binding{Name: r.Name, Resource: cur, Usage: u})
	r.RefCount++
	r.Consumers = append(r.Consumers, p.ID)
	return nil
}

// AddOutput declares that the open pass writes a resource. The written
// version is resolved when the pass ends.
func (b *Builder) AddOutput(id ResourceID, purpose Purpose, opts ...UsageOption) error {
	p, err := b.openPass()
	if err != nil {
		return err
	}
	if !b.arena.validResource(id) {
		return b.fail(p.Name, "", fmt.Errorf("%w: id %d", ErrInvalidResource, id))
	}
	root := b.arena.resources[id].OriginalID
	r := &b.arena.resources[root]
	if findBinding(p.Outputs, r.Name) >= 0 {
		return b.fail(p.Name, r.Name, fmt.Errorf("%w: written twice by one pass", ErrDuplicateProducer))
	}
	u, err := newUsage(purpose, p.Queue, r.Kind, true, opts)
	if err != nil {
		return b.fail(p.Name, r.Name, err)
	}
	p.Outputs = append(p.Outputs, Binding{Name: r.Name, Resource: root, Usage: u})
	return nil
}

// SetExecute attaches the callback recording the pass's GPU work.
// A pass without a callback is culled.
func (b *Builder) SetExecute(fn ExecuteFunc, userData any) error {
	p, err := b.openPass()
	if err != nil {
		return err
	}
	p.Execute = fn
	p.UserData = userData
	return nil
}

// SetWaitStage sets the pipeline stage at which the pass waits for the
// timeline semaphores of other queues.
func (b *Builder) SetWaitStage(stage StageMask) error {
	p, err := b.openPass()
	if err != nil {
		return err
	}
	p.WaitStage = stage
	return nil
}

// EndPass closes the open pass, computes its output key and resolves the
// resource version each output writes.
func (b *Builder) EndPass() error {
	p, err := b.openPass()
	if err != nil {
		return err
	}
	b.pass = noPass
	a := b.arena
	p.OutputKey = outputKey(a, p.Outputs)

	for i := range p.Outputs {
		out := &p.Outputs[i]
		cur := a.latest[out.Resource]
		r := &a.resources[cur]
		consumed := slices.ContainsFunc(p.Inputs, func(in Binding) bool { return in.Resource == cur })

		switch {
		case r.Producer == noPass && !(r.Imported && len(r.Consumers) > 0) && !consumed:
			r.Producer = p.ID
		case r.Producer != noPass && r.Producer != p.ID && !consumed && a.passes[r.Producer].OutputKey == p.OutputKey:
			r.CoProducers = append(r.CoProducers, p.ID)
		default:
			cur = a.newVersion(cur)
			a.resources[cur].Producer = p.ID
		}
		out.Resource = cur
	}
	return nil
}

// End finishes the declaration and compiles the graph. The returned plan
// is never nil; when compilation failed the error is also available from
// Plan.Err.
//
// Plans compiled under a cache key are promoted out of the frame arena and
// stay valid across frames. Other plans are valid until the frame slot
// they were built in is reused.
func (b *Builder) End() (*Plan, error) {
	if b.closed {
		return nil, ErrBuilderClosed
	}
	b.closed = true
	c := b.ctx
	defer c.building.Store(false)

	if b.cached != nil {
		c.compileSkips.Add(1)
		c.log.Debug("framegraph: cached plan reused", "graph", b.name, "key", fmt.Sprintf("%016x", b.key))
		return b.cached, b.cached.Err()
	}
	if b.pass != noPass {
		b.fail(b.arena.passes[b.pass].Name, "", fmt.Errorf("%w: pass not ended", ErrCritical))
	}

	plan := &Plan{
		Name:   b.name,
		Key:    b.key,
		Keyed:  b.keyed,
		arena:  b.arena,
		resets: b.arena.Resets(),
		frame:  c.frame,
	}
	plan.Flags = b.flags
	plan.Diagnostics = slices.Clone(b.diags)
	plan.err = b.err
	if !plan.Flags.Fatal() {
		compile(c, plan)
		c.compiles.Add(1)
	}
	if plan.err == nil && !plan.Flags.Fatal() {
		plan.Flags |= ResultCompiled
	}

	if b.keyed && plan.err == nil {
		plan = plan.promote()
		c.cache.Set(b.key, plan)
		c.log.Info("framegraph: plan cached", "graph", b.name, "key", fmt.Sprintf("%016x", b.key))
	}
	return plan, plan.err
}
