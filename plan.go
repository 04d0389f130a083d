package framegraph

import (
	"errors"
	"slices"
	"sync/atomic"
)

// PlanState is the lifecycle state of a plan.
type PlanState uint8

const (
	PlanCompiled PlanState = iota
	PlanExecuted
	PlanFailed
)

func (s PlanState) String() string {
	switch s {
	case PlanCompiled:
		return "compiled"
	case PlanExecuted:
		return "executed"
	default:
		return "failed"
	}
}

// Plan is a compiled frame graph: the final passes in execution order,
// their waves and submissions, and the barriers and resource obligations
// attached to each pass.
//
// A plan is immutable once compiled. Cached plans may be executed once per
// frame for as long as they stay cached.
type Plan struct {
	Name  string
	Key   uint64
	Keyed bool

	Flags       ResultFlags
	Diagnostics []Diagnostic

	// NeedsPresent is set when the swapchain image was transitioned for
	// presentation by the last pass using it.
	NeedsPresent bool
	// PendingAcquire is set when a swapchain was imported but the plan has
	// no batch to consume its acquire semaphore; execution submits an empty
	// batch for it.
	PendingAcquire bool

	arena  *Arena
	resets uint64
	frame  uint64
	err    error

	executions atomic.Uint64
	// lastRun holds the ResultFlags of the latest execution. Executions
	// of a cached plan only ever touch this word and the counter.
	lastRun atomic.Uint32
}

func (p *Plan) promote() *Plan {
	return &Plan{
		Name:           p.Name,
		Key:            p.Key,
		Keyed:          p.Keyed,
		Flags:          p.Flags,
		Diagnostics:    slices.Clone(p.Diagnostics),
		NeedsPresent:   p.NeedsPresent,
		PendingAcquire: p.PendingAcquire,
		arena:          p.arena.Promote(),
		frame:          p.frame,
		err:            p.err,
	}
}

// Err returns the compile error, or nil.
func (p *Plan) Err() error { return p.err }

// OK reports whether the plan compiled and can be executed.
func (p *Plan) OK() bool { return p.err == nil && p.Flags&ResultCompiled != 0 }

// Empty reports whether every pass was culled. Executing an empty plan
// only signals the frame fence.
func (p *Plan) Empty() bool { return p.Flags&ResultNoWorkToDo != 0 }

// State returns the lifecycle state of the plan. A plan whose latest
// execution aborted reports PlanFailed until it executes successfully.
func (p *Plan) State() PlanState {
	switch {
	case !p.OK():
		return PlanFailed
	case p.executions.Load() == 0:
		return PlanCompiled
	case p.LastExecution()&ResultCompiled == 0:
		return PlanFailed
	default:
		return PlanExecuted
	}
}

// LastExecution returns the result of the latest execution: ResultCompiled
// when it completed, ResultTransientFailure when a transient resource could
// not be allocated, and ResultCriticalError for any other abort. It is zero
// before the first execution.
func (p *Plan) LastExecution() ResultFlags { return ResultFlags(p.lastRun.Load()) }

func (p *Plan) recordExecution(err error) {
	f := ResultCompiled
	switch {
	case err == nil:
	case errors.Is(err, ErrTransientResource):
		f = ResultTransientFailure
	default:
		f = ResultCriticalError
	}
	p.lastRun.Store(uint32(f))
}

// Executions returns how many times the plan was executed.
func (p *Plan) Executions() uint64 { return p.executions.Load() }

// Stale reports whether the arena the plan was built in has been reset.
// Stale plans must not be executed.
func (p *Plan) Stale() bool {
	return !p.arena.Sealed() && p.arena.Resets() != p.resets
}

// Resources returns every resource version of the graph, culled ones
// included. The slice must not be modified.
func (p *Plan) Resources() []ResourceNode { return p.arena.resources }

// Passes returns every potential pass in declaration order.
func (p *Plan) Passes() []PassNode { return p.arena.passes }

// FinalPasses returns the final passes in execution order.
func (p *Plan) FinalPasses() []FinalPass { return p.arena.finals }

// Levels returns the topological levels of the final passes, before
// single-queue normalization and merging.
func (p *Plan) Levels() []ExecutionWave { return p.arena.levels }

// Waves returns the execution waves.
func (p *Plan) Waves() []ExecutionWave { return p.arena.waves }

// Submissions returns the submissions in submit order.
func (p *Plan) Submissions() []WaveSubmission { return p.arena.submissions }

// Resource returns the resource node with the given id.
func (p *Plan) Resource(id ResourceID) *ResourceNode {
	if !p.arena.validResource(id) {
		return nil
	}
	return &p.arena.resources[id]
}

// ResourceByName returns the first version of the named resource.
func (p *Plan) ResourceByName(name string) *ResourceNode {
	for i := range p.arena.resources {
		r := &p.arena.resources[i]
		if r.Root() && r.Name == name {
			return r
		}
	}
	return nil
}

// PassByName returns the named potential pass.
func (p *Plan) PassByName(name string) *PassNode {
	for i := range p.arena.passes {
		if p.arena.passes[i].Name == name {
			return &p.arena.passes[i]
		}
	}
	return nil
}

// FinalPassByName returns the final pass containing the named potential
// pass.
func (p *Plan) FinalPassByName(name string) *FinalPass {
	pn := p.PassByName(name)
	if pn == nil || pn.Final == noPass {
		return nil
	}
	return &p.arena.finals[pn.Final]
}

// CulledPasses returns the names of culled potential passes.
func (p *Plan) CulledPasses() []string {
	var names []string
	for i := range p.arena.passes {
		if p.arena.passes[i].Culled {
			names = append(names, p.arena.passes[i].Name)
		}
	}
	return names
}

// Batch returns the submission batch a final pass was scheduled into.
func (p *Plan) Batch(f *FinalPass) *SubmissionBatch {
	if f == nil || f.Submission.Submission >= len(p.arena.submissions) {
		return nil
	}
	return p.arena.submissions[f.Submission.Submission].Batch(f.Queue)
}
