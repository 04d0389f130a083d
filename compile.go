package framegraph

import (
	"fmt"
	"log/slog"
	"time"
)

// compiler runs the compile steps over one arena.
type compiler struct {
	a    *Arena
	plan *Plan
	opts *contextOptions
	log  *slog.Logger

	// versions lists every version of a resource by original id, in
	// creation order. Filled by the resolver.
	versions map[ResourceID][]ResourceID
}

type compileStep struct {
	name string
	run  func(*compiler)
}

// compileSteps is the compile pipeline in order. A fatal flag stops it, and
// so does ResultNoWorkToDo after culling.
var compileSteps = []compileStep{
	{"resolve", (*compiler).resolve},
	{"group", (*compiler).group},
	{"schedule", (*compiler).schedule},
	{"batch", (*compiler).batch},
	{"barriers", (*compiler).barriers},
	{"lifetime", (*compiler).lifetime},
	{"semaphores", (*compiler).semaphores},
}

func compile(c *Context, plan *Plan) {
	comp := &compiler{
		a:    plan.arena,
		plan: plan,
		opts: &c.opts,
		log:  c.log.With("graph", plan.Name),
	}
	start := time.Now()
	for _, step := range compileSteps {
		step.run(comp)
		if plan.Flags.Fatal() {
			comp.log.Warn("framegraph: compile failed", "step", step.name, "flags", plan.Flags, "err", plan.err)
			return
		}
		if plan.Flags&ResultNoWorkToDo != 0 {
			comp.noWork()
			comp.log.Info("framegraph: no work to do")
			return
		}
	}
	comp.log.Debug("framegraph: compiled",
		"passes", len(comp.a.passes),
		"final_passes", len(comp.a.finals),
		"levels", len(comp.a.levels),
		"waves", len(comp.a.waves),
		"submissions", len(comp.a.submissions),
		"elapsed", time.Since(start))
}

// fail records a fatal compile error. Only the first error is kept as the
// plan error; every one becomes a diagnostic.
func (c *compiler) fail(flag ResultFlags, pass, resource string, err error) {
	c.plan.Flags |= flag
	c.plan.Diagnostics = append(c.plan.Diagnostics, Diagnostic{
		Severity: SeverityError,
		Flags:    flag,
		Pass:     pass,
		Resource: resource,
		Message:  err.Error(),
	})
	if c.plan.err == nil {
		c.plan.err = &CompileError{Flags: flag, Pass: pass, Resource: resource, Err: err}
	}
	c.log.Error("framegraph: compile error", "pass", pass, "resource", resource, "err", err)
}

func (c *compiler) critical(pass, resource string, format string, args ...any) {
	c.fail(ResultCriticalError, pass, resource, fmt.Errorf(format, args...))
}

func (c *compiler) warn(pass, resource, msg string) {
	c.plan.Diagnostics = append(c.plan.Diagnostics, Diagnostic{
		Severity: SeverityWarning,
		Pass:     pass,
		Resource: resource,
		Message:  msg,
	})
	c.log.Warn("framegraph: "+msg, "pass", pass, "resource", resource)
}

func (c *compiler) info(pass, resource, msg string) {
	c.plan.Diagnostics = append(c.plan.Diagnostics, Diagnostic{
		Severity: SeverityInfo,
		Pass:     pass,
		Resource: resource,
		Message:  msg,
	})
	c.log.Debug("framegraph: "+msg, "pass", pass, "resource", resource)
}

// noWork finishes an empty plan: nothing is scheduled, but an imported
// swapchain still has its acquire semaphore pending.
func (c *compiler) noWork() {
	for i := range c.a.resources {
		r := &c.a.resources[i]
		if r.Root() && r.Kind == ResourceSwapchain {
			c.plan.PendingAcquire = true
		}
	}
}
