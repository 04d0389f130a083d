package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/backend/trace"
	"github.com/gogpu/framegraph/internal/describe"
	"github.com/gogpu/framegraph/internal/watch"
	"golang.org/x/sync/errgroup"
)

// unit is the long-lived state of one description file. Keeping the
// context across recompiles lets -watch reuse cached plans.
type unit struct {
	fg     *framegraph.Context
	trace  *trace.Backend
	failed bool
}

// result is what fgc prints for one description.
type result struct {
	File        string                  `json:"file"`
	Graph       string                  `json:"graph,omitempty"`
	Cached      bool                    `json:"cached"`
	Plan        *framegraph.PlanReport  `json:"plan,omitempty"`
	Context     framegraph.ContextStats `json:"context"`
	Commands    []string                `json:"commands,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Diagnostics []string                `json:"diagnostics,omitempty"`

	dump string
}

type compiler struct {
	cfg *config
	out io.Writer
	log *slog.Logger

	mu    sync.Mutex
	units map[string]*unit
}

func newCompiler(cfg *config, out io.Writer, log *slog.Logger) *compiler {
	return &compiler{
		cfg:   cfg,
		out:   out,
		log:   log,
		units: make(map[string]*unit),
	}
}

func (c *compiler) unit(file string) *unit {
	file = filepath.Clean(file)
	c.mu.Lock()
	defer c.mu.Unlock()
	if u, ok := c.units[file]; ok {
		return u
	}
	opts := []framegraph.ContextOption{
		framegraph.WithLogger(c.log.With("file", file)),
		framegraph.WithQueuePolicy(c.cfg.Policy),
		framegraph.WithTransientAliasing(c.cfg.Aliasing),
		framegraph.WithFramesInFlight(c.cfg.FramesInFlight),
	}
	u := &unit{}
	if c.cfg.DryRun {
		u.trace = trace.New()
		opts = append(opts, framegraph.WithBackend(u.trace))
	}
	u.fg = framegraph.NewContext(opts...)
	c.units[file] = u
	return u
}

func (c *compiler) drop(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.units, filepath.Clean(file))
}

func (c *compiler) failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, u := range c.units {
		if u.failed {
			n++
		}
	}
	return n
}

// compilePaths loads the descriptions under paths, compiles them
// concurrently and prints the results in load order.
func (c *compiler) compilePaths(ctx context.Context, paths ...string) error {
	descs, err := describe.Load(paths...)
	if err != nil {
		return &ExitError{Code: 1, Message: err.Error()}
	}
	if len(descs) == 0 {
		return &ExitError{Code: 1, Message: "no description files found"}
	}

	results := make([]result, len(descs))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range descs {
		u := c.unit(d.File)
		g.Go(func() error {
			r, err := c.compile(gctx, u, d)
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return c.print(results)
}

// compile builds and compiles one description. With -dry-run the plan is
// executed on the trace backend for the requested number of frames. Only
// cancellation is returned as an error; compile and execution failures
// are part of the result.
func (c *compiler) compile(ctx context.Context, u *unit, d *describe.Description) (result, error) {
	r := result{File: d.File, Graph: d.Name}
	frames := 1
	if u.trace != nil {
		frames = c.cfg.Frames
		u.trace.Reset()
	}
	u.failed = false

	var plan *framegraph.Plan
	for frame := range frames {
		if u.trace != nil {
			if err := u.fg.BeginFrame(ctx); err != nil {
				return r, err
			}
		}
		b, err := u.fg.BeginCached(d.Name, d.CacheKey())
		if err != nil {
			return r, err
		}
		if frame == 0 {
			r.Cached = b.Cached()
		}
		if !b.Cached() {
			_ = d.Build(b, recordPass, tracedImports(d))
		}
		plan, err = b.End()
		if err != nil {
			u.failed = true
			r.Error = err.Error()
			if plan != nil {
				for _, diag := range plan.Diagnostics {
					r.Diagnostics = append(r.Diagnostics, diag.String())
				}
			}
			r.Context = u.fg.Stats()
			return r, nil
		}
		if u.trace == nil {
			continue
		}
		if err := u.fg.Execute(ctx, plan); err != nil {
			if ctx.Err() != nil {
				return r, ctx.Err()
			}
			u.failed = true
			r.Error = err.Error()
			break
		}
	}

	report := plan.Report()
	r.Plan = &report
	var buf bytes.Buffer
	if err := plan.Dump(&buf); err != nil {
		return r, err
	}
	r.dump = buf.String()
	if u.trace != nil {
		for _, cmd := range u.trace.Commands() {
			r.Commands = append(r.Commands, trace.String(cmd))
		}
	}
	r.Context = u.fg.Stats()
	return r, nil
}

// recordPass marks the pass on trace recorders and does nothing otherwise.
func recordPass(pc *framegraph.PassContext, _ any) error {
	if rec, ok := pc.Recorder.(*trace.Recorder); ok {
		rec.Mark(pc.Name)
	}
	return nil
}

// tracedImports binds every imported resource of d to a fixed trace handle.
func tracedImports(d *describe.Description) describe.Provide {
	return func(name string) framegraph.ResourceProvider {
		image := true
		if r, ok := d.Resource(name); ok {
			image = r.Type != describe.TypeImportBuffer
		}
		h := &trace.Resource{ID: -1, Name: name, Image: image}
		return func(framegraph.FrameInfo) (framegraph.Handle, error) { return h, nil }
	}
}

func (c *compiler) print(results []result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Format == "json" {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for _, r := range results {
		if _, err := fmt.Fprintf(c.out, "== %s ==\n", r.File); err != nil {
			return err
		}
		if r.dump != "" {
			if _, err := io.WriteString(c.out, r.dump); err != nil {
				return err
			}
		}
		if r.Error != "" {
			fmt.Fprintf(c.out, "error: %s\n", r.Error)
			for _, d := range r.Diagnostics {
				fmt.Fprintf(c.out, "  %s\n", d)
			}
		}
		if len(r.Commands) > 0 {
			fmt.Fprintln(c.out, "-- trace --")
			for i, cmd := range r.Commands {
				fmt.Fprintf(c.out, "%4d %s\n", i, cmd)
			}
		}
		s := r.Context
		fmt.Fprintf(c.out, "cache: cached=%t compiles=%d skips=%d hits=%d misses=%d executions=%d\n",
			r.Cached, s.Compiles, s.CompileSkips, s.CacheHits, s.CacheMisses, s.Executions)
	}
	return nil
}

// watch recompiles changed descriptions until ctx is done.
func (c *compiler) watch(ctx context.Context) error {
	w, err := watch.New(0, c.cfg.Paths...)
	if err != nil {
		return err
	}
	defer w.Close()
	c.log.Info("fgc: watching for changes", "paths", c.cfg.Paths)

	return w.Run(ctx, func(files []string) {
		var present []string
		for _, f := range files {
			if _, err := os.Stat(f); err != nil {
				c.log.Info("fgc: description removed", "file", f)
				c.drop(f)
				continue
			}
			present = append(present, f)
		}
		if len(present) == 0 {
			return
		}
		if err := c.compilePaths(ctx, present...); err != nil {
			c.log.Error("fgc: recompile failed", "error", err)
		}
	})
}
