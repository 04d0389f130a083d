package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/gogpu/framegraph"
)

// ExitError carries the exit code the process should terminate with.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// config is the parsed command line.
type config struct {
	Paths          []string
	LogLevel       slog.Level
	LogFormat      string
	Format         string
	DryRun         bool
	Frames         int
	Watch          bool
	Policy         framegraph.QueuePolicy
	Aliasing       bool
	FramesInFlight int
}

// parseArgs processes command-line arguments. It reports true when the
// program should exit cleanly without doing anything, as after -h.
func parseArgs(args []string, output io.Writer) (*config, bool, error) {
	fs := flag.NewFlagSet("fgc", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, `fgc compiles frame graph descriptions and prints their plans.

Usage:
  fgc [options] PATH...

Arguments:
  PATH
    A description file or a directory searched for *.hcl files.

Options:
`)
		fs.PrintDefaults()
	}

	logLevel := fs.String("log-level", "warn", "Logging level: 'debug', 'info', 'warn' or 'error'.")
	logFormat := fs.String("log-format", "text", "Log output format: 'text' or 'json'.")
	format := fs.String("format", "text", "Plan output format: 'text' or 'json'.")
	dryRun := fs.Bool("dry-run", false, "Execute each plan on the trace backend and print the recorded commands.")
	frames := fs.Int("frames", 1, "Frames executed per description with -dry-run.")
	watchFlag := fs.Bool("watch", false, "Recompile descriptions when their files change.")
	policy := fs.String("queue-policy", "collapse", "Single-queue wave policy: 'collapse' or 'preserve'.")
	aliasing := fs.Bool("aliasing", false, "Alias compatible transient resources with disjoint lifetimes.")
	inFlight := fs.Int("frames-in-flight", framegraph.DefaultFramesInFlight, "Frames in flight per context.")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return nil, true, nil
	}

	cfg := &config{
		Paths:          fs.Args(),
		LogFormat:      strings.ToLower(*logFormat),
		Format:         strings.ToLower(*format),
		DryRun:         *dryRun,
		Frames:         *frames,
		Watch:          *watchFlag,
		Aliasing:       *aliasing,
		FramesInFlight: *inFlight,
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(*logLevel)); err != nil {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn' or 'error'"}
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	if cfg.Format != "text" && cfg.Format != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid format: must be 'text' or 'json'"}
	}
	switch strings.ToLower(*policy) {
	case "collapse":
		cfg.Policy = framegraph.QueuePolicyCollapse
	case "preserve":
		cfg.Policy = framegraph.QueuePolicyPreserve
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid queue-policy: must be 'collapse' or 'preserve'"}
	}
	if cfg.Frames < 1 {
		return nil, false, &ExitError{Code: 2, Message: "invalid frames: must be at least 1"}
	}
	if cfg.FramesInFlight < 1 {
		return nil, false, &ExitError{Code: 2, Message: "invalid frames-in-flight: must be at least 1"}
	}
	return cfg, false, nil
}

// newLogger builds the process logger from the parsed flags.
func newLogger(cfg *config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
