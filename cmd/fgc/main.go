// Command fgc compiles frame graph descriptions and prints their plans.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gogpu/framegraph"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			stop()
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// run is main without process exits, for tests.
func run(ctx context.Context, outW, logW io.Writer, args []string) error {
	cfg, shouldExit, err := parseArgs(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	logger := newLogger(cfg, logW)
	slog.SetDefault(logger)
	framegraph.SetLogger(logger)
	defer framegraph.SetLogger(nil)

	c := newCompiler(cfg, outW, logger)
	if err := c.compilePaths(ctx, cfg.Paths...); err != nil {
		return err
	}
	if cfg.Watch {
		return c.watch(ctx)
	}
	if n := c.failures(); n > 0 {
		return &ExitError{Code: 1, Message: fmt.Sprintf("%d description(s) failed to compile", n)}
	}
	return nil
}
