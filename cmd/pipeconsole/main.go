// Command pipeconsole is the operator console for pipeline executions.
//
//	pipeconsole serve          run the monitoring session and operator API
//	pipeconsole intervene      record and apply one intervention
//	pipeconsole watch-report   start or follow a report job until it ends
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
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func invalidConfig(err error) error { return &exitError{code: 2, err: err} }

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, logger, os.Args[1:], os.Stdout)
	stop()
	if err == nil {
		return
	}

	code := 1
	var exit *exitError
	if errors.As(err, &exit) {
		code = exit.code
	}
	logger.Error("pipeconsole failed", "error", err)
	os.Exit(code)
}

func run(ctx context.Context, logger *slog.Logger, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		printUsage(stdout)
		return invalidConfig(errors.New("missing command"))
	}
	switch args[0] {
	case "serve":
		return serve(ctx, logger, args[1:])
	case "intervene":
		return intervene(ctx, logger, args[1:], stdout)
	case "watch-report":
		return watchReport(ctx, logger, args[1:], stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stdout)
		return invalidConfig(fmt.Errorf("unknown command %q", args[0]))
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: pipeconsole <serve|intervene|watch-report> [flags]")
}
