// Package main provides the containerobjects binary, which starts compose
// services as container objects and cleans up what earlier sessions leaked.
//
// Usage:
//
//	containerobjects up <compose-file> <service>  - Start a service and its dependencies
//	containerobjects ls                           - List resources recorded in the ledger
//	containerobjects prune                        - Remove leaked resources
//	containerobjects version                      - Show version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	containerobjects "github.com/artpar/containerobjects"
	"github.com/artpar/containerobjects/internal/shell/docker"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitConfigError = 1
	ExitLedgerError = 2
	ExitDockerError = 3
	ExitUsageError  = 4
)

// exitError carries the exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func withExit(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, connectDocker)
	stop()
	os.Exit(code)
}

func connectDocker(ctx context.Context, cfg *containerobjects.Config) (docker.Docker, error) {
	return docker.NewClient(ctx, cfg.Docker.Host)
}

// run executes the command line and returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, dial dockerFactory) int {
	cli := &cli{stdout: stdout, stderr: stderr, dial: dial}
	cmd := newRootCmd(cli)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		return ExitUsageError
	}
	return ExitSuccess
}
