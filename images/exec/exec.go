// Package exec provides external command execution for
// the build and merge steps.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner executes an external command. Implementations
// return the command's stdout. A failing command returns
// an error that wraps *exec.ExitError when the process
// ran and exited non-zero.
type Runner interface {
	Run(
		ctx context.Context,
		dir string,
		name string,
		arg ...string,
	) (string, error)
}

// RunnerFunc adapts a plain function to the Runner
// interface.
type RunnerFunc func(
	ctx context.Context,
	dir string,
	name string,
	arg ...string,
) (string, error)

// Run delegates to the wrapped function.
func (f RunnerFunc) Run(
	ctx context.Context,
	dir string,
	name string,
	arg ...string,
) (string, error) {
	return f(ctx, dir, name, arg...)
}

// Default is the Runner backed by os/exec.
var Default Runner = RunnerFunc(Ex)

// Ex executes the named command in the given directory and
// returns its stdout. Stderr is logged, and included in
// the returned error on failure. Pass empty dir to use the
// current working directory.
func Ex(
	ctx context.Context,
	dir string,
	name string,
	arg ...string,
) (string, error) {
	const errCtx = "executing command"

	slog.Info(
		"executing",
		"cmd", name,
		"args", strings.Join(arg, " "),
	)

	cmd := exec.CommandContext(ctx, name, arg...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if stderr.Len() > 0 {
		slog.Info("stderr", "result", stderr.String())
	}

	if err != nil {
		return stdout.String(), fmt.Errorf(
			"%s: %s %s: %w: %s",
			errCtx, name, strings.Join(arg, " "), err,
			strings.TrimSpace(stderr.String()),
		)
	}

	return stdout.String(), nil
}

// ExitCode returns the exit status carried by err. It is
// 0 for a nil error, the process status when err wraps an
// *exec.ExitError, and 1 for any other failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode()
	}

	return 1
}
