// Package proc runs external tools with a hard wall-clock bound.
//
// Both LaTeX stages of the render pipeline go through [Run]. A command that
// outlives its timeout is killed together with any children it spawned, and
// the call returns an error matching [ErrTimeout]. Any other failure (spawn
// error, non-zero exit) is reported as an [*Error] carrying the tool's output
// so callers can build a readable failure detail.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// ErrTimeout is matched by errors returned from Run when the command exceeded
// its timeout.
var ErrTimeout = errors.New("timed out")

// waitDelay bounds how long Run waits for stdout/stderr to drain after the
// process was killed.
const waitDelay = 2 * time.Second

// Command describes one subprocess invocation.
type Command struct {
	Path    string        // Executable name or path, resolved via exec.LookPath.
	Args    []string      // Arguments, not including the executable.
	Dir     string        // Working directory; empty means the current one.
	Stdin   io.Reader     // Optional standard input.
	Timeout time.Duration // Wall-clock bound. Zero or negative disables it.
}

// Result is the outcome of a command that exited successfully.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Error describes a failed invocation.
type Error struct {
	Name     string        // Base name of the executable
	Err      error         // Underlying failure (ErrTimeout, *exec.ExitError, spawn error)
	Stdout   []byte        // Captured standard output
	Stderr   []byte        // Captured standard error
	Duration time.Duration // Time until the failure was observed
}

// Error implements the error interface. The format mirrors the one the CLI
// has always used for external converters: "<tool>: <err>: <stderr>".
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Name, e.Err)
	if tail := bytes.TrimSpace(e.Stderr); len(tail) > 0 {
		msg += ": " + string(truncate(tail, 512))
	}
	return msg
}

// Unwrap returns the underlying failure.
func (e *Error) Unwrap() error { return e.Err }

// Output returns stdout followed by stderr. LaTeX reports most diagnostics
// on stdout, converters on stderr.
func (e *Error) Output() []byte {
	out := make([]byte, 0, len(e.Stdout)+len(e.Stderr))
	out = append(out, e.Stdout...)
	return append(out, e.Stderr...)
}

// TimedOut reports whether the command was killed for exceeding its timeout.
func (e *Error) TimedOut() bool { return errors.Is(e.Err, ErrTimeout) }

// Run executes c and waits for it to finish, for c.Timeout to elapse, or for
// ctx to be cancelled. On timeout the process group is killed and the
// returned error matches ErrTimeout.
func Run(ctx context.Context, c Command) (*Result, error) {
	name := baseName(c.Path)

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	cmd.WaitDelay = waitDelay
	configureKill(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && c.Timeout > 0 {
			err = fmt.Errorf("%w after %s", ErrTimeout, c.Timeout)
		} else if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &Error{
			Name:     name,
			Err:      err,
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			Duration: elapsed,
		}
	}

	return &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: elapsed,
	}, nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return append(b[:n:n], "..."...)
}
