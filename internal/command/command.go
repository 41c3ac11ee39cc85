// Package command runs stage commands as external processes.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// Invocation describes one external command. Either Shell is set (run via
// "sh -c") or Name/Args name an executable directly.
type Invocation struct {
	Name  string
	Args  []string
	Shell string
	// Env is the complete environment of the process (KEY=VALUE). The host
	// environment is not inherited.
	Env   []string
	Dir   string
	Stdin io.Reader
	// Output, when set, receives stdout and stderr as they are produced in
	// addition to the captured buffers.
	Output io.Writer
}

// CaptureLimit bounds Result.Stdout and Result.Stderr. Longer output keeps
// only its last CaptureLimit bytes; the full stream goes to Invocation.Output.
const CaptureLimit = 64 << 10

// Result is what the engine observes of a finished command.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Runner executes invocations. Run blocks until the process exits or ctx is
// cancelled; on cancellation the whole process group is killed.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// ErrCancelled is wrapped by Run when ctx ended before the process exited.
var ErrCancelled = errors.New("command cancelled")

// ExecRunner is the os/exec backed Runner.
type ExecRunner struct {
	// ShellPath defaults to "sh".
	ShellPath string
}

// NewExecRunner returns a Runner using /bin/sh for shell invocations.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{ShellPath: "sh"}
}

// Run starts the process and waits for it. A nonzero exit is not an error:
// it is reported through Result.ExitCode. Errors are returned only when the
// process could not be started or was cancelled; ExitCode is -1 then.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	cmd, err := r.build(inv)
	if err != nil {
		return Result{ExitCode: -1}, err
	}

	stdout, stderr := newTailBuffer(CaptureLimit), newTailBuffer(CaptureLimit)
	if inv.Output != nil {
		out := &lockedWriter{w: inv.Output}
		cmd.Stdout = io.MultiWriter(stdout, out)
		cmd.Stderr = io.MultiWriter(stderr, out)
	} else {
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	}
	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1, Duration: time.Since(start)}, fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done
		return Result{
			ExitCode: -1,
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			Duration: time.Since(start),
		}, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	case err = <-done:
	}

	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: time.Since(start)}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			res.ExitCode = -1
			return res, fmt.Errorf("failed to execute command: %w", err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}

func (r *ExecRunner) build(inv Invocation) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	switch {
	case inv.Shell != "":
		sh := r.ShellPath
		if sh == "" {
			sh = "sh"
		}
		cmd = exec.Command(sh, "-c", inv.Shell)
	case inv.Name != "":
		cmd = exec.Command(inv.Name, inv.Args...)
	default:
		return nil, errors.New("command: nothing to run")
	}
	cmd.Dir = inv.Dir
	cmd.Env = inv.Env
	if cmd.Env == nil {
		cmd.Env = []string{}
	}
	cmd.Stdin = inv.Stdin
	return cmd, nil
}
