// Package executor runs job commands as child processes.
package executor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	rootlog "github.com/domonda/golog/log"
)

var log = rootlog.NewPackageLogger("executor")

const (
	DefaultTimeout = 300 * time.Second
	// DefaultWaitDelay bounds how long Execute waits for the output pipes
	// after the process was killed.
	DefaultWaitDelay = 5 * time.Second
	// outputLimit is the number of trailing bytes kept per stream.
	outputLimit = 4096
)

// Result of one command run.
// Everything except ExitCode == 0 with a nil Err is a failure.
type Result struct {
	ExitCode int
	TimedOut bool
	Canceled bool
	Stdout   string
	Stderr   string
	Duration time.Duration
	// Err is set if the process could not be started or waited for.
	Err error
}

func (r *Result) Success() bool {
	return r.Err == nil && !r.TimedOut && !r.Canceled && r.ExitCode == 0
}

// Executor runs a command line to completion.
type Executor interface {
	Execute(ctx context.Context, command string) *Result
}

// ExecutorFunc implements Executor.
type ExecutorFunc func(ctx context.Context, command string) *Result

func (f ExecutorFunc) Execute(ctx context.Context, command string) *Result { return f(ctx, command) }

// Shell runs commands through "sh -c".
type Shell struct {
	// Shell defaults to "sh".
	Shell     string
	Timeout   time.Duration
	WaitDelay time.Duration
}

func NewShell(timeout time.Duration) *Shell {
	return &Shell{Shell: "sh", Timeout: timeout, WaitDelay: DefaultWaitDelay}
}

func (s *Shell) Execute(ctx context.Context, command string) *Result {
	shell := s.Shell
	if shell == "" {
		shell = "sh"
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		stdout = newTailBuffer(outputLimit)
		stderr = newTailBuffer(outputLimit)
	)
	cmd := exec.CommandContext(runCtx, shell, "-c", command)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = s.WaitDelay
	configureProcess(cmd)

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	classify(result, cmd.ProcessState, err, ctx.Err(), runCtx.Err())

	log.Debug("Command finished").
		Str("command", command).
		Int("exitCode", result.ExitCode).
		Str("duration", result.Duration.String()).
		Log()

	return result
}

// classify sets the failure flags of r from the outcome of cmd.Run.
// A process that exited 0 succeeded even if ctx ended after it exited.
func classify(r *Result, state *os.ProcessState, runErr, ctxErr, runCtxErr error) {
	switch {
	case runErr == nil && state != nil && state.Success():
	case ctxErr != nil:
		r.Canceled = true
	case errors.Is(runCtxErr, context.DeadlineExceeded):
		r.TimedOut = true
	case runErr != nil:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			r.Err = runErr
		}
	}
}
