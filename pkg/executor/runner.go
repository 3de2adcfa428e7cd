package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/core-tools/hsu-envctl/pkg/errors"
	"github.com/core-tools/hsu-envctl/pkg/process"
)

const (
	// DefaultOutputLimit caps captured stdout and stderr; the tail is kept.
	DefaultOutputLimit = 64 * 1024
	defaultWaitDelay   = 2 * time.Second
)

// Outcome is what the outside world reports back for one command.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// CommandRunner is the only boundary where envctl touches external tooling.
// A non-zero exit code is reported through Outcome, not as an error; errors
// mean the command could not run to completion (start failure, timeout,
// cancellation).
type CommandRunner interface {
	Execute(ctx context.Context, command string, env []string, timeout time.Duration) (Outcome, error)
}

// ShellRunner executes commands with `<shell> -c` in a dedicated process group.
type ShellRunner struct {
	Shell       string
	WorkDir     string
	OutputLimit int
}

func NewShellRunner(shell, workDir string) *ShellRunner {
	if shell == "" {
		shell = process.DefaultShell
	}
	return &ShellRunner{Shell: shell, WorkDir: workDir, OutputLimit: DefaultOutputLimit}
}

func (r *ShellRunner) Execute(ctx context.Context, command string, env []string, timeout time.Duration) (Outcome, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	limit := r.OutputLimit
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	stdout := newTailBuffer(limit)
	stderr := newTailBuffer(limit)

	cmd := exec.CommandContext(ctx, r.Shell, "-c", command)
	cmd.Dir = r.WorkDir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	process.ConfigureCommand(cmd)
	cmd.Cancel = func() error {
		return process.KillGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = defaultWaitDelay

	start := time.Now()
	err := cmd.Run()
	outcome := Outcome{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		outcome.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return outcome, errors.NewTimeoutError("command timed out", ctx.Err()).WithContext("timeout", timeout.String())
	case ctx.Err() != nil:
		return outcome, errors.NewCancelledError("command cancelled", ctx.Err())
	case err != nil:
		if _, ok := err.(*exec.ExitError); ok {
			return outcome, nil
		}
		return outcome, errors.NewProcessError("failed to run command", err)
	}
	return outcome, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
		b.truncated = true
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	if b.truncated {
		return "...[truncated]\n" + b.buf.String()
	}
	return b.buf.String()
}
