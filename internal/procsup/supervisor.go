// Package procsup runs child processes under a deadline and guarantees they
// are terminated and reaped before Run returns.
//
// On unix the child is placed in its own process group and the whole group is
// killed on timeout. A descendant that calls setsid or setpgid itself leaves
// the group and is not reached; container invocations are not affected since
// removing the container kills everything inside it.
package procsup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skillgen/internal/model"
)

const (
	defaultMaxOutput = 64 * 1024
	defaultWaitDelay = 2 * time.Second
)

// Spec describes one child process.
type Spec struct {
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Runner is implemented by Supervisor and by test doubles.
type Runner interface {
	Run(ctx context.Context, spec Spec) (*model.ExecutionOutcome, error)
}

// SpawnError reports that the child could not be started.
type SpawnError struct {
	Command []string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("procsup: spawn %v: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Supervisor spawns and supervises child processes.
type Supervisor struct {
	maxOutput int
	waitDelay time.Duration
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithMaxOutput caps captured stdout and stderr, each, at n bytes.
func WithMaxOutput(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.maxOutput = n
		}
	}
}

// WithWaitDelay bounds how long Run waits for output pipes to drain after the
// child exits or is killed.
func WithWaitDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.waitDelay = d
		}
	}
}

// New creates a Supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{maxOutput: defaultMaxOutput, waitDelay: defaultWaitDelay}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run starts the child, waits for it to exit or for the deadline, and returns
// its outcome. A deadline hit (spec timeout or parent) yields TimedOut with a
// nil ExitStatus. If the parent context was canceled the outcome is returned
// together with the context error.
func (s *Supervisor) Run(ctx context.Context, spec Spec) (*model.ExecutionOutcome, error) {
	if len(spec.Args) == 0 {
		return nil, eris.New("procsup: empty command")
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	defer cancel()

	command := append([]string(nil), spec.Args...)
	cmd := exec.CommandContext(runCtx, command[0], command[1:]...)
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	stdout := &cappedBuffer{limit: s.maxOutput}
	stderr := &cappedBuffer{limit: s.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = s.waitDelay
	isolate(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}
	pid := cmd.Process.Pid

	waitErr := cmd.Wait()
	// Anything left in the group (a backgrounded grandchild holding no pipe)
	// is killed here so no path returns with a live process.
	reapGroup(pid)
	elapsed := time.Since(start)

	outcome := &model.ExecutionOutcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		WallTime: elapsed,
		Command:  command,
		WorkDir:  spec.Dir,
	}

	if runCtx.Err() != nil {
		outcome.TimedOut = true
		zap.L().Debug("procsup: deadline reached",
			zap.Strings("command", command),
			zap.Duration("elapsed", elapsed),
		)
		if err := ctx.Err(); err != nil {
			return outcome, eris.Wrap(err, "procsup: run canceled")
		}
		return outcome, nil
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil, errors.Is(waitErr, exec.ErrWaitDelay):
	case errors.As(waitErr, &exitErr):
	default:
		return outcome, eris.Wrapf(waitErr, "procsup: wait %s", command[0])
	}

	code := exitStatus(cmd.ProcessState)
	outcome.ExitStatus = &code
	return outcome, nil
}

// cappedBuffer keeps the first limit bytes written and counts the rest.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room <= 0 {
		c.dropped += len(p)
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.dropped += len(p) - room
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	if c.dropped == 0 {
		return c.buf.String()
	}
	return fmt.Sprintf("%s\n...[truncated %d bytes]", c.buf.String(), c.dropped)
}
