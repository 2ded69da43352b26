package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skillgen/internal/config"
	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/procsup"
	"github.com/sells-group/skillgen/internal/runtimes"
)

// LocalExecutor runs probes directly on the host inside an ephemeral
// per-probe environment (virtualenv, npm prefix, go module).
type LocalExecutor struct {
	cfg      config.SandboxConfig
	reg      *runtimes.Registry
	runner   procsup.Runner
	lookPath func(string) (string, error)
	now      func() time.Time
}

// NewLocalExecutor creates a LocalExecutor.
func NewLocalExecutor(cfg config.SandboxConfig, reg *runtimes.Registry, runner procsup.Runner) *LocalExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &LocalExecutor{cfg: cfg, reg: reg, runner: runner, lookPath: exec.LookPath, now: time.Now}
}

// CheckAvailable verifies every program the runtime's steps invoke by bare
// name is on PATH.
func (l *LocalExecutor) CheckAvailable(_ context.Context, runtimeID string) error {
	rt, ok := l.reg.Get(runtimeID)
	if !ok {
		return eris.Wrapf(ErrRuntimeUnavailable, "no runtime %q", runtimeID)
	}
	for _, step := range rt.LocalSteps("/nonexistent", rt.FileName(""), []string{"dep"}) {
		prog := step[0]
		if strings.ContainsRune(prog, os.PathSeparator) {
			continue
		}
		if _, err := l.lookPath(prog); err != nil {
			return eris.Wrapf(ErrRuntimeUnavailable, "%s not found on PATH", prog)
		}
	}
	return nil
}

// Execute runs the runtime's setup and run steps sequentially under a single
// deadline for the whole probe.
func (l *LocalExecutor) Execute(ctx context.Context, probe *model.Probe) (*model.ExecutionOutcome, error) {
	p, err := prepare(l.reg, l.cfg.WorkRoot, probe)
	if err != nil {
		return nil, err
	}

	steps := p.rt.LocalSteps(p.dir, p.file, probe.Dependencies)
	env := append(os.Environ(), "PYTHONDONTWRITEBYTECODE=1", "npm_config_update_notifier=false", "GOFLAGS=-mod=mod")

	start := l.now()
	deadline := start.Add(l.cfg.Timeout)
	var setupLog strings.Builder
	var last *model.ExecutionOutcome

	for i, step := range steps {
		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			last = &model.ExecutionOutcome{TimedOut: true, Command: step}
			break
		}
		out, err := l.runner.Run(ctx, procsup.Spec{Args: step, Dir: p.dir, Env: env, Timeout: remaining})
		if err != nil {
			return finish(p, out, false), eris.Wrapf(err, "sandbox: local step %d", i)
		}
		last = out
		if out.TimedOut || i == len(steps)-1 {
			break
		}
		if !out.ExitedZero() {
			zap.L().Debug("sandbox: local setup step failed",
				zap.String("pattern", probe.Pattern),
				zap.Strings("command", step),
			)
			break
		}
		fmt.Fprintf(&setupLog, "$ %s\n%s%s", strings.Join(step, " "), out.Stdout, out.Stderr)
	}

	merged := *last
	merged.WallTime = l.now().Sub(start)
	if setupLog.Len() > 0 && !last.ExitedZero() {
		merged.Stderr = setupLog.String() + merged.Stderr
	}
	return finish(p, &merged, l.cfg.KeepFailed), nil
}
