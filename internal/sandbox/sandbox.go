// Package sandbox executes probes in a disposable environment, either inside
// an OCI container or in an ephemeral local environment.
package sandbox

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skillgen/internal/config"
	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/procsup"
	"github.com/sells-group/skillgen/internal/runtimes"
	"github.com/sells-group/skillgen/internal/sanitize"
)

// ErrRuntimeUnavailable means the selected execution environment cannot run
// probes at all. It is fatal for a run.
var ErrRuntimeUnavailable = eris.New("sandbox: runtime unavailable")

// ErrUnsupportedRuntime means no runtime is registered for a probe.
var ErrUnsupportedRuntime = eris.New("sandbox: unsupported runtime")

// Executor runs one probe and reports its outcome.
type Executor interface {
	Execute(ctx context.Context, probe *model.Probe) (*model.ExecutionOutcome, error)
	CheckAvailable(ctx context.Context, runtimeID string) error
}

// New returns the executor for the configured strategy.
func New(cfg config.SandboxConfig, reg *runtimes.Registry, runner procsup.Runner) (Executor, error) {
	switch cfg.Strategy {
	case "container", "":
		return NewContainerExecutor(cfg, reg, runner), nil
	case "local":
		zap.L().Warn("sandbox: local strategy runs generated code directly on this host")
		return NewLocalExecutor(cfg, reg, runner), nil
	default:
		return nil, eris.Errorf("sandbox: unknown strategy %q", cfg.Strategy)
	}
}

// prepared is a probe materialized on disk and checked for execution.
type prepared struct {
	rt   runtimes.Runtime
	dir  string
	file string
}

// prepare resolves the runtime, re-checks every token that will reach the
// command line and writes the probe into a fresh work directory.
func prepare(reg *runtimes.Registry, root string, probe *model.Probe) (*prepared, error) {
	if probe == nil {
		return nil, eris.New("sandbox: nil probe")
	}
	if err := sanitize.RuntimeID(probe.Runtime); err != nil {
		return nil, err
	}
	rt, ok := reg.Get(probe.Runtime)
	if !ok {
		return nil, eris.Wrapf(ErrUnsupportedRuntime, "runtime %q", probe.Runtime)
	}
	if err := sanitize.Dependencies(rt.ID(), probe.Dependencies); err != nil {
		return nil, err
	}
	file := rt.FileName(probe.Code)
	if err := sanitize.RelPath(file); err != nil {
		return nil, err
	}

	if root == "" {
		root = os.TempDir()
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrap(err, "sandbox: resolve work root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrap(err, "sandbox: create work root")
	}
	dir, err := os.MkdirTemp(root, "skillgen-probe-*")
	if err != nil {
		return nil, eris.Wrap(err, "sandbox: create workdir")
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return nil, eris.Wrap(err, "sandbox: chmod workdir")
	}
	if err := os.WriteFile(filepath.Join(dir, file), []byte(probe.Code), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return nil, eris.Wrap(err, "sandbox: write probe")
	}
	return &prepared{rt: rt, dir: dir, file: file}, nil
}

// finish either removes the work directory or retains it for inspection.
// Retention applies only to failed probes when keepFailed is set.
func finish(p *prepared, outcome *model.ExecutionOutcome, keepFailed bool) *model.ExecutionOutcome {
	if outcome == nil {
		_ = os.RemoveAll(p.dir)
		return nil
	}
	out := *outcome
	if keepFailed && !outcome.ExitedZero() {
		out.WorkDir = p.dir
		zap.L().Info("sandbox: retained workdir of failed probe", zap.String("dir", p.dir))
		return &out
	}
	if err := os.RemoveAll(p.dir); err != nil {
		zap.L().Warn("sandbox: remove workdir", zap.String("dir", p.dir), zap.Error(err))
	}
	out.WorkDir = ""
	return &out
}
