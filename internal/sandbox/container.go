package sandbox

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skillgen/internal/config"
	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/procsup"
	"github.com/sells-group/skillgen/internal/runtimes"
	"github.com/sells-group/skillgen/internal/sanitize"
)

const (
	defaultTimeout = 60 * time.Second
	removeTimeout  = 30 * time.Second
	checkTimeout   = 15 * time.Second
)

// ContainerExecutor runs each probe in a fresh container through an
// OCI-compatible CLI (docker, podman, nerdctl).
type ContainerExecutor struct {
	cfg    config.SandboxConfig
	reg    *runtimes.Registry
	runner procsup.Runner
	newID  func() string
}

// NewContainerExecutor creates a ContainerExecutor.
func NewContainerExecutor(cfg config.SandboxConfig, reg *runtimes.Registry, runner procsup.Runner) *ContainerExecutor {
	if cfg.ContainerRuntime == "" {
		cfg.ContainerRuntime = "docker"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &ContainerExecutor{
		cfg:    cfg,
		reg:    reg,
		runner: runner,
		newID:  func() string { return uuid.New().String() },
	}
}

func (c *ContainerExecutor) image(rt runtimes.Runtime) string {
	if img := c.cfg.Images[rt.ID()]; img != "" {
		return img
	}
	return rt.DefaultImage()
}

// CheckAvailable verifies the container CLI answers and the image reference
// for the runtime is well formed.
func (c *ContainerExecutor) CheckAvailable(ctx context.Context, runtimeID string) error {
	rt, ok := c.reg.Get(runtimeID)
	if !ok {
		return eris.Wrapf(ErrRuntimeUnavailable, "no runtime %q", runtimeID)
	}
	if err := sanitize.ImageRef(c.image(rt)); err != nil {
		return eris.Wrapf(ErrRuntimeUnavailable, "%v", err)
	}
	out, err := c.runner.Run(ctx, procsup.Spec{
		Args:    []string{c.cfg.ContainerRuntime, "version"},
		Timeout: checkTimeout,
	})
	if err != nil {
		return eris.Wrapf(ErrRuntimeUnavailable, "%s: %v", c.cfg.ContainerRuntime, err)
	}
	if !out.ExitedZero() {
		return eris.Wrapf(ErrRuntimeUnavailable, "%s version failed: %s", c.cfg.ContainerRuntime, out.Stderr)
	}
	return nil
}

// Execute runs the probe in a new container. The container is force-removed
// on every exit path, including timeout and cancellation.
func (c *ContainerExecutor) Execute(ctx context.Context, probe *model.Probe) (*model.ExecutionOutcome, error) {
	p, err := prepare(c.reg, c.cfg.WorkRoot, probe)
	if err != nil {
		return nil, err
	}

	image := c.image(p.rt)
	if err := sanitize.ImageRef(image); err != nil {
		finish(p, nil, false)
		return nil, err
	}
	name := "skillgen-probe-" + c.newID()
	if err := sanitize.ContainerName(name); err != nil {
		finish(p, nil, false)
		return nil, err
	}

	args := c.runArgs(name, p.dir, image, p.rt.ContainerScript(p.file, probe.Dependencies))
	defer c.remove(ctx, name)

	zap.L().Debug("sandbox: run probe container",
		zap.String("pattern", probe.Pattern),
		zap.String("runtime", p.rt.ID()),
		zap.String("container", name),
	)
	outcome, err := c.runner.Run(ctx, procsup.Spec{Args: args, Timeout: c.cfg.Timeout})
	if err != nil {
		return finish(p, outcome, false), eris.Wrap(err, "sandbox: run container")
	}
	return finish(p, outcome, c.cfg.KeepFailed), nil
}

func (c *ContainerExecutor) runArgs(name, dir, image, script string) []string {
	network := "none"
	if c.cfg.Network {
		network = "bridge"
	}
	args := []string{
		c.cfg.ContainerRuntime, "run", "--rm",
		"--name", name,
		"--network", network,
		"--security-opt", "no-new-privileges",
		"--cap-drop", "ALL",
	}
	if c.cfg.Memory != "" {
		args = append(args, "--memory", c.cfg.Memory)
	}
	if c.cfg.CPUs != "" {
		args = append(args, "--cpus", c.cfg.CPUs)
	}
	if c.cfg.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(c.cfg.PidsLimit))
	}
	return append(args,
		"-v", dir+":/probe:ro",
		image,
		"sh", "-c", script,
	)
}

// remove runs on a context detached from cancellation so an interrupted run
// still tears its container down.
func (c *ContainerExecutor) remove(ctx context.Context, name string) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
	defer cancel()

	out, err := c.runner.Run(rmCtx, procsup.Spec{
		Args:    []string{c.cfg.ContainerRuntime, "rm", "-f", name},
		Timeout: removeTimeout,
	})
	if err != nil {
		zap.L().Warn("sandbox: remove container", zap.String("container", name), zap.Error(err))
		return
	}
	if !out.ExitedZero() {
		// Already gone via --rm is the common case.
		zap.L().Debug("sandbox: container rm returned non-zero",
			zap.String("container", name),
			zap.String("stderr", out.Stderr),
		)
	}
}
