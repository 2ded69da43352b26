//go:build unix

package procsup

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"go.uber.org/zap"
)

// isolate starts the child as the leader of a new process group and makes
// context cancellation kill the whole group.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return killGroup(cmd.Process.Pid)
	}
}

func killGroup(pgid int) error {
	err := syscall.Kill(-pgid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

func reapGroup(pgid int) {
	if err := killGroup(pgid); err != nil && !errors.Is(err, os.ErrProcessDone) {
		zap.L().Warn("procsup: kill process group", zap.Int("pgid", pgid), zap.Error(err))
	}
}

// exitStatus maps a signaled exit to 128+signal, as shells report it.
func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
