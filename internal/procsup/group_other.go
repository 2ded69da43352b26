//go:build !unix

package procsup

import (
	"os"
	"os/exec"
)

// isolate falls back to killing the direct child; descendants are not
// tracked on this platform.
func isolate(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}

func reapGroup(int) {}

func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}
