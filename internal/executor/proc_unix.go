//go:build !windows

package executor

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the shell in its own process group so cancellation
// reaches every process the script started.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	// Negative pid signals the whole group.
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
