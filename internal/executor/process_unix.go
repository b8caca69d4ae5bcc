//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the shell into its own process group so that
// cancellation also kills the commands it started.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
