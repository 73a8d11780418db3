//go:build unix

package proc

import (
	"os/exec"
	"syscall"
)

// configureKill puts the child in its own process group and makes
// cancellation kill the whole group. pdflatex may fork helpers (mktexpk,
// kpsewhich) that would otherwise survive and keep the pipes open.
func configureKill(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
