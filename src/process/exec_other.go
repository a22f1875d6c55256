//go:build !linux
// +build !linux

package process

import (
	"os/exec"
	"syscall"
)

// ExecCommand creates an external command and registers it with this executor.
// N.B. This does not start the command - the caller must handle that (or use one
// of the other functions which are higher-level interfaces).
func (e *Executor) ExecCommand(command string, args ...string) *exec.Cmd {
	cmd := exec.Command(command, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	e.registerProcess(cmd)
	return cmd
}
