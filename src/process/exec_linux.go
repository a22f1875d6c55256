package process

import (
	"os/exec"
	"syscall"
)

// ExecCommand creates an external command and registers it with this executor.
// We set Pdeathsig to try to make sure commands don't outlive us if we die.
// N.B. This does not start the command - the caller must handle that (or use one
// of the other functions which are higher-level interfaces).
func (e *Executor) ExecCommand(command string, args ...string) *exec.Cmd {
	cmd := exec.Command(command, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGHUP,
		Setpgid:   true,
	}
	e.registerProcess(cmd)
	return cmd
}
