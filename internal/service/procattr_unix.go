//go:build unix

package service

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcGroupAttr puts the child in its own process group so a stop reaches
// the whole tree, and so signals aimed at the daemon do not.
func setProcGroupAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(proc *os.Process, sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return proc.Signal(sig)
	}
	if err := syscall.Kill(-proc.Pid, s); err != nil {
		return proc.Signal(sig)
	}
	return nil
}

func killGroup(proc *os.Process) error {
	return signalGroup(proc, syscall.SIGKILL)
}
