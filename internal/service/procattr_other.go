//go:build !unix

package service

import (
	"os"
	"os/exec"
)

func setProcGroupAttr(cmd *exec.Cmd) {}

func signalGroup(proc *os.Process, sig os.Signal) error {
	return proc.Signal(sig)
}

func killGroup(proc *os.Process) error {
	return proc.Kill()
}
