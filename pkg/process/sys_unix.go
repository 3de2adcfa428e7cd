//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// ConfigureCommand puts the child in a new process group so the whole tree
// can be signalled through the negative PID.
func ConfigureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func signalTerminate(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// KillGroup sends SIGKILL to the process group led by pid.
func KillGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// IsRunning reports whether pid refers to a live process.
func IsRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}

	// FindProcess always succeeds on Unix; signal 0 probes existence.
	p, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}

	err = p.Signal(syscall.Signal(0))
	if err == nil {
		return true, nil
	}
	if err == os.ErrProcessDone {
		return false, nil
	}
	errno, ok := err.(syscall.Errno)
	if !ok {
		return false, err
	}
	switch errno {
	case syscall.ESRCH:
		return false, nil
	case syscall.EPERM:
		return true, nil
	}
	return false, err
}
