//go:build !windows

package server

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcAttr puts the server in its own process group so the interrupt
// reaches the game binary started by the script, not only the shell.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func interrupt(p *os.Process) error {
	err := unix.Kill(-p.Pid, unix.SIGINT)
	if err == unix.ESRCH {
		return nil
	}
	return err
}

func signaled(ee *exec.ExitError) bool {
	ws, ok := ee.Sys().(syscall.WaitStatus)
	if !ok {
		return false
	}
	// A shell exits with 128+n after its foreground child died of signal n.
	return ws.Signaled() || ws.ExitStatus() == 128+int(unix.SIGINT)
}

// kill sends SIGKILL to the whole process group.
func kill(p *os.Process) error {
	err := unix.Kill(-p.Pid, unix.SIGKILL)
	if err == unix.ESRCH {
		return nil
	}
	return err
}

// groupAlive reports whether any member of the group is still running.
func groupAlive(p *os.Process) bool {
	return unix.Kill(-p.Pid, 0) == nil
}
