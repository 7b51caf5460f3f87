//go:build !windows

package adapter

import (
	"os/exec"
	"syscall"
)

// detachFromTTY starts the child in a new session, so it has no
// controlling terminal. Without this a debuggee that reads from or writes
// to the TTY (Python in particular) can raise SIGTTIN/SIGTTOU against the
// relay's process group and suspend it. With no controlling terminal the
// kernel never generates those signals for the child, and stdin is the
// null device regardless.
func detachFromTTY(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
