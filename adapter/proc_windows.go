//go:build windows

package adapter

import "os/exec"

// detachFromTTY is a no-op on Windows; there is no controlling terminal or
// TTY job-control signal to detach from.
func detachFromTTY(cmd *exec.Cmd) {}
