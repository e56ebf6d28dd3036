//go:build linux

package adapters

import "syscall"

// fateShareAttr builds the SysProcAttr for a launched backend. Pdeathsig
// delivers SIGKILL to the child when the proxy process dies, and Setsid
// puts the child in its own process group so a terminal signal meant for
// the proxy doesn't also kill it. Both fields are Linux-only members of
// syscall.SysProcAttr.
//
// Parameter fateShare — when false, an empty SysProcAttr is returned (no
// fate sharing, no new session).
//
// Returns: *syscall.SysProcAttr for cmd.SysProcAttr.
//
// Called only from ExecLauncher.Launch.
func fateShareAttr(fateShare bool) *syscall.SysProcAttr {
	if !fateShare {
		return &syscall.SysProcAttr{}
	}
	return &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGKILL,
		Setsid:    true,
	}
}
