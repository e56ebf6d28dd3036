//go:build !linux

package adapters

import "syscall"

// fateShareAttr has no fate-sharing fields to set on non-Linux platforms:
// Pdeathsig and Setsid are both Linux-only members of syscall.SysProcAttr.
// fateShare is accepted for signature parity but unused.
//
// Returns: an empty *syscall.SysProcAttr.
//
// Called only from ExecLauncher.Launch.
func fateShareAttr(fateShare bool) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}
