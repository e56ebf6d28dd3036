//go:build !linux

package adapters

import "sessionproxy/interfaces"

// ProcCmdline is a no-op stand-in on platforms without /proc. Every call
// returns interfaces.ErrCmdlineUnsupported, which ProxyManager treats as
// "fence already crossed" (spec.md §4.C).
type ProcCmdline struct{}

// NewProcCmdline returns the non-Linux stub inspector.
func NewProcCmdline() *ProcCmdline { return &ProcCmdline{} }

func (ProcCmdline) Cmdline(pid int) ([]string, error) {
	return nil, interfaces.ErrCmdlineUnsupported
}
