package interfaces

import "errors"

// ErrCmdlineUnsupported is returned by a CmdlineInspector on platforms that
// have no portable way to read another process's argv (spec.md §4.C: "skipped
// on platforms where such introspection is unavailable — treated as
// immediately past the fence"). Callers must treat this error as "assume the
// fence has already been crossed", not as a startup failure.
var ErrCmdlineUnsupported = errors.New("cmdline introspection not supported on this platform")

// CmdlineInspector reads another live process's command-line arguments
// (spec.md §1's second external collaborator: "a function to introspect
// another process's command line"). Implemented by adapters.ProcCmdline;
// faked in tests.
//
//go:generate moq -stub -out mock/inspector.go -pkg mock . CmdlineInspector
type CmdlineInspector interface {
	// Cmdline returns the argv of the process identified by pid.
	// Returns ErrCmdlineUnsupported on platforms without introspection
	// support; any other error means the process could not be inspected
	// (e.g. it already exited) and is treated by the caller as "fence not
	// yet crossed, keep polling".
	Cmdline(pid int) ([]string, error)
}
