//go:build linux

package adapters

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ProcCmdline reads another process's argv via /proc/<pid>/cmdline, the
// standard Linux introspection path (spec.md §4.C: the proxy's second
// external collaborator). No process-introspection library is grounded in
// the retrieved corpus — only an unrelated manifest imports gopsutil, and
// that package never appears in actual retrieved source — so this sticks
// to the stdlib rather than fabricate a dependency import.
type ProcCmdline struct{}

// NewProcCmdline returns the Linux cmdline inspector.
func NewProcCmdline() *ProcCmdline { return &ProcCmdline{} }

func (ProcCmdline) Cmdline(pid int) ([]string, error) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/cmdline")
	if err != nil {
		return nil, fmt.Errorf("sessionproxy: read cmdline for pid %d: %w", pid, err)
	}
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	if len(parts) == 1 && parts[0] == "" {
		return nil, fmt.Errorf("sessionproxy: empty cmdline for pid %d", pid)
	}
	return parts, nil
}
