package adapters

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"sessionproxy/interfaces"
)

// ExecLauncherBin is the child backend binary invoked for every Launch
// call. Overridable at construction for tests.
const ExecLauncherBin = "ray_client_server"

// ExecLauncher implements interfaces.ProcessLauncher by exec'ing
// ExecLauncherBin with arguments derived from LaunchParams. On Linux it
// sets Pdeathsig so an abrupt proxy death still reaps the child, and
// Setsid so the child gets its own process group and isn't killed by a
// terminal signal meant for the proxy (spec.md §5: "OS-level fate sharing
// when available"); grounded on the socat driver's
// SysProcAttr{Pdeathsig: SIGKILL} and aetherflow's SysProcAttr{Setsid:
// true} patterns. fateShareAttr is platform-split in
// exec_launcher_linux.go / exec_launcher_other.go since both fields are
// Linux-only members of syscall.SysProcAttr.
type ExecLauncher struct {
	bin string
}

// NewExecLauncher builds a launcher for bin.
//
// Parameter bin — path or name of the backend binary; defaults to
// ExecLauncherBin when empty.
//
// Returns: a ready-to-use *ExecLauncher.
func NewExecLauncher(bin string) *ExecLauncher {
	if bin == "" {
		bin = ExecLauncherBin
	}
	return &ExecLauncher{bin: bin}
}

// Launch starts the backend binary bound to params.Port, feeding
// params.SerializedRuntimeEnv on stdin when present and applying
// fateShareAttr(params.FateShare) to SysProcAttr.
//
// Parameters: ctx — unused beyond signature parity with
// interfaces.ProcessLauncher (exec.Command, not CommandContext, since the
// child must outlive the request that spawned it); params — launch
// parameters (port, redis address, session dir, serialized runtime env,
// fate-share flag).
//
// Returns: a started *execProcess, or an error if the stdin pipe or
// cmd.Start fails.
//
// Called from ProxyManager.StartBackend.
func (l *ExecLauncher) Launch(ctx context.Context, params interfaces.LaunchParams) (interfaces.Process, error) {
	args := []string{
		"--redis-address", params.RedisAddress,
		"--port", strconv.Itoa(params.Port),
		"--server-type", params.ServerType,
		"--session-dir", params.SessionDir,
	}
	cmd := exec.Command(l.bin, args...)
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if len(params.SerializedRuntimeEnv) > 0 {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("sessionproxy: stdin pipe: %w", err)
		}
		env := params.SerializedRuntimeEnv
		go func() {
			defer stdin.Close()
			_, _ = stdin.Write(env)
		}()
	}
	cmd.SysProcAttr = fateShareAttr(params.FateShare)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sessionproxy: start child: %w", err)
	}
	go func() { _ = cmd.Wait() }()

	return &execProcess{cmd: cmd}, nil
}

// execProcess wraps *exec.Cmd to satisfy interfaces.Process. Alive polls
// via signal 0, the portable liveness probe once a process has been
// reaped by the background Wait goroutine started in Launch.
type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Alive() bool {
	if p.cmd.ProcessState != nil {
		return false
	}
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
