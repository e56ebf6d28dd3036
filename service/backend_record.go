package service

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"sessionproxy/interfaces"
)

// backendRecord is the per-client state spec.md §3/§4.B describes: the port
// drawn from the pool, a single-assignment cell carrying the process handle
// once startup succeeds or fails, and a channel to the backend created
// eagerly at construction (safe to read at any time — "a channel that
// cannot connect is a per-RPC failure, not a record failure").
type backendRecord struct {
	port    int
	conn    *grpc.ClientConn
	process *oneshot[interfaces.Process]
}

func newBackendRecord(port int) (*backendRecord, error) {
	conn, err := grpc.NewClient(
		net.JoinHostPort("localhost", strconv.Itoa(port)),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("sessionproxy: dial localhost:%d: %w", port, err)
	}
	return &backendRecord{
		port:    port,
		conn:    conn,
		process: newOneshot[interfaces.Process](),
	}, nil
}

// awaitReady blocks until the process future resolves or timeout elapses.
func (r *backendRecord) awaitReady(timeout time.Duration) (interfaces.Process, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return r.process.wait(ctx)
}

// resolveProcess resolves the process future exactly once.
func (r *backendRecord) resolveProcess(p interfaces.Process) {
	r.process.resolve(p)
}

// alive reports whether the process future is resolved and the process has
// not exited. Used by the reaper; never blocks.
func (r *backendRecord) alive() bool {
	p, ok := r.process.peek()
	if !ok {
		// Not yet resolved: spawn is still in flight, leave it alone.
		return true
	}
	return p.Alive()
}

func (r *backendRecord) close() {
	_ = r.conn.Close()
}
