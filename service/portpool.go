package service

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"sessionproxy/domain"
)

// ErrPortExhausted is returned by PortPool.Acquire when every port in range
// has been tried and rejected by the probe bind (spec.md §4.A).
var ErrPortExhausted = errors.New("sessionproxy: no unused port available in range")

// PortPool hands out unused TCP ports from the closed-open range
// [domain.PortMin, domain.PortMax). Acquire probes each candidate with a
// bind on "0.0.0.0:<port>"; a failed probe moves the port to the tail and
// the next candidate is tried. The probe is advisory only — spec.md §4.A:
// "the port may race to be taken between probe and child bind; the caller
// must handle child startup failure as a normal outcome."
type PortPool struct {
	mu    sync.Mutex
	ports []int
}

// NewPortPool creates a pool pre-filled with every port in [min, max).
func NewPortPool(min, max int) *PortPool {
	ports := make([]int, 0, max-min)
	for p := min; p < max; p++ {
		ports = append(ports, p)
	}
	return &PortPool{ports: ports}
}

// NewDefaultPortPool creates a pool over [domain.PortMin, domain.PortMax).
func NewDefaultPortPool() *PortPool {
	return NewPortPool(domain.PortMin, domain.PortMax)
}

// Acquire returns a port that passed a probe bind, removing it from the
// pool. Returns ErrPortExhausted if every candidate fails the probe or the
// pool is empty. Caller must hold no other lock; Acquire takes its own.
func (p *PortPool) Acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	attempts := len(p.ports)
	for i := 0; i < attempts; i++ {
		port := p.ports[0]
		p.ports = p.ports[1:]
		if probeBind(port) {
			return port, nil
		}
		p.ports = append(p.ports, port)
	}
	return 0, fmt.Errorf("%w: range exhausted after %d probes", ErrPortExhausted, attempts)
}

// Release returns port to the tail of the pool (spec.md §4.A: "release(port)
// appends to the tail").
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ports = append(p.ports, port)
}

// Len reports the number of free ports currently held, for property tests
// asserting port conservation (spec.md §8 invariant 1).
func (p *PortPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ports)
}

func probeBind(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
