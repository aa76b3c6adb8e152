package ports

import (
	"fmt"
	"sync"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

// Allocator hands out backend ports from a fixed range. Reservations live in
// memory; callers persist the chosen port on the deployment row and re-seed
// the allocator at startup.
type Allocator struct {
	mu    sync.Mutex
	start int
	end   int
	used  map[int]bool
}

func NewAllocator(start, end int) *Allocator {
	return &Allocator{
		start: start,
		end:   end,
		used:  make(map[int]bool),
	}
}

// Seed marks ports already assigned to existing deployments as taken.
func (a *Allocator) Seed(ports []int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range ports {
		if p != 0 {
			a.used[p] = true
		}
	}
}

// Allocate reserves and returns the lowest free port in the range.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for p := a.start; p <= a.end; p++ {
		if !a.used[p] {
			a.used[p] = true
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: no free port in %d-%d", entity.ErrConflict, a.start, a.end)
}

// Reserve claims a specific port, failing when it is already taken or out
// of range.
func (a *Allocator) Reserve(port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if port < a.start || port > a.end {
		return fmt.Errorf("%w: port %d outside %d-%d", entity.ErrInvalid, port, a.start, a.end)
	}
	if a.used[port] {
		return fmt.Errorf("%w: port %d already reserved", entity.ErrConflict, port)
	}
	a.used[port] = true
	return nil
}

// Release returns a port to the pool. Releasing a free port is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.used, port)
}
