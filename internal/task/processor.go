package task

import (
	"context"
	"sync"
	"time"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusStarted Status = "STARTED"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusRevoked Status = "REVOKED"
)

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusRevoked
}

// Handle is an opaque reference to a submitted unit of work. Callers must
// not assume anything about the timing characteristics of the variant that
// issued it.
type Handle struct {
	ID string `json:"id"`
}

// Func is a registered task implementation.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Registry maps task names to implementations. Both processor variants
// execute through it.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Processor is the uniform submission interface over the in-process and
// distributed variants.
type Processor interface {
	Submit(ctx context.Context, name string, args map[string]any) (Handle, error)
	Status(handle Handle) Status
	Result(ctx context.Context, handle Handle, timeout time.Duration) (any, error)
	Revoke(handle Handle, terminate bool) bool
	Healthcheck(ctx context.Context) bool
	Metrics() map[string]int64
}
