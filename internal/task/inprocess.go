package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

type inProcessJob struct {
	mu     sync.Mutex
	status Status
	result any
	err    error
	done   chan struct{}
}

// InProcess executes tasks on worker goroutines inside the calling process.
// Suitable for tests and single-node installs. True revocation is not
// supported: Revoke always reports false.
type InProcess struct {
	registry *Registry
	log      zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*inProcessJob

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

func NewInProcess(registry *Registry, log zerolog.Logger) *InProcess {
	return &InProcess{
		registry: registry,
		log:      log,
		jobs:     make(map[string]*inProcessJob),
	}
}

func (p *InProcess) Submit(ctx context.Context, name string, args map[string]any) (Handle, error) {
	fn, ok := p.registry.Lookup(name)
	if !ok {
		return Handle{}, fmt.Errorf("%w: unknown task %q", entity.ErrTaskSubmission, name)
	}

	job := &inProcessJob{status: StatusPending, done: make(chan struct{})}
	id := uuid.NewString()
	p.mu.Lock()
	p.jobs[id] = job
	p.mu.Unlock()
	p.submitted.Add(1)

	go func() {
		job.mu.Lock()
		job.status = StatusStarted
		job.mu.Unlock()

		result, err := fn(context.WithoutCancel(ctx), args)

		job.mu.Lock()
		if err != nil {
			job.status = StatusFailure
			job.err = fmt.Errorf("%w: task %s: %v", entity.ErrTaskExecution, name, err)
			p.failed.Add(1)
		} else {
			job.status = StatusSuccess
			job.result = result
			p.succeeded.Add(1)
		}
		job.mu.Unlock()
		close(job.done)
	}()

	return Handle{ID: id}, nil
}

func (p *InProcess) lookup(handle Handle) *inProcessJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobs[handle.ID]
}

func (p *InProcess) Status(handle Handle) Status {
	job := p.lookup(handle)
	if job == nil {
		return StatusPending
	}
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.status
}

// Result blocks until the job finishes or timeout elapses. A timeout is a
// distinct error kind from a failure inside the task itself.
func (p *InProcess) Result(ctx context.Context, handle Handle, timeout time.Duration) (any, error) {
	job := p.lookup(handle)
	if job == nil {
		return nil, fmt.Errorf("%w: unknown handle %s", entity.ErrTaskExecution, handle.ID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-job.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for task result: %v", entity.ErrTimeout, ctx.Err())
	case <-timer.C:
		return nil, fmt.Errorf("%w: task result not ready after %s", entity.ErrTimeout, timeout)
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	return job.result, job.err
}

func (p *InProcess) Revoke(handle Handle, terminate bool) bool { return false }

func (p *InProcess) Healthcheck(ctx context.Context) bool { return true }

func (p *InProcess) Metrics() map[string]int64 {
	return map[string]int64{
		"submitted": p.submitted.Load(),
		"succeeded": p.succeeded.Load(),
		"failed":    p.failed.Load(),
	}
}
