package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/do"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/logtail"
	"github.com/DagiiM/webops-sub005/internal/repository"
	"github.com/DagiiM/webops-sub005/internal/supervisor"
)

type StreamLogsUsecase interface {
	// Execute subscribes to the deployment's chunk stream, starting a tail
	// session on first use. The returned cancel func releases the
	// subscription and stops the session once no subscribers remain.
	Execute(ctx context.Context, id entity.ID) (<-chan logtail.Chunk, func(), error)
}

// sharedSession is one tail session fanned out to every concurrent
// subscriber of a deployment. Per-subscriber sessions would deliver each
// line once per session through the hub and interleave their sequence
// counters.
type sharedSession struct {
	session *logtail.Session
	refs    int
}

type streamLogsUsecaseImpl struct {
	deployments repository.DeploymentRepository
	super       supervisor.Supervisor
	tailer      *logtail.Tailer
	hub         *logtail.Hub

	mu       sync.Mutex
	sessions map[string]*sharedSession
}

// Execute implements StreamLogsUsecase.
func (u *streamLogsUsecaseImpl) Execute(ctx context.Context, id entity.ID) (<-chan logtail.Chunk, func(), error) {
	dep, err := u.deployments.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	paths := u.super.TailLogFiles(dep.Name)
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("%w: no log files for %s", entity.ErrNotFound, dep.Name)
	}

	key := dep.ID.String()
	u.mu.Lock()
	shared := u.sessions[key]
	if shared == nil {
		// The session lives past the request context; it ends when the
		// last subscriber cancels.
		session, err := u.tailer.Tail(context.Background(), key, paths, logtail.Config{})
		if err != nil {
			u.mu.Unlock()
			return nil, nil, err
		}
		shared = &sharedSession{session: session}
		u.sessions[key] = shared
	}
	shared.refs++
	u.mu.Unlock()

	chunks, unsubscribe := u.hub.Subscribe(key, 64)
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			unsubscribe()
			u.mu.Lock()
			shared.refs--
			if shared.refs == 0 {
				delete(u.sessions, key)
				shared.session.Stop()
			}
			u.mu.Unlock()
		})
	}
	return chunks, cancel, nil
}

func NewStreamLogsUsecase(i *do.Injector) (StreamLogsUsecase, error) {
	return &streamLogsUsecaseImpl{
		deployments: do.MustInvoke[repository.DeploymentRepository](i),
		super:       do.MustInvoke[supervisor.Supervisor](i),
		tailer:      do.MustInvoke[*logtail.Tailer](i),
		hub:         do.MustInvoke[*logtail.Hub](i),
		sessions:    map[string]*sharedSession{},
	}, nil
}
