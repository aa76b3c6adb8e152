package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

// Sweep force-fails deployments stuck in BUILDING or STARTING beyond the
// staleness threshold, typically after a crash mid-deploy.
func (m *Machine) Sweep(ctx context.Context, threshold time.Duration) {
	cutoff := time.Now().Add(-threshold)
	for _, status := range []entity.DeploymentStatus{
		entity.DeploymentStatusBuilding,
		entity.DeploymentStatusStarting,
	} {
		deps, err := m.deps.Deployments.ListByStatus(ctx, status)
		if err != nil {
			m.log.Error().Err(err).Str("status", string(status)).Msg("sweep: list deployments")
			continue
		}
		for _, dep := range deps {
			if dep.UpdatedAt.After(cutoff) {
				continue
			}
			m.locks.Lock(dep.ID.String())
			err := m.fail(ctx, dep, fmt.Errorf("stuck in %s for more than %s", status, threshold))
			m.locks.Unlock(dep.ID.String())
			m.log.Warn().Err(err).Str("deployment", dep.Name).Msg("stale deployment force-failed")
		}
	}
}

// RunSweeper loops Sweep and CheckAll until the context ends.
func (m *Machine) RunSweeper(ctx context.Context, threshold, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx, threshold)
			m.CheckAll(ctx)
		}
	}
}
