package usecase

import (
	"context"

	"github.com/samber/do"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/lifecycle"
)

type RestartDeploymentUsecase interface {
	Execute(ctx context.Context, id entity.ID) error
}

type restartDeploymentUsecaseImpl struct {
	machine *lifecycle.Machine
}

// Execute implements RestartDeploymentUsecase.
func (u *restartDeploymentUsecaseImpl) Execute(ctx context.Context, id entity.ID) error {
	return u.machine.Restart(ctx, id)
}

func NewRestartDeploymentUsecase(i *do.Injector) (RestartDeploymentUsecase, error) {
	return &restartDeploymentUsecaseImpl{
		machine: do.MustInvoke[*lifecycle.Machine](i),
	}, nil
}
