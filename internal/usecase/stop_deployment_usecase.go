package usecase

import (
	"context"

	"github.com/samber/do"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/lifecycle"
)

type StopDeploymentUsecase interface {
	Execute(ctx context.Context, id entity.ID) error
}

type stopDeploymentUsecaseImpl struct {
	machine *lifecycle.Machine
}

// Execute implements StopDeploymentUsecase.
func (u *stopDeploymentUsecaseImpl) Execute(ctx context.Context, id entity.ID) error {
	return u.machine.Stop(ctx, id)
}

func NewStopDeploymentUsecase(i *do.Injector) (StopDeploymentUsecase, error) {
	return &stopDeploymentUsecaseImpl{
		machine: do.MustInvoke[*lifecycle.Machine](i),
	}, nil
}
