package usecase

import (
	"context"

	"github.com/samber/do"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/lifecycle"
)

type DeployDeploymentUsecase interface {
	Execute(ctx context.Context, id entity.ID) error
}

type deployDeploymentUsecaseImpl struct {
	machine *lifecycle.Machine
}

// Execute implements DeployDeploymentUsecase.
func (u *deployDeploymentUsecaseImpl) Execute(ctx context.Context, id entity.ID) error {
	return u.machine.Deploy(ctx, id)
}

func NewDeployDeploymentUsecase(i *do.Injector) (DeployDeploymentUsecase, error) {
	return &deployDeploymentUsecaseImpl{
		machine: do.MustInvoke[*lifecycle.Machine](i),
	}, nil
}
