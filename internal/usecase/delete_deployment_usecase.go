package usecase

import (
	"context"

	"github.com/samber/do"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/lifecycle"
)

type DeleteDeploymentUsecase interface {
	Execute(ctx context.Context, id entity.ID) error
}

type deleteDeploymentUsecaseImpl struct {
	machine *lifecycle.Machine
}

// Execute implements DeleteDeploymentUsecase.
func (u *deleteDeploymentUsecaseImpl) Execute(ctx context.Context, id entity.ID) error {
	return u.machine.Delete(ctx, id)
}

func NewDeleteDeploymentUsecase(i *do.Injector) (DeleteDeploymentUsecase, error) {
	return &deleteDeploymentUsecaseImpl{
		machine: do.MustInvoke[*lifecycle.Machine](i),
	}, nil
}
