package usecase

import (
	"context"

	"github.com/samber/do"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/repository"
)

type ListDeploymentsUsecase interface {
	Execute(ctx context.Context) ([]*entity.Deployment, error)
}

type listDeploymentsUsecaseImpl struct {
	deployments repository.DeploymentRepository
}

// Execute implements ListDeploymentsUsecase.
func (u *listDeploymentsUsecaseImpl) Execute(ctx context.Context) ([]*entity.Deployment, error) {
	return u.deployments.List(ctx)
}

func NewListDeploymentsUsecase(i *do.Injector) (ListDeploymentsUsecase, error) {
	return &listDeploymentsUsecaseImpl{
		deployments: do.MustInvoke[repository.DeploymentRepository](i),
	}, nil
}
