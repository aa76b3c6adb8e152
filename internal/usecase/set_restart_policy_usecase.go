package usecase

import (
	"context"
	"fmt"

	"github.com/samber/do"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/repository"
)

type SetRestartPolicyUsecase interface {
	Execute(ctx context.Context, policy *entity.RestartPolicy) (*entity.RestartPolicy, error)
}

type setRestartPolicyUsecaseImpl struct {
	deployments repository.DeploymentRepository
	policies    repository.RestartPolicyRepository
}

// Execute implements SetRestartPolicyUsecase.
func (u *setRestartPolicyUsecaseImpl) Execute(ctx context.Context, policy *entity.RestartPolicy) (*entity.RestartPolicy, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrValidation, err)
	}
	if _, err := u.deployments.GetByID(ctx, policy.DeploymentID); err != nil {
		return nil, err
	}
	return u.policies.Upsert(ctx, policy)
}

func NewSetRestartPolicyUsecase(i *do.Injector) (SetRestartPolicyUsecase, error) {
	return &setRestartPolicyUsecaseImpl{
		deployments: do.MustInvoke[repository.DeploymentRepository](i),
		policies:    do.MustInvoke[repository.RestartPolicyRepository](i),
	}, nil
}
