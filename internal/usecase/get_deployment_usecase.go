package usecase

import (
	"context"
	"errors"

	"github.com/samber/do"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/repository"
)

type GetDeploymentUsecase interface {
	Execute(ctx context.Context, id entity.ID) (*DeploymentDetail, error)
}

// DeploymentDetail is the single-deployment view: the row itself plus the
// recent restart history and the stored restart policy, if any.
type DeploymentDetail struct {
	Deployment     *entity.Deployment       `json:"deployment"`
	RestartPolicy  *entity.RestartPolicy    `json:"restart_policy,omitempty"`
	RecentAttempts []*entity.RestartAttempt `json:"recent_attempts"`
}

type getDeploymentUsecaseImpl struct {
	deployments repository.DeploymentRepository
	policies    repository.RestartPolicyRepository
	attempts    repository.RestartAttemptRepository
}

// Execute implements GetDeploymentUsecase.
func (u *getDeploymentUsecaseImpl) Execute(ctx context.Context, id entity.ID) (*DeploymentDetail, error) {
	dep, err := u.deployments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &DeploymentDetail{Deployment: dep}

	policy, err := u.policies.GetByDeployment(ctx, id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	detail.RestartPolicy = policy

	attempts, err := u.attempts.ListRecent(ctx, id, 20)
	if err != nil {
		return nil, err
	}
	detail.RecentAttempts = attempts
	return detail, nil
}

func NewGetDeploymentUsecase(i *do.Injector) (GetDeploymentUsecase, error) {
	return &getDeploymentUsecaseImpl{
		deployments: do.MustInvoke[repository.DeploymentRepository](i),
		policies:    do.MustInvoke[repository.RestartPolicyRepository](i),
		attempts:    do.MustInvoke[repository.RestartAttemptRepository](i),
	}, nil
}
