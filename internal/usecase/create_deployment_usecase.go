package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/do"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/repository"
	"github.com/DagiiM/webops-sub005/internal/utils"
)

type CreateDeploymentUsecase interface {
	Execute(ctx context.Context, dep *entity.Deployment) (*CreateDeploymentResult, error)
}

// CreateDeploymentResult carries the webhook secret back to the caller; it
// is shown once at creation and never again.
type CreateDeploymentResult struct {
	Deployment    *entity.Deployment `json:"deployment"`
	WebhookSecret string             `json:"webhook_secret"`
}

type createDeploymentUsecaseImpl struct {
	deployments repository.DeploymentRepository
	webhooks    repository.WebhookRepository
}

// Execute implements CreateDeploymentUsecase.
func (u *createDeploymentUsecaseImpl) Execute(ctx context.Context, dep *entity.Deployment) (*CreateDeploymentResult, error) {
	if dep.Name == "" || dep.RepoURL == "" {
		return nil, fmt.Errorf("%w: name and repo_url are required", entity.ErrInvalid)
	}
	dep.Name = utils.SanitizeName(dep.Name)
	dep.FillDefaults()

	if _, err := u.deployments.GetByName(ctx, dep.Name); err == nil {
		return nil, fmt.Errorf("%w: deployment %q already exists", entity.ErrConflict, dep.Name)
	}

	created, err := u.deployments.Create(ctx, dep)
	if err != nil {
		return nil, err
	}

	secret := uuid.NewString()
	if _, err := u.webhooks.Create(ctx, &entity.Webhook{
		DeploymentID: created.ID,
		Secret:       secret,
		BranchFilter: created.Branch,
		Enabled:      true,
	}); err != nil {
		return nil, err
	}

	return &CreateDeploymentResult{Deployment: created, WebhookSecret: secret}, nil
}

func NewCreateDeploymentUsecase(i *do.Injector) (CreateDeploymentUsecase, error) {
	return &createDeploymentUsecaseImpl{
		deployments: do.MustInvoke[repository.DeploymentRepository](i),
		webhooks:    do.MustInvoke[repository.WebhookRepository](i),
	}, nil
}
