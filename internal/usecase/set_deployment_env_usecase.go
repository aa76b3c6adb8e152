package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/do"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/repository"
	"github.com/DagiiM/webops-sub005/internal/secrets"
)

type SetDeploymentEnvUsecase interface {
	Execute(ctx context.Context, id entity.ID, env map[string]string) error
}

type setDeploymentEnvUsecaseImpl struct {
	deployments repository.DeploymentRepository
	box         *secrets.Box
}

// Execute implements SetDeploymentEnvUsecase. Values are sealed before they
// touch the database; they surface again only in the rendered env file.
func (u *setDeploymentEnvUsecaseImpl) Execute(ctx context.Context, id entity.ID, env map[string]string) error {
	if u.box == nil {
		return fmt.Errorf("%w: secret key not configured, cannot store environment", entity.ErrInvalid)
	}
	if _, err := u.deployments.GetByID(ctx, id); err != nil {
		return err
	}

	plain, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrInvalid, err)
	}
	sealed, err := u.box.EncryptString(string(plain))
	if err != nil {
		return err
	}
	return u.deployments.SetSealedEnv(ctx, id, sealed)
}

func NewSetDeploymentEnvUsecase(i *do.Injector) (SetDeploymentEnvUsecase, error) {
	return &setDeploymentEnvUsecaseImpl{
		deployments: do.MustInvoke[repository.DeploymentRepository](i),
		box:         do.MustInvoke[*secrets.Box](i),
	}, nil
}
