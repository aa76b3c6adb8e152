package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

type RestartPolicyRepository interface {
	Upsert(ctx context.Context, policy *entity.RestartPolicy) (*entity.RestartPolicy, error)
	GetByDeployment(ctx context.Context, deploymentID entity.ID) (*entity.RestartPolicy, error)
	Delete(ctx context.Context, deploymentID entity.ID) error
}

type RestartPolicyRepositoryImpl struct {
	db *gorm.DB
}

// Upsert implements RestartPolicyRepository.
func (r *RestartPolicyRepositoryImpl) Upsert(ctx context.Context, policy *entity.RestartPolicy) (*entity.RestartPolicy, error) {
	existing, err := gorm.G[RestartPolicy](r.db).Where("deployment_id = ?", policy.DeploymentID.Uint()).First(ctx)
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}

	var model RestartPolicy
	model.FromEntity(policy)
	if err == nil {
		model.ID = existing.ID
		if _, err := gorm.G[RestartPolicy](r.db).Where("id = ?", existing.ID).Updates(ctx, model); err != nil {
			return nil, err
		}
		return r.GetByDeployment(ctx, policy.DeploymentID)
	}

	if err := gorm.G[RestartPolicy](r.db).Create(ctx, &model); err != nil {
		return nil, err
	}
	return model.ToEntity(), nil
}

// GetByDeployment implements RestartPolicyRepository.
func (r *RestartPolicyRepositoryImpl) GetByDeployment(ctx context.Context, deploymentID entity.ID) (*entity.RestartPolicy, error) {
	found, err := gorm.G[RestartPolicy](r.db).Where("deployment_id = ?", deploymentID.Uint()).First(ctx)
	if err != nil {
		return nil, err
	}
	return found.ToEntity(), nil
}

// Delete implements RestartPolicyRepository.
func (r *RestartPolicyRepositoryImpl) Delete(ctx context.Context, deploymentID entity.ID) error {
	_, err := gorm.G[RestartPolicy](r.db).Where("deployment_id = ?", deploymentID.Uint()).Delete(ctx)
	return err
}

func NewRestartPolicyRepository(db *gorm.DB) RestartPolicyRepository {
	return &RestartPolicyRepositoryImpl{db: db}
}

// RestartAttemptRepository is the durable audit trail behind the restart
// engine; every policy evaluation lands here, executed or not.
type RestartAttemptRepository interface {
	Append(ctx context.Context, attempt *entity.RestartAttempt) (*entity.RestartAttempt, error)
	ListSince(ctx context.Context, deploymentID entity.ID, since time.Time) ([]*entity.RestartAttempt, error)
	ListRecent(ctx context.Context, deploymentID entity.ID, limit int) ([]*entity.RestartAttempt, error)
	Finish(ctx context.Context, id entity.ID, success bool, errorMessage string) error
}

type RestartAttemptRepositoryImpl struct {
	db *gorm.DB
}

// Append implements RestartAttemptRepository.
func (r *RestartAttemptRepositoryImpl) Append(ctx context.Context, attempt *entity.RestartAttempt) (*entity.RestartAttempt, error) {
	var model RestartAttempt
	model.FromEntity(attempt)
	err := gorm.G[RestartAttempt](r.db).Create(ctx, &model)
	if err != nil {
		return nil, err
	}
	return model.ToEntity(), nil
}

// ListSince implements RestartAttemptRepository. Rows come back oldest first.
func (r *RestartAttemptRepositoryImpl) ListSince(ctx context.Context, deploymentID entity.ID, since time.Time) ([]*entity.RestartAttempt, error) {
	founds, err := gorm.G[RestartAttempt](r.db).
		Where("deployment_id = ? AND started_at >= ?", deploymentID.Uint(), since).
		Order("started_at ASC").
		Find(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*entity.RestartAttempt, len(founds))
	for i, f := range founds {
		result[i] = f.ToEntity()
	}
	return result, nil
}

// ListRecent implements RestartAttemptRepository.
func (r *RestartAttemptRepositoryImpl) ListRecent(ctx context.Context, deploymentID entity.ID, limit int) ([]*entity.RestartAttempt, error) {
	founds, err := gorm.G[RestartAttempt](r.db).
		Where("deployment_id = ?", deploymentID.Uint()).
		Order("started_at DESC").
		Limit(limit).
		Find(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*entity.RestartAttempt, len(founds))
	for i, f := range founds {
		result[i] = f.ToEntity()
	}
	return result, nil
}

// Finish implements RestartAttemptRepository.
func (r *RestartAttemptRepositoryImpl) Finish(ctx context.Context, id entity.ID, success bool, errorMessage string) error {
	return r.db.WithContext(ctx).Model(&RestartAttempt{}).
		Where("id = ?", id.Uint()).
		Updates(map[string]any{
			"success":       success,
			"error_message": errorMessage,
			"finished_at":   time.Now(),
		}).Error
}

func NewRestartAttemptRepository(db *gorm.DB) RestartAttemptRepository {
	return &RestartAttemptRepositoryImpl{db: db}
}
