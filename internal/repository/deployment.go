package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

type DeploymentRepository interface {
	Create(ctx context.Context, dep *entity.Deployment) (*entity.Deployment, error)
	GetByID(ctx context.Context, id entity.ID) (*entity.Deployment, error)
	GetByName(ctx context.Context, name string) (*entity.Deployment, error)
	List(ctx context.Context) ([]*entity.Deployment, error)
	ListByStatus(ctx context.Context, status entity.DeploymentStatus) ([]*entity.Deployment, error)
	Update(ctx context.Context, dep *entity.Deployment) (*entity.Deployment, error)
	// UpdateStatusIf moves a deployment from one status to another only when
	// the stored status still matches, bumping the generation counter. It
	// returns false when another writer got there first.
	UpdateStatusIf(ctx context.Context, id entity.ID, from, to entity.DeploymentStatus) (bool, error)
	SetLastError(ctx context.Context, id entity.ID, message string) error
	SetSealedEnv(ctx context.Context, id entity.ID, sealed []byte) error
	Delete(ctx context.Context, id entity.ID) error
}

type DeploymentRepositoryImpl struct {
	db *gorm.DB
}

// Create implements DeploymentRepository.
func (r *DeploymentRepositoryImpl) Create(ctx context.Context, dep *entity.Deployment) (*entity.Deployment, error) {
	var model Deployment
	model.FromEntity(dep)
	err := gorm.G[Deployment](r.db).Create(ctx, &model)
	if err != nil {
		return nil, err
	}
	return model.ToEntity(), nil
}

// GetByID implements DeploymentRepository.
func (r *DeploymentRepositoryImpl) GetByID(ctx context.Context, id entity.ID) (*entity.Deployment, error) {
	found, err := gorm.G[Deployment](r.db).Where("id = ?", id.Uint()).First(ctx)
	if err != nil {
		return nil, err
	}
	return found.ToEntity(), nil
}

// GetByName implements DeploymentRepository.
func (r *DeploymentRepositoryImpl) GetByName(ctx context.Context, name string) (*entity.Deployment, error) {
	found, err := gorm.G[Deployment](r.db).Where("name = ?", name).First(ctx)
	if err != nil {
		return nil, err
	}
	return found.ToEntity(), nil
}

// List implements DeploymentRepository.
func (r *DeploymentRepositoryImpl) List(ctx context.Context) ([]*entity.Deployment, error) {
	founds, err := gorm.G[Deployment](r.db).Order("name").Find(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*entity.Deployment, len(founds))
	for i, f := range founds {
		result[i] = f.ToEntity()
	}
	return result, nil
}

// ListByStatus implements DeploymentRepository.
func (r *DeploymentRepositoryImpl) ListByStatus(ctx context.Context, status entity.DeploymentStatus) ([]*entity.Deployment, error) {
	founds, err := gorm.G[Deployment](r.db).Where("status = ?", string(status)).Find(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*entity.Deployment, len(founds))
	for i, f := range founds {
		result[i] = f.ToEntity()
	}
	return result, nil
}

// Update implements DeploymentRepository.
func (r *DeploymentRepositoryImpl) Update(ctx context.Context, dep *entity.Deployment) (*entity.Deployment, error) {
	var model Deployment
	model.FromEntity(dep)
	_, err := gorm.G[Deployment](r.db).Where("id = ?", dep.ID.Uint()).Updates(ctx, model)
	if err != nil {
		return nil, err
	}

	return r.GetByID(ctx, dep.ID)
}

// UpdateStatusIf implements DeploymentRepository.
func (r *DeploymentRepositoryImpl) UpdateStatusIf(ctx context.Context, id entity.ID, from, to entity.DeploymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Deployment{}).
		Where("id = ? AND status = ?", id.Uint(), string(from)).
		Updates(map[string]any{
			"status":     string(to),
			"generation": gorm.Expr("generation + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetLastError implements DeploymentRepository.
func (r *DeploymentRepositoryImpl) SetLastError(ctx context.Context, id entity.ID, message string) error {
	_, err := gorm.G[Deployment](r.db).Where("id = ?", id.Uint()).Update(ctx, "last_error", message)
	return err
}

// SetSealedEnv implements DeploymentRepository.
func (r *DeploymentRepositoryImpl) SetSealedEnv(ctx context.Context, id entity.ID, sealed []byte) error {
	return r.db.WithContext(ctx).Model(&Deployment{}).
		Where("id = ?", id.Uint()).
		Update("sealed_env", sealed).Error
}

// Delete implements DeploymentRepository.
func (r *DeploymentRepositoryImpl) Delete(ctx context.Context, id entity.ID) error {
	_, err := gorm.G[Deployment](r.db).Where("id = ?", id.Uint()).Delete(ctx)
	return err
}

func NewDeploymentRepository(db *gorm.DB) DeploymentRepository {
	return &DeploymentRepositoryImpl{db: db}
}
