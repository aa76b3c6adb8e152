package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

type WebhookRepository interface {
	Create(ctx context.Context, hook *entity.Webhook) (*entity.Webhook, error)
	GetBySecret(ctx context.Context, secret string) (*entity.Webhook, error)
	GetByDeployment(ctx context.Context, deploymentID entity.ID) (*entity.Webhook, error)
	SetEnabled(ctx context.Context, id entity.ID, enabled bool) error
	Delete(ctx context.Context, id entity.ID) error
	RecordDelivery(ctx context.Context, delivery *entity.WebhookDelivery) error
	ListDeliveries(ctx context.Context, webhookID entity.ID, limit int) ([]*entity.WebhookDelivery, error)
}

type WebhookRepositoryImpl struct {
	db *gorm.DB
}

// Create implements WebhookRepository.
func (r *WebhookRepositoryImpl) Create(ctx context.Context, hook *entity.Webhook) (*entity.Webhook, error) {
	var model Webhook
	model.FromEntity(hook)
	err := gorm.G[Webhook](r.db).Create(ctx, &model)
	if err != nil {
		return nil, err
	}
	return model.ToEntity(), nil
}

// GetBySecret implements WebhookRepository.
func (r *WebhookRepositoryImpl) GetBySecret(ctx context.Context, secret string) (*entity.Webhook, error) {
	found, err := gorm.G[Webhook](r.db).Where("secret = ?", secret).First(ctx)
	if err != nil {
		return nil, err
	}
	return found.ToEntity(), nil
}

// GetByDeployment implements WebhookRepository.
func (r *WebhookRepositoryImpl) GetByDeployment(ctx context.Context, deploymentID entity.ID) (*entity.Webhook, error) {
	found, err := gorm.G[Webhook](r.db).Where("deployment_id = ?", deploymentID.Uint()).First(ctx)
	if err != nil {
		return nil, err
	}
	return found.ToEntity(), nil
}

// SetEnabled implements WebhookRepository.
func (r *WebhookRepositoryImpl) SetEnabled(ctx context.Context, id entity.ID, enabled bool) error {
	return r.db.WithContext(ctx).Model(&Webhook{}).
		Where("id = ?", id.Uint()).
		Update("enabled", enabled).Error
}

// Delete implements WebhookRepository.
func (r *WebhookRepositoryImpl) Delete(ctx context.Context, id entity.ID) error {
	_, err := gorm.G[Webhook](r.db).Where("id = ?", id.Uint()).Delete(ctx)
	return err
}

// RecordDelivery implements WebhookRepository.
func (r *WebhookRepositoryImpl) RecordDelivery(ctx context.Context, delivery *entity.WebhookDelivery) error {
	var model WebhookDelivery
	model.FromEntity(delivery)
	return gorm.G[WebhookDelivery](r.db).Create(ctx, &model)
}

// ListDeliveries implements WebhookRepository.
func (r *WebhookRepositoryImpl) ListDeliveries(ctx context.Context, webhookID entity.ID, limit int) ([]*entity.WebhookDelivery, error) {
	founds, err := gorm.G[WebhookDelivery](r.db).
		Where("webhook_id = ?", webhookID.Uint()).
		Order("created_at DESC").
		Limit(limit).
		Find(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*entity.WebhookDelivery, len(founds))
	for i, f := range founds {
		result[i] = f.ToEntity()
	}
	return result, nil
}

func NewWebhookRepository(db *gorm.DB) WebhookRepository {
	return &WebhookRepositoryImpl{db: db}
}
