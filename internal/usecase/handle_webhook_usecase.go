package usecase

import (
	"context"

	"github.com/samber/do"

	"github.com/DagiiM/webops-sub005/internal/webhook"
)

type HandleWebhookUsecase interface {
	Execute(ctx context.Context, secret string, payload []byte, signature, event string) (webhook.Result, error)
}

type handleWebhookUsecaseImpl struct {
	bridge *webhook.Bridge
}

// Execute implements HandleWebhookUsecase.
func (u *handleWebhookUsecaseImpl) Execute(ctx context.Context, secret string, payload []byte, signature, event string) (webhook.Result, error) {
	return u.bridge.Handle(ctx, secret, payload, signature, event)
}

func NewHandleWebhookUsecase(i *do.Injector) (HandleWebhookUsecase, error) {
	return &handleWebhookUsecaseImpl{
		bridge: do.MustInvoke[*webhook.Bridge](i),
	}, nil
}
