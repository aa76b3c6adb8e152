package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/task"
)

// Store is the persistence slice the bridge needs.
type Store interface {
	GetBySecret(ctx context.Context, secret string) (*entity.Webhook, error)
	RecordDelivery(ctx context.Context, delivery *entity.WebhookDelivery) error
}

// Result reports how an inbound delivery was handled.
type Result struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// pushPayload is the subset of a push event the bridge cares about. Commit
// data is inert: used only for filtering and audit display.
type pushPayload struct {
	Ref   string `json:"ref"`
	After string `json:"after"`
}

// Bridge validates inbound push events and turns accepted ones into deploy
// task submissions.
type Bridge struct {
	store     Store
	processor task.Processor
	log       zerolog.Logger
}

func NewBridge(store Store, processor task.Processor, log zerolog.Logger) *Bridge {
	return &Bridge{store: store, processor: processor, log: log}
}

// Handle validates the delivery and, when accepted, submits a deploy task.
// Signature verification runs over the exact raw payload bytes; the payload
// is only parsed after the signature holds.
func (b *Bridge) Handle(ctx context.Context, secret string, payload []byte, signature, event string) (Result, error) {
	hook, err := b.store.GetBySecret(ctx, secret)
	if err != nil {
		return Result{}, entity.ErrNotFound
	}

	if err := ValidateSignature(payload, []byte(hook.Secret), signature); err != nil {
		// Indistinguishable from an unknown secret beyond the status code.
		return Result{}, err
	}

	if !hook.Enabled {
		return b.finish(ctx, hook, event, "", "", false, "webhook is disabled")
	}

	if event == "ping" {
		return b.finish(ctx, hook, event, "", "", true, "pong")
	}
	if event != "" && event != "push" {
		return b.finish(ctx, hook, event, "", "", false, fmt.Sprintf("event %q is ignored", event))
	}

	var push pushPayload
	if err := json.Unmarshal(payload, &push); err != nil {
		return Result{}, fmt.Errorf("%w: malformed push payload", entity.ErrValidation)
	}

	branch, isBranch := strings.CutPrefix(push.Ref, "refs/heads/")
	if !isBranch {
		// Tag and other non-branch refs never trigger deploys.
		return b.finish(ctx, hook, event, push.Ref, push.After, false, fmt.Sprintf("ref %q is not a branch", push.Ref))
	}
	if hook.BranchFilter != "" && branch != hook.BranchFilter {
		return b.finish(ctx, hook, event, push.Ref, push.After, false,
			fmt.Sprintf("branch %q doesn't match filter %q", branch, hook.BranchFilter))
	}

	if _, err := b.processor.Submit(ctx, task.NameDeploy, map[string]any{
		"deployment_id": hook.DeploymentID.String(),
		"commit_sha":    push.After,
	}); err != nil {
		b.log.Error().Err(err).Str("deployment_id", hook.DeploymentID.String()).Msg("deploy task submission failed")
		if _, ferr := b.finish(ctx, hook, event, push.Ref, push.After, false, "deploy submission failed"); ferr != nil {
			return Result{}, ferr
		}
		return Result{}, err
	}

	return b.finish(ctx, hook, event, push.Ref, push.After, true, "deploy queued for "+branch)
}

func (b *Bridge) finish(ctx context.Context, hook *entity.Webhook, event, ref, sha string, accepted bool, message string) (Result, error) {
	delivery := &entity.WebhookDelivery{
		WebhookID: hook.ID,
		Event:     event,
		Ref:       ref,
		CommitSHA: sha,
		Accepted:  accepted,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := b.store.RecordDelivery(ctx, delivery); err != nil {
		b.log.Warn().Err(err).Str("webhook_id", hook.ID.String()).Msg("delivery audit write failed")
	}
	b.log.Info().
		Str("webhook_id", hook.ID.String()).
		Str("ref", ref).
		Bool("accepted", accepted).
		Str("message", message).
		Msg("webhook delivery handled")
	return Result{Accepted: accepted, Message: message}, nil
}

// ValidateSignature checks an X-Hub-Signature-256 style header against the
// raw payload using constant-time comparison.
func ValidateSignature(payload, secret []byte, header string) error {
	provided := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if provided == "" {
		return fmt.Errorf("%w: missing signature", entity.ErrSignatureValidation)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return fmt.Errorf("%w: signature mismatch", entity.ErrSignatureValidation)
	}
	return nil
}

// Sign computes the hex signature for a payload, prefixed the way GitHub
// sends it. Used by the test endpoint and by tests.
func Sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
