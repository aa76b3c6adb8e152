package restart

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/utils"
)

// AttemptStore is the slice of persistence the engine needs: append-only
// attempt history per deployment, newest last.
type AttemptStore interface {
	Append(ctx context.Context, attempt *entity.RestartAttempt) (*entity.RestartAttempt, error)
	ListSince(ctx context.Context, deploymentID entity.ID, since time.Time) ([]*entity.RestartAttempt, error)
	Finish(ctx context.Context, id entity.ID, success bool, errorMessage string) error
}

// HealthProber independently confirms a process is actually down, guarding
// against transient monitor glitches.
type HealthProber interface {
	Probe(ctx context.Context, deployment *entity.Deployment) (healthy bool, err error)
}

// Decision is the outcome of one policy evaluation.
type Decision struct {
	ShouldRestart bool
	Delay         time.Duration
	Attempt       *entity.RestartAttempt
	Reason        string
}

// Engine applies a deployment's restart policy to its failure history.
// Evaluations for the same deployment are serialized; at most one restart
// decision is in flight per deployment.
type Engine struct {
	store  AttemptStore
	prober HealthProber
	locks  *utils.KeyedMutex
	log    zerolog.Logger
	now    func() time.Time
}

func NewEngine(store AttemptStore, prober HealthProber, log zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		prober: prober,
		locks:  utils.NewKeyedMutex(),
		log:    log,
		now:    time.Now,
	}
}

// Evaluate decides whether and when to restart a failed deployment. Every
// evaluation appends an attempt record for audit, including declined ones.
func (e *Engine) Evaluate(ctx context.Context, deployment *entity.Deployment, policy *entity.RestartPolicy, reason string) (Decision, error) {
	key := deployment.ID.String()
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	if err := policy.Validate(); err != nil {
		return Decision{}, fmt.Errorf("%w: restart policy for %s", entity.ErrValidation, deployment.Name)
	}

	if !policy.Enabled || policy.Type == entity.RestartPolicyNever {
		return e.decline(ctx, deployment, policy, reason, "policy disables restarts")
	}

	if policy.RequireHealthCheck && e.prober != nil {
		healthy, err := e.prober.Probe(ctx, deployment)
		if err == nil && healthy {
			return e.decline(ctx, deployment, policy, reason, "health probe says service is up")
		}
	}

	now := e.now()
	windowed, err := e.store.ListSince(ctx, deployment.ID, now.Add(-policy.TimeWindow))
	if err != nil {
		return Decision{}, fmt.Errorf("load restart history: %w", err)
	}
	executed := executedOnly(windowed)

	if len(executed) >= policy.MaxRestarts {
		last := executed[len(executed)-1]
		cooldownEnd := last.StartedAt.Add(policy.Cooldown)
		if now.Before(cooldownEnd) {
			return e.decline(ctx, deployment, policy, reason,
				fmt.Sprintf("retry budget exhausted, cooling down until %s", cooldownEnd.Format(time.RFC3339)))
		}
		// Cooldown elapsed: the budget resets and a fresh attempt may run.
	}

	delay := e.computeDelay(policy, len(executed))
	attempt, err := e.record(ctx, deployment, policy, reason, delay)
	if err != nil {
		return Decision{}, err
	}

	e.log.Info().
		Str("deployment", deployment.Name).
		Int("attempt", attempt.AttemptNumber).
		Dur("delay", delay).
		Str("reason", reason).
		Msg("restart scheduled")
	return Decision{ShouldRestart: true, Delay: delay, Attempt: attempt, Reason: reason}, nil
}

// MarkOutcome fills in the success flag once the attempt's result is known.
// Attempt records are immutable afterwards.
func (e *Engine) MarkOutcome(ctx context.Context, attempt *entity.RestartAttempt, success bool, errorMessage string) error {
	return e.store.Finish(ctx, attempt.ID, success, errorMessage)
}

func (e *Engine) computeDelay(policy *entity.RestartPolicy, attemptCount int) time.Duration {
	switch policy.Type {
	case entity.RestartPolicyBackoff:
		delay := time.Duration(float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attemptCount)))
		if delay > policy.MaxDelay || delay < 0 {
			delay = policy.MaxDelay
		}
		return delay
	default:
		return policy.InitialDelay
	}
}

func (e *Engine) decline(ctx context.Context, deployment *entity.Deployment, policy *entity.RestartPolicy, reason, detail string) (Decision, error) {
	now := e.now()
	history, err := e.store.ListSince(ctx, deployment.ID, time.Time{})
	if err != nil {
		return Decision{}, fmt.Errorf("load restart history: %w", err)
	}
	attempt := &entity.RestartAttempt{
		DeploymentID:  deployment.ID,
		PolicyID:      policy.ID,
		AttemptNumber: nextAttemptNumber(history),
		Reason:        reason + ": " + detail,
		StartedAt:     now,
		FinishedAt:    now,
	}
	if _, err := e.store.Append(ctx, attempt); err != nil {
		return Decision{}, fmt.Errorf("record declined attempt: %w", err)
	}
	e.log.Info().Str("deployment", deployment.Name).Str("detail", detail).Msg("restart declined")
	return Decision{ShouldRestart: false, Reason: detail}, nil
}

func (e *Engine) record(ctx context.Context, deployment *entity.Deployment, policy *entity.RestartPolicy, reason string, delay time.Duration) (*entity.RestartAttempt, error) {
	history, err := e.store.ListSince(ctx, deployment.ID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("load restart history: %w", err)
	}
	attempt := &entity.RestartAttempt{
		DeploymentID:  deployment.ID,
		PolicyID:      policy.ID,
		AttemptNumber: nextAttemptNumber(history),
		Delay:         delay,
		Reason:        reason,
		Executed:      true,
		StartedAt:     e.now(),
	}
	return e.store.Append(ctx, attempt)
}

func nextAttemptNumber(history []*entity.RestartAttempt) int {
	max := 0
	for _, a := range history {
		if a.AttemptNumber > max {
			max = a.AttemptNumber
		}
	}
	return max + 1
}

func executedOnly(history []*entity.RestartAttempt) []*entity.RestartAttempt {
	var out []*entity.RestartAttempt
	for _, a := range history {
		if a.Executed {
			out = append(out, a)
		}
	}
	return out
}
