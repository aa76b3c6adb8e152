package restart

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

type memoryAttemptStore struct {
	attempts []*entity.RestartAttempt
	nextID   uint
}

func (s *memoryAttemptStore) Append(ctx context.Context, a *entity.RestartAttempt) (*entity.RestartAttempt, error) {
	s.nextID++
	a.ID = entity.NewID(s.nextID)
	s.attempts = append(s.attempts, a)
	return a, nil
}

func (s *memoryAttemptStore) ListSince(ctx context.Context, deploymentID entity.ID, since time.Time) ([]*entity.RestartAttempt, error) {
	var out []*entity.RestartAttempt
	for _, a := range s.attempts {
		if a.DeploymentID == deploymentID && a.StartedAt.After(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memoryAttemptStore) Finish(ctx context.Context, id entity.ID, success bool, errorMessage string) error {
	for _, a := range s.attempts {
		if a.ID == id {
			a.Success = success
			a.ErrorMessage = errorMessage
			a.FinishedAt = time.Now()
		}
	}
	return nil
}

type fixedProber struct{ healthy bool }

func (p fixedProber) Probe(ctx context.Context, d *entity.Deployment) (bool, error) {
	return p.healthy, nil
}

func testEngine(store AttemptStore, prober HealthProber) *Engine {
	return NewEngine(store, prober, zerolog.New(io.Discard).Level(zerolog.Disabled))
}

func backoffPolicy() *entity.RestartPolicy {
	return &entity.RestartPolicy{
		ID:           entity.NewID(uint(1)),
		Type:         entity.RestartPolicyBackoff,
		Enabled:      true,
		MaxRestarts:  5,
		TimeWindow:   time.Hour,
		InitialDelay: 10 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
		Cooldown:     30 * time.Minute,
	}
}

func testDeployment() *entity.Deployment {
	return &entity.Deployment{ID: entity.NewID(uint(7)), Name: "svc"}
}

func TestBackoffDelaysIncrease(t *testing.T) {
	store := &memoryAttemptStore{}
	e := testEngine(store, nil)
	dep := testDeployment()
	policy := backoffPolicy()

	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}
	for i, expected := range want {
		d, err := e.Evaluate(context.Background(), dep, policy, "start task failed")
		if err != nil {
			t.Fatalf("Evaluate #%d: %v", i+1, err)
		}
		if !d.ShouldRestart {
			t.Fatalf("evaluation #%d declined: %s", i+1, d.Reason)
		}
		if d.Delay != expected {
			t.Fatalf("delay #%d = %s; want %s", i+1, d.Delay, expected)
		}
		if d.Attempt.AttemptNumber != i+1 {
			t.Fatalf("attempt number = %d; want %d", d.Attempt.AttemptNumber, i+1)
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	store := &memoryAttemptStore{}
	e := testEngine(store, nil)
	dep := testDeployment()
	policy := backoffPolicy()
	policy.MaxRestarts = 100

	var prev time.Duration
	for i := 0; i < 12; i++ {
		d, err := e.Evaluate(context.Background(), dep, policy, "crash")
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if d.Delay > policy.MaxDelay {
			t.Fatalf("delay %s exceeds max %s", d.Delay, policy.MaxDelay)
		}
		if d.Delay < prev {
			t.Fatalf("delay decreased: %s after %s", d.Delay, prev)
		}
		prev = d.Delay
	}
	if prev != policy.MaxDelay {
		t.Fatalf("delay never reached cap: %s", prev)
	}
}

func TestCooldownAfterBudgetExhausted(t *testing.T) {
	store := &memoryAttemptStore{}
	e := testEngine(store, nil)
	now := time.Now()
	e.now = func() time.Time { return now }
	dep := testDeployment()
	policy := backoffPolicy()
	policy.MaxRestarts = 2

	for i := 0; i < 2; i++ {
		d, err := e.Evaluate(context.Background(), dep, policy, "crash")
		if err != nil || !d.ShouldRestart {
			t.Fatalf("warm-up evaluation #%d: %+v %v", i, d, err)
		}
		now = now.Add(time.Second)
	}

	// Budget exhausted: declined regardless of new failures.
	for i := 0; i < 3; i++ {
		d, err := e.Evaluate(context.Background(), dep, policy, "crash")
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if d.ShouldRestart {
			t.Fatalf("expected decline during cooldown, got restart")
		}
		now = now.Add(time.Minute)
	}

	// Past cooldown (and window) the budget resets.
	now = now.Add(policy.Cooldown + policy.TimeWindow)
	d, err := e.Evaluate(context.Background(), dep, policy, "crash")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.ShouldRestart {
		t.Fatalf("expected restart after cooldown, got decline: %s", d.Reason)
	}
}

func TestNeverPolicyDeclines(t *testing.T) {
	store := &memoryAttemptStore{}
	e := testEngine(store, nil)
	policy := backoffPolicy()
	policy.Type = entity.RestartPolicyNever

	d, err := e.Evaluate(context.Background(), testDeployment(), policy, "crash")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.ShouldRestart {
		t.Fatal("never policy must not restart")
	}
	// Decline is still recorded for audit.
	if len(store.attempts) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(store.attempts))
	}
}

func TestOnFailureUsesInitialDelay(t *testing.T) {
	store := &memoryAttemptStore{}
	e := testEngine(store, nil)
	policy := backoffPolicy()
	policy.Type = entity.RestartPolicyOnFailure

	for i := 0; i < 3; i++ {
		d, err := e.Evaluate(context.Background(), testDeployment(), policy, "crash")
		if err != nil || !d.ShouldRestart {
			t.Fatalf("Evaluate: %+v %v", d, err)
		}
		if d.Delay != policy.InitialDelay {
			t.Fatalf("delay = %s; want %s", d.Delay, policy.InitialDelay)
		}
	}
}

func TestRequireHealthCheckDefersToProbe(t *testing.T) {
	store := &memoryAttemptStore{}
	e := testEngine(store, fixedProber{healthy: true})
	policy := backoffPolicy()
	policy.RequireHealthCheck = true

	d, err := e.Evaluate(context.Background(), testDeployment(), policy, "monitor glitch")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.ShouldRestart {
		t.Fatal("healthy probe must veto the restart")
	}

	e = testEngine(&memoryAttemptStore{}, fixedProber{healthy: false})
	d, err = e.Evaluate(context.Background(), testDeployment(), policy, "real crash")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.ShouldRestart {
		t.Fatalf("unhealthy probe must allow the restart: %s", d.Reason)
	}
}

func TestInvalidPolicyRejected(t *testing.T) {
	e := testEngine(&memoryAttemptStore{}, nil)
	policy := backoffPolicy()
	policy.Multiplier = 1.0
	if _, err := e.Evaluate(context.Background(), testDeployment(), policy, "crash"); err == nil {
		t.Fatal("expected validation error for multiplier <= 1")
	}
}

func TestAttemptNumbersStrictlyIncrease(t *testing.T) {
	store := &memoryAttemptStore{}
	e := testEngine(store, nil)
	policy := backoffPolicy()
	policy.MaxRestarts = 2

	for i := 0; i < 5; i++ {
		if _, err := e.Evaluate(context.Background(), testDeployment(), policy, "crash"); err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
	}
	for i := 1; i < len(store.attempts); i++ {
		if store.attempts[i].AttemptNumber <= store.attempts[i-1].AttemptNumber {
			t.Fatalf("attempt numbers not strictly increasing: %d then %d",
				store.attempts[i-1].AttemptNumber, store.attempts[i].AttemptNumber)
		}
	}
}
