package repository

import (
	"testing"
	"time"

	"github.com/samber/lo"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

func newTestDB(t *testing.T) *DeploymentRepositoryImpl {
	t.Helper()
	db := lo.Must(NewMemoryDB())
	return &DeploymentRepositoryImpl{db: db}
}

func TestDeploymentRepository(t *testing.T) {
	ctx := t.Context()
	repo := newTestDB(t)

	dep := &entity.Deployment{Name: "blog", RepoURL: "https://example.com/blog.git"}
	dep.FillDefaults()

	t.Run("create and get", func(t *testing.T) {
		created, err := repo.Create(ctx, dep)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if created.ID.IsZero() {
			t.Fatal("expected assigned ID")
		}
		dep = created

		got, err := repo.GetByName(ctx, "blog")
		if err != nil {
			t.Fatalf("GetByName: %v", err)
		}
		if got.Status != entity.DeploymentStatusPending {
			t.Errorf("status = %q, want pending", got.Status)
		}
	})

	t.Run("status CAS succeeds once", func(t *testing.T) {
		ok, err := repo.UpdateStatusIf(ctx, dep.ID, entity.DeploymentStatusPending, entity.DeploymentStatusBuilding)
		if err != nil {
			t.Fatalf("UpdateStatusIf: %v", err)
		}
		if !ok {
			t.Fatal("expected first CAS to win")
		}

		ok, err = repo.UpdateStatusIf(ctx, dep.ID, entity.DeploymentStatusPending, entity.DeploymentStatusBuilding)
		if err != nil {
			t.Fatalf("UpdateStatusIf: %v", err)
		}
		if ok {
			t.Fatal("expected stale CAS to lose")
		}

		got := lo.Must(repo.GetByID(ctx, dep.ID))
		if got.Status != entity.DeploymentStatusBuilding {
			t.Errorf("status = %q, want building", got.Status)
		}
		if got.Generation != 1 {
			t.Errorf("generation = %d, want 1", got.Generation)
		}
	})

	t.Run("last error round-trips", func(t *testing.T) {
		if err := repo.SetLastError(ctx, dep.ID, "install failed"); err != nil {
			t.Fatalf("SetLastError: %v", err)
		}
		got := lo.Must(repo.GetByID(ctx, dep.ID))
		if got.LastError != "install failed" {
			t.Errorf("last error = %q", got.LastError)
		}
	})
}

func TestRestartAttemptRepository(t *testing.T) {
	ctx := t.Context()
	db := lo.Must(NewMemoryDB())
	repo := NewRestartAttemptRepository(db)

	base := time.Now().Add(-time.Hour)
	for i := range 3 {
		_, err := repo.Append(ctx, &entity.RestartAttempt{
			DeploymentID:  entity.NewID(uint(7)),
			AttemptNumber: i + 1,
			Executed:      true,
			StartedAt:     base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	attempts, err := repo.ListSince(ctx, entity.NewID(uint(7)), base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("got %d attempts, want 2", len(attempts))
	}
	if attempts[0].AttemptNumber != 2 || attempts[1].AttemptNumber != 3 {
		t.Errorf("wrong ordering: %d, %d", attempts[0].AttemptNumber, attempts[1].AttemptNumber)
	}

	if err := repo.Finish(ctx, attempts[0].ID, true, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	recent := lo.Must(repo.ListRecent(ctx, entity.NewID(uint(7)), 10))
	var finished *entity.RestartAttempt
	for _, a := range recent {
		if a.ID == attempts[0].ID {
			finished = a
		}
	}
	if finished == nil || !finished.Success || finished.FinishedAt.IsZero() {
		t.Error("expected finished attempt with success flag and timestamp")
	}
}

func TestWebhookRepository(t *testing.T) {
	ctx := t.Context()
	db := lo.Must(NewMemoryDB())
	repo := NewWebhookRepository(db)

	hook, err := repo.Create(ctx, &entity.Webhook{
		DeploymentID: entity.NewID(uint(3)),
		Secret:       "s3cret",
		BranchFilter: "main",
		Enabled:      true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetBySecret(ctx, "s3cret")
	if err != nil {
		t.Fatalf("GetBySecret: %v", err)
	}
	if got.ID != hook.ID {
		t.Errorf("ID = %s, want %s", got.ID, hook.ID)
	}

	if _, err := repo.GetBySecret(ctx, "nope"); err == nil {
		t.Error("expected miss for unknown secret")
	}

	if err := repo.RecordDelivery(ctx, &entity.WebhookDelivery{
		WebhookID: hook.ID,
		Event:     "push",
		Ref:       "refs/heads/main",
		Accepted:  true,
		Message:   "deployment queued",
	}); err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}
	deliveries := lo.Must(repo.ListDeliveries(ctx, hook.ID, 5))
	if len(deliveries) != 1 || !deliveries[0].Accepted {
		t.Fatalf("unexpected deliveries: %+v", deliveries)
	}
}
