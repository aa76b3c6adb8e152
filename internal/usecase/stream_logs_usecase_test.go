package usecase

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/logtail"
	"github.com/DagiiM/webops-sub005/internal/repository"
	"github.com/DagiiM/webops-sub005/internal/supervisor"
)

type staticLogSupervisor struct {
	paths []string
}

func (s staticLogSupervisor) Install(context.Context, string, string) error { return nil }
func (s staticLogSupervisor) Start(context.Context, string) error           { return nil }
func (s staticLogSupervisor) Stop(context.Context, string) error            { return nil }
func (s staticLogSupervisor) Remove(context.Context, string) error          { return nil }
func (s staticLogSupervisor) Status(context.Context, string) (supervisor.Status, error) {
	return supervisor.StatusActive, nil
}
func (s staticLogSupervisor) TailLogFiles(string) []string { return s.paths }

// countLine drains chunks until the deadline and counts deliveries of line.
func countLine(chunks <-chan logtail.Chunk, line string, deadline time.Time) int {
	count := 0
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return count
			}
			for _, l := range chunk.Lines {
				if strings.Contains(l, line) {
					count++
				}
			}
		case <-time.After(time.Until(deadline)):
			return count
		}
	}
}

func TestStreamLogsSharesSessionAcrossSubscribers(t *testing.T) {
	log := zerolog.New(io.Discard)
	db := lo.Must(repository.NewMemoryDB())
	deployments := repository.NewDeploymentRepository(db)

	logFile := filepath.Join(t.TempDir(), "web.log")
	lo.Must0(os.WriteFile(logFile, []byte("hello from service\n"), 0o644))

	dep := &entity.Deployment{Name: "web", RepoURL: "https://example.com/web.git"}
	dep.FillDefaults()
	dep = lo.Must(deployments.Create(t.Context(), dep))

	hub := logtail.NewHub()
	u := &streamLogsUsecaseImpl{
		deployments: deployments,
		super:       staticLogSupervisor{paths: []string{logFile}},
		tailer:      logtail.NewTailer(hub, log),
		hub:         hub,
		sessions:    map[string]*sharedSession{},
	}

	first, cancelFirst, err := u.Execute(t.Context(), dep.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	second, cancelSecond, err := u.Execute(t.Context(), dep.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	u.mu.Lock()
	if len(u.sessions) != 1 {
		t.Errorf("sessions = %d; want one shared session", len(u.sessions))
	}
	u.mu.Unlock()

	if got := countLine(first, "hello from service", time.Now().Add(2*time.Second)); got != 1 {
		t.Errorf("first subscriber saw the line %d times; want 1", got)
	}
	if got := countLine(second, "hello from service", time.Now().Add(2*time.Second)); got != 1 {
		t.Errorf("second subscriber saw the line %d times; want 1", got)
	}

	cancelFirst()
	u.mu.Lock()
	if len(u.sessions) != 1 {
		t.Errorf("session stopped while a subscriber remains")
	}
	u.mu.Unlock()

	// The surviving subscriber keeps receiving from the shared session.
	f := lo.Must(os.OpenFile(logFile, os.O_APPEND|os.O_WRONLY, 0o644))
	lo.Must(f.WriteString("second line\n"))
	lo.Must0(f.Close())
	if got := countLine(second, "second line", time.Now().Add(3*time.Second)); got != 1 {
		t.Errorf("second subscriber saw the appended line %d times; want 1", got)
	}

	cancelSecond()
	cancelSecond() // idempotent
	u.mu.Lock()
	if len(u.sessions) != 0 {
		t.Errorf("session not stopped after last unsubscribe")
	}
	u.mu.Unlock()
}
