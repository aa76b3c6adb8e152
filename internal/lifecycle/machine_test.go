package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/DagiiM/webops-sub005/internal/artifact"
	"github.com/DagiiM/webops-sub005/internal/buildpack"
	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/notify"
	"github.com/DagiiM/webops-sub005/internal/ports"
	"github.com/DagiiM/webops-sub005/internal/repository"
	"github.com/DagiiM/webops-sub005/internal/restart"
	"github.com/DagiiM/webops-sub005/internal/secrets"
	"github.com/DagiiM/webops-sub005/internal/supervisor"
	"github.com/DagiiM/webops-sub005/internal/task"
)

type fakeSupervisor struct {
	mu        sync.Mutex
	installed map[string]string
	started   []string
	stopped   []string
	removed   []string
	startErr  error
	status    supervisor.Status
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{installed: map[string]string{}, status: supervisor.StatusActive}
}

func (f *fakeSupervisor) Install(_ context.Context, name, unit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed[name] = unit
	return nil
}

func (f *fakeSupervisor) Start(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, name)
	return f.startErr
}

func (f *fakeSupervisor) Stop(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, name)
	return nil
}

func (f *fakeSupervisor) Status(_ context.Context, _ string) (supervisor.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeSupervisor) Remove(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeSupervisor) TailLogFiles(name string) []string { return nil }

func (f *fakeSupervisor) setStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *fakeSupervisor) setStatus(s supervisor.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

type fakeRunner struct {
	mu       sync.Mutex
	commands []string
}

func (f *fakeRunner) RunShell(_ context.Context, _, command string, _ map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	return "", nil
}

type fakeProxy struct {
	mu     sync.Mutex
	routes map[string]string
}

func (f *fakeProxy) InstallRoute(_ context.Context, name, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.routes == nil {
		f.routes = map[string]string{}
	}
	f.routes[name] = content
	return nil
}

func (f *fakeProxy) RemoveRoute(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.routes, name)
	return nil
}

func (f *fakeProxy) Reload(context.Context) error { return nil }

type fakeFetcher struct {
	dir string
}

func (f *fakeFetcher) Fetch(_ context.Context, _, _, _ string) (string, string, error) {
	return f.dir, "abc1234def", nil
}

func (f *fakeFetcher) WorkDir(string) string { return f.dir }

type fakeDocker struct{}

func (fakeDocker) Deploy(context.Context, *entity.Deployment, string, string) error { return nil }
func (fakeDocker) Stop(context.Context, *entity.Deployment) error                   { return nil }
func (fakeDocker) Running(context.Context, *entity.Deployment) (bool, error)        { return true, nil }

type failingProcessor struct{}

func (failingProcessor) Submit(context.Context, string, map[string]any) (task.Handle, error) {
	return task.Handle{}, fmt.Errorf("queue unavailable")
}
func (failingProcessor) Status(task.Handle) task.Status { return task.StatusFailure }
func (failingProcessor) Result(context.Context, task.Handle, time.Duration) (any, error) {
	return nil, fmt.Errorf("queue unavailable")
}
func (failingProcessor) Revoke(task.Handle, bool) bool { return false }

func (failingProcessor) Healthcheck(context.Context) bool { return false }

func (failingProcessor) Metrics() map[string]int64 { return nil }

type statusProber struct {
	super *fakeSupervisor
}

func (p statusProber) Probe(ctx context.Context, dep *entity.Deployment) (bool, error) {
	s, err := p.super.Status(ctx, dep.Name)
	return s == supervisor.StatusActive, err
}

type harness struct {
	machine     *Machine
	deployments repository.DeploymentRepository
	policies    repository.RestartPolicyRepository
	super       *fakeSupervisor
	runner      *fakeRunner
	proxy       *fakeProxy
	box         *secrets.Box
	workdir     string
	delays      chan time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zerolog.New(io.Discard)
	db := lo.Must(repository.NewMemoryDB())

	h := &harness{
		deployments: repository.NewDeploymentRepository(db),
		policies:    repository.NewRestartPolicyRepository(db),
		super:       newFakeSupervisor(),
		runner:      &fakeRunner{},
		proxy:       &fakeProxy{},
		box:         lo.Must(secrets.NewBox("test-key")),
		workdir:     t.TempDir(),
		delays:      make(chan time.Duration, 16),
	}

	attempts := repository.NewRestartAttemptRepository(db)
	engine := restart.NewEngine(attempts, statusProber{h.super}, log)

	registry := task.NewRegistry()
	m := NewMachine(Deps{
		Deployments: h.deployments,
		Policies:    h.policies,
		Engine:      engine,
		Detector:    buildpack.NewDetector(),
		Renderer:    lo.Must(artifact.NewRenderer()),
		Supervisor:  h.super,
		Runner:      h.runner,
		Proxy:       h.proxy,
		Fetcher:     &fakeFetcher{dir: h.workdir},
		Docker:      fakeDocker{},
		Ports:       ports.NewAllocator(8100, 8110),
		Processor:   task.NewInProcess(registry, log),
		Notifier:    notify.NewNotifier(16, log),
		Secrets:     h.box,
		Logger:      log,
	})
	m.RegisterTasks(registry)
	m.schedule = func(delay time.Duration, fn func()) {
		h.delays <- delay
		go fn()
	}
	h.machine = m
	return h
}

func (h *harness) create(t *testing.T, dep *entity.Deployment) *entity.Deployment {
	t.Helper()
	dep.FillDefaults()
	return lo.Must(h.deployments.Create(t.Context(), dep))
}

func (h *harness) waitStatus(t *testing.T, id entity.ID, want entity.DeploymentStatus) *entity.Deployment {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		dep, err := h.deployments.GetByID(t.Context(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if dep.Status == want {
			return dep
		}
		time.Sleep(5 * time.Millisecond)
	}
	dep, _ := h.deployments.GetByID(t.Context(), id)
	t.Fatalf("deployment never reached %s, stuck at %s (last error %q)", want, dep.Status, dep.LastError)
	return nil
}

func TestTransitionTable(t *testing.T) {
	all := []entity.DeploymentStatus{
		entity.DeploymentStatusPending,
		entity.DeploymentStatusBuilding,
		entity.DeploymentStatusStarting,
		entity.DeploymentStatusRunning,
		entity.DeploymentStatusFailed,
		entity.DeploymentStatusStopped,
		entity.DeploymentStatusDeleted,
	}
	allowed := map[string]bool{
		"pending>building":  true,
		"building>starting": true,
		"building>failed":   true,
		"starting>running":  true,
		"starting>failed":   true,
		"starting>stopped":  true,
		"running>failed":    true,
		"running>stopped":   true,
		"failed>building":   true,
		"failed>starting":   true,
		"stopped>building":  true,
		"stopped>starting":  true,
	}
	for _, from := range all {
		for _, to := range all {
			key := fmt.Sprintf("%s>%s", from, to)
			want := allowed[key]
			// DELETED is reachable from everywhere but itself.
			if to == entity.DeploymentStatusDeleted && from != entity.DeploymentStatusDeleted {
				want = true
			}
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestDeployEndToEnd(t *testing.T) {
	h := newHarness(t)
	dep := h.create(t, &entity.Deployment{
		Name:    "blog",
		RepoURL: "https://example.com/blog.git",
		Runtime: entity.RuntimeDescriptor{
			InstallCommand: "npm ci",
			BuildCommand:   "npm run build",
			StartCommand:   "npm run start",
			Port:           3000,
		},
	})

	if err := h.machine.Deploy(t.Context(), dep.ID); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	final := h.waitStatus(t, dep.ID, entity.DeploymentStatusRunning)

	if final.Port < 8100 || final.Port > 8110 {
		t.Errorf("port %d not allocated from range", final.Port)
	}
	if len(h.runner.commands) != 2 || h.runner.commands[0] != "npm ci" {
		t.Errorf("build commands = %v", h.runner.commands)
	}
	if _, ok := h.super.installed["blog"]; !ok {
		t.Error("unit never installed")
	}
	if len(h.super.started) == 0 {
		t.Error("service never started")
	}
	if _, ok := h.proxy.routes["blog"]; !ok {
		t.Error("proxy route never installed")
	}
	if _, err := os.Stat(filepath.Join(h.workdir, ".env")); err != nil {
		t.Errorf("env file not written: %v", err)
	}
}

func TestDeployUnsealsEnvIntoFile(t *testing.T) {
	h := newHarness(t)
	dep := h.create(t, &entity.Deployment{
		Name:    "shop",
		RepoURL: "https://example.com/shop.git",
		Runtime: entity.RuntimeDescriptor{StartCommand: "npm run start", Port: 3000},
	})

	sealed := lo.Must(h.box.EncryptString(`{"DATABASE_URL":"postgres://localhost/shop"}`))
	lo.Must0(h.deployments.SetSealedEnv(t.Context(), dep.ID, sealed))

	if err := h.machine.Deploy(t.Context(), dep.ID); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	h.waitStatus(t, dep.ID, entity.DeploymentStatusRunning)

	data := lo.Must(os.ReadFile(filepath.Join(h.workdir, ".env")))
	if !strings.Contains(string(data), "DATABASE_URL=postgres://localhost/shop") {
		t.Errorf("env file missing unsealed value:\n%s", data)
	}
}

func TestDeployPortAgreesAcrossArtifacts(t *testing.T) {
	h := newHarness(t)
	lo.Must0(os.WriteFile(filepath.Join(h.workdir, "index.html"), []byte("<html></html>"), 0o644))

	dep := h.create(t, &entity.Deployment{Name: "site", RepoURL: "https://example.com/site.git"})
	if err := h.machine.Deploy(t.Context(), dep.ID); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	final := h.waitStatus(t, dep.ID, entity.DeploymentStatusRunning)

	port := strconv.Itoa(final.Port)
	if !strings.Contains(final.Runtime.StartCommand, port) {
		t.Errorf("start command %q does not use allocated port %s", final.Runtime.StartCommand, port)
	}
	if strings.Contains(final.Runtime.StartCommand, "{port}") {
		t.Errorf("start command %q kept the placeholder", final.Runtime.StartCommand)
	}
	if unit := h.super.installed["site"]; !strings.Contains(unit, port) {
		t.Errorf("unit does not start on allocated port %s:\n%s", port, unit)
	}
	if route := h.proxy.routes["site"]; !strings.Contains(route, "127.0.0.1:"+port) {
		t.Errorf("proxy route does not forward to allocated port %s:\n%s", port, route)
	}
}

func TestDeployDetectsRuntime(t *testing.T) {
	h := newHarness(t)
	lo.Must0(os.WriteFile(filepath.Join(h.workdir, "go.mod"), []byte("module example.com/app\n"), 0o644))
	lo.Must0(os.WriteFile(filepath.Join(h.workdir, "main.go"), []byte("package main\n"), 0o644))

	dep := h.create(t, &entity.Deployment{Name: "api", RepoURL: "https://example.com/api.git"})
	if err := h.machine.Deploy(t.Context(), dep.ID); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	final := h.waitStatus(t, dep.ID, entity.DeploymentStatusRunning)

	if final.Runtime.Framework != "golang" {
		t.Errorf("framework = %q, want golang", final.Runtime.Framework)
	}
	if final.Runtime.StartCommand != "./app" {
		t.Errorf("start command = %q", final.Runtime.StartCommand)
	}
}

func TestDeployRejectsWrongState(t *testing.T) {
	h := newHarness(t)
	dep := h.create(t, &entity.Deployment{Name: "web", RepoURL: "u", Status: entity.DeploymentStatusRunning})

	err := h.machine.Deploy(t.Context(), dep.ID)
	if !errors.Is(err, entity.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var ite *entity.InvalidTransitionError
	if !errors.As(err, &ite) || ite.From != entity.DeploymentStatusRunning {
		t.Errorf("unexpected error detail: %v", err)
	}
}

func TestFailureTriggersBackoffChain(t *testing.T) {
	h := newHarness(t)
	dep := h.create(t, &entity.Deployment{
		Name:    "crashy",
		RepoURL: "https://example.com/crashy.git",
		Runtime: entity.RuntimeDescriptor{StartCommand: "run", Port: 5000},
	})
	lo.Must(h.policies.Upsert(t.Context(), &entity.RestartPolicy{
		DeploymentID: dep.ID,
		Type:         entity.RestartPolicyBackoff,
		Enabled:      true,
		MaxRestarts:  3,
		TimeWindow:   time.Hour,
		InitialDelay: 10 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2,
		Cooldown:     time.Hour,
	}))
	h.super.setStartErr(errors.New("exec format error"))

	if err := h.machine.Deploy(t.Context(), dep.ID); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}
	for i, expected := range want {
		select {
		case got := <-h.delays:
			if got != expected {
				t.Errorf("restart %d delay = %s, want %s", i+1, got, expected)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("restart %d never scheduled", i+1)
		}
	}

	// Budget exhausted: the fourth evaluation declines inside cooldown.
	select {
	case d := <-h.delays:
		t.Fatalf("unexpected fourth restart scheduled with delay %s", d)
	case <-time.After(300 * time.Millisecond):
	}

	final := h.waitStatus(t, dep.ID, entity.DeploymentStatusFailed)
	if final.LastError == "" {
		t.Error("last error not recorded")
	}
}

func TestSubmitFailureFromFailedSchedulesRestart(t *testing.T) {
	h := newHarness(t)
	dep := h.create(t, &entity.Deployment{
		Name:    "ghost",
		RepoURL: "https://example.com/ghost.git",
		Runtime: entity.RuntimeDescriptor{StartCommand: "run"},
	})
	lo.Must(h.deployments.UpdateStatusIf(t.Context(), dep.ID,
		entity.DeploymentStatusPending, entity.DeploymentStatusFailed))
	h.machine.deps.Processor = failingProcessor{}

	if err := h.machine.Deploy(t.Context(), dep.ID); err == nil {
		t.Fatal("Deploy with a dead queue should surface the submission error")
	}

	select {
	case d := <-h.delays:
		if d != 10*time.Second {
			t.Errorf("restart delay = %s, want 10s", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submission failure never reached the restart engine")
	}

	// The scheduled restart runs the deploy body directly and recovers.
	h.waitStatus(t, dep.ID, entity.DeploymentStatusRunning)
}

func TestPushRedeployWhileRunning(t *testing.T) {
	h := newHarness(t)
	dep := h.create(t, &entity.Deployment{
		Name:    "app",
		RepoURL: "https://example.com/app.git",
		Runtime: entity.RuntimeDescriptor{InstallCommand: "npm ci", StartCommand: "npm start"},
	})
	if err := h.machine.Deploy(t.Context(), dep.ID); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	first := h.waitStatus(t, dep.ID, entity.DeploymentStatusRunning)

	// A webhook push submits a fresh deploy task against the live
	// deployment; it must replace the running service, not error out.
	lo.Must(h.machine.deps.Processor.Submit(t.Context(), task.NameDeploy, map[string]any{
		"deployment_id": dep.ID.String(),
	}))

	deadline := time.Now().Add(5 * time.Second)
	for {
		got := lo.Must(h.deployments.GetByID(t.Context(), dep.ID))
		if got.Status == entity.DeploymentStatusRunning && got.Generation > first.Generation {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("redeploy never completed: status=%s generation=%d", got.Status, got.Generation)
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.super.mu.Lock()
	stopped := len(h.super.stopped)
	h.super.mu.Unlock()
	if stopped == 0 {
		t.Error("running service was not stopped before redeploy")
	}
	h.runner.mu.Lock()
	builds := len(h.runner.commands)
	h.runner.mu.Unlock()
	if builds != 2 {
		t.Errorf("install command ran %d times; want once per deploy", builds)
	}
}

func TestStop(t *testing.T) {
	h := newHarness(t)
	dep := h.create(t, &entity.Deployment{Name: "web", RepoURL: "u", Status: entity.DeploymentStatusRunning})

	if err := h.machine.Stop(t.Context(), dep.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	h.waitStatus(t, dep.ID, entity.DeploymentStatusStopped)
	if len(h.super.stopped) != 1 {
		t.Errorf("stop calls = %d", len(h.super.stopped))
	}

	if err := h.machine.Stop(t.Context(), dep.ID); !errors.Is(err, entity.ErrInvalidTransition) {
		t.Errorf("stopping a stopped deployment: %v", err)
	}
}

func TestRestartSkipsBuildWhenArtifactsCurrent(t *testing.T) {
	h := newHarness(t)
	dep := h.create(t, &entity.Deployment{
		Name:    "web",
		RepoURL: "u",
		Status:  entity.DeploymentStatusRunning,
		Runtime: entity.RuntimeDescriptor{StartCommand: "run"},
		Port:    8100,
	})
	// A prior deploy bumped the generation.
	lo.Must(h.deployments.UpdateStatusIf(t.Context(), dep.ID, entity.DeploymentStatusRunning, entity.DeploymentStatusRunning))

	if err := h.machine.Restart(t.Context(), dep.ID); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	h.waitStatus(t, dep.ID, entity.DeploymentStatusRunning)
	if len(h.runner.commands) != 0 {
		t.Errorf("build commands ran on a skip-build restart: %v", h.runner.commands)
	}
}

func TestHealthCheck(t *testing.T) {
	h := newHarness(t)
	dep := h.create(t, &entity.Deployment{
		Name:         "web",
		RepoURL:      "u",
		Status:       entity.DeploymentStatusRunning,
		HealthChecks: true,
		Runtime:      entity.RuntimeDescriptor{StartCommand: "run"},
	})

	t.Run("healthy is a no-op", func(t *testing.T) {
		if err := h.machine.HealthCheck(t.Context(), dep.ID); err != nil {
			t.Fatalf("HealthCheck: %v", err)
		}
		got := lo.Must(h.deployments.GetByID(t.Context(), dep.ID))
		if got.Status != entity.DeploymentStatusRunning {
			t.Errorf("status = %s", got.Status)
		}
	})

	t.Run("unhealthy fails the deployment", func(t *testing.T) {
		h.super.setStatus(supervisor.StatusFailed)
		if err := h.machine.HealthCheck(t.Context(), dep.ID); err != nil {
			t.Fatalf("HealthCheck: %v", err)
		}
		h.waitStatus(t, dep.ID, entity.DeploymentStatusFailed)
	})
}

func TestHealthCheckSkippedWhenDisabled(t *testing.T) {
	h := newHarness(t)
	dep := h.create(t, &entity.Deployment{Name: "web", RepoURL: "u", Status: entity.DeploymentStatusRunning})
	h.super.setStatus(supervisor.StatusFailed)

	if err := h.machine.HealthCheck(t.Context(), dep.ID); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	got := lo.Must(h.deployments.GetByID(t.Context(), dep.ID))
	if got.Status != entity.DeploymentStatusRunning {
		t.Errorf("status changed to %s despite disabled health checks", got.Status)
	}
}

func TestSweepForceFailsStaleBuilds(t *testing.T) {
	h := newHarness(t)
	dep := h.create(t, &entity.Deployment{Name: "stuck", RepoURL: "u", Status: entity.DeploymentStatusBuilding})
	time.Sleep(20 * time.Millisecond)

	h.machine.Sweep(t.Context(), 10*time.Millisecond)

	got := h.waitStatus(t, dep.ID, entity.DeploymentStatusFailed)
	if got.LastError == "" {
		t.Error("stale failure reason not recorded")
	}
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	dep := h.create(t, &entity.Deployment{
		Name:    "gone",
		RepoURL: "u",
		Status:  entity.DeploymentStatusRunning,
		Port:    8105,
	})

	if err := h.machine.Delete(t.Context(), dep.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(h.super.removed) != 1 {
		t.Errorf("unit removals = %d", len(h.super.removed))
	}
	if _, err := h.deployments.GetByID(t.Context(), dep.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected soft-deleted row to be invisible, got %v", err)
	}
}
