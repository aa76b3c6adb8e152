package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/DagiiM/webops-sub005/internal/artifact"
	"github.com/DagiiM/webops-sub005/internal/buildpack"
	"github.com/DagiiM/webops-sub005/internal/docker"
	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/gitsource"
	"github.com/DagiiM/webops-sub005/internal/metrics"
	"github.com/DagiiM/webops-sub005/internal/notify"
	"github.com/DagiiM/webops-sub005/internal/ports"
	"github.com/DagiiM/webops-sub005/internal/proxy"
	"github.com/DagiiM/webops-sub005/internal/repository"
	"github.com/DagiiM/webops-sub005/internal/restart"
	"github.com/DagiiM/webops-sub005/internal/secrets"
	"github.com/DagiiM/webops-sub005/internal/supervisor"
	"github.com/DagiiM/webops-sub005/internal/task"
	"github.com/DagiiM/webops-sub005/internal/utils"
)

// Deps collects the machine's collaborators. Tests substitute fakes for the
// process-facing ones.
type Deps struct {
	Deployments repository.DeploymentRepository
	Policies    repository.RestartPolicyRepository
	Engine      *restart.Engine
	Detector    *buildpack.Detector
	Renderer    *artifact.Renderer
	Supervisor  supervisor.Supervisor
	Runner      supervisor.CommandRunner
	Proxy       proxy.Proxy
	Fetcher     gitsource.Fetcher
	Docker      docker.Runner
	Ports       *ports.Allocator
	Processor   task.Processor
	Notifier    *notify.Notifier
	Metrics     *metrics.Metrics
	Secrets     *secrets.Box
	Logger      zerolog.Logger
}

// Machine drives deployments through their lifecycle. All mutations go
// through the status CAS; per-deployment work is serialized by a keyed
// mutex, there is no global lock.
type Machine struct {
	deps  Deps
	locks *utils.KeyedMutex
	log   zerolog.Logger

	// schedule is swapped by tests to make backoff timing observable.
	schedule func(delay time.Duration, fn func())
}

func NewMachine(deps Deps) *Machine {
	return &Machine{
		deps:     deps,
		locks:    utils.NewKeyedMutex(),
		log:      deps.Logger,
		schedule: func(delay time.Duration, fn func()) { time.AfterFunc(delay, fn) },
	}
}

// RegisterTasks wires the machine's operations into the task registry so
// both processor variants can execute them.
func (m *Machine) RegisterTasks(reg *task.Registry) {
	reg.Register(task.NameDeploy, func(ctx context.Context, args map[string]any) (any, error) {
		id, skip, err := deployArgs(args)
		if err != nil {
			return nil, err
		}
		return nil, m.runDeploy(ctx, id, skip)
	})
	reg.Register(task.NameBuild, func(ctx context.Context, args map[string]any) (any, error) {
		id, _, err := deployArgs(args)
		if err != nil {
			return nil, err
		}
		return nil, m.runBuildOnly(ctx, id)
	})
	reg.Register(task.NameStop, func(ctx context.Context, args map[string]any) (any, error) {
		id, _, err := deployArgs(args)
		if err != nil {
			return nil, err
		}
		return nil, m.Stop(ctx, id)
	})
	reg.Register(task.NameHealthCheck, func(ctx context.Context, args map[string]any) (any, error) {
		id, _, err := deployArgs(args)
		if err != nil {
			return nil, err
		}
		return nil, m.HealthCheck(ctx, id)
	})
}

func deployArgs(args map[string]any) (entity.ID, bool, error) {
	id, _ := args["deployment_id"].(string)
	if id == "" {
		return "", false, fmt.Errorf("%w: deployment_id required", entity.ErrValidation)
	}
	skip, _ := args["skip_build"].(bool)
	return entity.ID(id), skip, nil
}

// Deploy queues a full build-and-start for a deployment sitting in PENDING
// or FAILED. The heavy lifting happens on the task processor.
func (m *Machine) Deploy(ctx context.Context, id entity.ID) error {
	dep, err := m.deps.Deployments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if dep.Status != entity.DeploymentStatusPending && dep.Status != entity.DeploymentStatusFailed {
		return &entity.InvalidTransitionError{From: dep.Status, To: entity.DeploymentStatusBuilding}
	}
	return m.submitDeploy(ctx, dep, false)
}

// Stop halts a RUNNING or STARTING deployment at the user's request.
func (m *Machine) Stop(ctx context.Context, id entity.ID) error {
	m.locks.Lock(id.String())
	defer m.locks.Unlock(id.String())

	dep, err := m.deps.Deployments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if dep.Status != entity.DeploymentStatusRunning && dep.Status != entity.DeploymentStatusStarting {
		return &entity.InvalidTransitionError{From: dep.Status, To: entity.DeploymentStatusStopped}
	}

	if err := m.stopProcess(ctx, dep); err != nil {
		m.log.Warn().Err(err).Str("deployment", dep.Name).Msg("stop process")
	}
	if err := m.transition(ctx, dep, entity.DeploymentStatusStopped); err != nil {
		return err
	}
	m.notify(dep, "stopped by request")
	return nil
}

// Restart stops the deployment if it is up, then queues a redeploy. The
// build phase is skipped when the rendered artifacts are still current.
func (m *Machine) Restart(ctx context.Context, id entity.ID) error {
	dep, err := m.deps.Deployments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if dep.Status == entity.DeploymentStatusRunning || dep.Status == entity.DeploymentStatusStarting {
		if err := m.Stop(ctx, id); err != nil {
			return err
		}
		dep, err = m.deps.Deployments.GetByID(ctx, id)
		if err != nil {
			return err
		}
	}
	return m.submitDeploy(ctx, dep, m.artifactsCurrent(dep))
}

// Delete tears a deployment down from any state. The row is soft-deleted so
// the record stays recoverable.
func (m *Machine) Delete(ctx context.Context, id entity.ID) error {
	m.locks.Lock(id.String())
	defer m.locks.Unlock(id.String())

	dep, err := m.deps.Deployments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if dep.Status == entity.DeploymentStatusDeleted {
		return nil
	}

	if err := m.stopProcess(ctx, dep); err != nil {
		m.log.Warn().Err(err).Str("deployment", dep.Name).Msg("stop process during delete")
	}
	if dep.Kind != entity.DeploymentKindDocker {
		if err := m.deps.Supervisor.Remove(ctx, dep.Name); err != nil {
			m.log.Warn().Err(err).Str("deployment", dep.Name).Msg("remove unit")
		}
	}
	if err := m.deps.Proxy.RemoveRoute(ctx, dep.Name); err != nil {
		m.log.Warn().Err(err).Str("deployment", dep.Name).Msg("remove route")
	}

	if err := m.transition(ctx, dep, entity.DeploymentStatusDeleted); err != nil {
		return err
	}
	m.deps.Ports.Release(dep.Port)
	m.notify(dep, "deleted")
	return m.deps.Deployments.Delete(ctx, id)
}

// HealthCheck probes one deployment. A failure observed while RUNNING moves
// it to FAILED and hands it to the restart engine. Results that raced a
// concurrent transition are discarded by generation.
func (m *Machine) HealthCheck(ctx context.Context, id entity.ID) error {
	dep, err := m.deps.Deployments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if dep.Status != entity.DeploymentStatusRunning || !dep.HealthChecks {
		return nil
	}
	generation := dep.Generation

	healthy, err := m.probe(ctx, dep)
	if err != nil {
		m.log.Warn().Err(err).Str("deployment", dep.Name).Msg("health probe error")
		return nil
	}
	if healthy {
		return nil
	}

	fresh, err := m.deps.Deployments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if fresh.Generation != generation || fresh.Status != entity.DeploymentStatusRunning {
		m.log.Debug().Str("deployment", dep.Name).Msg("stale health check discarded")
		return nil
	}

	m.locks.Lock(id.String())
	defer m.locks.Unlock(id.String())
	return m.fail(ctx, fresh, fmt.Errorf("health check failed while running"))
}

// CheckAll probes every RUNNING deployment concurrently.
func (m *Machine) CheckAll(ctx context.Context) {
	running, err := m.deps.Deployments.ListByStatus(ctx, entity.DeploymentStatusRunning)
	if err != nil {
		m.log.Error().Err(err).Msg("list running deployments")
		return
	}
	var wg sync.WaitGroup
	for _, dep := range running {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.HealthCheck(ctx, dep.ID); err != nil {
				m.log.Warn().Err(err).Str("deployment", dep.Name).Msg("health check")
			}
		}()
	}
	wg.Wait()
}

func (m *Machine) submitDeploy(ctx context.Context, dep *entity.Deployment, skipBuild bool) error {
	_, err := m.deps.Processor.Submit(ctx, task.NameDeploy, map[string]any{
		"deployment_id": dep.ID.String(),
		"skip_build":    skipBuild,
	})
	if err != nil {
		// A submission failure is handled like a crash so the backoff
		// mechanics apply uniformly.
		m.locks.Lock(dep.ID.String())
		defer m.locks.Unlock(dep.ID.String())
		if dep.Status == entity.DeploymentStatusPending {
			// PENDING has no edge to FAILED; record the error in place.
			serr := m.deps.Deployments.SetLastError(ctx, dep.ID, err.Error())
			if serr != nil {
				return errors.Join(err, serr)
			}
			return err
		}
		return errors.Join(err, m.fail(ctx, dep, err))
	}
	return nil
}

// runDeploy is the deploy task body: build phase then start phase.
func (m *Machine) runDeploy(ctx context.Context, id entity.ID, skipBuild bool) error {
	m.locks.Lock(id.String())
	defer m.locks.Unlock(id.String())

	started := time.Now()
	dep, err := m.deps.Deployments.GetByID(ctx, id)
	if err != nil {
		return err
	}

	// A deploy task against a live deployment (a webhook push, typically)
	// replaces it: stop first, then rebuild from the new commit.
	if dep.Status == entity.DeploymentStatusRunning || dep.Status == entity.DeploymentStatusStarting {
		if err := m.stopProcess(ctx, dep); err != nil {
			m.log.Warn().Err(err).Str("deployment", dep.Name).Msg("stop process before redeploy")
		}
		if err := m.transition(ctx, dep, entity.DeploymentStatusStopped); err != nil {
			return err
		}
	}

	if skipBuild && m.artifactsCurrent(dep) {
		if err := m.transition(ctx, dep, entity.DeploymentStatusStarting); err != nil {
			return err
		}
	} else {
		if err := m.transition(ctx, dep, entity.DeploymentStatusBuilding); err != nil {
			return err
		}
		if err := m.build(ctx, dep); err != nil {
			m.recordDeploy(dep, "failed", started)
			return errors.Join(err, m.fail(ctx, dep, err))
		}
		if err := m.transition(ctx, dep, entity.DeploymentStatusStarting); err != nil {
			return err
		}
	}

	if err := m.start(ctx, dep); err != nil {
		m.recordDeploy(dep, "failed", started)
		return errors.Join(err, m.fail(ctx, dep, err))
	}

	if err := m.transition(ctx, dep, entity.DeploymentStatusRunning); err != nil {
		return err
	}
	if err := m.deps.Deployments.SetLastError(ctx, dep.ID, ""); err != nil {
		m.log.Warn().Err(err).Str("deployment", dep.Name).Msg("clear last error")
	}
	m.notify(dep, "running")
	m.recordDeploy(dep, "success", started)
	m.log.Info().Str("deployment", dep.Name).Int("port", dep.Port).Msg("deployment running")
	return nil
}

func (m *Machine) recordDeploy(dep *entity.Deployment, outcome string, started time.Time) {
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordDeploy(outcome, string(dep.Kind), time.Since(started))
	}
}

// runBuildOnly performs the build phase and leaves the deployment stopped,
// for prebuilding ahead of a maintenance window.
func (m *Machine) runBuildOnly(ctx context.Context, id entity.ID) error {
	m.locks.Lock(id.String())
	defer m.locks.Unlock(id.String())

	dep, err := m.deps.Deployments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := m.transition(ctx, dep, entity.DeploymentStatusBuilding); err != nil {
		return err
	}
	if err := m.build(ctx, dep); err != nil {
		return errors.Join(err, m.fail(ctx, dep, err))
	}
	if err := m.transition(ctx, dep, entity.DeploymentStatusStarting); err != nil {
		return err
	}
	return m.transition(ctx, dep, entity.DeploymentStatusStopped)
}

func (m *Machine) build(ctx context.Context, dep *entity.Deployment) error {
	if dep.Kind == entity.DeploymentKindKVM {
		return fmt.Errorf("%w: kvm deployments are not supported", entity.ErrValidation)
	}

	workdir, commit, err := m.deps.Fetcher.Fetch(ctx, dep.Name, dep.RepoURL, dep.Branch)
	if err != nil {
		return fmt.Errorf("fetch source: %w", err)
	}

	if dep.Kind == entity.DeploymentKindDocker {
		// The image build and container replacement are the whole build
		// phase; the start phase only verifies the container is up.
		return m.deps.Docker.Deploy(ctx, dep, workdir, commit)
	}

	if dep.Runtime.StartCommand == "" {
		result, err := m.deps.Detector.Detect(workdir)
		if err != nil {
			return err
		}
		if !result.Detected {
			return fmt.Errorf("%w: no runtime detected in %s", entity.ErrDetection, dep.RepoURL)
		}
		dep.Runtime = result.Runtime()
	}

	if dep.Port == 0 {
		port, err := m.deps.Ports.Allocate()
		if err != nil {
			return err
		}
		dep.Port = port
	}
	// Detected commands carry {port} until a real port exists; the unit and
	// the proxy route must agree on it.
	dep.Runtime.InstallCommand = buildpack.ExpandPort(dep.Runtime.InstallCommand, dep.Port)
	dep.Runtime.BuildCommand = buildpack.ExpandPort(dep.Runtime.BuildCommand, dep.Port)
	dep.Runtime.StartCommand = buildpack.ExpandPort(dep.Runtime.StartCommand, dep.Port)

	env := map[string]string{}
	for _, command := range []string{dep.Runtime.InstallCommand, dep.Runtime.BuildCommand} {
		if command == "" {
			continue
		}
		if _, err := m.deps.Runner.RunShell(ctx, workdir, command, env); err != nil {
			return fmt.Errorf("build step: %w", err)
		}
	}

	if err := m.renderArtifacts(ctx, dep, workdir); err != nil {
		return err
	}

	if _, err := m.deps.Deployments.Update(ctx, dep); err != nil {
		return fmt.Errorf("persist runtime: %w", err)
	}
	return nil
}

func (m *Machine) renderArtifacts(ctx context.Context, dep *entity.Deployment, workdir string) error {
	env, err := m.unsealEnv(dep)
	if err != nil {
		return err
	}
	actx := artifact.Context{
		Name:        dep.Name,
		Description: fmt.Sprintf("webops deployment %s", dep.Name),
		WorkDir:     workdir,
		StartCmd:    dep.Runtime.StartCommand,
		Port:        dep.Port,
		Domain:      dep.Name,
		SSLEnabled:  dep.SSLEnabled,
		Env:         env,
		User:        "webops",
	}

	envFile, err := m.deps.Renderer.Render(dep.Kind, artifact.KindEnvFile, actx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(workdir, ".env"), []byte(envFile), 0o600); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}

	unit, err := m.deps.Renderer.Render(dep.Kind, artifact.KindServiceUnit, actx)
	if err != nil {
		return err
	}
	if err := m.deps.Supervisor.Install(ctx, dep.Name, unit); err != nil {
		return fmt.Errorf("install unit: %w", err)
	}

	route, err := m.deps.Renderer.Render(dep.Kind, artifact.KindProxyRoute, actx)
	if err != nil {
		return err
	}
	if err := m.deps.Proxy.InstallRoute(ctx, dep.Name, route); err != nil {
		return fmt.Errorf("install route: %w", err)
	}
	return nil
}

// unsealEnv decrypts the deployment's stored environment. No stored env or
// no configured key yields an empty map; sealed env without a key is an
// error rather than a silently incomplete env file.
func (m *Machine) unsealEnv(dep *entity.Deployment) (map[string]string, error) {
	if len(dep.SealedEnv) == 0 {
		return map[string]string{}, nil
	}
	if m.deps.Secrets == nil {
		return nil, fmt.Errorf("%w: deployment %s has sealed environment but no secret key is configured", entity.ErrInvalid, dep.Name)
	}
	plain, err := m.deps.Secrets.DecryptToString(dep.SealedEnv)
	if err != nil {
		return nil, fmt.Errorf("unseal environment: %w", err)
	}
	var env map[string]string
	if err := json.Unmarshal([]byte(plain), &env); err != nil {
		return nil, fmt.Errorf("unseal environment: %w", err)
	}
	return env, nil
}

func (m *Machine) start(ctx context.Context, dep *entity.Deployment) error {
	if dep.Kind == entity.DeploymentKindDocker {
		running, err := m.deps.Docker.Running(ctx, dep)
		if err != nil {
			return err
		}
		if !running {
			return fmt.Errorf("container for %s is not running", dep.Name)
		}
		return nil
	}

	if err := m.deps.Supervisor.Start(ctx, dep.Name); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	status, err := m.deps.Supervisor.Status(ctx, dep.Name)
	if err != nil {
		return err
	}
	if status != supervisor.StatusActive {
		return fmt.Errorf("service %s reported %s after start", dep.Name, status)
	}
	return nil
}

func (m *Machine) stopProcess(ctx context.Context, dep *entity.Deployment) error {
	if dep.Kind == entity.DeploymentKindDocker {
		return m.deps.Docker.Stop(ctx, dep)
	}
	return m.deps.Supervisor.Stop(ctx, dep.Name)
}

func (m *Machine) probe(ctx context.Context, dep *entity.Deployment) (bool, error) {
	if dep.Kind == entity.DeploymentKindDocker {
		return m.deps.Docker.Running(ctx, dep)
	}
	status, err := m.deps.Supervisor.Status(ctx, dep.Name)
	if err != nil {
		return false, err
	}
	return status == supervisor.StatusActive, nil
}

// fail moves a deployment to FAILED, records the error, and asks the
// restart engine whether to try again. A deployment already in FAILED skips
// the transition and goes straight to the engine, so repeated failures keep
// the backoff mechanics running. Returns an error only when the failure
// could not be recorded or evaluated; the cause itself is the caller's to
// report. Caller must hold the deployment's lock.
func (m *Machine) fail(ctx context.Context, dep *entity.Deployment, cause error) error {
	if dep.Status != entity.DeploymentStatusFailed {
		if err := m.transition(ctx, dep, entity.DeploymentStatusFailed); err != nil {
			return err
		}
	}
	if err := m.deps.Deployments.SetLastError(ctx, dep.ID, cause.Error()); err != nil {
		m.log.Warn().Err(err).Str("deployment", dep.Name).Msg("record last error")
	}
	m.notify(dep, cause.Error())

	policy, err := m.deps.Policies.GetByDeployment(ctx, dep.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			m.log.Error().Err(err).Str("deployment", dep.Name).Msg("load restart policy")
			return err
		}
		policy = defaultPolicy(dep.ID)
	}

	decision, err := m.deps.Engine.Evaluate(ctx, dep, policy, cause.Error())
	if err != nil {
		m.log.Error().Err(err).Str("deployment", dep.Name).Msg("restart evaluation")
		return err
	}
	if m.deps.Metrics != nil {
		if decision.ShouldRestart {
			m.deps.Metrics.RecordRestartDecision("restart")
		} else {
			m.deps.Metrics.RecordRestartDecision("decline")
		}
	}
	if !decision.ShouldRestart {
		return nil
	}

	attempt := decision.Attempt
	m.schedule(decision.Delay, func() {
		ctx := context.Background()
		err := m.runDeploy(ctx, dep.ID, m.artifactsCurrent(dep))
		if err != nil {
			m.log.Warn().Err(err).Str("deployment", dep.Name).Msg("scheduled restart failed")
		}
		if merr := m.deps.Engine.MarkOutcome(ctx, attempt, err == nil, errString(err)); merr != nil {
			m.log.Warn().Err(merr).Str("deployment", dep.Name).Msg("mark restart outcome")
		}
	})
	return nil
}

// defaultPolicy applies when a deployment has no stored policy.
func defaultPolicy(deploymentID entity.ID) *entity.RestartPolicy {
	return &entity.RestartPolicy{
		DeploymentID: deploymentID,
		Type:         entity.RestartPolicyBackoff,
		Enabled:      true,
		MaxRestarts:  5,
		TimeWindow:   time.Hour,
		InitialDelay: 10 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2,
		Cooldown:     10 * time.Minute,
	}
}

func (m *Machine) transition(ctx context.Context, dep *entity.Deployment, to entity.DeploymentStatus) error {
	if !CanTransition(dep.Status, to) {
		return &entity.InvalidTransitionError{From: dep.Status, To: to}
	}
	ok, err := m.deps.Deployments.UpdateStatusIf(ctx, dep.ID, dep.Status, to)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: deployment %s no longer in %s", entity.ErrConflict, dep.Name, dep.Status)
	}
	m.log.Debug().Str("deployment", dep.Name).Str("from", string(dep.Status)).Str("to", string(to)).Msg("status transition")
	dep.Status = to
	dep.Generation++
	return nil
}

func (m *Machine) artifactsCurrent(dep *entity.Deployment) bool {
	if dep.Kind == entity.DeploymentKindDocker {
		return false
	}
	return dep.Runtime.StartCommand != "" && dep.Port != 0 && dep.Generation > 0
}

func (m *Machine) notify(dep *entity.Deployment, message string) {
	if m.deps.Notifier == nil || !dep.Notifications {
		return
	}
	m.deps.Notifier.Notify(notify.Event{
		DeploymentID: dep.ID,
		Name:         dep.Name,
		Status:       dep.Status,
		Message:      message,
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
