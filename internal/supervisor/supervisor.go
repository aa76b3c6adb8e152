package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/utils"
)

// Supervisor manages the long-running process behind a deployment. The
// systemd implementation is the production one; tests substitute fakes.
type Supervisor interface {
	Install(ctx context.Context, name, unitContent string) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Status(ctx context.Context, name string) (Status, error)
	Remove(ctx context.Context, name string) error
	TailLogFiles(name string) []string
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusFailed   Status = "failed"
	StatusUnknown  Status = "unknown"
)

type SystemdSupervisor struct {
	unitDir string
	logDir  string
	timeout time.Duration
	log     zerolog.Logger
}

func NewSystemdSupervisor(unitDir, logDir string, timeout time.Duration, log zerolog.Logger) Supervisor {
	return &SystemdSupervisor{
		unitDir: unitDir,
		logDir:  logDir,
		timeout: timeout,
		log:     log,
	}
}

// Install implements Supervisor.
func (s *SystemdSupervisor) Install(ctx context.Context, name, unitContent string) error {
	if err := os.MkdirAll(s.unitDir, 0o755); err != nil {
		return fmt.Errorf("create unit dir: %w", err)
	}
	unitPath := filepath.Join(s.unitDir, s.unitName(name))
	if err := os.WriteFile(unitPath, []byte(unitContent), 0o644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}
	if _, err := s.run(ctx, "systemctl", "daemon-reload"); err != nil {
		return err
	}
	return nil
}

// Start implements Supervisor.
func (s *SystemdSupervisor) Start(ctx context.Context, name string) error {
	_, err := s.run(ctx, "systemctl", "restart", s.unitName(name))
	return err
}

// Stop implements Supervisor.
func (s *SystemdSupervisor) Stop(ctx context.Context, name string) error {
	_, err := s.run(ctx, "systemctl", "stop", s.unitName(name))
	return err
}

// Status implements Supervisor.
func (s *SystemdSupervisor) Status(ctx context.Context, name string) (Status, error) {
	out, err := s.run(ctx, "systemctl", "is-active", s.unitName(name))
	state := strings.TrimSpace(out)
	switch state {
	case "active", "activating":
		return StatusActive, nil
	case "inactive":
		return StatusInactive, nil
	case "failed":
		return StatusFailed, nil
	}
	if err != nil && state == "" {
		return StatusUnknown, err
	}
	return StatusUnknown, nil
}

// Remove implements Supervisor.
func (s *SystemdSupervisor) Remove(ctx context.Context, name string) error {
	if _, err := s.run(ctx, "systemctl", "disable", "--now", s.unitName(name)); err != nil {
		s.log.Warn().Err(err).Str("name", name).Msg("disable unit")
	}
	unitPath := filepath.Join(s.unitDir, s.unitName(name))
	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file: %w", err)
	}
	_, err := s.run(ctx, "systemctl", "daemon-reload")
	return err
}

// TailLogFiles implements Supervisor.
func (s *SystemdSupervisor) TailLogFiles(name string) []string {
	base := utils.SanitizeName(name)
	return []string{
		filepath.Join(s.logDir, base+".log"),
		filepath.Join(s.logDir, base+".err.log"),
	}
}

func (s *SystemdSupervisor) unitName(name string) string {
	return utils.EnsureSuffix("webops-"+utils.SanitizeName(name), ".service")
}

// run executes a command under the configured timeout. The whole process
// group is killed on expiry so shell children don't linger.
func (s *SystemdSupervisor) run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return out.String(), fmt.Errorf("%w: %s %s", entity.ErrTimeout, name, strings.Join(args, " "))
	}
	if err != nil {
		return out.String(), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}
