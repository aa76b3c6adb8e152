package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

// CommandRunner executes build-step shell commands inside a deployment's
// workspace directory.
type CommandRunner interface {
	RunShell(ctx context.Context, workdir, command string, env map[string]string) (string, error)
}

type ShellRunner struct {
	timeout time.Duration
	log     zerolog.Logger
}

func NewShellRunner(timeout time.Duration, log zerolog.Logger) CommandRunner {
	return &ShellRunner{timeout: timeout, log: log}
}

// RunShell implements CommandRunner. The command runs through `sh -c` so
// profile-style commands with pipes and && work unchanged. The process
// group is killed when the timeout expires.
func (r *ShellRunner) RunShell(ctx context.Context, workdir, command string, env map[string]string) (string, error) {
	if command == "" {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workdir
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	r.log.Debug().Str("workdir", workdir).Str("command", command).Msg("run build command")
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return out.String(), fmt.Errorf("%w: %s", entity.ErrTimeout, command)
	}
	if err != nil {
		return out.String(), fmt.Errorf("%s: %w: %s", command, err, tail(out.String(), 2048))
	}
	return out.String(), nil
}

// tail keeps error messages readable when a build dumps megabytes.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
