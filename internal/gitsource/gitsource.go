package gitsource

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/DagiiM/webops-sub005/internal/utils"
)

// Fetcher materializes the source of a deployment into a workspace
// directory.
type Fetcher interface {
	// Fetch clones or refreshes repoURL at branch and returns the workspace
	// path together with the checked-out commit SHA.
	Fetch(ctx context.Context, name, repoURL, branch string) (dir string, commit string, err error)
	WorkDir(name string) string
}

type GitFetcher struct {
	rootDir string
	log     zerolog.Logger
}

func NewGitFetcher(rootDir string, log zerolog.Logger) Fetcher {
	return &GitFetcher{rootDir: rootDir, log: log}
}

// Fetch implements Fetcher. Existing workspaces are discarded; a shallow
// clone keeps cold fetches fast for large histories.
func (f *GitFetcher) Fetch(ctx context.Context, name, repoURL, branch string) (string, string, error) {
	dir := f.WorkDir(name)
	if err := os.RemoveAll(dir); err != nil {
		return "", "", fmt.Errorf("clear workspace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", "", fmt.Errorf("create workspace root: %w", err)
	}

	args := []string{"clone", "--depth=1", "--branch", branch, repoURL, dir}
	if out, err := exec.CommandContext(ctx, "git", args...).CombinedOutput(); err != nil {
		return "", "", fmt.Errorf("git clone %s@%s: %w: %s", repoURL, branch, err, out)
	}

	out, err := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD").Output()
	if err != nil {
		return "", "", fmt.Errorf("resolve HEAD: %w", err)
	}
	commit := strings.TrimSpace(string(out))

	f.log.Info().Str("name", name).Str("branch", branch).Str("commit", commit).Msg("source fetched")
	return dir, commit, nil
}

// WorkDir implements Fetcher.
func (f *GitFetcher) WorkDir(name string) string {
	return filepath.Join(f.rootDir, "workspaces", utils.SanitizeName(name))
}
