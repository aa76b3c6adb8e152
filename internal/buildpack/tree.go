package buildpack

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// tree is a lazy, read-only view of a repository directory. Lookups are
// cached so a full detection pass touches each file at most once.
type tree struct {
	root string

	manifestOnce sync.Once
	manifest     *npmManifest
	manifestWarn string

	pyOnce sync.Once
	pyReqs string
}

func newTree(root string) *tree {
	return &tree{root: root}
}

func (t *tree) fileExists(rel string) bool {
	info, err := os.Stat(filepath.Join(t.root, filepath.FromSlash(rel)))
	return err == nil && !info.IsDir()
}

func (t *tree) globExists(pattern string) bool {
	matches, err := filepath.Glob(filepath.Join(t.root, filepath.FromSlash(pattern)))
	return err == nil && len(matches) > 0
}

type npmManifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	PackageManager  string            `json:"packageManager"`
	Scripts         map[string]string `json:"scripts"`
}

func (m *npmManifest) hasDependency(name string) bool {
	if m == nil {
		return false
	}
	for dep := range m.Dependencies {
		if strings.EqualFold(dep, name) {
			return true
		}
	}
	for dep := range m.DevDependencies {
		if strings.EqualFold(dep, name) {
			return true
		}
	}
	return false
}

// packageManifest parses package.json once. A malformed manifest yields an
// empty manifest plus a warning, never an aborted detection.
func (t *tree) packageManifest() *npmManifest {
	t.manifestOnce.Do(func() {
		t.manifest = &npmManifest{
			Dependencies:    map[string]string{},
			DevDependencies: map[string]string{},
			Scripts:         map[string]string{},
		}
		data, err := os.ReadFile(filepath.Join(t.root, "package.json"))
		if err != nil {
			return
		}
		var parsed npmManifest
		if err := json.Unmarshal(data, &parsed); err != nil {
			t.manifestWarn = "package.json is not valid JSON"
			return
		}
		if parsed.Dependencies != nil {
			t.manifest.Dependencies = parsed.Dependencies
		}
		if parsed.DevDependencies != nil {
			t.manifest.DevDependencies = parsed.DevDependencies
		}
		if parsed.Scripts != nil {
			t.manifest.Scripts = parsed.Scripts
		}
		t.manifest.PackageManager = parsed.PackageManager
	})
	return t.manifest
}

// pythonRequirementsMention reports whether any python dependency source
// names the given package.
func (t *tree) pythonRequirementsMention(pkg string) bool {
	t.pyOnce.Do(func() {
		var b strings.Builder
		for _, name := range []string{"requirements.txt", "pyproject.toml", "Pipfile", "setup.py"} {
			data, err := os.ReadFile(filepath.Join(t.root, name))
			if err != nil {
				continue
			}
			b.Write(data)
			b.WriteByte('\n')
		}
		t.pyReqs = strings.ToLower(b.String())
	})
	return strings.Contains(t.pyReqs, strings.ToLower(pkg))
}

// nodePackageManager resolves the package manager for node projects from
// the packageManager field, falling back to lockfiles.
func (t *tree) nodePackageManager() string {
	if pm := t.packageManifest().PackageManager; pm != "" {
		name := strings.ToLower(strings.TrimSpace(pm))
		if idx := strings.Index(name, "@"); idx > 0 {
			name = name[:idx]
		}
		switch name {
		case "yarn", "pnpm", "npm":
			return name
		}
	}
	switch {
	case t.fileExists("yarn.lock"):
		return "yarn"
	case t.fileExists("pnpm-lock.yaml"):
		return "pnpm"
	default:
		return "npm"
	}
}

// pythonPackageManager resolves pip/poetry/pipenv from project files.
func (t *tree) pythonPackageManager() string {
	switch {
	case t.fileExists("poetry.lock"):
		return "poetry"
	case t.fileExists("Pipfile"):
		return "pipenv"
	default:
		return "pip"
	}
}
