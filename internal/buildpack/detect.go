package buildpack

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

// DetectionResult is the outcome of a single detection pass. When Detected
// is false every other field is zero.
type DetectionResult struct {
	Detected       bool     `json:"detected"`
	Framework      string   `json:"framework"`
	Confidence     float64  `json:"confidence"`
	PackageManager string   `json:"package_manager"`
	InstallCommand string   `json:"install_command"`
	BuildCommand   string   `json:"build_command"`
	StartCommand   string   `json:"start_command"`
	Port           int      `json:"port"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Runtime converts a positive result into the deployment runtime descriptor.
func (r DetectionResult) Runtime() entity.RuntimeDescriptor {
	return entity.RuntimeDescriptor{
		Framework:      r.Framework,
		PackageManager: r.PackageManager,
		InstallCommand: r.InstallCommand,
		BuildCommand:   r.BuildCommand,
		StartCommand:   r.StartCommand,
		Port:           r.Port,
	}
}

// Detector scores an ordered profile list against a repository tree.
// Detection is read-only and re-runnable.
type Detector struct {
	profiles []Profile
	fallback Profile
}

func NewDetector() *Detector {
	return &Detector{profiles: defaultProfiles(), fallback: staticProfile()}
}

// NewDetectorWithProfiles is the injection point for tests.
func NewDetectorWithProfiles(profiles []Profile, fallback Profile) *Detector {
	return &Detector{profiles: profiles, fallback: fallback}
}

// Detect inspects repoPath and returns the best-matching profile above its
// minimum confidence. Ties: highest confidence, then highest priority, then
// declaration order. No match falls back to the static profile when an index
// file exists at the root, else Detected=false.
func (d *Detector) Detect(repoPath string) (DetectionResult, error) {
	info, err := os.Stat(repoPath)
	if err != nil || !info.IsDir() {
		return DetectionResult{}, fmt.Errorf("%w: repository path %q is not readable", entity.ErrDetection, repoPath)
	}
	t := newTree(repoPath)

	var best *Profile
	var bestScore float64
	for i := range d.profiles {
		p := &d.profiles[i]
		score := p.Score(t)
		if score < p.MinConfidence {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && p.Priority > best.Priority) {
			best, bestScore = p, score
		}
	}

	if best == nil {
		if fb := d.fallback; fb.Score(t) > 0 {
			return d.resolve(t, fb, 1.0), nil
		}
		return DetectionResult{}, nil
	}
	return d.resolve(t, *best, bestScore), nil
}

func (d *Detector) resolve(t *tree, p Profile, confidence float64) DetectionResult {
	pm := p.PackageManager
	install := p.InstallCommand
	switch pm {
	case "npm":
		pm = t.nodePackageManager()
		switch pm {
		case "yarn":
			install = "yarn install --frozen-lockfile"
		case "pnpm":
			install = "pnpm install --frozen-lockfile"
		}
	case "pip":
		pm = t.pythonPackageManager()
		switch pm {
		case "poetry":
			install = "poetry install --no-root"
		case "pipenv":
			install = "pipenv install --deploy"
		}
	}

	res := DetectionResult{
		Detected:       true,
		Framework:      p.Name,
		Confidence:     confidence,
		PackageManager: pm,
		InstallCommand: substitute(install, t.root),
		BuildCommand:   substitute(p.BuildCommand, t.root),
		StartCommand:   substitute(p.StartCommand, t.root),
		Port:           p.DefaultPort,
	}
	if t.manifestWarn != "" {
		res.Warnings = append(res.Warnings, t.manifestWarn)
	}
	return res
}

// substitute expands the placeholders known at detection time: {workdir}
// and {name} (the repository directory name). {port} stays unresolved until
// the deployment's real port is allocated.
func substitute(command, workdir string) string {
	command = strings.ReplaceAll(command, "{workdir}", workdir)
	return strings.ReplaceAll(command, "{name}", filepath.Base(workdir))
}

// ExpandPort resolves the {port} placeholder once the listen port is known.
func ExpandPort(command string, port int) string {
	return strings.ReplaceAll(command, "{port}", strconv.Itoa(port))
}
