package buildpack

// Profile is a named ruleset mapping repository characteristics to
// build/start commands. The detector evaluates a fixed ordered list of
// profiles; each satisfied predicate contributes its weight to the profile
// score.
type Profile struct {
	Name           string
	DisplayName    string
	Priority       int
	MinConfidence  float64
	PackageManager string
	InstallCommand string
	BuildCommand   string
	StartCommand   string
	DefaultPort    int
	Predicates     []Predicate
}

// Predicate is a single weighted check against the repository tree.
type Predicate struct {
	Weight float64
	Match  func(t *tree) bool
}

// Score returns the weighted sum of satisfied predicates, capped at 1.0.
// Generic profiles carry weights summing below 1.0 so a full generic match
// never outranks a full framework-specific match.
func (p Profile) Score(t *tree) float64 {
	var matched float64
	for _, pred := range p.Predicates {
		if pred.Match(t) {
			matched += pred.Weight
		}
	}
	if matched > 1 {
		matched = 1
	}
	return matched
}

func hasFile(names ...string) Predicate {
	return Predicate{Weight: 1, Match: func(t *tree) bool {
		for _, name := range names {
			if t.fileExists(name) {
				return true
			}
		}
		return false
	}}
}

func weighted(w float64, p Predicate) Predicate {
	p.Weight = w
	return p
}

func hasDependency(name string) Predicate {
	return Predicate{Weight: 1, Match: func(t *tree) bool {
		return t.packageManifest().hasDependency(name)
	}}
}

func hasScript(name string) Predicate {
	return Predicate{Weight: 1, Match: func(t *tree) bool {
		_, ok := t.packageManifest().Scripts[name]
		return ok
	}}
}

func pythonRequires(pkg string) Predicate {
	return Predicate{Weight: 1, Match: func(t *tree) bool {
		return t.pythonRequirementsMention(pkg)
	}}
}

func hasGlob(pattern string) Predicate {
	return Predicate{Weight: 1, Match: func(t *tree) bool {
		return t.globExists(pattern)
	}}
}

// defaultProfiles is the closed, ordered profile set. Ties on confidence are
// broken by descending Priority, then by position in this slice.
func defaultProfiles() []Profile {
	return []Profile{
		{
			Name:           "django",
			DisplayName:    "Django",
			Priority:       90,
			MinConfidence:  0.5,
			PackageManager: "pip",
			InstallCommand: "pip install -r requirements.txt",
			BuildCommand:   "python manage.py collectstatic --noinput",
			StartCommand:   "gunicorn --bind 0.0.0.0:{port} config.wsgi:application",
			DefaultPort:    8000,
			Predicates: []Predicate{
				weighted(0.5, hasFile("manage.py")),
				weighted(0.3, pythonRequires("django")),
				weighted(0.2, hasGlob("*/wsgi.py")),
			},
		},
		{
			Name:           "nextjs",
			DisplayName:    "Next.js",
			Priority:       90,
			MinConfidence:  0.6,
			PackageManager: "npm",
			InstallCommand: "npm ci",
			BuildCommand:   "npm run build",
			StartCommand:   "npm run start -- --port {port}",
			DefaultPort:    3000,
			Predicates: []Predicate{
				weighted(0.5, hasDependency("next")),
				weighted(0.2, hasScript("build")),
				weighted(0.2, hasScript("start")),
				weighted(0.1, hasFile("next.config.js", "next.config.mjs", "next.config.ts")),
			},
		},
		{
			Name:           "fastapi",
			DisplayName:    "FastAPI",
			Priority:       85,
			MinConfidence:  0.5,
			PackageManager: "pip",
			InstallCommand: "pip install -r requirements.txt",
			BuildCommand:   "",
			StartCommand:   "uvicorn main:app --host 0.0.0.0 --port {port}",
			DefaultPort:    8000,
			Predicates: []Predicate{
				weighted(0.6, pythonRequires("fastapi")),
				weighted(0.2, hasFile("main.py", "app/main.py")),
				weighted(0.2, pythonRequires("uvicorn")),
			},
		},
		{
			Name:           "llm",
			DisplayName:    "LLM inference server",
			Priority:       85,
			MinConfidence:  0.5,
			PackageManager: "pip",
			InstallCommand: "pip install -r requirements.txt",
			BuildCommand:   "",
			StartCommand:   "python -m vllm.entrypoints.openai.api_server --port {port}",
			DefaultPort:    8000,
			Predicates: []Predicate{
				weighted(0.6, hasGlob("*.gguf")),
				weighted(0.4, pythonRequires("vllm")),
				weighted(0.2, hasFile("model_config.json", "generation_config.json")),
			},
		},
		{
			Name:           "flask",
			DisplayName:    "Flask",
			Priority:       80,
			MinConfidence:  0.5,
			PackageManager: "pip",
			InstallCommand: "pip install -r requirements.txt",
			BuildCommand:   "",
			StartCommand:   "gunicorn --bind 0.0.0.0:{port} app:app",
			DefaultPort:    8000,
			Predicates: []Predicate{
				weighted(0.6, pythonRequires("flask")),
				weighted(0.4, hasFile("app.py", "wsgi.py")),
			},
		},
		{
			Name:           "golang",
			DisplayName:    "Go",
			Priority:       80,
			MinConfidence:  0.6,
			PackageManager: "go",
			InstallCommand: "go mod download",
			BuildCommand:   "go build -o app .",
			StartCommand:   "./app",
			DefaultPort:    8080,
			Predicates: []Predicate{
				weighted(0.7, hasFile("go.mod")),
				weighted(0.2, hasFile("main.go")),
				weighted(0.1, hasFile("go.sum")),
			},
		},
		{
			Name:           "node",
			DisplayName:    "Node.js",
			Priority:       60,
			MinConfidence:  0.4,
			PackageManager: "npm",
			InstallCommand: "npm ci",
			BuildCommand:   "",
			StartCommand:   "npm run start",
			DefaultPort:    3000,
			Predicates: []Predicate{
				weighted(0.4, hasFile("package.json")),
				weighted(0.25, hasScript("start")),
				weighted(0.15, hasFile("package-lock.json", "yarn.lock", "pnpm-lock.yaml")),
			},
		},
		{
			Name:           "python",
			DisplayName:    "Python",
			Priority:       50,
			MinConfidence:  0.5,
			PackageManager: "pip",
			InstallCommand: "pip install -r requirements.txt",
			BuildCommand:   "",
			StartCommand:   "python main.py",
			DefaultPort:    8000,
			Predicates: []Predicate{
				weighted(0.5, hasFile("requirements.txt", "pyproject.toml", "Pipfile")),
				weighted(0.3, hasGlob("*.py")),
			},
		},
	}
}

// staticProfile is the fallback when no profile reaches its threshold but an
// index file exists at the repository root.
func staticProfile() Profile {
	return Profile{
		Name:           "static-html",
		DisplayName:    "Static site",
		Priority:       10,
		MinConfidence:  0,
		PackageManager: "",
		InstallCommand: "",
		BuildCommand:   "",
		StartCommand:   "python -m http.server {port}",
		DefaultPort:    8080,
		Predicates: []Predicate{
			weighted(1, hasFile("index.html", "index.htm")),
		},
	}
}
