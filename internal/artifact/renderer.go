package artifact

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

type Kind string

const (
	KindServiceUnit Kind = "service_unit"
	KindProxyRoute  Kind = "proxy_route"
	KindEnvFile     Kind = "env_file"
)

// Context carries everything a template may reference.
type Context struct {
	Name        string
	Description string
	WorkDir     string
	StartCmd    string
	Port        int
	Domain      string
	SSLEnabled  bool
	Env         map[string]string
	User        string
}

type registryKey struct {
	deployment entity.DeploymentKind
	artifact   Kind
}

// Renderer resolves templates through a two-level registry: an exact
// (deployment kind, artifact kind) entry first, then a unified fallback per
// artifact kind. A combination with neither is an error, never an empty
// string.
type Renderer struct {
	specific map[registryKey]*template.Template
	unified  map[Kind]*template.Template
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		specific: make(map[registryKey]*template.Template),
		unified:  make(map[Kind]*template.Template),
	}
	for kind, text := range unifiedTemplates {
		tmpl, err := parse(string(kind), text)
		if err != nil {
			return nil, err
		}
		r.unified[kind] = tmpl
	}
	for key, text := range specificTemplates {
		tmpl, err := parse(fmt.Sprintf("%s/%s", key.deployment, key.artifact), text)
		if err != nil {
			return nil, err
		}
		r.specific[key] = tmpl
	}
	return r, nil
}

func parse(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: parse template %s: %v", entity.ErrValidation, name, err)
	}
	return tmpl, nil
}

// Render produces the artifact text for the given combination.
func (r *Renderer) Render(deployment entity.DeploymentKind, artifact Kind, ctx Context) (string, error) {
	tmpl, ok := r.specific[registryKey{deployment, artifact}]
	if !ok {
		tmpl, ok = r.unified[artifact]
	}
	if !ok {
		return "", fmt.Errorf("%w: no template registered for deployment kind %q, artifact %q",
			entity.ErrValidation, deployment, artifact)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, ctx); err != nil {
		return "", fmt.Errorf("%w: render %s/%s: %v", entity.ErrValidation, deployment, artifact, err)
	}
	return b.String(), nil
}
