package proxy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/DagiiM/webops-sub005/internal/utils"
)

// Proxy publishes and removes reverse-proxy routes for deployments.
type Proxy interface {
	InstallRoute(ctx context.Context, name, routeContent string) error
	RemoveRoute(ctx context.Context, name string) error
	Reload(ctx context.Context) error
}

// NginxProxy drops per-deployment server blocks into a conf.d directory and
// reloads nginx. Reload failures surface to the caller so a broken config
// never goes unnoticed.
type NginxProxy struct {
	confDir string
	log     zerolog.Logger
}

func NewNginxProxy(confDir string, log zerolog.Logger) Proxy {
	return &NginxProxy{confDir: confDir, log: log}
}

// InstallRoute implements Proxy.
func (p *NginxProxy) InstallRoute(ctx context.Context, name, routeContent string) error {
	if err := os.MkdirAll(p.confDir, 0o755); err != nil {
		return fmt.Errorf("create proxy conf dir: %w", err)
	}
	path := p.confPath(name)
	if err := os.WriteFile(path, []byte(routeContent), 0o644); err != nil {
		return fmt.Errorf("write route %s: %w", path, err)
	}
	return p.Reload(ctx)
}

// RemoveRoute implements Proxy.
func (p *NginxProxy) RemoveRoute(ctx context.Context, name string) error {
	if err := os.Remove(p.confPath(name)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("remove route: %w", err)
	}
	return p.Reload(ctx)
}

// Reload implements Proxy.
func (p *NginxProxy) Reload(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "nginx", "-s", "reload").CombinedOutput()
	if err != nil {
		return fmt.Errorf("reload nginx: %w: %s", err, out)
	}
	p.log.Debug().Msg("nginx reloaded")
	return nil
}

func (p *NginxProxy) confPath(name string) string {
	return filepath.Join(p.confDir, utils.EnsureSuffix("webops-"+utils.SanitizeName(name), ".conf"))
}
