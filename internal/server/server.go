package server

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/samber/do"
	"gorm.io/gorm"

	"github.com/DagiiM/webops-sub005/internal/artifact"
	"github.com/DagiiM/webops-sub005/internal/buildpack"
	"github.com/DagiiM/webops-sub005/internal/config"
	"github.com/DagiiM/webops-sub005/internal/docker"
	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/gitsource"
	"github.com/DagiiM/webops-sub005/internal/lifecycle"
	"github.com/DagiiM/webops-sub005/internal/logtail"
	"github.com/DagiiM/webops-sub005/internal/metrics"
	"github.com/DagiiM/webops-sub005/internal/notify"
	"github.com/DagiiM/webops-sub005/internal/ports"
	"github.com/DagiiM/webops-sub005/internal/proxy"
	"github.com/DagiiM/webops-sub005/internal/repository"
	"github.com/DagiiM/webops-sub005/internal/restart"
	"github.com/DagiiM/webops-sub005/internal/secrets"
	"github.com/DagiiM/webops-sub005/internal/server/routes"
	"github.com/DagiiM/webops-sub005/internal/supervisor"
	"github.com/DagiiM/webops-sub005/internal/task"
	"github.com/DagiiM/webops-sub005/internal/usecase"
	"github.com/DagiiM/webops-sub005/internal/webhook"
)

type Server struct {
	e        *echo.Echo
	cfg      *config.Config
	log      zerolog.Logger
	injector *do.Injector

	sweeperCancel context.CancelFunc
}

func New(cfg *config.Config, log zerolog.Logger) (*Server, error) {
	e := echo.New()
	e.HidePort = true
	e.HideBanner = true

	m := metrics.New()

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogRemoteIP:  true,
		LogHost:      true,
		LogMethod:    true,
		LogURI:       true,
		LogUserAgent: true,
		LogStatus:    true,
		LogLatency:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("remote_ip", v.RemoteIP).
				Str("host", v.Host).
				Str("method", v.Method).
				Str("uri", v.URI).
				Str("user_agent", v.UserAgent).
				Int("status", v.Status).
				Int64("latency_ms", v.Latency.Milliseconds()).
				Msg("handled request")
			m.RecordRequest(v.Method, c.Path(), v.Status, v.Latency)
			return nil
		},
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Error().Err(err).Bytes("stack", stack).Send()
			return err
		},
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := log.WithContext(req.Context())
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	})
	e.Use(rateLimitMiddleware(100, m))

	s := &Server{e: e, cfg: cfg, log: log}
	if err := s.init(m); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) init(m *metrics.Metrics) error {
	injector := do.New()
	s.injector = injector
	if err := s.injectDependencies(injector, m); err != nil {
		return err
	}
	s.registerRoutes(injector)
	return s.bootstrap(injector)
}

func (s *Server) injectDependencies(injector *do.Injector, m *metrics.Metrics) error {
	cfg, log := s.cfg, s.log

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, m)
	do.Provide(injector, func(i *do.Injector) (*gorm.DB, error) {
		return repository.NewSQLiteDB(cfg.DataDir)
	})
	do.Provide(injector, func(i *do.Injector) (repository.DeploymentRepository, error) {
		return repository.NewDeploymentRepository(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(injector, func(i *do.Injector) (repository.RestartPolicyRepository, error) {
		return repository.NewRestartPolicyRepository(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(injector, func(i *do.Injector) (repository.RestartAttemptRepository, error) {
		return repository.NewRestartAttemptRepository(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(injector, func(i *do.Injector) (repository.WebhookRepository, error) {
		return repository.NewWebhookRepository(do.MustInvoke[*gorm.DB](i)), nil
	})

	do.Provide(injector, func(i *do.Injector) (*task.Registry, error) {
		return task.NewRegistry(), nil
	})
	do.Provide(injector, func(i *do.Injector) (task.Processor, error) {
		return task.Init(cfg, do.MustInvoke[*task.Registry](i), log), nil
	})

	do.Provide(injector, func(i *do.Injector) (supervisor.Supervisor, error) {
		logDir := filepath.Join(cfg.DataDir, "logs")
		return supervisor.NewSystemdSupervisor(cfg.SupervisorUnitDir, logDir, cfg.CommandTimeout, log), nil
	})
	do.Provide(injector, func(i *do.Injector) (supervisor.CommandRunner, error) {
		return supervisor.NewShellRunner(cfg.CommandTimeout, log), nil
	})
	do.Provide(injector, func(i *do.Injector) (proxy.Proxy, error) {
		return proxy.NewNginxProxy(cfg.ProxyConfDir, log), nil
	})
	do.Provide(injector, func(i *do.Injector) (gitsource.Fetcher, error) {
		return gitsource.NewGitFetcher(cfg.DataDir, log), nil
	})
	do.Provide(injector, func(i *do.Injector) (docker.Runner, error) {
		return docker.NewRunner(log), nil
	})
	do.Provide(injector, func(i *do.Injector) (*ports.Allocator, error) {
		return ports.NewAllocator(cfg.PortRangeStart, cfg.PortRangeEnd), nil
	})
	do.Provide(injector, func(i *do.Injector) (*artifact.Renderer, error) {
		return artifact.NewRenderer()
	})
	do.Provide(injector, func(i *do.Injector) (*buildpack.Detector, error) {
		return buildpack.NewDetector(), nil
	})
	do.Provide(injector, func(i *do.Injector) (*secrets.Box, error) {
		if cfg.SecretKey == "" {
			// Sealed-env features stay disabled without a key.
			return nil, nil
		}
		return secrets.NewBox(cfg.SecretKey)
	})
	do.Provide(injector, func(i *do.Injector) (*notify.Notifier, error) {
		return notify.NewNotifier(128, log, notify.NewLogSink(log)), nil
	})
	do.Provide(injector, func(i *do.Injector) (*logtail.Hub, error) {
		return logtail.NewHub(), nil
	})
	do.Provide(injector, func(i *do.Injector) (*logtail.Tailer, error) {
		return logtail.NewTailer(do.MustInvoke[*logtail.Hub](i), log), nil
	})

	do.Provide(injector, func(i *do.Injector) (*restart.Engine, error) {
		store := do.MustInvoke[repository.RestartAttemptRepository](i)
		return restart.NewEngine(store, supervisorProber{do.MustInvoke[supervisor.Supervisor](i)}, log), nil
	})

	do.Provide(injector, func(i *do.Injector) (*lifecycle.Machine, error) {
		return lifecycle.NewMachine(lifecycle.Deps{
			Deployments: do.MustInvoke[repository.DeploymentRepository](i),
			Policies:    do.MustInvoke[repository.RestartPolicyRepository](i),
			Engine:      do.MustInvoke[*restart.Engine](i),
			Detector:    do.MustInvoke[*buildpack.Detector](i),
			Renderer:    do.MustInvoke[*artifact.Renderer](i),
			Supervisor:  do.MustInvoke[supervisor.Supervisor](i),
			Runner:      do.MustInvoke[supervisor.CommandRunner](i),
			Proxy:       do.MustInvoke[proxy.Proxy](i),
			Fetcher:     do.MustInvoke[gitsource.Fetcher](i),
			Docker:      do.MustInvoke[docker.Runner](i),
			Ports:       do.MustInvoke[*ports.Allocator](i),
			Processor:   do.MustInvoke[task.Processor](i),
			Notifier:    do.MustInvoke[*notify.Notifier](i),
			Metrics:     do.MustInvoke[*metrics.Metrics](i),
			Secrets:     do.MustInvoke[*secrets.Box](i),
			Logger:      log,
		}), nil
	})

	do.Provide(injector, func(i *do.Injector) (*webhook.Bridge, error) {
		return webhook.NewBridge(
			do.MustInvoke[repository.WebhookRepository](i),
			do.MustInvoke[task.Processor](i),
			log,
		), nil
	})

	do.Provide(injector, usecase.NewCreateDeploymentUsecase)
	do.Provide(injector, usecase.NewListDeploymentsUsecase)
	do.Provide(injector, usecase.NewGetDeploymentUsecase)
	do.Provide(injector, usecase.NewDeployDeploymentUsecase)
	do.Provide(injector, usecase.NewStopDeploymentUsecase)
	do.Provide(injector, usecase.NewRestartDeploymentUsecase)
	do.Provide(injector, usecase.NewDeleteDeploymentUsecase)
	do.Provide(injector, usecase.NewSetRestartPolicyUsecase)
	do.Provide(injector, usecase.NewSetDeploymentEnvUsecase)
	do.Provide(injector, usecase.NewHandleWebhookUsecase)
	do.Provide(injector, usecase.NewStreamLogsUsecase)
	return nil
}

func (s *Server) registerRoutes(injector *do.Injector) {
	routes.RegisterRestAPI(injector, s.e)
	routes.RegisterWebhooks(injector, s.e)
	routes.RegisterLogs(injector, s.e)
	routes.RegisterMisc(injector, s.e)
}

// bootstrap wires the task registry, re-seeds the port allocator from the
// database, and starts the background sweeper.
func (s *Server) bootstrap(injector *do.Injector) error {
	machine := do.MustInvoke[*lifecycle.Machine](injector)
	machine.RegisterTasks(do.MustInvoke[*task.Registry](injector))

	deployments := do.MustInvoke[repository.DeploymentRepository](injector)
	all, err := deployments.List(context.Background())
	if err != nil {
		return fmt.Errorf("seed port allocator: %w", err)
	}
	seed := make([]int, 0, len(all))
	for _, dep := range all {
		seed = append(seed, dep.Port)
	}
	do.MustInvoke[*ports.Allocator](injector).Seed(seed)

	ctx, cancel := context.WithCancel(context.Background())
	s.sweeperCancel = cancel
	go machine.RunSweeper(ctx, s.cfg.StaleThreshold, s.cfg.SweepInterval)
	return nil
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.log.Info().Str("addr", addr).Msg("starting server")
	return s.e.Start(addr)
}

func (s *Server) Stop(ctx context.Context) error {
	if s.sweeperCancel != nil {
		s.sweeperCancel()
	}
	return s.e.Shutdown(ctx)
}

// supervisorProber adapts the supervisor to the restart engine's probe.
type supervisorProber struct {
	super supervisor.Supervisor
}

func (p supervisorProber) Probe(ctx context.Context, dep *entity.Deployment) (bool, error) {
	status, err := p.super.Status(ctx, dep.Name)
	if err != nil {
		return false, err
	}
	return status == supervisor.StatusActive, nil
}
