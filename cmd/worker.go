package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/DagiiM/webops-sub005/internal/artifact"
	"github.com/DagiiM/webops-sub005/internal/buildpack"
	"github.com/DagiiM/webops-sub005/internal/config"
	"github.com/DagiiM/webops-sub005/internal/docker"
	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/gitsource"
	"github.com/DagiiM/webops-sub005/internal/lifecycle"
	"github.com/DagiiM/webops-sub005/internal/notify"
	"github.com/DagiiM/webops-sub005/internal/ports"
	"github.com/DagiiM/webops-sub005/internal/proxy"
	"github.com/DagiiM/webops-sub005/internal/repository"
	"github.com/DagiiM/webops-sub005/internal/restart"
	"github.com/DagiiM/webops-sub005/internal/secrets"
	"github.com/DagiiM/webops-sub005/internal/supervisor"
	"github.com/DagiiM/webops-sub005/internal/task"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a distributed task worker against the Redis queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()

		db, err := repository.NewSQLiteDB(cfg.DataDir)
		if err != nil {
			return err
		}
		renderer, err := artifact.NewRenderer()
		if err != nil {
			return err
		}
		var box *secrets.Box
		if cfg.SecretKey != "" {
			if box, err = secrets.NewBox(cfg.SecretKey); err != nil {
				return err
			}
		}

		deployments := repository.NewDeploymentRepository(db)
		attempts := repository.NewRestartAttemptRepository(db)
		super := supervisor.NewSystemdSupervisor(
			cfg.SupervisorUnitDir, filepath.Join(cfg.DataDir, "logs"), cfg.CommandTimeout, log.Logger)

		registry := task.NewRegistry()
		machine := lifecycle.NewMachine(lifecycle.Deps{
			Deployments: deployments,
			Policies:    repository.NewRestartPolicyRepository(db),
			Engine:      restart.NewEngine(attempts, workerProber{super}, log.Logger),
			Detector:    buildpack.NewDetector(),
			Renderer:    renderer,
			Supervisor:  super,
			Runner:      supervisor.NewShellRunner(cfg.CommandTimeout, log.Logger),
			Proxy:       proxy.NewNginxProxy(cfg.ProxyConfDir, log.Logger),
			Fetcher:     gitsource.NewGitFetcher(cfg.DataDir, log.Logger),
			Docker:      docker.NewRunner(log.Logger),
			Ports:       seededAllocator(cfg, deployments),
			Processor:   task.Init(cfg, registry, log.Logger),
			Notifier:    notify.NewNotifier(128, log.Logger, notify.NewLogSink(log.Logger)),
			Secrets:     box,
			Logger:      log.Logger,
		})
		machine.RegisterTasks(registry)

		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		worker := task.NewWorker(client, registry, log.Logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info().Str("addr", cfg.RedisAddr).Msg("worker started")
		return worker.Run(ctx)
	},
}

func seededAllocator(cfg *config.Config, deployments repository.DeploymentRepository) *ports.Allocator {
	alloc := ports.NewAllocator(cfg.PortRangeStart, cfg.PortRangeEnd)
	all, err := deployments.List(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("seed port allocator")
		return alloc
	}
	used := make([]int, 0, len(all))
	for _, dep := range all {
		used = append(used, dep.Port)
	}
	alloc.Seed(used)
	return alloc
}

type workerProber struct {
	super supervisor.Supervisor
}

func (p workerProber) Probe(ctx context.Context, dep *entity.Deployment) (bool, error) {
	status, err := p.super.Status(ctx, dep.Name)
	if err != nil {
		return false, err
	}
	return status == supervisor.StatusActive, nil
}
