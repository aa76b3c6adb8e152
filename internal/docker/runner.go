package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/moby/go-archive"
	"github.com/rs/zerolog"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/utils"
)

// Runner builds and runs Docker-kind deployments: image from the workspace
// tarball, then replace the labeled container.
type Runner interface {
	Deploy(ctx context.Context, dep *entity.Deployment, workdir, commitSHA string) error
	Stop(ctx context.Context, dep *entity.Deployment) error
	Running(ctx context.Context, dep *entity.Deployment) (bool, error)
}

type RunnerImpl struct {
	log zerolog.Logger
}

func NewRunner(log zerolog.Logger) Runner {
	return &RunnerImpl{log: log}
}

// Deploy implements Runner.
func (r *RunnerImpl) Deploy(ctx context.Context, dep *entity.Deployment, workdir, commitSHA string) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	name := utils.SanitizeName(dep.Name)
	imageID, err := r.buildImage(ctx, cli, workdir, name, commitSHA)
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}

	if err := r.removeExisting(ctx, cli, name); err != nil {
		return err
	}

	r.log.Info().Str("image", imageID).Str("deployment", dep.Name).Msg("starting container")

	containerName := name
	if len(commitSHA) >= 7 {
		containerName = fmt.Sprintf("%s-%s", name, commitSHA[:7])
	}
	resp, err := cli.ContainerCreate(ctx,
		&container.Config{
			Image:  fmt.Sprintf("%s:%s", name, commitSHA),
			Labels: r.labels(name, commitSHA),
		},
		&container.HostConfig{
			RestartPolicy: container.RestartPolicy{
				Name: container.RestartPolicyUnlessStopped,
			},
		}, nil, nil, containerName)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}

	r.log.Info().Str("container", resp.ID).Str("deployment", dep.Name).Msg("container started")
	return nil
}

// Stop implements Runner.
func (r *RunnerImpl) Stop(ctx context.Context, dep *entity.Deployment) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()
	return r.removeExisting(ctx, cli, utils.SanitizeName(dep.Name))
}

// Running implements Runner.
func (r *RunnerImpl) Running(ctx context.Context, dep *entity.Deployment) (bool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return false, fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		Filters: r.filterArgs(utils.SanitizeName(dep.Name)),
	})
	if err != nil {
		return false, fmt.Errorf("list containers: %w", err)
	}
	return len(containers) > 0, nil
}

func (r *RunnerImpl) removeExisting(ctx context.Context, cli *client.Client, name string) error {
	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: r.filterArgs(name),
	})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	for _, c := range containers {
		r.log.Info().Str("container", c.ID).Msg("removing existing container")
		if err := cli.ContainerStop(ctx, c.ID, container.StopOptions{}); err != nil {
			return fmt.Errorf("stop container: %w", err)
		}
		if err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{}); err != nil {
			return fmt.Errorf("remove container: %w", err)
		}
	}
	return nil
}

func (r *RunnerImpl) filterArgs(name string) filters.Args {
	return filters.NewArgs(
		filters.Arg("label", "webops.enabled=true"),
		filters.Arg("label", fmt.Sprintf("webops.deployment=%s", name)),
	)
}

func (r *RunnerImpl) labels(name, commitSHA string) map[string]string {
	return map[string]string{
		"webops.enabled":    "true",
		"webops.deployment": name,
		"webops.commit":     commitSHA,
	}
}

func (r *RunnerImpl) buildImage(ctx context.Context, cli *client.Client, workdir, name, commitSHA string) (string, error) {
	buildContext, err := archive.TarWithOptions(workdir, &archive.TarOptions{})
	if err != nil {
		return "", fmt.Errorf("create tar archive: %w", err)
	}
	buildOptions := build.ImageBuildOptions{
		Tags:       []string{fmt.Sprintf("%s:%s", name, commitSHA), fmt.Sprintf("%s:latest", name)},
		Labels:     r.labels(name, commitSHA),
		Dockerfile: "Dockerfile",
		Remove:     true,
		NoCache:    true,
	}
	resp, err := cli.ImageBuild(ctx, buildContext, buildOptions)
	if err != nil {
		return "", fmt.Errorf("image build: %w", err)
	}
	defer resp.Body.Close()

	imageID := ""
	dec := json.NewDecoder(resp.Body)
	for {
		var jm jsonmessage.JSONMessage
		if err := dec.Decode(&jm); err != nil {
			if err == io.EOF {
				break
			}
			return "", fmt.Errorf("decode build output: %w", err)
		}
		if stream := strings.TrimSpace(jm.Stream); stream != "" {
			r.log.Debug().Msg(stream)
		}
		if jm.ErrorMessage != "" {
			return "", fmt.Errorf("image build: %s", jm.ErrorMessage)
		}
		if jm.Aux != nil {
			var result build.Result
			if err := json.Unmarshal(*jm.Aux, &result); err != nil {
				return "", fmt.Errorf("decode build result: %w", err)
			}
			imageID = result.ID
		}
	}
	if imageID == "" {
		return "", fmt.Errorf("image build produced no image ID")
	}
	return imageID, nil
}
