package runtime

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DefaultImages maps script types to the images that run them.
var DefaultImages = map[string]string{
	"BASH":       "bash:5.2",
	"JAVASCRIPT": "node:22-alpine",
	"LUA":        "nickblah/lua:5.4-alpine",
}

const executionLabel = "execplane.execution-id"

// DockerRuntime runs each script in a fresh container.
type DockerRuntime struct {
	client *client.Client
	images map[string]string
}

// DockerHandle represents a running container.
type DockerHandle struct {
	client      *client.Client
	containerID string
	copied      chan error
}

// NewDockerRuntime creates a Docker-based runtime. A nil images uses DefaultImages.
func NewDockerRuntime(images map[string]string) (*DockerRuntime, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	if images == nil {
		images = DefaultImages
	}
	return &DockerRuntime{client: cli, images: images}, nil
}

// dockerCommand passes the script inline to the interpreter.
func dockerCommand(scriptType, content string) ([]string, error) {
	in, err := interpreterFor(scriptType)
	if err != nil {
		return nil, err
	}
	return []string{in.bin, in.eval, content}, nil
}

// Start implements Runtime.Start using Docker containers.
func (d *DockerRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if _, err := validate(opts); err != nil {
		return nil, err
	}
	img, ok := d.images[opts.ScriptType]
	if !ok {
		return nil, fmt.Errorf("%w: no image for %q", ErrUnsupportedType, opts.ScriptType)
	}
	cmd, err := dockerCommand(opts.ScriptType, opts.Content)
	if err != nil {
		return nil, err
	}

	// Check if the image exists locally first to save time.
	if _, err := d.client.ImageInspect(ctx, img); err != nil {
		reader, err := d.client.ImagePull(ctx, img, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", img, err)
		}
		defer reader.Close()
		io.Copy(io.Discard, reader)
	}

	created, err := d.client.ContainerCreate(ctx, &container.Config{
		Image:  img,
		Cmd:    cmd,
		Env:    mapToEnvList(opts.Env),
		Labels: map[string]string{executionLabel: opts.ExecutionID},
	}, nil, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		d.remove(created.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	logs, err := d.client.ContainerLogs(ctx, created.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		d.remove(created.ID)
		return nil, fmt.Errorf("failed to attach logs: %w", err)
	}

	h := &DockerHandle{client: d.client, containerID: created.ID, copied: make(chan error, 1)}
	go func() {
		defer logs.Close()
		// Without a TTY the log stream is multiplexed.
		_, err := stdcopy.StdCopy(orDiscard(opts.Stdout), orDiscard(opts.Stderr), logs)
		h.copied <- err
	}()
	return h, nil
}

func (d *DockerRuntime) remove(id string) {
	d.client.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
}

func (h *DockerHandle) Wait(ctx context.Context) (ExitResult, error) {
	statusCh, errCh := h.client.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)

	var result ExitResult
	select {
	case err := <-errCh:
		return ExitResult{ExitCode: -1, Error: err}, err
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
		if status.Error != nil {
			result.Error = fmt.Errorf("%s", status.Error.Message)
		}
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}

	select {
	case <-h.copied:
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}

	h.client.ContainerRemove(context.WithoutCancel(ctx), h.containerID, container.RemoveOptions{})
	return result, nil
}

func (h *DockerHandle) Stop(ctx context.Context) error {
	timeOut := 5
	if err := h.client.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &timeOut}); err != nil {
		return err
	}
	return h.client.ContainerRemove(ctx, h.containerID, container.RemoveOptions{Force: true})
}
