package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerRunner executes build-tool commands inside an ephemeral container
// with the workspace bind-mounted, keeping untrusted generated code off the
// host toolchain.
type DockerRunner struct {
	inner *client.Client
	image string
}

// NewDockerRunner creates a runner backed by the Docker daemon.
func NewDockerRunner(host, image string) (*DockerRunner, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if image == "" {
		image = "node:20-alpine"
	}
	return &DockerRunner{inner: inner, image: image}, nil
}

// Ping validates connectivity to the Docker daemon.
func (r *DockerRunner) Ping(ctx context.Context) error {
	if r == nil || r.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	ping, err := r.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// Run executes argv in a fresh container mounting dir at /app. A non-zero
// container exit wraps ErrCommandFailed; daemon errors surface directly.
func (r *DockerRunner) Run(ctx context.Context, dir string, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	cfg := &container.Config{
		Image:      r.image,
		Cmd:        argv,
		WorkingDir: "/app",
	}
	hostCfg := &container.HostConfig{
		Binds:       []string{dir + ":/app"},
		NetworkMode: "bridge",
		AutoRemove:  false,
	}
	created, err := r.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("container create: %w", err)
	}
	defer func() {
		_ = r.inner.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	}()

	if err := r.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("container start: %w", err)
	}

	exitCode, err := r.waitForStop(ctx, created.ID)
	output := r.collectLogs(ctx, created.ID)
	if err != nil {
		return output, err
	}
	if exitCode != 0 {
		return output, fmt.Errorf("%w: exit status %d", ErrCommandFailed, exitCode)
	}
	return output, nil
}

func (r *DockerRunner) waitForStop(ctx context.Context, containerID string) (int64, error) {
	statusCh, errCh := r.inner.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	for {
		select {
		case err := <-errCh:
			if err == nil {
				continue
			}
			if client.IsErrNotFound(err) {
				return 0, nil
			}
			return 0, fmt.Errorf("wait for container stop: %w", err)
		case status := <-statusCh:
			return status.StatusCode, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (r *DockerRunner) collectLogs(ctx context.Context, containerID string) []byte {
	logs, err := r.inner.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil
	}
	defer logs.Close()
	var buf bytes.Buffer
	_, _ = stdcopy.StdCopy(&buf, &buf, logs)
	return buf.Bytes()
}

// Close releases resources held by the Docker client.
func (r *DockerRunner) Close() error {
	if r.inner == nil {
		return nil
	}
	return r.inner.Close()
}

// infraIndicators are substrings of tool output that point at sandbox
// resource exhaustion rather than broken generated code.
var infraIndicators = []string{
	"ENOSPC",
	"ENOMEM",
	"no space left on device",
	"JavaScript heap out of memory",
	"Cannot allocate memory",
}

func looksLikeInfraOutput(output string) bool {
	for _, marker := range infraIndicators {
		if strings.Contains(output, marker) {
			return true
		}
	}
	return false
}
