package sandbox

import (
	"bytes"
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/orchestrix/ctrlplane/core"
)

// DockerBackend implements core.SandboxBackend over the Docker Engine API.
// One handle is one container ID.
type DockerBackend struct {
	client *client.Client
	logger core.Logger
}

// NewDockerBackend constructs a DockerBackend from the ambient Docker host
// (DOCKER_HOST, or the local daemon socket).
func NewDockerBackend(logger core.Logger) (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: failed to create docker client: %w", err)
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("sandbox")
	}
	return &DockerBackend{client: cli, logger: logger}, nil
}

// Create creates, without starting, a container bound to the given mounts
// and limits. The container is created stopped; Start runs it.
func (b *DockerBackend) Create(ctx context.Context, image string, cmd []string, mounts []core.SandboxMount, env map[string]string, limits core.SandboxLimits) (string, error) {
	var envList []string
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	var dockerMounts []mount.Mount
	for _, m := range mounts {
		dockerMounts = append(dockerMounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.HostPath,
			Target:   m.ContainerPath,
			ReadOnly: m.ReadOnly,
		})
	}

	networkMode := container.NetworkMode("none")
	if limits.NetworkMode != "" {
		networkMode = container.NetworkMode(limits.NetworkMode)
	}

	containerCfg := &container.Config{
		Image:        image,
		Cmd:          cmd,
		Env:          envList,
		AttachStdout: true,
		AttachStderr: true,
	}
	hostCfg := &container.HostConfig{
		Mounts:         dockerMounts,
		NetworkMode:    networkMode,
		ReadonlyRootfs: limits.ReadOnlyRoot,
		CapDrop:        limits.CapsDropped,
		SecurityOpt:    []string{},
		Resources: container.Resources{
			Memory:     limits.MemoryBytes,
			MemorySwap: limits.MemorySwapBytes,
			CPUPeriod:  limits.CPUPeriodMicros,
			CPUQuota:   limits.CPUQuotaMicros,
		},
	}
	if limits.NoNewPrivileges {
		hostCfg.SecurityOpt = append(hostCfg.SecurityOpt, "no-new-privileges")
	}
	if limits.UserNonRoot {
		containerCfg.User = "65534:65534"
	}

	resp, err := b.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("sandbox: container create: %w", err)
	}
	return resp.ID, nil
}

// Start runs a created container.
func (b *DockerBackend) Start(ctx context.Context, handle string) error {
	if err := b.client.ContainerStart(ctx, handle, container.StartOptions{}); err != nil {
		return fmt.Errorf("sandbox: container start: %w", err)
	}
	return nil
}

// Wait blocks until the container exits or timeoutSec elapses, in which
// case it is forcibly killed and exitCode -1 is returned.
func (b *DockerBackend) Wait(ctx context.Context, handle string, timeoutSec int) (int, error) {
	waitCtx, cancel := context.WithTimeout(ctx, secondsToDuration(timeoutSec))
	defer cancel()

	statusCh, errCh := b.client.ContainerWait(waitCtx, handle, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if waitCtx.Err() != nil {
			_ = b.client.ContainerKill(context.Background(), handle, "KILL")
			return -1, fmt.Errorf("sandbox: execution timed out after %ds", timeoutSec)
		}
		if err != nil {
			return -1, fmt.Errorf("sandbox: container wait: %w", err)
		}
		return -1, nil
	case status := <-statusCh:
		return int(status.StatusCode), nil
	case <-waitCtx.Done():
		_ = b.client.ContainerKill(context.Background(), handle, "KILL")
		return -1, fmt.Errorf("sandbox: execution timed out after %ds", timeoutSec)
	}
}

// Logs returns the container's stdout/stderr output.
func (b *DockerBackend) Logs(ctx context.Context, handle string) (string, string, error) {
	out, err := b.client.ContainerLogs(ctx, handle, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("sandbox: container logs: %w", err)
	}
	defer out.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, out); err != nil {
		return "", "", fmt.Errorf("sandbox: reading logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

// Stats samples peak memory and average CPU% for a finished container.
func (b *DockerBackend) Stats(ctx context.Context, handle string) (core.SandboxUsage, error) {
	stats, err := b.client.ContainerStats(ctx, handle, false)
	if err != nil {
		return core.SandboxUsage{}, fmt.Errorf("sandbox: container stats: %w", err)
	}
	defer stats.Body.Close()

	var raw container.StatsResponse
	if err := decodeJSON(stats.Body, &raw); err != nil {
		return core.SandboxUsage{}, fmt.Errorf("sandbox: decode stats: %w", err)
	}

	usage := core.SandboxUsage{PeakMemoryBytes: int64(raw.MemoryStats.Usage)}
	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage - raw.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(raw.CPUStats.SystemUsage - raw.PreCPUStats.SystemUsage)
	if systemDelta > 0 {
		usage.AvgCPUPercent = (cpuDelta / systemDelta) * float64(len(raw.CPUStats.CPUUsage.PercpuUsage)) * 100.0
	}
	return usage, nil
}

// Remove destroys the container unconditionally. Called on every Execute
// exit path, including failures, so no isolated environment is ever leaked.
func (b *DockerBackend) Remove(ctx context.Context, handle string, force bool) error {
	if err := b.client.ContainerRemove(ctx, handle, container.RemoveOptions{Force: force, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("sandbox: container remove: %w", err)
	}
	return nil
}
