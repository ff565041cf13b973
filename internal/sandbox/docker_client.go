package sandbox

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
)

// RealDockerClient는 Docker SDK를 사용하는 DockerClient 구현체입니다.
type RealDockerClient struct {
	client *client.Client
}

// NewDockerClient는 환경 변수(DOCKER_HOST 등) 기반으로 RealDockerClient를 생성합니다.
func NewDockerClient() (*RealDockerClient, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("Docker 클라이언트 생성 실패: %w", err)
	}

	return &RealDockerClient{client: cli}, nil
}

// CreateContainer implements DockerClient.
func (d *RealDockerClient) CreateContainer(ctx context.Context, config ContainerConfig) (string, error) {
	containerConfig := &container.Config{
		Image:      config.Image,
		Cmd:        config.Cmd,
		Env:        config.Env,
		WorkingDir: config.WorkingDir,
		Labels:     config.Labels,
		Tty:        true,
	}

	hostConfig := &container.HostConfig{
		AutoRemove: false,
	}

	if config.PortBinding != nil {
		containerPort := nat.Port(config.PortBinding.ContainerPort + "/tcp")
		containerConfig.ExposedPorts = nat.PortSet{containerPort: struct{}{}}

		hostPort := config.PortBinding.HostPort
		if hostPort == "" {
			hostPort = "0" // 동적 포트 할당
		}
		hostConfig.PortBindings = nat.PortMap{
			containerPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: hostPort}},
		}
	}

	if len(config.Mounts) > 0 {
		binds := make([]string, 0, len(config.Mounts))
		for _, m := range config.Mounts {
			bind := fmt.Sprintf("%s:%s", m.Source, m.Target)
			if m.ReadOnly {
				bind += ":ro"
			}
			binds = append(binds, bind)
		}
		hostConfig.Binds = binds
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, config.Name)
	if err != nil {
		return "", classify("create", config.Name, err)
	}
	return resp.ID, nil
}

// StartContainer implements DockerClient.
func (d *RealDockerClient) StartContainer(ctx context.Context, containerID string) error {
	if err := d.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return classify("start", containerID, err)
	}
	return nil
}

// StopContainer implements DockerClient.
func (d *RealDockerClient) StopContainer(ctx context.Context, containerID string, timeout int) error {
	var stopOptions container.StopOptions
	if timeout > 0 {
		stopOptions.Timeout = &timeout
	}

	if err := d.client.ContainerStop(ctx, containerID, stopOptions); err != nil {
		return classify("stop", containerID, err)
	}
	return nil
}

// RemoveContainer implements DockerClient.
func (d *RealDockerClient) RemoveContainer(ctx context.Context, containerID string) error {
	removeOptions := container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}

	if err := d.client.ContainerRemove(ctx, containerID, removeOptions); err != nil {
		return classify("remove", containerID, err)
	}
	return nil
}

// ContainerLogs implements DockerClient.
func (d *RealDockerClient) ContainerLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	logs, err := d.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, classify("logs", containerID, err)
	}
	return logs, nil
}

// ContainerInspect implements DockerClient.
func (d *RealDockerClient) ContainerInspect(ctx context.Context, containerID string) (ContainerInfo, error) {
	inspect, err := d.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return ContainerInfo{}, classify("inspect", containerID, err)
	}

	ports := make(map[string]string)
	if inspect.NetworkSettings != nil {
		for containerPort, bindings := range inspect.NetworkSettings.Ports {
			if len(bindings) > 0 {
				ports[string(containerPort)] = bindings[0].HostPort
			}
		}
	}

	info := ContainerInfo{
		ID:    inspect.ID,
		Name:  inspect.Name,
		Ports: ports,
	}
	if inspect.Config != nil {
		info.Labels = inspect.Config.Labels
	}
	if inspect.State != nil {
		info.State = inspect.State.Status
		info.ExitCode = inspect.State.ExitCode
		info.Error = inspect.State.Error
	}
	return info, nil
}

// Ping implements DockerClient.
func (d *RealDockerClient) Ping(ctx context.Context) error {
	if _, err := d.client.Ping(ctx); err != nil {
		return classify("ping", "", err)
	}
	return nil
}

// Close implements DockerClient.
func (d *RealDockerClient) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// classify는 Docker SDK 에러를 sandbox 에러 분류로 변환합니다.
func classify(op, containerID string, err error) error {
	switch {
	case errdefs.IsNotFound(err):
		return NewContainerError(op, containerID, fmt.Errorf("%w: %v", ErrContainerNotFound, err), false)
	case client.IsErrConnectionFailed(err):
		return NewContainerError(op, containerID, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err), true)
	case errdefs.IsUnavailable(err), errdefs.IsDeadline(err):
		return NewContainerError(op, containerID, err, true)
	default:
		return NewContainerError(op, containerID, err, false)
	}
}

// 인터페이스 구현 확인
var _ DockerClient = (*RealDockerClient)(nil)
