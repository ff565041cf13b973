package mocks

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/cnap-oss/agentkernel/internal/sandbox"
)

// MockDockerClient는 테스트용 DockerClient 구현입니다.
// Func 필드가 nil이면 성공 응답을 반환합니다.
type MockDockerClient struct {
	CreateContainerFunc  func(ctx context.Context, config sandbox.ContainerConfig) (string, error)
	StartContainerFunc   func(ctx context.Context, containerID string) error
	StopContainerFunc    func(ctx context.Context, containerID string, timeout int) error
	RemoveContainerFunc  func(ctx context.Context, containerID string) error
	ContainerLogsFunc    func(ctx context.Context, containerID string) (io.ReadCloser, error)
	ContainerInspectFunc func(ctx context.Context, containerID string) (sandbox.ContainerInfo, error)
	PingFunc             func(ctx context.Context) error
	CloseFunc            func() error

	mu        sync.Mutex
	created   []sandbox.ContainerConfig
	inspected []string
	stopped   []string
	removed  []string
	timeouts []int
}

var _ sandbox.DockerClient = (*MockDockerClient)(nil)

// CreateContainer implements sandbox.DockerClient.
func (m *MockDockerClient) CreateContainer(ctx context.Context, config sandbox.ContainerConfig) (string, error) {
	m.mu.Lock()
	m.created = append(m.created, config)
	m.mu.Unlock()

	if m.CreateContainerFunc != nil {
		return m.CreateContainerFunc(ctx, config)
	}
	return "mock-container-id", nil
}

// StartContainer implements sandbox.DockerClient.
func (m *MockDockerClient) StartContainer(ctx context.Context, containerID string) error {
	if m.StartContainerFunc != nil {
		return m.StartContainerFunc(ctx, containerID)
	}
	return nil
}

// StopContainer implements sandbox.DockerClient.
func (m *MockDockerClient) StopContainer(ctx context.Context, containerID string, timeout int) error {
	m.mu.Lock()
	m.stopped = append(m.stopped, containerID)
	m.timeouts = append(m.timeouts, timeout)
	m.mu.Unlock()

	if m.StopContainerFunc != nil {
		return m.StopContainerFunc(ctx, containerID, timeout)
	}
	return nil
}

// RemoveContainer implements sandbox.DockerClient.
func (m *MockDockerClient) RemoveContainer(ctx context.Context, containerID string) error {
	m.mu.Lock()
	m.removed = append(m.removed, containerID)
	m.mu.Unlock()

	if m.RemoveContainerFunc != nil {
		return m.RemoveContainerFunc(ctx, containerID)
	}
	return nil
}

// ContainerLogs implements sandbox.DockerClient.
func (m *MockDockerClient) ContainerLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	if m.ContainerLogsFunc != nil {
		return m.ContainerLogsFunc(ctx, containerID)
	}
	return io.NopCloser(strings.NewReader("mock logs")), nil
}

// ContainerInspect implements sandbox.DockerClient.
func (m *MockDockerClient) ContainerInspect(ctx context.Context, containerID string) (sandbox.ContainerInfo, error) {
	m.mu.Lock()
	m.inspected = append(m.inspected, containerID)
	m.mu.Unlock()

	if m.ContainerInspectFunc != nil {
		return m.ContainerInspectFunc(ctx, containerID)
	}
	return sandbox.ContainerInfo{
		ID:    containerID,
		Name:  "mock-container",
		State: "running",
	}, nil
}

// Ping implements sandbox.DockerClient.
func (m *MockDockerClient) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// Close implements sandbox.DockerClient.
func (m *MockDockerClient) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Created는 CreateContainer 호출 기록을 반환합니다.
func (m *MockDockerClient) Created() []sandbox.ContainerConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sandbox.ContainerConfig(nil), m.created...)
}

// Inspected는 ContainerInspect가 호출된 container ID 목록을 반환합니다.
func (m *MockDockerClient) Inspected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.inspected...)
}

// Stopped는 StopContainer가 호출된 container ID 목록을 반환합니다.
func (m *MockDockerClient) Stopped() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stopped...)
}

// StopTimeouts는 StopContainer에 전달된 timeout 목록을 반환합니다.
func (m *MockDockerClient) StopTimeouts() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.timeouts...)
}

// Removed는 RemoveContainer가 호출된 container ID 목록을 반환합니다 (재시도 포함).
func (m *MockDockerClient) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}
