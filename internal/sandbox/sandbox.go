package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cnap-oss/agentkernel/internal/common"
	"go.uber.org/zap"
)

const (
	// LabelManaged는 agentkernel이 생성한 container에 붙는 라벨입니다.
	LabelManaged = "agentkernel.sandbox"
	// LabelAgent는 container를 소유한 agent 이름 라벨입니다.
	LabelAgent = "agentkernel.agent"

	// stateRunning은 Docker가 보고하는 실행 중 상태입니다.
	stateRunning = "running"
	// logTailLimit은 시작 실패 진단에 포함할 로그 크기입니다.
	logTailLimit = 4 << 10
)

// Config는 DockerSandbox 설정입니다.
type Config struct {
	Image         string
	StopTimeout   time.Duration
	WorkingDir    string
	Env           []string
	Mounts        []MountConfig
	ContainerPort string // 비어 있지 않으면 127.0.0.1의 임의 포트로 노출
	Retry         RetryConfig
}

// DefaultConfig는 기본 sandbox 설정을 반환합니다.
func DefaultConfig() Config {
	return Config{
		Image:       "python:3.12-slim",
		StopTimeout: 10 * time.Second,
		WorkingDir:  "/workspace",
		Retry:       DefaultRetryConfig(),
	}
}

// ConfigFromCommon은 애플리케이션 설정에서 sandbox 설정을 만듭니다.
func ConfigFromCommon(cfg *common.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	if cfg.Sandbox.Image != "" {
		c.Image = cfg.Sandbox.Image
	}
	if cfg.Sandbox.StopTimeout > 0 {
		c.StopTimeout = cfg.Sandbox.StopTimeout
	}
	c.ContainerPort = cfg.Sandbox.ContainerPort
	c.Retry = RetryConfigFromCommon(cfg)
	return c
}

// DockerSandbox는 agent 하나의 실행 동안 사용한 container를 추적하고
// run 종료 시 정리합니다.
type DockerSandbox struct {
	agentName string
	client    DockerClient
	config    Config
	logger    *zap.Logger
	retrier   *Retrier

	mu         sync.Mutex
	containers []string
	hostPort   string
}

// NewDockerSandbox는 새 DockerSandbox를 생성합니다.
func NewDockerSandbox(agentName string, client DockerClient, logger *zap.Logger, config ...Config) *DockerSandbox {
	cfg := DefaultConfig()
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DockerSandbox{
		agentName: agentName,
		client:    client,
		config:    cfg,
		logger:    logger,
		retrier:   NewRetrier(logger, cfg.Retry),
	}
}

// SetRetrier는 재시도 정책을 교체합니다.
func (s *DockerSandbox) SetRetrier(r *Retrier) {
	if r != nil {
		s.retrier = r
	}
}

// Acquire는 실행 중인 sandbox container ID를 반환합니다.
// 아직 container가 없으면 새로 생성하고 시작한 뒤, 실제로 실행 중인지 확인합니다.
func (s *DockerSandbox) Acquire(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.containers); n > 0 {
		return s.containers[n-1], nil
	}

	cc := ContainerConfig{
		Image:      s.config.Image,
		Name:       fmt.Sprintf("agentkernel-%s-%d", s.agentName, time.Now().UnixNano()),
		Cmd:        []string{"sleep", "infinity"},
		Env:        s.config.Env,
		WorkingDir: s.config.WorkingDir,
		Mounts:     s.config.Mounts,
		Labels: map[string]string{
			LabelManaged: "true",
			LabelAgent:   s.agentName,
		},
	}
	if s.config.ContainerPort != "" {
		cc.PortBinding = &PortConfig{ContainerPort: s.config.ContainerPort}
	}

	id, err := s.client.CreateContainer(ctx, cc)
	if err != nil {
		return "", fmt.Errorf("sandbox container 생성 실패: %w", err)
	}
	// 시작에 실패해도 생성된 container는 cleanup 대상입니다
	s.containers = append(s.containers, id)

	if err := s.client.StartContainer(ctx, id); err != nil {
		return "", fmt.Errorf("sandbox container 시작 실패: %w", err)
	}

	info, err := s.client.ContainerInspect(ctx, id)
	if err != nil {
		return "", fmt.Errorf("sandbox container 조회 실패: %w", err)
	}
	if info.State != stateRunning {
		return "", fmt.Errorf("sandbox container가 실행 중이 아님 (state=%s, exit=%d): %s",
			info.State, info.ExitCode, s.logTail(ctx, id))
	}
	if s.config.ContainerPort != "" {
		s.hostPort = info.Ports[s.config.ContainerPort+"/tcp"]
	}

	s.logger.Info("Sandbox container started",
		zap.String("agent", s.agentName),
		zap.String("container_id", id),
		zap.String("image", s.config.Image),
		zap.String("host_port", s.hostPort),
	)
	return id, nil
}

// HostPort는 ContainerPort가 노출된 호스트 포트입니다. 노출하지 않았으면 빈 문자열입니다.
func (s *DockerSandbox) HostPort() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostPort
}

// logTail은 진단용으로 container 로그 앞부분을 읽습니다. 실패하면 에러 문구를 대신 반환합니다.
func (s *DockerSandbox) logTail(ctx context.Context, id string) string {
	logs, err := s.client.ContainerLogs(ctx, id)
	if err != nil {
		return fmt.Sprintf("<logs unavailable: %v>", err)
	}
	defer func() { _ = logs.Close() }()

	raw, err := io.ReadAll(io.LimitReader(logs, logTailLimit))
	if err != nil {
		return fmt.Sprintf("<logs unavailable: %v>", err)
	}
	return strings.TrimSpace(string(raw))
}

// Containers는 추적 중인 container ID 목록을 반환합니다.
func (s *DockerSandbox) Containers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.containers...)
}

// Cleanup은 추적 중인 모든 container를 중지한 뒤 강제 삭제합니다.
// 이미 사라진 container는 성공으로 취급하고, 실행 중이 아닌 container는 중지를 건너뜁니다.
func (s *DockerSandbox) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	ids := s.containers
	s.containers = nil
	s.hostPort = ""
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.remove(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *DockerSandbox) remove(ctx context.Context, id string) error {
	running := true
	info, err := s.client.ContainerInspect(ctx, id)
	switch {
	case errors.Is(err, ErrContainerNotFound):
		s.logger.Debug("Sandbox container already gone", zap.String("container_id", id))
		return nil
	case err == nil:
		running = info.State == stateRunning
	}

	if running {
		timeout := int(s.config.StopTimeout / time.Second)
		if err := s.client.StopContainer(ctx, id, timeout); err != nil && !errors.Is(err, ErrContainerNotFound) {
			// 중지 실패는 강제 삭제로 넘어갑니다
			s.logger.Warn("Sandbox container stop failed",
				zap.String("container_id", id),
				zap.Error(err),
			)
		}
	}

	err = s.retrier.Do(ctx, "remove_container", func(ctx context.Context) error {
		return s.client.RemoveContainer(ctx, id)
	})
	if err != nil && !errors.Is(err, ErrContainerNotFound) {
		return err
	}

	s.logger.Info("Sandbox container removed",
		zap.String("agent", s.agentName),
		zap.String("container_id", id),
	)
	return nil
}

// NopSandbox는 아무 일도 하지 않는 cleanup hook입니다.
type NopSandbox struct{}

// Cleanup implements agent.Sandbox.
func (NopSandbox) Cleanup(context.Context) error { return nil }
