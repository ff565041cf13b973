package sandbox

import (
	"errors"
	"fmt"
)

var (
	// ErrContainerNotFound는 container가 이미 없을 때 반환됩니다.
	ErrContainerNotFound = errors.New("container를 찾을 수 없음")
	// ErrDaemonUnavailable은 Docker daemon에 연결할 수 없을 때 반환됩니다.
	ErrDaemonUnavailable = errors.New("Docker daemon 연결 실패")
)

// ContainerError는 Container 관련 에러를 래핑합니다.
type ContainerError struct {
	Op          string // 작업명
	ContainerID string // Container ID
	Err         error  // 원본 에러
	Recoverable bool   // 재시도로 복구 가능한지 여부
}

func (e *ContainerError) Error() string {
	if e.ContainerID == "" {
		return fmt.Sprintf("container %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("container[%s] %s: %v", e.ContainerID, e.Op, e.Err)
}

func (e *ContainerError) Unwrap() error {
	return e.Err
}

// NewContainerError는 새 ContainerError를 생성합니다.
func NewContainerError(op, containerID string, err error, recoverable bool) *ContainerError {
	return &ContainerError{
		Op:          op,
		ContainerID: containerID,
		Err:         err,
		Recoverable: recoverable,
	}
}

// IsRetryable은 재시도 가능한 에러인지 확인합니다.
func IsRetryable(err error) bool {
	var containerErr *ContainerError
	if errors.As(err, &containerErr) && containerErr.Recoverable {
		return true
	}
	return errors.Is(err, ErrDaemonUnavailable)
}
