package schema

import (
	"errors"
	"fmt"
)

// AgentState는 에이전트의 실행 단계입니다.
type AgentState string

const (
	StateIdle     AgentState = "idle"
	StateRunning  AgentState = "running"
	StateFinished AgentState = "finished"
	StateError    AgentState = "error"
)

// ErrInvalidState는 알 수 없는 상태 값입니다.
var ErrInvalidState = errors.New("invalid agent state")

// Valid는 상태 값이 정의된 네 가지 중 하나인지 확인합니다.
func (s AgentState) Valid() bool {
	switch s {
	case StateIdle, StateRunning, StateFinished, StateError:
		return true
	default:
		return false
	}
}

func (s AgentState) String() string {
	return string(s)
}

// ParseAgentState는 문자열을 AgentState로 변환합니다.
// 빈 문자열은 idle로 취급합니다.
func ParseAgentState(s string) (AgentState, error) {
	if s == "" {
		return StateIdle, nil
	}
	state := AgentState(s)
	if !state.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
	return state, nil
}
