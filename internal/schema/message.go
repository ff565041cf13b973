// Package schema는 에이전트 커널 전반에서 공유하는 값 타입을 정의합니다.
package schema

import (
	"errors"
	"fmt"
)

// Role은 메시지 작성 주체입니다.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

var (
	// ErrUnsupportedRole은 지원하지 않는 role로 메시지를 만들려 할 때 반환됩니다.
	ErrUnsupportedRole = errors.New("unsupported message role")
	// ErrMissingToolCallID는 tool 메시지에 호출 식별자가 없을 때 반환됩니다.
	ErrMissingToolCallID = errors.New("tool message requires a tool_call_id")
)

// Valid는 role이 허용된 네 가지 중 하나인지 확인합니다.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSystem, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// Function은 tool call이 호출하는 함수 정보입니다.
type Function struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// ToolCall은 assistant가 요청한 함수 호출입니다.
type ToolCall struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Message는 대화의 한 턴입니다. 생성 후에는 수정하지 않습니다.
type Message struct {
	Role        Role       `json:"role"`
	Content     string     `json:"content"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
	Name        string     `json:"name,omitempty"`
	ToolCallID  string     `json:"tool_call_id,omitempty"`
	Base64Image string     `json:"base64_image,omitempty"`
}

// MessageOption은 NewMessage의 선택 필드를 설정합니다.
type MessageOption func(*Message)

// WithImage는 base64 인코딩된 이미지를 첨부합니다.
func WithImage(base64Image string) MessageOption {
	return func(m *Message) {
		m.Base64Image = base64Image
	}
}

// WithToolCallID는 tool 메시지가 응답하는 호출 식별자를 지정합니다.
func WithToolCallID(id string) MessageOption {
	return func(m *Message) {
		m.ToolCallID = id
	}
}

// WithName은 tool 이름을 지정합니다.
func WithName(name string) MessageOption {
	return func(m *Message) {
		m.Name = name
	}
}

// WithToolCalls는 assistant 메시지에 tool call 목록을 붙입니다.
func WithToolCalls(calls []ToolCall) MessageOption {
	return func(m *Message) {
		if len(calls) == 0 {
			return
		}
		m.ToolCalls = append([]ToolCall(nil), calls...)
	}
}

// NewMessage는 role과 내용을 검증한 뒤 Message를 생성합니다.
func NewMessage(role Role, content string, opts ...MessageOption) (Message, error) {
	m := Message{Role: role, Content: content}
	for _, opt := range opts {
		opt(&m)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate는 역직렬화된 메시지에도 생성 시와 같은 규칙을 적용합니다.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedRole, m.Role)
	}
	if m.Role == RoleTool && m.ToolCallID == "" {
		return ErrMissingToolCallID
	}
	return nil
}

// UserMessage는 user 메시지를 생성합니다.
func UserMessage(content string, opts ...MessageOption) Message {
	return buildMessage(RoleUser, content, opts...)
}

// SystemMessage는 system 메시지를 생성합니다.
func SystemMessage(content string, opts ...MessageOption) Message {
	return buildMessage(RoleSystem, content, opts...)
}

// AssistantMessage는 assistant 메시지를 생성합니다.
func AssistantMessage(content string, opts ...MessageOption) Message {
	return buildMessage(RoleAssistant, content, opts...)
}

// ToolMessage는 tool 실행 결과 메시지를 생성합니다.
// 검증하지 않으므로 toolCallID가 비어 있으면 Validate가 거부하는 메시지가 됩니다.
// 외부 입력에는 NewMessage를 사용합니다.
func ToolMessage(content, toolCallID, name string, opts ...MessageOption) Message {
	opts = append([]MessageOption{WithToolCallID(toolCallID), WithName(name)}, opts...)
	return buildMessage(RoleTool, content, opts...)
}

// buildMessage는 검증 없이 옵션만 적용합니다. 역할별 생성자가 공유합니다.
func buildMessage(role Role, content string, opts ...MessageOption) Message {
	m := Message{Role: role, Content: content}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}
