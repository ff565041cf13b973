package mocks

import (
	"context"
	"sync"

	"github.com/cnap-oss/agentkernel/internal/agent"
	"github.com/cnap-oss/agentkernel/internal/llm"
	"github.com/cnap-oss/agentkernel/internal/schema"
)

// MockLLM은 정해진 응답을 반환하고 호출을 기록하는 모델 클라이언트입니다.
// 응답당 InputTokens, CompletionTokens만큼 사용량을 누적합니다.
type MockLLM struct {
	Responses        []string
	DefaultResponse  string
	Err              error
	InputTokens      int64
	CompletionTokens int64

	mu          sync.Mutex
	calls       [][]schema.Message
	systems     [][]schema.Message
	totalInput  int64
	totalOutput int64
}

var (
	_ llm.Client          = (*MockLLM)(nil)
	_ agent.UsageReporter = (*MockLLM)(nil)
)

// NewMockLLM은 응답 목록으로 MockLLM을 생성합니다.
func NewMockLLM(responses ...string) *MockLLM {
	return &MockLLM{
		Responses:       responses,
		DefaultResponse: "Mock response",
	}
}

// Ask implements llm.Client.
func (m *MockLLM) Ask(ctx context.Context, messages, system []schema.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, append([]schema.Message(nil), messages...))
	m.systems = append(m.systems, append([]schema.Message(nil), system...))
	if m.Err != nil {
		return "", m.Err
	}

	response := m.DefaultResponse
	if n := len(m.calls); n <= len(m.Responses) {
		response = m.Responses[n-1]
	}
	m.totalInput += m.InputTokens
	m.totalOutput += m.CompletionTokens
	return response, nil
}

// Calls는 Ask에 전달된 메시지 목록을 호출 순서대로 반환합니다.
func (m *MockLLM) Calls() [][]schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]schema.Message(nil), m.calls...)
}

// Systems는 Ask에 전달된 system 메시지 목록을 반환합니다.
func (m *MockLLM) Systems() [][]schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]schema.Message(nil), m.systems...)
}

// TotalInputTokens implements agent.UsageReporter.
func (m *MockLLM) TotalInputTokens() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalInput
}

// TotalCompletionTokens implements agent.UsageReporter.
func (m *MockLLM) TotalCompletionTokens() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalOutput
}
