package mocks

import (
	"context"
	"sync"

	"github.com/cnap-oss/agentkernel/internal/agent"
	"github.com/cnap-oss/agentkernel/internal/checkpoint"
	"github.com/cnap-oss/agentkernel/internal/schema"
)

// MockStepper는 정해진 응답을 순서대로 돌려주는 Stepper입니다.
// 각 step에서 응답을 assistant 메시지로 기록합니다.
type MockStepper struct {
	// Responses는 step별 응답입니다. 모두 소진되면 DefaultResponse를 사용합니다.
	Responses []string

	// DefaultResponse는 Responses가 소진된 뒤의 응답입니다.
	DefaultResponse string

	// Errors는 step 번호별로 반환할 에러입니다.
	Errors map[int]error

	// FinishAt이 0보다 크면 해당 step에서 agent.Finish를 호출합니다.
	FinishAt int

	// StepFunc가 있으면 위 설정 대신 호출됩니다.
	StepFunc func(ctx context.Context, a *agent.Agent) (string, error)

	mu    sync.Mutex
	calls int
}

var _ agent.Stepper = (*MockStepper)(nil)

// NewMockStepper는 응답 목록으로 MockStepper를 생성합니다.
func NewMockStepper(responses ...string) *MockStepper {
	return &MockStepper{
		Responses:       responses,
		DefaultResponse: "Mock response",
		Errors:          make(map[int]error),
	}
}

// Step implements agent.Stepper.
func (m *MockStepper) Step(ctx context.Context, a *agent.Agent) (string, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()

	if m.StepFunc != nil {
		return m.StepFunc(ctx, a)
	}

	step := a.CurrentStep()
	if err, ok := m.Errors[step]; ok {
		return "", err
	}

	response := m.DefaultResponse
	if call <= len(m.Responses) {
		response = m.Responses[call-1]
	}
	if err := a.UpdateMemory(schema.RoleAssistant, response); err != nil {
		return "", err
	}
	if m.FinishAt > 0 && step == m.FinishAt {
		a.Finish()
	}
	return response, nil
}

// Calls는 Step 호출 횟수를 반환합니다.
func (m *MockStepper) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockCompactor는 테스트용 Compactor 구현입니다.
// Func 필드가 nil이면 건강한 상태와 입력 그대로를 반환합니다.
type MockCompactor struct {
	CheckHealthFunc     func(ctx context.Context, messages []schema.Message, counter schema.TokenCounter) (schema.ContextHealth, error)
	CompactIfNeededFunc func(ctx context.Context, messages []schema.Message, counter schema.TokenCounter) ([]schema.Message, error)

	mu           sync.Mutex
	stats        schema.CompactionStats
	healthCalls  int
	compactCalls int
}

var _ agent.Compactor = (*MockCompactor)(nil)

// CheckHealth implements agent.Compactor.
func (m *MockCompactor) CheckHealth(ctx context.Context, messages []schema.Message, counter schema.TokenCounter) (schema.ContextHealth, error) {
	m.mu.Lock()
	m.healthCalls++
	m.mu.Unlock()

	if m.CheckHealthFunc != nil {
		return m.CheckHealthFunc(ctx, messages, counter)
	}
	return schema.ContextHealth{
		TokenCount:   counter.CountTokens(messages),
		MessageCount: len(messages),
	}, nil
}

// CompactIfNeeded implements agent.Compactor.
func (m *MockCompactor) CompactIfNeeded(ctx context.Context, messages []schema.Message, counter schema.TokenCounter) ([]schema.Message, error) {
	m.mu.Lock()
	m.compactCalls++
	m.mu.Unlock()

	if m.CompactIfNeededFunc != nil {
		out, err := m.CompactIfNeededFunc(ctx, messages, counter)
		if err == nil && len(out) < len(messages) {
			m.mu.Lock()
			m.stats.CompactionCount++
			m.stats.TotalTokensSaved += counter.CountTokens(messages) - counter.CountTokens(out)
			m.mu.Unlock()
		}
		return out, err
	}
	return messages, nil
}

// Stats implements agent.Compactor.
func (m *MockCompactor) Stats() schema.CompactionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// RestoreStats implements agent.Compactor.
func (m *MockCompactor) RestoreStats(stats schema.CompactionStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = stats
}

// HealthCalls는 CheckHealth 호출 횟수를 반환합니다.
func (m *MockCompactor) HealthCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthCalls
}

// CompactCalls는 CompactIfNeeded 호출 횟수를 반환합니다.
func (m *MockCompactor) CompactCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compactCalls
}

// MockSandbox는 Cleanup 호출을 기록하는 Sandbox입니다.
type MockSandbox struct {
	// Err가 있으면 Cleanup이 이 에러를 반환합니다.
	Err error

	mu    sync.Mutex
	calls int
}

var _ agent.Sandbox = (*MockSandbox)(nil)

// Cleanup implements agent.Sandbox.
func (m *MockSandbox) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.Err
}

// Calls는 Cleanup 호출 횟수를 반환합니다.
func (m *MockSandbox) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockRecorder는 기록된 run 이벤트를 메모리에 보관합니다.
type MockRecorder struct {
	// Err가 있으면 Record가 이 에러를 반환합니다 (이벤트는 그래도 보관).
	Err error

	mu     sync.Mutex
	events []schema.RunEvent
}

var _ agent.Recorder = (*MockRecorder)(nil)

// Record implements agent.Recorder.
func (m *MockRecorder) Record(ctx context.Context, event schema.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.Err
}

// Events는 기록된 이벤트의 복사본을 반환합니다.
func (m *MockRecorder) Events() []schema.RunEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schema.RunEvent(nil), m.events...)
}

// EventsOfType은 typ 이벤트만 반환합니다.
func (m *MockRecorder) EventsOfType(typ schema.RunEventType) []schema.RunEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schema.RunEvent
	for _, e := range m.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// MockCheckpointer는 디스크 없이 저장 요청을 기록하는 Checkpointer입니다.
type MockCheckpointer struct {
	// PolicyValue는 Policy가 반환할 값입니다.
	PolicyValue checkpoint.Policy

	// SaveErr, WriteErr가 있으면 해당 호출이 실패합니다.
	SaveErr  error
	WriteErr error

	mu    sync.Mutex
	saved map[string]*checkpoint.Data
	order []string
}

var _ agent.Checkpointer = (*MockCheckpointer)(nil)

// NewMockCheckpointer는 policy로 MockCheckpointer를 생성합니다.
func NewMockCheckpointer(policy checkpoint.Policy) *MockCheckpointer {
	return &MockCheckpointer{
		PolicyValue: policy,
		saved:       make(map[string]*checkpoint.Data),
	}
}

// Policy implements agent.Checkpointer.
func (m *MockCheckpointer) Policy() checkpoint.Policy {
	return m.PolicyValue
}

// Capture implements agent.Checkpointer.
func (m *MockCheckpointer) Capture(src checkpoint.Source, trigger checkpoint.Trigger, description string) (*checkpoint.Data, error) {
	return checkpoint.NewData(src.Snapshot(), trigger, description)
}

// Save implements agent.Checkpointer.
func (m *MockCheckpointer) Save(ctx context.Context, name string, src checkpoint.Source, trigger checkpoint.Trigger, description string) (*checkpoint.Metadata, error) {
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	data, err := m.Capture(src, trigger, description)
	if err != nil {
		return nil, err
	}
	return m.store(name, data), nil
}

// Write implements agent.Checkpointer.
func (m *MockCheckpointer) Write(ctx context.Context, name string, data *checkpoint.Data) (*checkpoint.Metadata, error) {
	if m.WriteErr != nil {
		return nil, m.WriteErr
	}
	return m.store(name, data), nil
}

func (m *MockCheckpointer) store(name string, data *checkpoint.Data) *checkpoint.Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string]*checkpoint.Data)
	}
	m.saved[name] = data
	m.order = append(m.order, name)
	meta := data.ToMetadata(name + ".json")
	return &meta
}

// Names는 저장된 checkpoint 이름을 저장 순서대로 반환합니다.
func (m *MockCheckpointer) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// Get은 name으로 저장된 데이터를 반환합니다.
func (m *MockCheckpointer) Get(name string) (*checkpoint.Data, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.saved[name]
	return d, ok
}
