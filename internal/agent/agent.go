// Package agent는 에이전트 실행 커널을 구현합니다.
//
// Agent는 idle, running, finished, error 상태를 오가며 Stepper를 반복 호출합니다.
// 각 step 전에는 자동 checkpoint와 context compaction이 선택적으로 수행되며,
// 협력자(Checkpointer, Compactor, Sandbox, Recorder)는 모두 생성 시 주입됩니다.
package agent

import (
	"fmt"
	"sync"

	"github.com/cnap-oss/agentkernel/internal/llm"
	"github.com/cnap-oss/agentkernel/internal/schema"
	"go.uber.org/zap"
)

// Agent는 하나의 에이전트 인스턴스입니다. 한 번에 하나의 Run만 실행됩니다.
type Agent struct {
	name        string
	description string

	stepper      Stepper
	logger       *zap.Logger
	memory       *schema.Memory
	checkpointer Checkpointer
	compactor    Compactor
	sandbox      Sandbox
	recorder     Recorder
	model        llm.Client
	tokenCounter schema.TokenCounter
	tools        ToolStateHolder

	mu                 sync.RWMutex
	state              schema.AgentState
	currentStep        int
	effort             EffortLevel
	maxSteps           int
	systemPrompt       string
	nextStepPrompt     string
	duplicateThreshold int
	runID              string

	// background는 분리된 error checkpoint 작업을 추적합니다.
	background sync.WaitGroup
}

// Option은 Agent 생성 옵션입니다.
type Option func(*Agent)

// WithLogger는 logger를 지정합니다.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithCheckpointer는 checkpoint 저장소를 지정합니다.
func WithCheckpointer(c Checkpointer) Option {
	return func(a *Agent) {
		a.checkpointer = c
	}
}

// WithCompactor는 context compaction 협력자를 지정합니다.
func WithCompactor(c Compactor) Option {
	return func(a *Agent) {
		a.compactor = c
	}
}

// WithSandbox는 run 종료 시 호출될 cleanup hook을 지정합니다.
func WithSandbox(s Sandbox) Option {
	return func(a *Agent) {
		a.sandbox = s
	}
}

// WithRecorder는 run 이벤트 기록기를 지정합니다.
func WithRecorder(r Recorder) Option {
	return func(a *Agent) {
		a.recorder = r
	}
}

// WithModel은 모델 클라이언트를 지정합니다. UsageReporter를 구현하면 요약에 token 사용량이 포함됩니다.
func WithModel(m llm.Client) Option {
	return func(a *Agent) {
		a.model = m
	}
}

// WithTokenCounter는 token 비용 추정기를 지정합니다.
func WithTokenCounter(c schema.TokenCounter) Option {
	return func(a *Agent) {
		if c != nil {
			a.tokenCounter = c
		}
	}
}

// WithEffort는 effort level을 지정합니다.
func WithEffort(level EffortLevel) Option {
	return func(a *Agent) {
		a.effort = level
	}
}

// WithMaxSteps는 설정상 최대 step 수를 지정합니다.
func WithMaxSteps(n int) Option {
	return func(a *Agent) {
		a.maxSteps = n
	}
}

// WithSystemPrompt는 system prompt를 지정합니다.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		a.systemPrompt = prompt
	}
}

// WithNextStepPrompt는 매 step에 전달할 안내 문구를 지정합니다.
func WithNextStepPrompt(prompt string) Option {
	return func(a *Agent) {
		a.nextStepPrompt = prompt
	}
}

// WithDuplicateThreshold는 stuck 판정 기준을 지정합니다.
func WithDuplicateThreshold(n int) Option {
	return func(a *Agent) {
		a.duplicateThreshold = n
	}
}

// WithToolState는 tool 상태 확장 지점을 지정합니다.
func WithToolState(t ToolStateHolder) Option {
	return func(a *Agent) {
		a.tools = t
	}
}

// WithDescription은 에이전트 설명을 지정합니다.
func WithDescription(desc string) Option {
	return func(a *Agent) {
		a.description = desc
	}
}

// New는 idle 상태의 Agent를 생성합니다.
func New(name string, stepper Stepper, opts ...Option) (*Agent, error) {
	if name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if stepper == nil {
		return nil, fmt.Errorf("agent %q: stepper is required", name)
	}

	a := &Agent{
		name:               name,
		stepper:            stepper,
		logger:             zap.NewNop(),
		memory:             schema.NewMemory(),
		tokenCounter:       schema.ApproxTokenCounter{},
		state:              schema.StateIdle,
		effort:             EffortMedium,
		maxSteps:           10,
		duplicateThreshold: defaultDuplicateThreshold,
	}
	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Name은 에이전트 이름을 반환합니다.
func (a *Agent) Name() string { return a.name }

// Description은 에이전트 설명을 반환합니다.
func (a *Agent) Description() string { return a.description }

// Logger는 에이전트 logger를 반환합니다.
func (a *Agent) Logger() *zap.Logger { return a.logger }

// Memory는 메시지 저장소를 반환합니다.
func (a *Agent) Memory() *schema.Memory { return a.memory }

// Model은 모델 클라이언트를 반환합니다. 설정되지 않았으면 nil입니다.
func (a *Agent) Model() llm.Client { return a.model }

// TokenCounter는 token 비용 추정기를 반환합니다.
func (a *Agent) TokenCounter() schema.TokenCounter { return a.tokenCounter }

// Messages는 대화 이력의 복사본을 반환합니다.
func (a *Agent) Messages() []schema.Message {
	return a.memory.Messages()
}

// SetMessages는 모든 메시지를 검증한 뒤 이력을 교체합니다.
func (a *Agent) SetMessages(msgs []schema.Message) error {
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	a.memory.Replace(msgs)
	return nil
}

// State는 현재 상태를 반환합니다.
func (a *Agent) State() schema.AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Agent) setState(s schema.AgentState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
}

// Finish는 현재 run을 완료 상태로 표시합니다. Stepper가 작업을 마쳤을 때 호출합니다.
func (a *Agent) Finish() {
	a.setState(schema.StateFinished)
}

// CurrentStep은 현재 step 번호를 반환합니다.
func (a *Agent) CurrentStep() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentStep
}

func (a *Agent) incrementStep() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentStep++
	return a.currentStep
}

// EffortLevel은 effort level을 반환합니다.
func (a *Agent) EffortLevel() EffortLevel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.effort
}

// MaxSteps는 설정상 최대 step 수를 반환합니다.
func (a *Agent) MaxSteps() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.maxSteps
}

// EffectiveMaxSteps는 effort level을 반영한 실제 step 예산입니다.
func (a *Agent) EffectiveMaxSteps() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return EffectiveMaxSteps(a.effort, a.maxSteps)
}

// SystemPrompt는 system prompt를 반환합니다.
func (a *Agent) SystemPrompt() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.systemPrompt
}

// NextStepPrompt는 다음 step 안내 문구를 반환합니다.
func (a *Agent) NextStepPrompt() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nextStepPrompt
}

// RunID는 진행 중이거나 마지막으로 실행된 run의 식별자입니다.
func (a *Agent) RunID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.runID
}

// UpdateMemory는 메시지를 검증한 뒤 이력에 추가합니다. 검증에 실패하면 아무것도 추가하지 않습니다.
func (a *Agent) UpdateMemory(role schema.Role, content string, opts ...schema.MessageOption) error {
	msg, err := schema.NewMessage(role, content, opts...)
	if err != nil {
		return err
	}
	a.addMessage(msg)
	return nil
}

// Wait는 분리된 error checkpoint 작업이 끝날 때까지 기다립니다.
func (a *Agent) Wait() {
	a.background.Wait()
}
