package agent

import (
	"context"

	"github.com/cnap-oss/agentkernel/internal/checkpoint"
	"github.com/cnap-oss/agentkernel/internal/schema"
)

// Stepper는 한 step의 도메인 작업을 수행하고 그 결과 문자열을 반환합니다.
// step 동안 Agent의 메모리와 상태는 UpdateMemory, Finish 등으로 변경합니다.
type Stepper interface {
	Step(ctx context.Context, a *Agent) (string, error)
}

// StepFunc는 함수를 Stepper로 사용할 수 있게 합니다.
type StepFunc func(ctx context.Context, a *Agent) (string, error)

// Step implements Stepper.
func (f StepFunc) Step(ctx context.Context, a *Agent) (string, error) {
	return f(ctx, a)
}

// Compactor는 대화 이력을 token 예산 안으로 줄이는 협력자입니다.
// CompactIfNeeded의 결과는 순서를 유지하고 입력보다 길지 않아야 합니다.
type Compactor interface {
	CheckHealth(ctx context.Context, messages []schema.Message, counter schema.TokenCounter) (schema.ContextHealth, error)
	CompactIfNeeded(ctx context.Context, messages []schema.Message, counter schema.TokenCounter) ([]schema.Message, error)
	Stats() schema.CompactionStats
	RestoreStats(stats schema.CompactionStats)
}

// Checkpointer는 run loop가 사용하는 checkpoint 저장소입니다. *checkpoint.Manager가 구현합니다.
type Checkpointer interface {
	Save(ctx context.Context, name string, src checkpoint.Source, trigger checkpoint.Trigger, description string) (*checkpoint.Metadata, error)
	Capture(src checkpoint.Source, trigger checkpoint.Trigger, description string) (*checkpoint.Data, error)
	Write(ctx context.Context, name string, data *checkpoint.Data) (*checkpoint.Metadata, error)
	Policy() checkpoint.Policy
}

// Sandbox는 run이 끝날 때마다 호출되는 자원 정리 hook입니다.
type Sandbox interface {
	Cleanup(ctx context.Context) error
}

// Recorder는 run 이벤트를 외부에 기록합니다.
type Recorder interface {
	Record(ctx context.Context, event schema.RunEvent) error
}

// UsageReporter는 누적 token 사용량을 노출하는 모델 클라이언트가 구현합니다.
type UsageReporter interface {
	TotalInputTokens() int64
	TotalCompletionTokens() int64
}

var _ Checkpointer = (*checkpoint.Manager)(nil)
