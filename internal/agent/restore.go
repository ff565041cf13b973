package agent

import (
	"context"
	"fmt"

	"github.com/cnap-oss/agentkernel/internal/checkpoint"
	"github.com/cnap-oss/agentkernel/internal/schema"
	"go.uber.org/zap"
)

var _ checkpoint.Source = (*Agent)(nil)

// Snapshot implements checkpoint.Source.
// tool 상태는 ToolStateHolder가 있을 때, compaction 통계는 Compactor가 있을 때만 채웁니다.
func (a *Agent) Snapshot() checkpoint.Snapshot {
	messages := a.memory.Messages()

	a.mu.RLock()
	snap := checkpoint.Snapshot{
		AgentName:      a.name,
		Messages:       messages,
		CurrentStep:    a.currentStep,
		State:          a.state,
		EffortLevel:    string(a.effort),
		MaxSteps:       a.maxSteps,
		SystemPrompt:   a.systemPrompt,
		NextStepPrompt: a.nextStepPrompt,
	}
	a.mu.RUnlock()

	if a.tools != nil {
		tools := a.tools.ToolSnapshot()
		snap.ToolCalls = tools.ToolCalls
		snap.LoadedToolNames = tools.LoadedToolNames
		snap.ConnectedServers = tools.ConnectedServers
	}
	if a.compactor != nil {
		snap.Compaction = a.compactor.Stats()
	}
	if a.tokenCounter != nil {
		n := a.tokenCounter.CountTokens(messages)
		snap.TokenCount = &n
	}
	return snap
}

// Restore는 checkpoint 데이터를 에이전트에 적용합니다.
// 상태와 메시지를 먼저 모두 검증하므로 실패 시 에이전트는 변경되지 않습니다.
func (a *Agent) Restore(data *checkpoint.Data) error {
	if data == nil {
		return fmt.Errorf("restore %s: nil checkpoint data", a.name)
	}

	state, err := schema.ParseAgentState(string(data.State))
	if err != nil {
		return fmt.Errorf("restore %s: %w", a.name, err)
	}
	for i, m := range data.Messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("restore %s: message %d: %w", a.name, i, err)
		}
	}

	a.memory.Replace(data.Messages)

	a.mu.Lock()
	a.currentStep = data.CurrentStep
	a.state = state
	if data.EffortLevel != "" {
		a.effort = EffortLevel(data.EffortLevel)
	}
	if data.MaxSteps > 0 {
		a.maxSteps = data.MaxSteps
	}
	if data.SystemPrompt != "" {
		a.systemPrompt = data.SystemPrompt
	}
	if data.NextStepPrompt != "" {
		a.nextStepPrompt = data.NextStepPrompt
	}
	a.mu.Unlock()

	if a.tools != nil {
		a.tools.RestoreTools(ToolSnapshot{
			ToolCalls:        data.ToolCalls,
			LoadedToolNames:  data.LoadedToolNames,
			ConnectedServers: data.ConnectedServers,
		})
	}

	if a.compactor != nil && data.CompactionCount > 0 {
		a.compactor.RestoreStats(schema.CompactionStats{
			CompactionCount:  data.CompactionCount,
			TotalTokensSaved: data.TotalTokensSaved,
		})
	}

	a.logger.Info("Agent restored from checkpoint",
		zap.String("agent", a.name),
		zap.String("checkpoint_id", data.CheckpointID),
		zap.Int("step", data.CurrentStep),
		zap.Int("messages", len(data.Messages)),
	)
	return nil
}

// FromCheckpoint는 path의 checkpoint로 새 Agent를 만들어 복원합니다.
// name이 비어 있으면 checkpoint의 agent_name을 사용합니다.
// 재개 진입점이므로 idle이 아닌 상태는 idle로 되돌립니다.
func FromCheckpoint(ctx context.Context, path, name string, stepper Stepper, opts ...Option) (*Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := checkpoint.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = data.AgentName
	}

	a, err := New(name, stepper, opts...)
	if err != nil {
		return nil, err
	}
	if err := a.Restore(data); err != nil {
		return nil, err
	}

	if s := a.State(); s != schema.StateIdle {
		a.logger.Info("Resetting restored state to idle",
			zap.String("agent", a.name),
			zap.String("restored_state", string(s)),
		)
		a.setState(schema.StateIdle)
	}
	return a, nil
}
