package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cnap-oss/agentkernel/internal/schema"
	"go.uber.org/zap"
)

// RunRecorder는 agent run 이벤트를 Repository에 기록합니다.
// 모든 이벤트는 run_events에 원본으로 남고, 종류에 따라 runs, run_steps, checkpoints도 갱신됩니다.
type RunRecorder struct {
	repo   *Repository
	logger *zap.Logger
}

// NewRunRecorder는 새 RunRecorder를 생성합니다.
func NewRunRecorder(repo *Repository, logger *zap.Logger) *RunRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunRecorder{repo: repo, logger: logger}
}

// Record implements agent.Recorder.
func (r *RunRecorder) Record(ctx context.Context, event schema.RunEvent) error {
	if event.RunID == "" {
		return fmt.Errorf("storage: event %s without run id", event.Type)
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("storage: encode %s payload: %w", event.Type, err)
	}

	if err := r.repo.AppendRunEvent(ctx, &RunEvent{
		RunID:     event.RunID,
		AgentName: event.AgentName,
		Type:      string(event.Type),
		Step:      event.Step,
		Payload:   string(payload),
		At:        event.At,
	}); err != nil {
		return fmt.Errorf("storage: append %s event: %w", event.Type, err)
	}

	switch event.Type {
	case schema.EventRunStart:
		err = r.repo.CreateRun(ctx, &Run{
			RunID:     event.RunID,
			AgentName: event.AgentName,
			Request:   payloadString(event.Payload, "request"),
			Status:    RunStatusRunning,
			StartedAt: event.At,
		})
	case schema.EventStepStart:
		err = r.repo.UpsertRunStep(ctx, &RunStep{
			RunID:     event.RunID,
			StepNo:    event.Step,
			Status:    RunStepStatusRunning,
			StartedAt: event.At,
		})
	case schema.EventStepEnd:
		err = r.recordStepEnd(ctx, event)
	case schema.EventCheckpoint:
		err = r.repo.CreateCheckpoint(ctx, &Checkpoint{
			RunID:        event.RunID,
			CheckpointID: payloadString(event.Payload, "checkpoint_id"),
			Name:         payloadString(event.Payload, "name"),
			Trigger:      payloadString(event.Payload, "trigger"),
			Step:         event.Step,
			FilePath:     payloadString(event.Payload, "file_path"),
		})
	case schema.EventRunEnd:
		err = r.recordRunEnd(ctx, event)
	}
	if err != nil {
		return fmt.Errorf("storage: record %s: %w", event.Type, err)
	}

	r.logger.Debug("Run event recorded",
		zap.String("run_id", event.RunID),
		zap.String("type", string(event.Type)),
		zap.Int("step", event.Step),
	)
	return nil
}

func (r *RunRecorder) recordStepEnd(ctx context.Context, event schema.RunEvent) error {
	ended := event.At
	step := &RunStep{
		RunID:         event.RunID,
		StepNo:        event.Step,
		Status:        RunStepStatusCompleted,
		ResultPreview: payloadString(event.Payload, "result_preview"),
		StartedAt:     event.At,
		EndedAt:       &ended,
	}
	if msg := payloadString(event.Payload, "error"); msg != "" {
		step.Status = RunStepStatusFailed
		step.Error = msg
	}
	return r.repo.UpsertRunStep(ctx, step)
}

func (r *RunRecorder) recordRunEnd(ctx context.Context, event schema.RunEvent) error {
	outcome := RunOutcome{
		Status:       RunStatusCompleted,
		Steps:        payloadInt(event.Payload, "steps"),
		Messages:     payloadInt(event.Payload, "messages"),
		ToolCalls:    payloadInt(event.Payload, "tool_calls"),
		FinalState:   payloadString(event.Payload, "state"),
		FinalPreview: payloadString(event.Payload, "final_preview"),
		Error:        payloadString(event.Payload, "error"),
		EndedAt:      event.At,
	}
	if outcome.Error != "" {
		outcome.Status = RunStatusFailed
	}
	if usage, ok := event.Payload["llm"].(map[string]any); ok {
		outcome.InputTokens = int64(payloadInt(usage, "input_tokens"))
		outcome.CompletionTokens = int64(payloadInt(usage, "completion_tokens"))
	}
	return r.repo.FinishRun(ctx, event.RunID, outcome)
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
