package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cnap-oss/agentkernel/internal/checkpoint"
	"github.com/cnap-oss/agentkernel/internal/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// NoStepsExecuted는 loop가 한 번도 돌지 않았을 때의 Run 결과입니다.
	NoStepsExecuted = "No steps executed"

	previewLimit          = 500
	errorDescriptionLimit = 200
)

// Run은 request를 user 메시지로 추가한 뒤 step loop를 실행합니다.
// idle이 아닌 상태에서 호출하면 아무 부수 효과 없이 ErrInvalidStateTransition을 반환합니다.
func (a *Agent) Run(ctx context.Context, request string) (string, error) {
	if s := a.State(); s != schema.StateIdle {
		return "", fmt.Errorf("%w: cannot run agent from state %s", ErrInvalidStateTransition, s)
	}

	a.mu.Lock()
	a.runID = uuid.New().String()
	a.mu.Unlock()

	a.record(ctx, schema.EventRunStart, 0, map[string]any{"request": request})
	if request != "" {
		a.addMessage(schema.UserMessage(request))
	}

	limit := a.EffectiveMaxSteps()
	var results []string

	runErr := a.withState(ctx, schema.StateRunning, func(ctx context.Context) error {
		for a.CurrentStep() < limit && a.State() != schema.StateFinished {
			step := a.incrementStep()
			a.logger.Info("Executing step",
				zap.String("agent", a.name),
				zap.Int("step", step),
				zap.Int("limit", limit),
			)

			a.maybeAutoCheckpoint(ctx, step)
			a.maybeCompact(ctx)

			a.record(ctx, schema.EventStepStart, step, nil)
			result, err := a.stepper.Step(ctx, a)
			if err != nil {
				a.record(ctx, schema.EventStepEnd, step, map[string]any{"error": err.Error()})
				return &StepError{Step: step, Err: err}
			}
			a.record(ctx, schema.EventStepEnd, step, map[string]any{"result_preview": truncate(result, previewLimit)})

			if a.IsStuck() {
				a.HandleStuckState()
			}

			results = append(results, fmt.Sprintf("Step %d: %s", step, result))
		}

		// 마지막 step에서 Finish한 run은 예산을 소진한 것이 아니므로 종료 문구도 step 초기화도 없습니다.
		if a.CurrentStep() >= limit && a.State() != schema.StateFinished {
			a.mu.Lock()
			a.currentStep = 0
			a.state = schema.StateIdle
			a.mu.Unlock()
			results = append(results, fmt.Sprintf("Terminated: Reached max steps (%d)", limit))
		}
		return nil
	})

	a.cleanupSandbox(ctx)

	summary := a.Summary()
	payload := summary.Payload()
	if runErr != nil {
		payload["error"] = runErr.Error()
		a.logger.Error("Run failed",
			zap.String("agent", a.name),
			zap.Int("steps", summary.Steps),
			zap.Error(runErr),
		)
	} else {
		a.logger.Info("Run completed",
			zap.String("agent", a.name),
			zap.Int("steps", summary.Steps),
			zap.Int("messages", summary.Messages),
			zap.Int("tool_calls", summary.ToolCalls),
			zap.String("state", string(summary.State)),
		)
	}
	a.record(ctx, schema.EventRunEnd, summary.Steps, payload)

	if runErr != nil {
		return "", runErr
	}
	if len(results) == 0 {
		return NoStepsExecuted, nil
	}
	return strings.Join(results, "\n"), nil
}

// withState는 target 상태로 전환한 뒤 body를 실행하고, 어떤 경로로 끝나든 이전 상태로 되돌립니다.
// body가 실패하면 되돌리기 전에 error 상태로 바꾸고 error checkpoint를 예약합니다.
func (a *Agent) withState(ctx context.Context, target schema.AgentState, body func(context.Context) error) (err error) {
	if !target.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidStateTransition, target)
	}

	previous := a.State()
	a.setState(target)
	defer a.setState(previous)

	if err = body(ctx); err != nil {
		a.setState(schema.StateError)
		a.scheduleErrorCheckpoint(ctx, err)
		return err
	}
	return nil
}

// scheduleErrorCheckpoint는 현재 상태를 동기적으로 캡처하고 파일 쓰기는 분리된 goroutine에서 수행합니다.
// 이 경로의 실패는 로그로만 남습니다.
func (a *Agent) scheduleErrorCheckpoint(ctx context.Context, cause error) {
	if a.checkpointer == nil || !a.checkpointer.Policy().OnError {
		return
	}

	var stepErr *StepError
	if errors.As(cause, &stepErr) {
		cause = stepErr.Err
	}

	step := a.CurrentStep()
	name := fmt.Sprintf("error_step_%d", step)
	description := "Error: " + truncate(cause.Error(), errorDescriptionLimit)

	data, err := a.checkpointer.Capture(a, checkpoint.TriggerError, description)
	if err != nil {
		a.logger.Warn("Failed to capture error checkpoint",
			zap.String("agent", a.name),
			zap.Int("step", step),
			zap.Error(err),
		)
		return
	}

	detached := context.WithoutCancel(ctx)
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("Error checkpoint panicked",
					zap.String("agent", a.name),
					zap.Any("panic", r),
				)
			}
		}()

		meta, err := a.checkpointer.Write(detached, name, data)
		if err != nil {
			a.logger.Warn("Failed to save error checkpoint",
				zap.String("agent", a.name),
				zap.String("name", name),
				zap.Error(err),
			)
			return
		}
		a.record(detached, schema.EventCheckpoint, step, checkpointPayload(meta))
	}()
}

func (a *Agent) maybeAutoCheckpoint(ctx context.Context, step int) {
	if a.checkpointer == nil {
		return
	}
	interval := a.checkpointer.Policy().AutoInterval
	if interval <= 0 || step%interval != 0 {
		return
	}
	a.saveCheckpoint(ctx, fmt.Sprintf("step_%d", step), checkpoint.TriggerAuto, "")
}

// maybeCompact는 compaction 협력자에게 이력 축소를 요청합니다.
// 협력자가 실패하거나 더 긴 결과를 돌려주면 이번 step에서는 이력을 그대로 둡니다.
func (a *Agent) maybeCompact(ctx context.Context) {
	if a.compactor == nil {
		return
	}

	messages := a.memory.Messages()

	if a.checkpointer != nil && a.checkpointer.Policy().BeforeCompaction {
		health, err := a.compactor.CheckHealth(ctx, messages, a.tokenCounter)
		if err != nil {
			a.logger.Warn("Context health check failed",
				zap.String("agent", a.name),
				zap.Error(err),
			)
			return
		}
		if health.NeedsCompaction {
			name := fmt.Sprintf("pre_compaction_%d", a.compactor.Stats().CompactionCount+1)
			a.saveCheckpoint(ctx, name, checkpoint.TriggerCompaction, "")
		}
	}

	compacted, err := a.compactor.CompactIfNeeded(ctx, messages, a.tokenCounter)
	if err != nil {
		a.logger.Warn("Context compaction failed",
			zap.String("agent", a.name),
			zap.Error(err),
		)
		return
	}
	if len(compacted) > len(messages) {
		a.logger.Warn("Compaction result rejected: longer than input",
			zap.String("agent", a.name),
			zap.Int("before", len(messages)),
			zap.Int("after", len(compacted)),
		)
		return
	}
	if len(compacted) < len(messages) {
		a.logger.Info("Context compacted",
			zap.String("agent", a.name),
			zap.Int("before", len(messages)),
			zap.Int("after", len(compacted)),
		)
	}
	a.memory.Replace(compacted)
}

// saveCheckpoint는 loop 유지보수 경로의 저장입니다. 실패는 로그로만 남습니다.
func (a *Agent) saveCheckpoint(ctx context.Context, name string, trigger checkpoint.Trigger, description string) {
	meta, err := a.checkpointer.Save(ctx, name, a, trigger, description)
	if err != nil {
		a.logger.Warn("Checkpoint failed",
			zap.String("agent", a.name),
			zap.String("name", name),
			zap.String("trigger", string(trigger)),
			zap.Error(err),
		)
		return
	}
	a.record(ctx, schema.EventCheckpoint, a.CurrentStep(), checkpointPayload(meta))
}

func (a *Agent) cleanupSandbox(ctx context.Context) {
	if a.sandbox == nil {
		return
	}
	if err := a.sandbox.Cleanup(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("Sandbox cleanup failed",
			zap.String("agent", a.name),
			zap.Error(err),
		)
	}
}

func (a *Agent) addMessage(msg schema.Message) {
	a.memory.Add(msg)
	a.record(context.Background(), schema.EventMessage, a.CurrentStep(), map[string]any{
		"role":    string(msg.Role),
		"content": msg.Content,
	})
}

// record는 Recorder가 있으면 이벤트를 전달합니다. 기록 실패는 run에 영향을 주지 않습니다.
func (a *Agent) record(ctx context.Context, typ schema.RunEventType, step int, payload map[string]any) {
	if a.recorder == nil {
		return
	}
	event := schema.RunEvent{
		RunID:     a.RunID(),
		AgentName: a.name,
		Type:      typ,
		Step:      step,
		Payload:   payload,
		At:        time.Now().UTC(),
	}
	if err := a.recorder.Record(ctx, event); err != nil {
		a.logger.Debug("Failed to record run event",
			zap.String("agent", a.name),
			zap.String("type", string(typ)),
			zap.Error(err),
		)
	}
}

func checkpointPayload(meta *checkpoint.Metadata) map[string]any {
	return map[string]any{
		"name":          meta.Name,
		"checkpoint_id": meta.CheckpointID,
		"trigger":       string(meta.Trigger),
		"file_path":     meta.FilePath,
	}
}

// truncate는 s를 최대 n개의 rune으로 자릅니다.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
