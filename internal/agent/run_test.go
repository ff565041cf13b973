package agent_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cnap-oss/agentkernel/internal/agent"
	"github.com/cnap-oss/agentkernel/internal/checkpoint"
	"github.com/cnap-oss/agentkernel/internal/schema"
	"github.com/cnap-oss/agentkernel/internal/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newManager(t *testing.T, cfg checkpoint.Config) *checkpoint.Manager {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	if cfg.AgentID == "" {
		cfg.AgentID = "test"
	}
	return checkpoint.NewManager(zaptest.NewLogger(t), cfg)
}

func newAgent(t *testing.T, stepper agent.Stepper, opts ...agent.Option) *agent.Agent {
	t.Helper()
	opts = append([]agent.Option{agent.WithLogger(zaptest.NewLogger(t))}, opts...)
	a, err := agent.New("tester", stepper, opts...)
	require.NoError(t, err)
	t.Cleanup(a.Wait)
	return a
}

// numbered는 step마다 다른 응답을 내서 반복 감지를 피합니다.
func numbered() *mocks.MockStepper {
	s := mocks.NewMockStepper()
	s.StepFunc = func(ctx context.Context, a *agent.Agent) (string, error) {
		out := fmt.Sprintf("work %d", a.CurrentStep())
		return out, a.UpdateMemory(schema.RoleAssistant, out)
	}
	return s
}

func TestNew_Validation(t *testing.T) {
	_, err := agent.New("", mocks.NewMockStepper())
	assert.Error(t, err)

	_, err = agent.New("a", nil)
	assert.Error(t, err)

	a, err := agent.New("a", mocks.NewMockStepper())
	require.NoError(t, err)
	assert.Equal(t, schema.StateIdle, a.State())
	assert.Equal(t, 0, a.CurrentStep())
	assert.Equal(t, agent.EffortMedium, a.EffortLevel())
	assert.Equal(t, 10, a.MaxSteps())
	assert.Equal(t, 20, a.EffectiveMaxSteps())
}

func TestRun_TerminatesAtEffortBudget(t *testing.T) {
	stepper := numbered()
	a := newAgent(t, stepper, agent.WithMaxSteps(3), agent.WithEffort(agent.EffortLow))

	result, err := a.Run(context.Background(), "do the thing")
	require.NoError(t, err)

	assert.Equal(t, 10, stepper.Calls())
	assert.Contains(t, strings.ToLower(result), "reached max steps (10)")
	assert.True(t, strings.HasPrefix(result, "Step 1: work 1"))
	assert.Equal(t, schema.StateIdle, a.State())
	assert.Equal(t, 0, a.CurrentStep())

	lines := strings.Split(result, "\n")
	assert.Len(t, lines, 11)
	assert.Equal(t, "Terminated: Reached max steps (10)", lines[10])

	msgs := a.Messages()
	require.Len(t, msgs, 11)
	assert.Equal(t, schema.RoleUser, msgs[0].Role)
	assert.Equal(t, "do the thing", msgs[0].Content)
}

func TestRun_ConfiguredMaxStepsAboveEffort(t *testing.T) {
	stepper := numbered()
	a := newAgent(t, stepper, agent.WithMaxSteps(12), agent.WithEffort(agent.EffortLow))

	result, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, 12, stepper.Calls())
	assert.Contains(t, result, "Reached max steps (12)")
}

func TestRun_FinishesEarly(t *testing.T) {
	stepper := mocks.NewMockStepper("thinking", "answer")
	stepper.FinishAt = 2
	a := newAgent(t, stepper)

	result, err := a.Run(context.Background(), "question")
	require.NoError(t, err)

	assert.Equal(t, "Step 1: thinking\nStep 2: answer", result)
	assert.NotContains(t, result, "Terminated")
	assert.Equal(t, 2, stepper.Calls())
	assert.Equal(t, schema.StateIdle, a.State())
	assert.Equal(t, 2, a.CurrentStep())
}

func TestRun_FinishOnLastStepSkipsTermination(t *testing.T) {
	stepper := numbered()
	inner := stepper.StepFunc
	stepper.StepFunc = func(ctx context.Context, a *agent.Agent) (string, error) {
		out, err := inner(ctx, a)
		if a.CurrentStep() == 10 {
			a.Finish()
		}
		return out, err
	}
	a := newAgent(t, stepper, agent.WithEffort(agent.EffortLow))

	result, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.NotContains(t, result, "Terminated")
	assert.Equal(t, 10, a.CurrentStep())
}

func TestRun_EmptyRequestAddsNoMessage(t *testing.T) {
	stepper := mocks.NewMockStepper("ok")
	stepper.FinishAt = 1
	a := newAgent(t, stepper)

	_, err := a.Run(context.Background(), "")
	require.NoError(t, err)

	msgs := a.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, schema.RoleAssistant, msgs[0].Role)
}

func TestRun_RejectsNonIdleState(t *testing.T) {
	a := newAgent(t, mocks.NewMockStepper())

	snap := a.Snapshot()
	snap.State = schema.StateRunning
	data, err := checkpoint.NewData(snap, checkpoint.TriggerManual, "")
	require.NoError(t, err)
	require.NoError(t, a.Restore(data))

	_, err = a.Run(context.Background(), "hello")
	require.ErrorIs(t, err, agent.ErrInvalidStateTransition)
	assert.Empty(t, a.Messages())
	assert.Equal(t, schema.StateRunning, a.State())
}

func TestRun_StepFailure(t *testing.T) {
	boom := errors.New("tool exploded")
	stepper := numbered()
	inner := stepper.StepFunc
	stepper.StepFunc = func(ctx context.Context, a *agent.Agent) (string, error) {
		if a.CurrentStep() == 2 {
			return "", boom
		}
		return inner(ctx, a)
	}

	mgr := newManager(t, checkpoint.Config{OnError: true})
	sb := &mocks.MockSandbox{}
	rec := &mocks.MockRecorder{}
	a := newAgent(t, stepper,
		agent.WithCheckpointer(mgr),
		agent.WithSandbox(sb),
		agent.WithRecorder(rec),
	)

	_, err := a.Run(context.Background(), "go")
	require.ErrorIs(t, err, boom)

	var stepErr *agent.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 2, stepErr.Step)
	assert.Equal(t, schema.StateIdle, a.State())
	assert.Equal(t, 1, sb.Calls())

	a.Wait()
	data, err := mgr.Load(context.Background(), "error_step_2")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.TriggerError, data.Trigger)
	assert.Equal(t, schema.StateError, data.State)
	assert.Equal(t, 2, data.CurrentStep)
	assert.Equal(t, "Error: tool exploded", data.Description)

	ends := rec.EventsOfType(schema.EventRunEnd)
	require.Len(t, ends, 1)
	assert.Contains(t, ends[0].Payload["error"], "tool exploded")

	stepEnds := rec.EventsOfType(schema.EventStepEnd)
	require.Len(t, stepEnds, 2)
	assert.Equal(t, "tool exploded", stepEnds[1].Payload["error"])
}

func TestRun_ErrorCheckpointDescriptionTruncated(t *testing.T) {
	long := strings.Repeat("x", 300)
	stepper := mocks.NewMockStepper()
	stepper.Errors[1] = errors.New(long)

	cp := mocks.NewMockCheckpointer(checkpoint.Policy{OnError: true})
	a := newAgent(t, stepper, agent.WithCheckpointer(cp))

	_, err := a.Run(context.Background(), "go")
	require.Error(t, err)
	a.Wait()

	data, ok := cp.Get("error_step_1")
	require.True(t, ok)
	assert.Equal(t, "Error: "+strings.Repeat("x", 200), data.Description)
}

func TestRun_ErrorCheckpointDisabled(t *testing.T) {
	stepper := mocks.NewMockStepper()
	stepper.Errors[1] = errors.New("nope")
	cp := mocks.NewMockCheckpointer(checkpoint.Policy{OnError: false})
	a := newAgent(t, stepper, agent.WithCheckpointer(cp))

	_, err := a.Run(context.Background(), "go")
	require.Error(t, err)
	a.Wait()
	assert.Empty(t, cp.Names())
}

func TestRun_ErrorCheckpointWriteFailureKeepsStepError(t *testing.T) {
	boom := errors.New("step broke")
	stepper := mocks.NewMockStepper()
	stepper.Errors[1] = boom
	cp := mocks.NewMockCheckpointer(checkpoint.Policy{OnError: true})
	cp.WriteErr = errors.New("disk full")
	a := newAgent(t, stepper, agent.WithCheckpointer(cp))

	_, err := a.Run(context.Background(), "go")
	require.ErrorIs(t, err, boom)
	a.Wait()
	assert.Empty(t, cp.Names())
}

func TestRun_AutoCheckpointAtInterval(t *testing.T) {
	stepper := numbered()
	inner := stepper.StepFunc
	stepper.StepFunc = func(ctx context.Context, a *agent.Agent) (string, error) {
		out, err := inner(ctx, a)
		if a.CurrentStep() == 5 {
			a.Finish()
		}
		return out, err
	}
	mgr := newManager(t, checkpoint.Config{AutoInterval: 2})
	a := newAgent(t, stepper, agent.WithCheckpointer(mgr))

	_, err := a.Run(context.Background(), "go")
	require.NoError(t, err)

	list, err := mgr.List(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, m := range list {
		names = append(names, m.Name)
		assert.Equal(t, checkpoint.TriggerAuto, m.Trigger)
	}
	assert.ElementsMatch(t, []string{"step_2", "step_4"}, names)

	// 자동 저장은 step 실행 전 상태를 담습니다
	data, err := mgr.Load(context.Background(), "step_4")
	require.NoError(t, err)
	assert.Equal(t, 4, data.CurrentStep)
	assert.Len(t, data.Messages, 4)
	assert.Equal(t, schema.StateRunning, data.State)
}

func TestRun_CheckpointFailureDoesNotStopRun(t *testing.T) {
	stepper := numbered()
	cp := mocks.NewMockCheckpointer(checkpoint.Policy{AutoInterval: 1})
	cp.SaveErr = errors.New("read-only filesystem")
	a := newAgent(t, stepper, agent.WithCheckpointer(cp), agent.WithEffort(agent.EffortLow))

	result, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Contains(t, result, "Reached max steps (10)")
}

func TestRun_StuckDetectionPrependsPrompt(t *testing.T) {
	stepper := mocks.NewMockStepper()
	stepper.DefaultResponse = "same"
	stepper.FinishAt = 3

	core, logs := observer.New(zap.WarnLevel)
	a, err := agent.New("tester", stepper,
		agent.WithLogger(zap.New(core)),
		agent.WithNextStepPrompt("continue"),
	)
	require.NoError(t, err)

	_, err = a.Run(context.Background(), "go")
	require.NoError(t, err)

	assert.Equal(t, agent.StuckPrompt+"\ncontinue", a.NextStepPrompt())
	assert.Equal(t, 1, logs.FilterMessage("Agent detected stuck state").Len())
}

func TestRun_CompactionReplacesHistory(t *testing.T) {
	stepper := numbered()
	compactor := &mocks.MockCompactor{
		CheckHealthFunc: func(ctx context.Context, messages []schema.Message, counter schema.TokenCounter) (schema.ContextHealth, error) {
			return schema.ContextHealth{NeedsCompaction: len(messages) >= 3, MessageCount: len(messages)}, nil
		},
		CompactIfNeededFunc: func(ctx context.Context, messages []schema.Message, counter schema.TokenCounter) ([]schema.Message, error) {
			if len(messages) < 3 {
				return messages, nil
			}
			return messages[len(messages)-2:], nil
		},
	}
	cp := mocks.NewMockCheckpointer(checkpoint.Policy{BeforeCompaction: true})
	a := newAgent(t, stepper,
		agent.WithCompactor(compactor),
		agent.WithCheckpointer(cp),
		agent.WithEffort(agent.EffortLow),
	)

	_, err := a.Run(context.Background(), "go")
	require.NoError(t, err)

	assert.Equal(t, 10, compactor.CompactCalls())
	assert.Equal(t, 10, compactor.HealthCalls())
	assert.LessOrEqual(t, len(a.Messages()), 3)

	names := cp.Names()
	require.NotEmpty(t, names)
	assert.Equal(t, "pre_compaction_1", names[0])
	assert.Contains(t, names, "pre_compaction_2")

	data, ok := cp.Get("pre_compaction_1")
	require.True(t, ok)
	assert.Equal(t, checkpoint.TriggerCompaction, data.Trigger)
	assert.Equal(t, 0, data.CompactionCount)
}

func TestRun_CompactionWithoutCheckpointerSkipsHealthCheck(t *testing.T) {
	compactor := &mocks.MockCompactor{}
	stepper := mocks.NewMockStepper("ok")
	stepper.FinishAt = 1
	a := newAgent(t, stepper, agent.WithCompactor(compactor))

	_, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, 0, compactor.HealthCalls())
	assert.Equal(t, 1, compactor.CompactCalls())
}

func TestRun_CompactionFailureKeepsHistory(t *testing.T) {
	compactor := &mocks.MockCompactor{
		CompactIfNeededFunc: func(ctx context.Context, messages []schema.Message, counter schema.TokenCounter) ([]schema.Message, error) {
			return nil, errors.New("summarizer offline")
		},
	}
	stepper := numbered()
	a := newAgent(t, stepper, agent.WithCompactor(compactor), agent.WithEffort(agent.EffortLow))

	_, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Len(t, a.Messages(), 11)
}

func TestRun_CompactionRejectsLongerResult(t *testing.T) {
	compactor := &mocks.MockCompactor{
		CompactIfNeededFunc: func(ctx context.Context, messages []schema.Message, counter schema.TokenCounter) ([]schema.Message, error) {
			return append(append([]schema.Message(nil), messages...), schema.SystemMessage("extra")), nil
		},
	}
	stepper := mocks.NewMockStepper("ok")
	stepper.FinishAt = 1

	core, logs := observer.New(zap.WarnLevel)
	a, err := agent.New("tester", stepper, agent.WithLogger(zap.New(core)), agent.WithCompactor(compactor))
	require.NoError(t, err)

	_, err = a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Len(t, a.Messages(), 2)
	assert.Equal(t, 1, logs.FilterMessage("Compaction result rejected: longer than input").Len())
}

func TestRun_HealthCheckFailureSkipsCompaction(t *testing.T) {
	compactor := &mocks.MockCompactor{
		CheckHealthFunc: func(ctx context.Context, messages []schema.Message, counter schema.TokenCounter) (schema.ContextHealth, error) {
			return schema.ContextHealth{}, errors.New("counter broke")
		},
	}
	stepper := mocks.NewMockStepper("ok")
	stepper.FinishAt = 1
	cp := mocks.NewMockCheckpointer(checkpoint.Policy{BeforeCompaction: true})
	a := newAgent(t, stepper, agent.WithCompactor(compactor), agent.WithCheckpointer(cp))

	_, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, 0, compactor.CompactCalls())
	assert.Empty(t, cp.Names())
}

func TestRun_SandboxCleanupFailureIsLogged(t *testing.T) {
	sb := &mocks.MockSandbox{Err: errors.New("docker gone")}
	stepper := mocks.NewMockStepper("done")
	stepper.FinishAt = 1
	a := newAgent(t, stepper, agent.WithSandbox(sb))

	result, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "Step 1: done", result)
	assert.Equal(t, 1, sb.Calls())
}

func TestRun_RecordsEvents(t *testing.T) {
	rec := &mocks.MockRecorder{Err: errors.New("recorder offline")}
	stepper := mocks.NewMockStepper("done")
	stepper.FinishAt = 1
	a := newAgent(t, stepper, agent.WithRecorder(rec))

	_, err := a.Run(context.Background(), "go")
	require.NoError(t, err)

	events := rec.Events()
	types := make([]schema.RunEventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
		assert.Equal(t, a.RunID(), e.RunID)
		assert.Equal(t, "tester", e.AgentName)
	}
	assert.Equal(t, []schema.RunEventType{
		schema.EventRunStart,
		schema.EventMessage,
		schema.EventStepStart,
		schema.EventMessage,
		schema.EventStepEnd,
		schema.EventRunEnd,
	}, types)

	end := events[len(events)-1]
	assert.Equal(t, 1, end.Payload["steps"])
	assert.Equal(t, "done", end.Payload["final_preview"])
}

func TestRun_NewRunIDPerRun(t *testing.T) {
	stepper := mocks.NewMockStepper()
	stepper.StepFunc = func(ctx context.Context, a *agent.Agent) (string, error) {
		a.Finish()
		return "ok", nil
	}
	a := newAgent(t, stepper)

	_, err := a.Run(context.Background(), "first")
	require.NoError(t, err)
	first := a.RunID()

	_, err = a.Run(context.Background(), "second")
	require.NoError(t, err)
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, a.RunID())
}

func TestSummary_IncludesModelUsage(t *testing.T) {
	model := mocks.NewMockLLM("answer")
	model.InputTokens = 42
	model.CompletionTokens = 7

	stepper := mocks.NewMockStepper()
	stepper.StepFunc = func(ctx context.Context, a *agent.Agent) (string, error) {
		resp, err := a.Model().Ask(ctx, a.Messages(), nil)
		if err != nil {
			return "", err
		}
		if err := a.UpdateMemory(schema.RoleTool, "tool out", schema.WithToolCallID("call-1")); err != nil {
			return "", err
		}
		if err := a.UpdateMemory(schema.RoleAssistant, resp); err != nil {
			return "", err
		}
		a.Finish()
		return resp, nil
	}
	rec := &mocks.MockRecorder{}
	a := newAgent(t, stepper, agent.WithModel(model), agent.WithRecorder(rec))

	_, err := a.Run(context.Background(), "q")
	require.NoError(t, err)

	summary := a.Summary()
	assert.Equal(t, 1, summary.Steps)
	assert.Equal(t, 3, summary.Messages)
	assert.Equal(t, 1, summary.ToolCalls)
	assert.Equal(t, "answer", summary.FinalPreview)
	require.NotNil(t, summary.LLM)
	assert.Equal(t, int64(42), summary.LLM.InputTokens)
	assert.Equal(t, int64(7), summary.LLM.CompletionTokens)

	end := rec.EventsOfType(schema.EventRunEnd)
	require.Len(t, end, 1)
	assert.Contains(t, end[0].Payload, "llm")
}

func TestSummary_WithoutUsageReporter(t *testing.T) {
	a := newAgent(t, mocks.NewMockStepper())
	summary := a.Summary()
	assert.Nil(t, summary.LLM)
	assert.NotContains(t, summary.Payload(), "llm")
}

func TestUpdateMemory(t *testing.T) {
	a := newAgent(t, mocks.NewMockStepper())

	require.NoError(t, a.UpdateMemory(schema.RoleUser, "hi"))
	require.NoError(t, a.UpdateMemory(schema.RoleTool, "result", schema.WithToolCallID("c1"), schema.WithName("search")))

	err := a.UpdateMemory(schema.Role("narrator"), "once upon a time")
	assert.ErrorIs(t, err, schema.ErrUnsupportedRole)

	err = a.UpdateMemory(schema.RoleTool, "orphan")
	assert.ErrorIs(t, err, schema.ErrMissingToolCallID)

	msgs := a.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "c1", msgs[1].ToolCallID)
	assert.Equal(t, "search", msgs[1].Name)
}

func TestSetMessages_ValidatesAll(t *testing.T) {
	a := newAgent(t, mocks.NewMockStepper())
	require.NoError(t, a.UpdateMemory(schema.RoleUser, "keep"))

	err := a.SetMessages([]schema.Message{
		schema.UserMessage("ok"),
		{Role: schema.RoleTool, Content: "no id"},
	})
	require.Error(t, err)
	require.Len(t, a.Messages(), 1)
	assert.Equal(t, "keep", a.Messages()[0].Content)
}
