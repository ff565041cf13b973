package agent_test

import (
	"context"
	"testing"

	"github.com/cnap-oss/agentkernel/internal/agent"
	"github.com/cnap-oss/agentkernel/internal/checkpoint"
	"github.com/cnap-oss/agentkernel/internal/schema"
	"github.com/cnap-oss/agentkernel/internal/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type toolAgentState struct {
	agent.ToolState
}

func populated(t *testing.T, opts ...agent.Option) *agent.Agent {
	t.Helper()
	a := newAgent(t, mocks.NewMockStepper(), append([]agent.Option{
		agent.WithEffort(agent.EffortHigh),
		agent.WithMaxSteps(7),
		agent.WithSystemPrompt("be precise"),
		agent.WithNextStepPrompt("what next?"),
	}, opts...)...)
	require.NoError(t, a.UpdateMemory(schema.RoleUser, "hello"))
	require.NoError(t, a.UpdateMemory(schema.RoleAssistant, "", schema.WithToolCalls([]schema.ToolCall{{
		ID:       "call-1",
		Type:     "function",
		Function: schema.Function{Name: "search", Arguments: `{"q":"go"}`},
	}})))
	require.NoError(t, a.UpdateMemory(schema.RoleTool, "results", schema.WithToolCallID("call-1"), schema.WithName("search")))
	return a
}

func TestSnapshot(t *testing.T) {
	tools := &toolAgentState{}
	tools.AddLoadedTool("search")
	tools.ConnectServer("files", "stdio")
	compactor := &mocks.MockCompactor{}
	compactor.RestoreStats(schema.CompactionStats{CompactionCount: 2, TotalTokensSaved: 900})

	a := populated(t, agent.WithToolState(tools), agent.WithCompactor(compactor))
	snap := a.Snapshot()

	assert.Equal(t, "tester", snap.AgentName)
	assert.Len(t, snap.Messages, 3)
	assert.Equal(t, schema.StateIdle, snap.State)
	assert.Equal(t, "high", snap.EffortLevel)
	assert.Equal(t, 7, snap.MaxSteps)
	assert.Equal(t, "be precise", snap.SystemPrompt)
	assert.Equal(t, []string{"search"}, snap.LoadedToolNames)
	assert.Equal(t, map[string]string{"files": "stdio"}, snap.ConnectedServers)
	assert.Equal(t, 2, snap.Compaction.CompactionCount)
	require.NotNil(t, snap.TokenCount)
	assert.Equal(t, schema.ApproxTokenCounter{}.CountTokens(snap.Messages), *snap.TokenCount)
}

func TestRestore_RoundTrip(t *testing.T) {
	srcTools := &toolAgentState{}
	srcTools.SetToolCalls([]schema.ToolCall{{ID: "call-1", Type: "function", Function: schema.Function{Name: "search"}}})
	srcTools.AddLoadedTool("search")
	srcCompactor := &mocks.MockCompactor{}
	srcCompactor.RestoreStats(schema.CompactionStats{CompactionCount: 3, TotalTokensSaved: 1200})
	src := populated(t, agent.WithToolState(srcTools), agent.WithCompactor(srcCompactor))

	mgr := newManager(t, checkpoint.Config{})
	_, err := mgr.Save(context.Background(), "manual", src, checkpoint.TriggerManual, "before deploy")
	require.NoError(t, err)
	data, err := mgr.Load(context.Background(), "manual")
	require.NoError(t, err)

	dstTools := &toolAgentState{}
	dstCompactor := &mocks.MockCompactor{}
	dst := newAgent(t, mocks.NewMockStepper(), agent.WithToolState(dstTools), agent.WithCompactor(dstCompactor))
	require.NoError(t, dst.Restore(data))

	assert.Equal(t, src.Messages(), dst.Messages())
	assert.Equal(t, src.EffortLevel(), dst.EffortLevel())
	assert.Equal(t, src.MaxSteps(), dst.MaxSteps())
	assert.Equal(t, src.SystemPrompt(), dst.SystemPrompt())
	assert.Equal(t, src.NextStepPrompt(), dst.NextStepPrompt())
	assert.Equal(t, srcTools.ToolSnapshot(), dstTools.ToolSnapshot())
	assert.Equal(t, srcCompactor.Stats(), dstCompactor.Stats())

	// 같은 데이터로 두 번 복원해도 결과가 같습니다
	first := dst.Snapshot()
	require.NoError(t, dst.Restore(data))
	assert.Equal(t, first, dst.Snapshot())
}

func TestRestore_InvalidDataLeavesAgentUnchanged(t *testing.T) {
	a := populated(t)
	before := a.Snapshot()

	data := &checkpoint.Data{
		AgentName: "tester",
		State:     schema.AgentState("sleeping"),
		Messages:  []schema.Message{schema.UserMessage("replaced")},
	}
	require.Error(t, a.Restore(data))

	data.State = schema.StateIdle
	data.Messages = []schema.Message{{Role: schema.RoleTool, Content: "no id"}}
	require.Error(t, a.Restore(data))

	require.Error(t, a.Restore(nil))
	assert.Equal(t, before, a.Snapshot())
}

func TestRestore_ZeroFieldsKeepCurrentValues(t *testing.T) {
	a := populated(t)
	require.NoError(t, a.Restore(&checkpoint.Data{
		AgentName:   "tester",
		State:       schema.StateIdle,
		CurrentStep: 4,
		Messages:    []schema.Message{schema.UserMessage("only")},
	}))

	assert.Equal(t, 4, a.CurrentStep())
	assert.Len(t, a.Messages(), 1)
	assert.Equal(t, agent.EffortHigh, a.EffortLevel())
	assert.Equal(t, 7, a.MaxSteps())
	assert.Equal(t, "be precise", a.SystemPrompt())
}

func TestFromCheckpoint_NormalizesStateToIdle(t *testing.T) {
	src := populated(t)
	snap := src.Snapshot()
	snap.State = schema.StateRunning
	snap.CurrentStep = 3
	data, err := checkpoint.NewData(snap, checkpoint.TriggerAuto, "")
	require.NoError(t, err)

	mgr := newManager(t, checkpoint.Config{})
	meta, err := mgr.Write(context.Background(), "step_3", data)
	require.NoError(t, err)

	stepper := mocks.NewMockStepper("resumed")
	stepper.FinishAt = 4
	a, err := agent.FromCheckpoint(context.Background(), meta.FilePath, "", stepper)
	require.NoError(t, err)
	t.Cleanup(a.Wait)

	assert.Equal(t, "tester", a.Name())
	assert.Equal(t, schema.StateIdle, a.State())
	assert.Equal(t, 3, a.CurrentStep())
	assert.Len(t, a.Messages(), 3)

	result, err := a.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Step 4: resumed", result)
}

func TestFromCheckpoint_Errors(t *testing.T) {
	_, err := agent.FromCheckpoint(context.Background(), t.TempDir()+"/missing.json", "x", mocks.NewMockStepper())
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = agent.FromCheckpoint(ctx, "whatever.json", "x", mocks.NewMockStepper())
	assert.ErrorIs(t, err, context.Canceled)
}
