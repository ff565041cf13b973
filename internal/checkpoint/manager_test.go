package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cnap-oss/agentkernel/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type staticSource struct {
	snap Snapshot
}

func (s staticSource) Snapshot() Snapshot {
	return s.snap
}

func sampleSource(step int) staticSource {
	tokens := 42
	return staticSource{snap: Snapshot{
		AgentName: "manus",
		Messages: []schema.Message{
			schema.UserMessage("build it"),
			schema.AssistantMessage("on it", schema.WithToolCalls([]schema.ToolCall{{
				ID: "call_1", Type: "function",
				Function: schema.Function{Name: "bash", Arguments: `{"cmd":"ls"}`},
			}})),
			schema.ToolMessage("README.md", "call_1", "bash"),
		},
		CurrentStep:      step,
		State:            schema.StateRunning,
		ToolCalls:        []schema.ToolCall{{ID: "call_1", Type: "function", Function: schema.Function{Name: "bash"}}},
		LoadedToolNames:  []string{"bash"},
		ConnectedServers: map[string]string{"fs": "stdio"},
		EffortLevel:      "high",
		MaxSteps:         50,
		SystemPrompt:     "You are helpful.",
		NextStepPrompt:   "Continue.",
		Compaction:       schema.CompactionStats{CompactionCount: 2, TotalTokensSaved: 900},
		TokenCount:       &tokens,
	}}
}

// fakeClock는 호출마다 1초씩 증가하는 시계입니다.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	m := NewManager(zaptest.NewLogger(t), cfg)
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	m.now = clock.Now
	return m
}

func TestManager_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{AgentID: "manus", MaxCheckpoints: 10})

	meta, err := m.Save(ctx, "before refactor", sampleSource(7), TriggerManual, "clean state")
	require.NoError(t, err)

	assert.Equal(t, "before_refactor", meta.Name)
	assert.Equal(t, 7, meta.CurrentStep)
	assert.Equal(t, 3, meta.MessageCount)
	assert.Equal(t, TriggerManual, meta.Trigger)
	assert.Len(t, meta.CheckpointID, 8)
	assert.Equal(t, filepath.Join(m.AgentDir(), "before_refactor.json"), meta.FilePath)
	require.NotNil(t, meta.TokenCount)
	assert.Equal(t, 42, *meta.TokenCount)

	data, err := m.Load(ctx, "before refactor")
	require.NoError(t, err)

	src := sampleSource(7).snap
	assert.Equal(t, src.Messages, data.Messages)
	assert.Equal(t, 7, data.CurrentStep)
	assert.Equal(t, schema.StateRunning, data.State)
	assert.Equal(t, src.ToolCalls, data.ToolCalls)
	assert.Equal(t, []string{"bash"}, data.LoadedToolNames)
	assert.Equal(t, map[string]string{"fs": "stdio"}, data.ConnectedServers)
	assert.Equal(t, "high", data.EffortLevel)
	assert.Equal(t, 50, data.MaxSteps)
	assert.Equal(t, "You are helpful.", data.SystemPrompt)
	assert.Equal(t, "Continue.", data.NextStepPrompt)
	assert.Equal(t, 2, data.CompactionCount)
	assert.Equal(t, 900, data.TotalTokensSaved)
	assert.Equal(t, "clean state", data.Description)
	assert.Equal(t, meta.CheckpointID, data.CheckpointID)
	assert.True(t, meta.CreatedAt.Equal(data.CreatedAt.Time))
}

func TestManager_SaveSameNameKeepsSingleIndexEntry(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{AgentID: "a", MaxCheckpoints: 10})

	_, err := m.Save(ctx, "snap", sampleSource(1), TriggerManual, "")
	require.NoError(t, err)
	_, err = m.Save(ctx, "snap", sampleSource(2), TriggerAuto, "")
	require.NoError(t, err)

	entries, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].CurrentStep)
	assert.Equal(t, TriggerAuto, entries[0].Trigger)

	raw, err := os.ReadFile(filepath.Join(m.AgentDir(), "index.json"))
	require.NoError(t, err)
	var idx map[string][]map[string]any
	require.NoError(t, json.Unmarshal(raw, &idx))
	assert.Len(t, idx["checkpoints"], 1)
}

func TestManager_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{AgentID: "a", MaxCheckpoints: 10})

	for _, name := range []string{"first", "second", "third"} {
		_, err := m.Save(ctx, name, sampleSource(1), TriggerManual, "")
		require.NoError(t, err)
	}

	entries, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "third", entries[0].Name)
	assert.Equal(t, "second", entries[1].Name)
	assert.Equal(t, "first", entries[2].Name)
}

func TestManager_Retention(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{AgentID: "a", MaxCheckpoints: 3})

	for i := 1; i <= 5; i++ {
		_, err := m.Save(ctx, "step_"+string(rune('0'+i)), sampleSource(i), TriggerAuto, "")
		require.NoError(t, err)
	}

	entries, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "step_5", entries[0].Name)
	assert.Equal(t, "step_3", entries[2].Name)

	assert.NoFileExists(t, m.PathFor("step_1"))
	assert.NoFileExists(t, m.PathFor("step_2"))
	assert.FileExists(t, m.PathFor("step_3"))
}

func TestManager_WriteFailureLeavesPreviousFile(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{AgentID: "a", MaxCheckpoints: 10})

	_, err := m.Save(ctx, "stable", sampleSource(1), TriggerManual, "")
	require.NoError(t, err)
	before, err := os.ReadFile(m.PathFor("stable"))
	require.NoError(t, err)

	m.encode = func(w io.Writer, v any) error {
		_, _ = w.Write([]byte(`{"checkpoint_id": "partial`))
		return errors.New("disk full")
	}

	_, err = m.Save(ctx, "stable", sampleSource(9), TriggerManual, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIO)

	var cpErr *Error
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "save", cpErr.Op)

	after, err := os.ReadFile(m.PathFor("stable"))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	dirEntries, err := os.ReadDir(m.AgentDir())
	require.NoError(t, err)
	for _, e := range dirEntries {
		assert.False(t, strings.HasPrefix(e.Name(), ".checkpoint-tmp-"), "temp file left behind: %s", e.Name())
	}

	entries, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].CurrentStep)
}

func TestManager_LoadErrors(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{AgentID: "a", MaxCheckpoints: 10})

	_, err := m.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.MkdirAll(m.AgentDir(), 0o755))
	require.NoError(t, os.WriteFile(m.PathFor("garbage"), []byte("{not json"), 0o644))
	_, err = m.Load(ctx, "garbage")
	assert.ErrorIs(t, err, ErrDecode)

	badRole := `{"agent_name":"x","messages":[{"role":"narrator","content":"hi"}]}`
	require.NoError(t, os.WriteFile(m.PathFor("bad_role"), []byte(badRole), 0o644))
	_, err = m.Load(ctx, "bad_role")
	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, schema.ErrUnsupportedRole)

	badState := `{"agent_name":"x","state":"sleeping"}`
	require.NoError(t, os.WriteFile(m.PathFor("bad_state"), []byte(badState), 0o644))
	_, err = m.Load(ctx, "bad_state")
	assert.ErrorIs(t, err, ErrDecode)
}

func TestManager_IndexNameIsReserved(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{AgentID: "a", MaxCheckpoints: 10})

	_, err := m.Save(ctx, "kept", sampleSource(2), TriggerManual, "")
	require.NoError(t, err)

	for _, name := range []string{"index", "INDEX", "Index"} {
		t.Run(name, func(t *testing.T) {
			_, err := m.Save(ctx, name, sampleSource(4), TriggerManual, "")
			assert.ErrorIs(t, err, ErrReservedName)

			data, err := m.Load(ctx, name)
			assert.Nil(t, data)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, err, ErrReservedName)

			deleted, err := m.Delete(ctx, name)
			assert.False(t, deleted)
			assert.ErrorIs(t, err, ErrReservedName)
		})
	}

	assert.FileExists(t, filepath.Join(m.AgentDir(), "index.json"))
	entries, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Name)

	data, err := m.Load(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, 2, data.CurrentStep)
	assert.Len(t, data.Messages, 3)
}

func TestManager_LoadAppliesDefaults(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{AgentID: "a", MaxCheckpoints: 10})
	require.NoError(t, os.MkdirAll(m.AgentDir(), 0o755))

	raw := `{"agent_name":"legacy","created_at":"2024-06-01T12:30:00.123456","messages":[]}`
	require.NoError(t, os.WriteFile(m.PathFor("legacy"), []byte(raw), 0o644))

	data, err := m.Load(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, schema.StateIdle, data.State)
	assert.Equal(t, "medium", data.EffortLevel)
	assert.Equal(t, 20, data.MaxSteps)
	assert.Equal(t, TriggerManual, data.Trigger)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 30, 0, 123456000, time.UTC), data.CreatedAt.Time)
}

func TestManager_LoadFromPath(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{AgentID: "a", MaxCheckpoints: 10})

	meta, err := m.Save(ctx, "portable", sampleSource(3), TriggerManual, "")
	require.NoError(t, err)

	other := newTestManager(t, Config{AgentID: "b", MaxCheckpoints: 10})
	data, err := other.LoadFromPath(ctx, meta.FilePath)
	require.NoError(t, err)
	assert.Equal(t, 3, data.CurrentStep)

	_, err = LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ListWithoutIndex(t *testing.T) {
	m := newTestManager(t, Config{AgentID: "a", MaxCheckpoints: 10})

	entries, err := m.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_ListCorruptIndexWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := NewManager(zap.New(core), Config{Dir: t.TempDir(), AgentID: "a", MaxCheckpoints: 10})

	require.NoError(t, os.MkdirAll(m.AgentDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(m.AgentDir(), "index.json"), []byte("[[["), 0o644))

	entries, err := m.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 1, logs.FilterMessage("Failed to read checkpoint index").Len())
}

func TestManager_Delete(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{AgentID: "a", MaxCheckpoints: 10})

	_, err := m.Save(ctx, "doomed", sampleSource(1), TriggerManual, "")
	require.NoError(t, err)

	deleted, err := m.Delete(ctx, "doomed")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NoFileExists(t, m.PathFor("doomed"))

	entries, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	deleted, err = m.Delete(ctx, "doomed")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestManager_Latest(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{AgentID: "a", MaxCheckpoints: 10})

	data, err := m.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)

	_, err = m.Save(ctx, "old", sampleSource(1), TriggerManual, "")
	require.NoError(t, err)
	_, err = m.Save(ctx, "new", sampleSource(2), TriggerManual, "")
	require.NoError(t, err)

	data, err = m.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, 2, data.CurrentStep)
}

func TestManager_ClearAll(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{AgentID: "a", MaxCheckpoints: 10})

	count, err := m.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	for _, name := range []string{"a", "b", "c"} {
		_, err := m.Save(ctx, name, sampleSource(1), TriggerManual, "")
		require.NoError(t, err)
	}

	count, err = m.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoFileExists(t, filepath.Join(m.AgentDir(), "index.json"))

	entries, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_NamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	alpha := newTestManager(t, Config{Dir: dir, AgentID: "alpha", MaxCheckpoints: 10})
	beta := newTestManager(t, Config{Dir: dir, AgentID: "beta", MaxCheckpoints: 10})

	_, err := alpha.Save(ctx, "shared", sampleSource(1), TriggerManual, "")
	require.NoError(t, err)

	entries, err := beta.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = beta.Load(ctx, "shared")
	assert.ErrorIs(t, err, ErrNotFound)

	count, err := beta.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.FileExists(t, alpha.PathFor("shared"))
}

func TestManager_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{AgentID: "a", MaxCheckpoints: 50})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Save(ctx, "c"+string(rune('a'+i)), sampleSource(i), TriggerAuto, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}

func TestManager_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := newTestManager(t, Config{AgentID: "a", MaxCheckpoints: 10})

	_, err := m.Save(ctx, "x", sampleSource(1), TriggerManual, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManager_Policy(t *testing.T) {
	m := NewManager(nil, Config{Dir: t.TempDir(), AutoInterval: 0, OnError: true})

	p := m.Policy()
	assert.Equal(t, 0, p.AutoInterval)
	assert.True(t, p.OnError)
	assert.False(t, p.BeforeCompaction)
	assert.Equal(t, "default", m.Config().AgentID)
	assert.Equal(t, 10, m.Config().MaxCheckpoints)
}
