// Package checkpoint는 에이전트 상태를 디스크에 저장하고 복원하는 기능을 제공합니다.
//
// 한 에이전트의 checkpoint는 <dir>/<agent id>/ 아래에 <name>.json 파일로
// 저장되며, 같은 디렉토리의 index.json이 목록 조회용 metadata를 보관합니다.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cnap-oss/agentkernel/internal/schema"
	"github.com/google/uuid"
)

// Trigger는 checkpoint를 만든 원인입니다.
type Trigger string

const (
	TriggerManual     Trigger = "manual"     // 명시적 호출
	TriggerAuto       Trigger = "auto"       // N step 마다
	TriggerError      Trigger = "error"      // step 실패 직후
	TriggerCompaction Trigger = "compaction" // compaction 직전
)

// Valid는 trigger가 정의된 값인지 확인합니다.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerManual, TriggerAuto, TriggerError, TriggerCompaction:
		return true
	default:
		return false
	}
}

// Timestamp는 RFC 3339(나노초, UTC)로 직렬화되는 시각입니다.
// 역직렬화 시 timezone이 없는 ISO 형식은 UTC로 간주합니다.
type Timestamp struct {
	time.Time
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// NewTimestamp는 t를 UTC로 변환해 감쌉니다.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		ts.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	ts.Time = parsed
	return nil
}

// ParseTimestamp는 RFC 3339 또는 timezone 없는 ISO 문자열을 UTC 시각으로 변환합니다.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Snapshot은 에이전트가 자신의 능력에 맞춰 채우는 저장 대상 상태입니다.
// tool 상태와 compaction 통계는 해당 기능을 가진 에이전트만 채웁니다.
type Snapshot struct {
	AgentName        string
	Messages         []schema.Message
	CurrentStep      int
	State            schema.AgentState
	ToolCalls        []schema.ToolCall
	LoadedToolNames  []string
	ConnectedServers map[string]string
	EffortLevel      string
	MaxSteps         int
	SystemPrompt     string
	NextStepPrompt   string
	Compaction       schema.CompactionStats
	TokenCount       *int
}

// Source는 Snapshot을 제공하는 대상입니다. agent.Agent가 구현합니다.
type Source interface {
	Snapshot() Snapshot
}

// Data는 복원에 필요한 에이전트 상태 전체입니다.
type Data struct {
	// Identity
	CheckpointID string    `json:"checkpoint_id"`
	AgentName    string    `json:"agent_name"`
	CreatedAt    Timestamp `json:"created_at"`

	// Critical state
	Messages    []schema.Message  `json:"messages"`
	CurrentStep int               `json:"current_step"`
	State       schema.AgentState `json:"state"`

	// Tool state
	ToolCalls        []schema.ToolCall `json:"tool_calls"`
	LoadedToolNames  []string          `json:"loaded_tool_names"`
	ConnectedServers map[string]string `json:"connected_servers"`

	// Configuration
	EffortLevel    string `json:"effort_level"`
	MaxSteps       int    `json:"max_steps"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
	NextStepPrompt string `json:"next_step_prompt,omitempty"`

	// Context stats
	CompactionCount  int  `json:"compaction_count"`
	TotalTokensSaved int  `json:"total_tokens_saved"`
	TokenCount       *int `json:"token_count,omitempty"`

	Description string  `json:"description,omitempty"`
	Trigger     Trigger `json:"trigger"`
}

// NewData는 snapshot을 복사해 새 Data를 만듭니다.
// 반환된 Data는 snapshot 원본과 메모리를 공유하지 않습니다.
func NewData(snap Snapshot, trigger Trigger, description string) (*Data, error) {
	if !trigger.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTrigger, trigger)
	}
	state, err := schema.ParseAgentState(string(snap.State))
	if err != nil {
		return nil, err
	}

	data := &Data{
		CheckpointID:     newCheckpointID(),
		AgentName:        snap.AgentName,
		CreatedAt:        NewTimestamp(time.Now()),
		Messages:         cloneMessages(snap.Messages),
		CurrentStep:      snap.CurrentStep,
		State:            state,
		ToolCalls:        append([]schema.ToolCall{}, snap.ToolCalls...),
		LoadedToolNames:  append([]string{}, snap.LoadedToolNames...),
		ConnectedServers: make(map[string]string, len(snap.ConnectedServers)),
		EffortLevel:      snap.EffortLevel,
		MaxSteps:         snap.MaxSteps,
		SystemPrompt:     snap.SystemPrompt,
		NextStepPrompt:   snap.NextStepPrompt,
		CompactionCount:  snap.Compaction.CompactionCount,
		TotalTokensSaved: snap.Compaction.TotalTokensSaved,
		Description:      description,
		Trigger:          trigger,
	}
	for k, v := range snap.ConnectedServers {
		data.ConnectedServers[k] = v
	}
	if snap.TokenCount != nil {
		n := *snap.TokenCount
		data.TokenCount = &n
	}
	if data.EffortLevel == "" {
		data.EffortLevel = defaultEffortLevel
	}

	return data, nil
}

// ToMetadata는 목록 조회용 metadata를 만듭니다. name은 파일 이름에서 .json을 뺀 값입니다.
func (d *Data) ToMetadata(filePath string) Metadata {
	return Metadata{
		CheckpointID: d.CheckpointID,
		Name:         strings.TrimSuffix(filepath.Base(filePath), ".json"),
		AgentName:    d.AgentName,
		CreatedAt:    d.CreatedAt,
		CurrentStep:  d.CurrentStep,
		MessageCount: len(d.Messages),
		TokenCount:   d.TokenCount,
		Trigger:      d.Trigger,
		Description:  d.Description,
		FilePath:     filePath,
	}
}

// Metadata는 index.json에 저장되는 가벼운 checkpoint 정보입니다.
type Metadata struct {
	CheckpointID string    `json:"checkpoint_id"`
	Name         string    `json:"name"`
	AgentName    string    `json:"agent_name"`
	CreatedAt    Timestamp `json:"created_at"`
	CurrentStep  int       `json:"current_step"`
	MessageCount int       `json:"message_count"`
	TokenCount   *int      `json:"token_count,omitempty"`
	Trigger      Trigger   `json:"trigger"`
	Description  string    `json:"description,omitempty"`
	FilePath     string    `json:"file_path"`
}

// index는 index.json 파일 형식입니다.
type index struct {
	Checkpoints []Metadata `json:"checkpoints"`
}

// Policy는 run loop가 참고하는 자동 checkpoint 설정입니다.
type Policy struct {
	AutoInterval     int
	OnError          bool
	BeforeCompaction bool
}

const (
	defaultEffortLevel = "medium"
	defaultMaxSteps    = 20
)

func newCheckpointID() string {
	return uuid.New().String()[:8]
}

func cloneMessages(msgs []schema.Message) []schema.Message {
	out := make([]schema.Message, len(msgs))
	for i, m := range msgs {
		if len(m.ToolCalls) > 0 {
			m.ToolCalls = append([]schema.ToolCall(nil), m.ToolCalls...)
		}
		out[i] = m
	}
	return out
}
