package storage

import "time"

// Run은 runs 테이블 레코드입니다. Agent.Run 호출 하나에 대응합니다.
type Run struct {
	ID               int64      `gorm:"column:id;primaryKey;autoIncrement"`
	RunID            string     `gorm:"column:run_id;type:varchar(64);not null;uniqueIndex:idx_runs_run_id"`
	AgentName        string     `gorm:"column:agent_name;type:varchar(128);not null;index:idx_runs_agent"`
	Request          string     `gorm:"column:request;type:text"`
	Status           string     `gorm:"column:status;type:varchar(32);not null"`
	Steps            int        `gorm:"column:steps;type:int;not null;default:0"`
	Messages         int        `gorm:"column:messages;type:int;not null;default:0"`
	ToolCalls        int        `gorm:"column:tool_calls;type:int;not null;default:0"`
	FinalState       string     `gorm:"column:final_state;type:varchar(32)"`
	FinalPreview     string     `gorm:"column:final_preview;type:text"`
	Error            string     `gorm:"column:error;type:text"`
	InputTokens      int64      `gorm:"column:input_tokens;not null;default:0"`
	CompletionTokens int64      `gorm:"column:completion_tokens;not null;default:0"`
	StartedAt        time.Time  `gorm:"column:started_at;not null"`
	EndedAt          *time.Time `gorm:"column:ended_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;not null;autoUpdateTime"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (Run) TableName() string {
	return "runs"
}

// RunStep은 run의 step 하나를 기록합니다.
type RunStep struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	RunID         string     `gorm:"column:run_id;type:varchar(64);not null;index:idx_run_steps_run;uniqueIndex:idx_run_steps_run_step,priority:1"`
	StepNo        int        `gorm:"column:step_no;type:int;not null;uniqueIndex:idx_run_steps_run_step,priority:2"`
	Status        string     `gorm:"column:status;type:varchar(32);not null"`
	ResultPreview string     `gorm:"column:result_preview;type:text"`
	Error         string     `gorm:"column:error;type:text"`
	StartedAt     time.Time  `gorm:"column:started_at;not null"`
	EndedAt       *time.Time `gorm:"column:ended_at"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (RunStep) TableName() string {
	return "run_steps"
}

// RunEvent는 run 이벤트 원본을 순서대로 보관합니다. Payload는 JSON 문자열입니다.
type RunEvent struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunID     string    `gorm:"column:run_id;type:varchar(64);not null;index:idx_run_events_run"`
	AgentName string    `gorm:"column:agent_name;type:varchar(128);not null"`
	Type      string    `gorm:"column:type;type:varchar(32);not null"`
	Step      int       `gorm:"column:step;type:int;not null;default:0"`
	Payload   string    `gorm:"column:payload;type:text"`
	At        time.Time `gorm:"column:at;not null"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (RunEvent) TableName() string {
	return "run_events"
}

// Checkpoint는 run 중에 저장된 checkpoint 파일 참조입니다.
type Checkpoint struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunID        string    `gorm:"column:run_id;type:varchar(64);not null;index:idx_checkpoints_run;uniqueIndex:idx_checkpoints_run_ckpt,priority:1"`
	CheckpointID string    `gorm:"column:checkpoint_id;type:varchar(64);not null;uniqueIndex:idx_checkpoints_run_ckpt,priority:2"`
	Name         string    `gorm:"column:name;type:varchar(255);not null"`
	Trigger      string    `gorm:"column:trigger_type;type:varchar(32);not null"`
	Step         int       `gorm:"column:step;type:int;not null;default:0"`
	FilePath     string    `gorm:"column:file_path;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;autoCreateTime"`
}

// TableName implements gorm's tabler interface.
func (Checkpoint) TableName() string {
	return "checkpoints"
}

// allModels는 AutoMigrate 대상 모델 목록입니다.
func allModels() []any {
	return []any{&Run{}, &RunStep{}, &RunEvent{}, &Checkpoint{}}
}
