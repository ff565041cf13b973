package schema

import "time"

// RunEventType은 실행 기록 이벤트 종류입니다.
type RunEventType string

const (
	EventRunStart   RunEventType = "run_start"
	EventMessage    RunEventType = "message"
	EventStepStart  RunEventType = "step_start"
	EventStepEnd    RunEventType = "step_end"
	EventCheckpoint RunEventType = "checkpoint"
	EventRunEnd     RunEventType = "run_end"
)

// RunEvent는 한 번의 run 동안 기록되는 이벤트입니다.
type RunEvent struct {
	RunID     string         `json:"run_id"`
	AgentName string         `json:"agent_name"`
	Type      RunEventType   `json:"type"`
	Step      int            `json:"step"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        time.Time      `json:"at"`
}
