package storage

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"

	RunStepStatusRunning   = "running"
	RunStepStatusCompleted = "completed"
	RunStepStatusFailed    = "failed"
)
