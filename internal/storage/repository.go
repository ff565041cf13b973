package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository는 run 기록을 위한 영속성 헬퍼를 제공합니다.
type Repository struct {
	db *gorm.DB
}

// NewRepository는 전달된 gorm DB를 이용해 Repository를 생성합니다.
func NewRepository(db *gorm.DB) (*Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: repository requires a non-nil db handle")
	}
	return &Repository{db: db}, nil
}

// DB는 내부 gorm DB 참조를 반환합니다.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// CreateRun은 새로운 run 레코드를 저장합니다. 같은 run_id가 있으면 아무것도 하지 않습니다.
func (r *Repository) CreateRun(ctx context.Context, run *Run) error {
	if run == nil {
		return fmt.Errorf("storage: nil run payload")
	}
	if run.RunID == "" {
		return fmt.Errorf("storage: empty runID")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			DoNothing: true,
		}).
		Create(run).Error
}

// RunOutcome은 run 종료 시 갱신되는 값입니다.
type RunOutcome struct {
	Status           string
	Steps            int
	Messages         int
	ToolCalls        int
	FinalState       string
	FinalPreview     string
	Error            string
	InputTokens      int64
	CompletionTokens int64
	EndedAt          time.Time
}

// FinishRun은 run의 최종 결과를 기록합니다.
func (r *Repository) FinishRun(ctx context.Context, runID string, outcome RunOutcome) error {
	if runID == "" {
		return fmt.Errorf("storage: empty runID")
	}
	if outcome.EndedAt.IsZero() {
		outcome.EndedAt = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&Run{}).
		Where("run_id = ?", runID).
		Updates(map[string]interface{}{
			"status":            outcome.Status,
			"steps":             outcome.Steps,
			"messages":          outcome.Messages,
			"tool_calls":        outcome.ToolCalls,
			"final_state":       outcome.FinalState,
			"final_preview":     outcome.FinalPreview,
			"error":             outcome.Error,
			"input_tokens":      outcome.InputTokens,
			"completion_tokens": outcome.CompletionTokens,
			"ended_at":          outcome.EndedAt,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("storage: run %s: %w", runID, gorm.ErrRecordNotFound)
	}
	return nil
}

// GetRun은 run 식별자로 레코드를 조회합니다.
func (r *Repository) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns는 최근 시작된 순서로 run 목록을 반환합니다.
// agentName이 비어 있으면 모든 에이전트를, limit이 0 이하이면 전체를 반환합니다.
func (r *Repository) ListRuns(ctx context.Context, agentName string, limit int) ([]Run, error) {
	q := r.db.WithContext(ctx).Model(&Run{})
	if agentName != "" {
		q = q.Where("agent_name = ?", agentName)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []Run
	if err := q.Order("started_at DESC").Order("id DESC").Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// UpsertRunStep은 실행 단계를 생성하거나 갱신합니다.
func (r *Repository) UpsertRunStep(ctx context.Context, step *RunStep) error {
	if step == nil {
		return fmt.Errorf("storage: nil run step payload")
	}
	if step.RunID == "" {
		return fmt.Errorf("storage: empty runID")
	}
	if step.StartedAt.IsZero() {
		step.StartedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "step_no"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "result_preview", "error", "ended_at"}),
		}).
		Create(step).Error
}

// ListRunSteps는 run별 실행 단계 목록을 번호 순으로 반환합니다.
func (r *Repository) ListRunSteps(ctx context.Context, runID string) ([]RunStep, error) {
	var steps []RunStep
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("step_no ASC").
		Find(&steps).Error; err != nil {
		return nil, err
	}
	return steps, nil
}

// AppendRunEvent는 이벤트를 추가합니다.
func (r *Repository) AppendRunEvent(ctx context.Context, event *RunEvent) error {
	if event == nil {
		return fmt.Errorf("storage: nil run event payload")
	}
	if event.RunID == "" {
		return fmt.Errorf("storage: empty runID")
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// ListRunEvents는 run의 이벤트를 기록 순서대로 반환합니다.
func (r *Repository) ListRunEvents(ctx context.Context, runID string) ([]RunEvent, error) {
	var events []RunEvent
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CreateCheckpoint는 run에서 저장된 checkpoint를 기록합니다.
func (r *Repository) CreateCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	if checkpoint == nil {
		return fmt.Errorf("storage: nil checkpoint payload")
	}
	if checkpoint.CreatedAt.IsZero() {
		checkpoint.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "checkpoint_id"}},
			DoNothing: true,
		}).
		Create(checkpoint).Error
}

// ListCheckpoints는 run별 checkpoint를 생성 순서로 반환합니다.
func (r *Repository) ListCheckpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	var checkpoints []Checkpoint
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&checkpoints).Error; err != nil {
		return nil, err
	}
	return checkpoints, nil
}
