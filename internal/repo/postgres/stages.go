package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/animus-labs/pipeconsole/internal/domain"
	"github.com/animus-labs/pipeconsole/internal/repo"
)

const listStagesByExecutionQuery = `SELECT DISTINCT ON (stage_order) id, execution_id, stage_name, stage_order, status, attempt_number, evidence_collected, error_message, started_at, completed_at
	 FROM pipeline_stages
	 WHERE execution_id = $1
	 ORDER BY stage_order ASC, attempt_number DESC`

type StageStore struct {
	db DB
}

func NewStageStore(db DB) *StageStore {
	if db == nil {
		return nil
	}
	return &StageStore{db: db}
}

// ListStages returns the latest attempt of every stage, ordered by stage
// index.
func (s *StageStore) ListStages(ctx context.Context, executionID string) ([]domain.Stage, error) {
	if s == nil || s.db == nil {
		return nil, repo.ErrStoreNotInitialized
	}
	if err := requireID("execution id", executionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, listStagesByExecutionQuery, executionID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", Classify(err))
	}
	defer rows.Close()

	var out []domain.Stage
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		out = append(out, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stages: %w", Classify(err))
	}
	return out, nil
}

func scanStage(row scanner) (domain.Stage, error) {
	var (
		stage       domain.Stage
		status      string
		errMessage  sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&stage.ID,
		&stage.ExecutionID,
		&stage.Name,
		&stage.Order,
		&status,
		&stage.Attempt,
		&stage.EvidenceCollected,
		&errMessage,
		&startedAt,
		&completedAt,
	); err != nil {
		return domain.Stage{}, err
	}
	stage.Status = domain.NormalizeStageStatus(status)
	if stage.Status == "" {
		return domain.Stage{}, fmt.Errorf("stage %s has unknown status %q", stage.ID, status)
	}
	if stage.Attempt < 1 {
		stage.Attempt = 1
	}
	stage.ErrorMessage = nullableString(errMessage)
	stage.StartedAt = nullableTime(startedAt)
	stage.CompletedAt = nullableTime(completedAt)
	return stage, nil
}
