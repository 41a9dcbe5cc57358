package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/animus-labs/pipeconsole/internal/domain"
	"github.com/animus-labs/pipeconsole/internal/repo"
)

const executionColumns = `id, company_id, status, started_at, completed_at, total_stages, completed_stages, failed_stages, skipped_stages, current_stage, evidence_count, error_count`

const (
	listExecutionsByStatusQuery = `SELECT ` + executionColumns + `
	 FROM pipeline_executions
	 WHERE status = ANY($1)
	 ORDER BY started_at DESC, id DESC
	 LIMIT $2`

	selectExecutionQuery = `SELECT ` + executionColumns + `
	 FROM pipeline_executions
	 WHERE id = $1`
)

type ExecutionStore struct {
	db DB
}

func NewExecutionStore(db DB) *ExecutionStore {
	if db == nil {
		return nil
	}
	return &ExecutionStore{db: db}
}

func (s *ExecutionStore) ListExecutions(ctx context.Context, filter repo.ExecutionFilter) ([]domain.Execution, error) {
	if s == nil || s.db == nil {
		return nil, repo.ErrStoreNotInitialized
	}
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = domain.ActiveExecutionStatuses
	}
	values := make([]string, 0, len(statuses))
	for _, st := range statuses {
		values = append(values, string(st))
	}

	rows, err := s.db.QueryContext(ctx, listExecutionsByStatusQuery, values, clampLimit(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", Classify(err))
	}
	defer rows.Close()

	var out []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", Classify(err))
	}
	return out, nil
}

func (s *ExecutionStore) GetExecution(ctx context.Context, id string) (domain.Execution, error) {
	if s == nil || s.db == nil {
		return domain.Execution{}, repo.ErrStoreNotInitialized
	}
	if err := requireID("execution id", id); err != nil {
		return domain.Execution{}, err
	}
	exec, err := scanExecution(s.db.QueryRowContext(ctx, selectExecutionQuery, id))
	if err != nil {
		return domain.Execution{}, fmt.Errorf("get execution %s: %w", id, Classify(err))
	}
	return exec, nil
}

func scanExecution(row scanner) (domain.Execution, error) {
	var (
		exec         domain.Execution
		companyID    sql.NullString
		status       string
		completedAt  sql.NullTime
		currentStage sql.NullString
	)
	if err := row.Scan(
		&exec.ID,
		&companyID,
		&status,
		&exec.StartedAt,
		&completedAt,
		&exec.TotalStages,
		&exec.CompletedStages,
		&exec.FailedStages,
		&exec.SkippedStages,
		&currentStage,
		&exec.EvidenceCount,
		&exec.ErrorCount,
	); err != nil {
		return domain.Execution{}, err
	}
	exec.CompanyID = companyID.String
	exec.Status = domain.NormalizeExecutionStatus(status)
	if exec.Status == "" {
		return domain.Execution{}, fmt.Errorf("execution %s has unknown status %q", exec.ID, status)
	}
	exec.StartedAt = exec.StartedAt.UTC()
	exec.CompletedAt = nullableTime(completedAt)
	exec.CurrentStage = currentStage.String
	return exec, nil
}
