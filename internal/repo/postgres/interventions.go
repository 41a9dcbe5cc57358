package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/animus-labs/pipeconsole/internal/domain"
	"github.com/animus-labs/pipeconsole/internal/platform/auditlog"
	"github.com/animus-labs/pipeconsole/internal/repo"
)

const listInterventionsByExecutionQuery = `SELECT id, execution_id, intervention_type, target_stage, reason, performed_by, request_id, created_at, integrity_sha256
	 FROM pipeline_interventions
	 WHERE execution_id = $1
	 ORDER BY created_at DESC, id DESC
	 LIMIT $2`

// InterventionStore appends to the audit trail. It has no update or delete
// path.
type InterventionStore struct {
	db DB
}

func NewInterventionStore(db DB) *InterventionStore {
	if db == nil {
		return nil
	}
	return &InterventionStore{db: db}
}

func (s *InterventionStore) AppendIntervention(ctx context.Context, record domain.Intervention) (domain.Intervention, error) {
	if s == nil || s.db == nil {
		return domain.Intervention{}, repo.ErrStoreNotInitialized
	}
	inserted, err := auditlog.Insert(ctx, s.db, record)
	if err != nil {
		return domain.Intervention{}, Classify(err)
	}
	return inserted, nil
}

func (s *InterventionStore) ListInterventions(ctx context.Context, executionID string, limit int) ([]domain.Intervention, error) {
	if s == nil || s.db == nil {
		return nil, repo.ErrStoreNotInitialized
	}
	if err := requireID("execution id", executionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, listInterventionsByExecutionQuery, executionID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list interventions: %w", Classify(err))
	}
	defer rows.Close()

	var out []domain.Intervention
	for rows.Next() {
		rec, err := scanIntervention(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intervention: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interventions: %w", Classify(err))
	}
	return out, nil
}

func scanIntervention(row scanner) (domain.Intervention, error) {
	var (
		rec       domain.Intervention
		typ       string
		target    sql.NullString
		requestID sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.ExecutionID, &typ, &target, &rec.Reason, &rec.PerformedBy, &requestID, &rec.CreatedAt, &rec.IntegritySHA256); err != nil {
		return domain.Intervention{}, err
	}
	rec.Type = domain.InterventionType(typ)
	rec.TargetStage = target.String
	rec.RequestID = requestID.String
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}
