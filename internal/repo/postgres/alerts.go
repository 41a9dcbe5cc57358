package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/animus-labs/pipeconsole/internal/domain"
	"github.com/animus-labs/pipeconsole/internal/repo"
)

const listAlertsByStatusQuery = `SELECT id, execution_id, category, severity, title, message, status, created_at
	 FROM pipeline_alerts
	 WHERE status = $1
	 ORDER BY created_at DESC, id DESC
	 LIMIT $2`

type AlertStore struct {
	db DB
}

func NewAlertStore(db DB) *AlertStore {
	if db == nil {
		return nil
	}
	return &AlertStore{db: db}
}

func (s *AlertStore) ListAlerts(ctx context.Context, filter repo.AlertFilter) ([]domain.Alert, error) {
	if s == nil || s.db == nil {
		return nil, repo.ErrStoreNotInitialized
	}
	status := filter.Status
	if status == "" {
		status = domain.AlertActive
	}
	rows, err := s.db.QueryContext(ctx, listAlertsByStatusQuery, string(status), clampLimit(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", Classify(err))
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", Classify(err))
	}
	return out, nil
}

func scanAlert(row scanner) (domain.Alert, error) {
	var (
		alert       domain.Alert
		executionID sql.NullString
		severity    string
		status      string
	)
	if err := row.Scan(&alert.ID, &executionID, &alert.Category, &severity, &alert.Title, &alert.Message, &status, &alert.CreatedAt); err != nil {
		return domain.Alert{}, err
	}
	alert.ExecutionID = executionID.String
	alert.Severity = domain.NormalizeSeverity(severity)
	if alert.Severity == "" {
		alert.Severity = domain.SeverityInfo
	}
	alert.Status = domain.AlertStatus(status)
	alert.CreatedAt = alert.CreatedAt.UTC()
	return alert, nil
}
