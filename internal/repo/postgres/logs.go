package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/animus-labs/pipeconsole/internal/domain"
	"github.com/animus-labs/pipeconsole/internal/repo"
)

const listLogsByExecutionQuery = `SELECT id, execution_id, logged_at, level, stage_name, message, payload
	 FROM pipeline_logs
	 WHERE execution_id = $1
	 ORDER BY logged_at DESC, id DESC
	 LIMIT $2`

type LogStore struct {
	db DB
}

func NewLogStore(db DB) *LogStore {
	if db == nil {
		return nil
	}
	return &LogStore{db: db}
}

func (s *LogStore) ListLogs(ctx context.Context, filter repo.LogFilter) ([]domain.Log, error) {
	if s == nil || s.db == nil {
		return nil, repo.ErrStoreNotInitialized
	}
	if err := requireID("execution id", filter.ExecutionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, listLogsByExecutionQuery, filter.ExecutionID, clampLimit(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", Classify(err))
	}
	defer rows.Close()

	var out []domain.Log
	for rows.Next() {
		entry, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", Classify(err))
	}
	return out, nil
}

func scanLog(row scanner) (domain.Log, error) {
	var (
		entry     domain.Log
		level     string
		stageName sql.NullString
		payload   []byte
	)
	if err := row.Scan(&entry.ID, &entry.ExecutionID, &entry.Timestamp, &level, &stageName, &entry.Message, &payload); err != nil {
		return domain.Log{}, err
	}
	meta, err := decodeMetadata(payload)
	if err != nil {
		return domain.Log{}, fmt.Errorf("decode payload of log %s: %w", entry.ID, err)
	}
	entry.Timestamp = entry.Timestamp.UTC()
	entry.Level = domain.LogLevel(level)
	entry.StageName = stageName.String
	entry.Payload = meta
	return entry, nil
}
