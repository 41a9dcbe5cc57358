// Package auditlog writes the append-only intervention audit trail and its
// object-store archive.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/pipeconsole/internal/domain"
)

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const insertInterventionQuery = `INSERT INTO pipeline_interventions (
		id,
		execution_id,
		intervention_type,
		target_stage,
		reason,
		performed_by,
		request_id,
		created_at,
		integrity_sha256
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

// Prepare fills the id, timestamp and integrity hash of a record and
// validates it. Records are never updated after insert.
func Prepare(record domain.Intervention, now time.Time) (domain.Intervention, error) {
	record.ExecutionID = strings.TrimSpace(record.ExecutionID)
	record.TargetStage = strings.TrimSpace(record.TargetStage)
	record.Reason = strings.TrimSpace(record.Reason)
	record.PerformedBy = strings.TrimSpace(record.PerformedBy)
	record.RequestID = strings.TrimSpace(record.RequestID)
	if err := record.Validate(); err != nil {
		return domain.Intervention{}, err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.CreatedAt = record.CreatedAt.UTC()

	integrity, err := ComputeIntegritySHA256(record)
	if err != nil {
		return domain.Intervention{}, err
	}
	record.IntegritySHA256 = integrity
	return record, nil
}

// Insert prepares and writes one intervention record.
func Insert(ctx context.Context, db Execer, record domain.Intervention) (domain.Intervention, error) {
	if db == nil {
		return domain.Intervention{}, errors.New("execer is required")
	}
	record, err := Prepare(record, time.Now())
	if err != nil {
		return domain.Intervention{}, err
	}

	var target sql.NullString
	if record.TargetStage != "" {
		target = sql.NullString{String: record.TargetStage, Valid: true}
	}
	var requestID sql.NullString
	if record.RequestID != "" {
		requestID = sql.NullString{String: record.RequestID, Valid: true}
	}

	if _, err := db.ExecContext(
		ctx,
		insertInterventionQuery,
		record.ID,
		record.ExecutionID,
		string(record.Type),
		target,
		record.Reason,
		record.PerformedBy,
		requestID,
		record.CreatedAt,
		record.IntegritySHA256,
	); err != nil {
		return domain.Intervention{}, fmt.Errorf("insert intervention: %w", err)
	}
	return record, nil
}

// ComputeIntegritySHA256 hashes the canonical form of the record, excluding
// the hash itself.
func ComputeIntegritySHA256(record domain.Intervention) (string, error) {
	type integrityInput struct {
		ID          string    `json:"id"`
		ExecutionID string    `json:"execution_id"`
		Type        string    `json:"intervention_type"`
		TargetStage string    `json:"target_stage,omitempty"`
		Reason      string    `json:"reason"`
		PerformedBy string    `json:"performed_by"`
		RequestID   string    `json:"request_id,omitempty"`
		CreatedAt   time.Time `json:"created_at"`
	}

	blob, err := json.Marshal(integrityInput{
		ID:          record.ID,
		ExecutionID: record.ExecutionID,
		Type:        string(record.Type),
		TargetStage: record.TargetStage,
		Reason:      record.Reason,
		PerformedBy: record.PerformedBy,
		RequestID:   record.RequestID,
		CreatedAt:   record.CreatedAt.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether the stored hash matches the record.
func Verify(record domain.Intervention) bool {
	want, err := ComputeIntegritySHA256(record)
	return err == nil && want == record.IntegritySHA256
}
