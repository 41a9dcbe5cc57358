package repo

import (
	"context"
	"errors"

	"github.com/animus-labs/pipeconsole/internal/domain"
)

var (
	ErrNotFound            = domain.ErrNotFound
	ErrConflict            = errors.New("conflict")
	ErrStoreNotInitialized = errors.New("store not initialized")
)

type ExecutionFilter struct {
	Statuses []domain.ExecutionStatus
	Limit    int
}

type LogFilter struct {
	ExecutionID string
	Limit       int
}

type AlertFilter struct {
	Status domain.AlertStatus
	Limit  int
}

// ExecutionReader reads the authoritative execution store.
type ExecutionReader interface {
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]domain.Execution, error)
	GetExecution(ctx context.Context, id string) (domain.Execution, error)
	ListStages(ctx context.Context, executionID string) ([]domain.Stage, error)
	ListLogs(ctx context.Context, filter LogFilter) ([]domain.Log, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]domain.Alert, error)
}

// InterventionAppender writes intervention audit records. Records are never
// updated or deleted.
type InterventionAppender interface {
	AppendIntervention(ctx context.Context, record domain.Intervention) (domain.Intervention, error)
}

// InterventionLister reads the audit trail of one execution, newest first.
type InterventionLister interface {
	ListInterventions(ctx context.Context, executionID string, limit int) ([]domain.Intervention, error)
}
