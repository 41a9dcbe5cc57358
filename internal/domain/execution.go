package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ExecutionStatus is the lifecycle state of one pipeline execution.
type ExecutionStatus string

const (
	ExecutionInitializing ExecutionStatus = "initializing"
	ExecutionRunning      ExecutionStatus = "running"
	ExecutionPaused       ExecutionStatus = "paused"
	ExecutionCompleted    ExecutionStatus = "completed"
	ExecutionFailed       ExecutionStatus = "failed"
	ExecutionPartial      ExecutionStatus = "partial"
	ExecutionCancelled    ExecutionStatus = "cancelled"
)

// ActiveExecutionStatuses are the statuses listed by the active view.
var ActiveExecutionStatuses = []ExecutionStatus{
	ExecutionInitializing,
	ExecutionRunning,
	ExecutionPaused,
}

func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionPartial, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// NormalizeExecutionStatus maps free-form status values to canonical states.
func NormalizeExecutionStatus(value string) ExecutionStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(ExecutionInitializing), "pending", "queued":
		return ExecutionInitializing
	case string(ExecutionRunning):
		return ExecutionRunning
	case string(ExecutionPaused):
		return ExecutionPaused
	case string(ExecutionCompleted), "succeeded":
		return ExecutionCompleted
	case string(ExecutionFailed):
		return ExecutionFailed
	case string(ExecutionPartial):
		return ExecutionPartial
	case string(ExecutionCancelled), "canceled":
		return ExecutionCancelled
	default:
		return ""
	}
}

// Execution is one run of the pipeline for one company.
type Execution struct {
	ID              string          `json:"id"`
	CompanyID       string          `json:"company_id,omitempty"`
	Status          ExecutionStatus `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	TotalStages     int             `json:"total_stages"`
	CompletedStages int             `json:"completed_stages"`
	FailedStages    int             `json:"failed_stages"`
	SkippedStages   int             `json:"skipped_stages"`
	CurrentStage    string          `json:"current_stage,omitempty"`
	EvidenceCount   int             `json:"evidence_count"`
	ErrorCount      int             `json:"error_count"`
}

// Validate checks the counter and completion invariants.
func (e Execution) Validate() error {
	if err := e.ValidateCounters(); err != nil {
		return err
	}
	if e.Status != "" && e.Status.Terminal() != (e.CompletedAt != nil) {
		return fmt.Errorf("%w: execution %s status %s with completed_at set=%t",
			ErrInvariant, e.ID, e.Status, e.CompletedAt != nil)
	}
	return nil
}

// ValidateCounters checks completed + failed + skipped <= total.
func (e Execution) ValidateCounters() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("execution id is required")
	}
	if e.TotalStages < 0 || e.CompletedStages < 0 || e.FailedStages < 0 || e.SkippedStages < 0 {
		return fmt.Errorf("%w: execution %s has negative stage counters", ErrInvariant, e.ID)
	}
	if e.CompletedStages+e.FailedStages+e.SkippedStages > e.TotalStages {
		return fmt.Errorf("%w: execution %s counters %d+%d+%d exceed total %d",
			ErrInvariant, e.ID, e.CompletedStages, e.FailedStages, e.SkippedStages, e.TotalStages)
	}
	return nil
}

// ExecutionPatch is a partial execution update. Nil fields were not carried.
type ExecutionPatch struct {
	ID              string              `json:"id"`
	CompanyID       *string             `json:"company_id,omitempty"`
	Status          *ExecutionStatus    `json:"status,omitempty"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	CompletedAt     Nullable[time.Time] `json:"completed_at"`
	TotalStages     *int                `json:"total_stages,omitempty"`
	CompletedStages *int                `json:"completed_stages,omitempty"`
	FailedStages    *int                `json:"failed_stages,omitempty"`
	SkippedStages   *int                `json:"skipped_stages,omitempty"`
	CurrentStage    *string             `json:"current_stage,omitempty"`
	EvidenceCount   *int                `json:"evidence_count,omitempty"`
	ErrorCount      *int                `json:"error_count,omitempty"`
}

// Merge overwrites the carried fields of e with p.
func (e Execution) Merge(p ExecutionPatch) Execution {
	if e.ID == "" {
		e.ID = p.ID
	}
	set(&e.CompanyID, p.CompanyID)
	if p.Status != nil {
		e.Status = NormalizeExecutionStatus(string(*p.Status))
	}
	set(&e.StartedAt, p.StartedAt)
	p.CompletedAt.Apply(&e.CompletedAt)
	set(&e.TotalStages, p.TotalStages)
	set(&e.CompletedStages, p.CompletedStages)
	set(&e.FailedStages, p.FailedStages)
	set(&e.SkippedStages, p.SkippedStages)
	set(&e.CurrentStage, p.CurrentStage)
	set(&e.EvidenceCount, p.EvidenceCount)
	set(&e.ErrorCount, p.ErrorCount)
	return e
}

// PatchFromExecution carries every field of a fully pulled execution.
func PatchFromExecution(e Execution) ExecutionPatch {
	status := e.Status
	p := ExecutionPatch{
		ID:              e.ID,
		CompanyID:       &e.CompanyID,
		Status:          &status,
		StartedAt:       &e.StartedAt,
		TotalStages:     &e.TotalStages,
		CompletedStages: &e.CompletedStages,
		FailedStages:    &e.FailedStages,
		SkippedStages:   &e.SkippedStages,
		CurrentStage:    &e.CurrentStage,
		EvidenceCount:   &e.EvidenceCount,
		ErrorCount:      &e.ErrorCount,
	}
	if e.CompletedAt != nil {
		p.CompletedAt = Value(*e.CompletedAt)
	} else {
		p.CompletedAt = Null[time.Time]()
	}
	return p
}
