package domain

import (
	"errors"
	"strings"
	"time"
)

// StageStatus is the lifecycle state of one stage attempt.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

func NormalizeStageStatus(value string) StageStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(StagePending), "queued":
		return StagePending
	case string(StageRunning):
		return StageRunning
	case string(StageCompleted), "succeeded":
		return StageCompleted
	case string(StageFailed):
		return StageFailed
	case string(StageSkipped):
		return StageSkipped
	default:
		return ""
	}
}

// Stage is one ordered step within an execution.
type Stage struct {
	ID                string      `json:"id"`
	ExecutionID       string      `json:"execution_id"`
	Name              string      `json:"stage_name"`
	Order             int         `json:"stage_order"`
	Status            StageStatus `json:"status"`
	Attempt           int         `json:"attempt_number"`
	EvidenceCollected int         `json:"evidence_collected"`
	ErrorMessage      *string     `json:"error_message,omitempty"`
	StartedAt         *time.Time  `json:"started_at,omitempty"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
}

func (s Stage) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("stage id is required")
	}
	if strings.TrimSpace(s.ExecutionID) == "" {
		return errors.New("stage execution id is required")
	}
	if s.Attempt < 1 {
		return errors.New("stage attempt must be >= 1")
	}
	return nil
}

// StagePatch is a partial stage update. Nil fields were not carried.
type StagePatch struct {
	ID                string              `json:"id"`
	ExecutionID       string              `json:"execution_id"`
	Name              *string             `json:"stage_name,omitempty"`
	Order             *int                `json:"stage_order,omitempty"`
	Status            *StageStatus        `json:"status,omitempty"`
	Attempt           *int                `json:"attempt_number,omitempty"`
	EvidenceCollected *int                `json:"evidence_collected,omitempty"`
	ErrorMessage      Nullable[string]    `json:"error_message"`
	StartedAt         Nullable[time.Time] `json:"started_at"`
	CompletedAt       Nullable[time.Time] `json:"completed_at"`
}

// Merge overwrites the carried fields of s with p. Attempt numbers never
// decrease.
func (s Stage) Merge(p StagePatch) Stage {
	if s.ID == "" {
		s.ID = p.ID
	}
	if s.ExecutionID == "" {
		s.ExecutionID = p.ExecutionID
	}
	set(&s.Name, p.Name)
	set(&s.Order, p.Order)
	if p.Status != nil {
		s.Status = NormalizeStageStatus(string(*p.Status))
	}
	if p.Attempt != nil && *p.Attempt > s.Attempt {
		s.Attempt = *p.Attempt
	}
	if s.Attempt < 1 {
		s.Attempt = 1
	}
	set(&s.EvidenceCollected, p.EvidenceCollected)
	p.ErrorMessage.Apply(&s.ErrorMessage)
	p.StartedAt.Apply(&s.StartedAt)
	p.CompletedAt.Apply(&s.CompletedAt)
	return s
}

// StaleFor reports whether p describes an older attempt than s.
func (p StagePatch) StaleFor(s Stage) bool {
	return p.Attempt != nil && *p.Attempt < s.Attempt
}

// PatchFromStage carries every field of a fully pulled stage.
func PatchFromStage(s Stage) StagePatch {
	status := s.Status
	p := StagePatch{
		ID:                s.ID,
		ExecutionID:       s.ExecutionID,
		Name:              &s.Name,
		Order:             &s.Order,
		Status:            &status,
		Attempt:           &s.Attempt,
		EvidenceCollected: &s.EvidenceCollected,
		ErrorMessage:      nullableFrom(s.ErrorMessage),
		StartedAt:         nullableFrom(s.StartedAt),
		CompletedAt:       nullableFrom(s.CompletedAt),
	}
	return p
}

func nullableFrom[T any](v *T) Nullable[T] {
	if v == nil {
		return Null[T]()
	}
	return Value(*v)
}
