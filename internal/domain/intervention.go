package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type InterventionType string

const (
	InterventionPause      InterventionType = "pause"
	InterventionResume     InterventionType = "resume"
	InterventionCancel     InterventionType = "cancel"
	InterventionRetryStage InterventionType = "retry_stage"
	InterventionSkipStage  InterventionType = "skip_stage"
)

func ParseInterventionType(value string) (InterventionType, error) {
	switch t := InterventionType(strings.ToLower(strings.TrimSpace(value))); t {
	case InterventionPause, InterventionResume, InterventionCancel, InterventionRetryStage, InterventionSkipStage:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unsupported intervention type %q", ErrInvalidArgument, value)
	}
}

// TargetsStage reports whether the intervention acts on a single stage.
func (t InterventionType) TargetsStage() bool {
	return t == InterventionRetryStage || t == InterventionSkipStage
}

// Intervention is the write-once audit record of an operator command.
type Intervention struct {
	ID              string           `json:"id"`
	ExecutionID     string           `json:"execution_id"`
	Type            InterventionType `json:"intervention_type"`
	TargetStage     string           `json:"target_stage,omitempty"`
	Reason          string           `json:"reason"`
	PerformedBy     string           `json:"performed_by"`
	RequestID       string           `json:"request_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	IntegritySHA256 string           `json:"integrity_sha256,omitempty"`
}

func (i Intervention) Validate() error {
	if strings.TrimSpace(i.ExecutionID) == "" {
		return errors.New("execution id is required")
	}
	if _, err := ParseInterventionType(string(i.Type)); err != nil {
		return err
	}
	if strings.TrimSpace(i.Reason) == "" {
		return ErrMissingReason
	}
	if strings.TrimSpace(i.PerformedBy) == "" {
		return errors.New("performed by is required")
	}
	if i.Type.TargetsStage() && strings.TrimSpace(i.TargetStage) == "" {
		return fmt.Errorf("%w: %s requires a target stage", ErrInvalidArgument, i.Type)
	}
	return nil
}
