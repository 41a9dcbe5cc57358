package domain

import "strings"

type ReportJobStatus string

const (
	ReportQueued    ReportJobStatus = "queued"
	ReportRunning   ReportJobStatus = "running"
	ReportCompleted ReportJobStatus = "completed"
	ReportFailed    ReportJobStatus = "failed"
)

func (s ReportJobStatus) Terminal() bool {
	return s == ReportCompleted || s == ReportFailed
}

func NormalizeReportJobStatus(value string) ReportJobStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(ReportQueued), "pending":
		return ReportQueued
	case string(ReportRunning), "processing":
		return ReportRunning
	case string(ReportCompleted), "succeeded", "done":
		return ReportCompleted
	case string(ReportFailed), "error":
		return ReportFailed
	default:
		return ""
	}
}

// ReportJob is the status contract exposed by the report-generation service.
type ReportJob struct {
	ID            string          `json:"id"`
	Status        ReportJobStatus `json:"status"`
	Progress      int             `json:"progress"`
	CurrentPhase  string          `json:"current_phase,omitempty"`
	EvidenceCount int             `json:"evidence_count"`
	TimeRemaining string          `json:"time_remaining,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// ReportRequest starts a report for a company using a configured template.
type ReportRequest struct {
	CompanyID   string   `json:"company_id"`
	ExecutionID string   `json:"execution_id,omitempty"`
	TemplateID  string   `json:"template_id"`
	Params      Metadata `json:"params,omitempty"`
}
