package domain

import (
	"strings"
	"time"
)

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Rank orders severities; unknown values rank lowest.
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

func NormalizeSeverity(value string) AlertSeverity {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(SeverityCritical), "high":
		return SeverityCritical
	case string(SeverityWarning), "medium", "warn":
		return SeverityWarning
	case string(SeverityInfo), "low":
		return SeverityInfo
	default:
		return ""
	}
}

type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertResolved AlertStatus = "resolved"
)

// Alert is a condition requiring operator attention. ExecutionID is empty for
// system-wide alerts.
type Alert struct {
	ID          string        `json:"id"`
	ExecutionID string        `json:"execution_id,omitempty"`
	Category    string        `json:"category"`
	Severity    AlertSeverity `json:"severity"`
	Title       string        `json:"title"`
	Message     string        `json:"message"`
	Status      AlertStatus   `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

func (a Alert) Active() bool { return a.Status == AlertActive }

type AlertPatch struct {
	ID          string         `json:"id"`
	ExecutionID *string        `json:"execution_id,omitempty"`
	Category    *string        `json:"category,omitempty"`
	Severity    *AlertSeverity `json:"severity,omitempty"`
	Title       *string        `json:"title,omitempty"`
	Message     *string        `json:"message,omitempty"`
	Status      *AlertStatus   `json:"status,omitempty"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
}

func (a Alert) Merge(p AlertPatch) Alert {
	if a.ID == "" {
		a.ID = p.ID
	}
	set(&a.ExecutionID, p.ExecutionID)
	set(&a.Category, p.Category)
	if p.Severity != nil {
		a.Severity = NormalizeSeverity(string(*p.Severity))
	}
	set(&a.Title, p.Title)
	set(&a.Message, p.Message)
	set(&a.Status, p.Status)
	set(&a.CreatedAt, p.CreatedAt)
	return a
}
