// Package alerts builds the bounded summary of active alerts shown to
// operators. Alerts are never resolved here; resolution arrives as an update
// from the execution store.
package alerts

import (
	"sort"

	"github.com/animus-labs/pipeconsole/internal/domain"
)

const DefaultLimit = 50

type Summary struct {
	Alerts     []domain.Alert               `json:"alerts"`
	Shown      int                          `json:"shown"`
	Total      int                          `json:"total"`
	BySeverity map[domain.AlertSeverity]int `json:"by_severity"`
	Highest    domain.AlertSeverity         `json:"highest,omitempty"`
}

// Summarize returns the limit most recently created active alerts along with
// the total active count, so callers can render "showing K of N". Counts by
// severity cover every active alert, not just the ones shown.
func Summarize(alerts []domain.Alert, limit int) Summary {
	if limit <= 0 {
		limit = DefaultLimit
	}
	active := make([]domain.Alert, 0, len(alerts))
	summary := Summary{BySeverity: map[domain.AlertSeverity]int{}}
	for _, a := range alerts {
		if !a.Active() {
			continue
		}
		active = append(active, a)
		summary.BySeverity[a.Severity]++
		if a.Severity.Rank() > summary.Highest.Rank() {
			summary.Highest = a.Severity
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			if ri, rj := active[i].Severity.Rank(), active[j].Severity.Rank(); ri != rj {
				return ri > rj
			}
			return active[i].ID < active[j].ID
		}
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})

	summary.Total = len(active)
	if len(active) > limit {
		active = active[:limit]
	}
	summary.Alerts = active
	summary.Shown = len(active)
	return summary
}

// ForExecution returns the active alerts raised against one execution.
// System-wide alerts are not included.
func ForExecution(alerts []domain.Alert, executionID string) []domain.Alert {
	var out []domain.Alert
	for _, a := range alerts {
		if a.Active() && a.ExecutionID == executionID {
			out = append(out, a)
		}
	}
	return out
}
