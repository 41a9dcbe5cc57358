package domain

import "time"

type LogLevel string

const (
	LogDebug   LogLevel = "debug"
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// Log is an immutable, append-only pipeline log entry.
type Log struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Timestamp   time.Time `json:"timestamp"`
	Level       LogLevel  `json:"level"`
	StageName   string    `json:"stage_name,omitempty"`
	Message     string    `json:"message"`
	Payload     Metadata  `json:"payload,omitempty"`
}
