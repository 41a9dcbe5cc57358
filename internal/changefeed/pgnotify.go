package changefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Notification channels written by the execution store triggers. Payloads are
// JSON envelopes {"operation": "...", "entity": {...}}.
const (
	NotifyExecutions = "pipeline_executions"
	NotifyStages     = "pipeline_stages"
	NotifyLogs       = "pipeline_logs"
	NotifyAlerts     = "pipeline_alerts"
)

func NotifyChannel(entity Entity) (string, error) {
	switch entity {
	case EntityExecution:
		return NotifyExecutions, nil
	case EntityStage:
		return NotifyStages, nil
	case EntityLog:
		return NotifyLogs, nil
	case EntityAlert:
		return NotifyAlerts, nil
	default:
		return "", fmt.Errorf("no notify channel for entity %q", entity)
	}
}

// PGNotifySource subscribes with PostgreSQL LISTEN/NOTIFY. Each subscription
// holds its own connection so channels fail and recover independently.
type PGNotifySource struct {
	connString string
	logger     *slog.Logger
	buffer     int
}

func NewPGNotifySource(connString string, logger *slog.Logger) (*PGNotifySource, error) {
	if strings.TrimSpace(connString) == "" {
		return nil, errors.New("connection string is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PGNotifySource{connString: connString, logger: logger, buffer: 64}, nil
}

func (s *PGNotifySource) Subscribe(ctx context.Context, ch Channel) (<-chan Event, error) {
	if err := ch.Validate(); err != nil {
		return nil, err
	}
	name, err := NotifyChannel(ch.Entity)
	if err != nil {
		return nil, err
	}

	conn, err := pgx.Connect(ctx, s.connString)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{name}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", name, err)
	}

	out := make(chan Event, s.buffer)
	go func() {
		defer close(out)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = conn.Close(closeCtx)
		}()

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("notification wait failed", "channel", ch.String(), "error", err)
				}
				return
			}
			ev, ok, err := Decode(ch, []byte(n.Payload), time.Now().UTC())
			if err != nil {
				s.logger.Warn("notification payload rejected", "channel", ch.String(), "error", err)
				continue
			}
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
