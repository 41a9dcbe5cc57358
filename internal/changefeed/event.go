package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/pipeconsole/internal/domain"
)

type Entity string

const (
	EntityExecution Entity = "execution"
	EntityStage     Entity = "stage"
	EntityLog       Entity = "log"
	EntityAlert     Entity = "alert"
)

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Channel identifies one push subscription. Stage and log channels are scoped
// to a single execution.
type Channel struct {
	Entity      Entity
	ExecutionID string
}

func (c Channel) String() string {
	if c.ExecutionID == "" {
		return string(c.Entity)
	}
	return string(c.Entity) + ":" + c.ExecutionID
}

func (c Channel) Validate() error {
	switch c.Entity {
	case EntityExecution, EntityAlert:
		return nil
	case EntityStage, EntityLog:
		if strings.TrimSpace(c.ExecutionID) == "" {
			return fmt.Errorf("%s channel requires an execution id", c.Entity)
		}
		return nil
	default:
		return fmt.Errorf("unsupported channel entity %q", c.Entity)
	}
}

// Event is one typed change notification. Exactly one entity field is set,
// matching Channel.Entity.
type Event struct {
	Channel    Channel
	Operation  Operation
	ReceivedAt time.Time

	Execution *domain.ExecutionPatch
	Stage     *domain.StagePatch
	Log       *domain.Log
	Alert     *domain.AlertPatch
}

// Source opens push subscriptions. The returned stream is closed when ctx is
// done or the underlying connection is lost.
type Source interface {
	Subscribe(ctx context.Context, ch Channel) (<-chan Event, error)
}

type envelope struct {
	Operation Operation       `json:"operation"`
	Entity    json.RawMessage `json:"entity"`
}

// Decode parses a notification payload for ch. It reports false when the
// payload belongs to another execution than the channel's.
func Decode(ch Channel, payload []byte, receivedAt time.Time) (Event, bool, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, false, fmt.Errorf("decode %s envelope: %w", ch, err)
	}
	op := Operation(strings.ToLower(strings.TrimSpace(string(env.Operation))))
	switch op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return Event{}, false, fmt.Errorf("decode %s: unsupported operation %q", ch, env.Operation)
	}
	if len(env.Entity) == 0 {
		return Event{}, false, fmt.Errorf("decode %s: entity is required", ch)
	}

	ev := Event{Channel: ch, Operation: op, ReceivedAt: receivedAt}
	switch ch.Entity {
	case EntityExecution:
		var p domain.ExecutionPatch
		if err := json.Unmarshal(env.Entity, &p); err != nil {
			return Event{}, false, fmt.Errorf("decode execution: %w", err)
		}
		ev.Execution = &p
	case EntityStage:
		var p domain.StagePatch
		if err := json.Unmarshal(env.Entity, &p); err != nil {
			return Event{}, false, fmt.Errorf("decode stage: %w", err)
		}
		if ch.ExecutionID != "" && p.ExecutionID != ch.ExecutionID {
			return Event{}, false, nil
		}
		ev.Stage = &p
	case EntityLog:
		var l domain.Log
		if err := json.Unmarshal(env.Entity, &l); err != nil {
			return Event{}, false, fmt.Errorf("decode log: %w", err)
		}
		if ch.ExecutionID != "" && l.ExecutionID != ch.ExecutionID {
			return Event{}, false, nil
		}
		ev.Log = &l
	case EntityAlert:
		var p domain.AlertPatch
		if err := json.Unmarshal(env.Entity, &p); err != nil {
			return Event{}, false, fmt.Errorf("decode alert: %w", err)
		}
		ev.Alert = &p
	default:
		return Event{}, false, fmt.Errorf("decode: unsupported entity %q", ch.Entity)
	}
	return ev, true, nil
}
