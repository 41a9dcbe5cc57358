// Package intervention dispatches operator commands. A command is checked
// against locally known state, recorded in the audit trail, and only then
// sent to the control surface. Local state is never changed here; the effect
// arrives later through the change feed or reconciliation.
package intervention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/pipeconsole/internal/controlsurface"
	"github.com/animus-labs/pipeconsole/internal/domain"
	"github.com/animus-labs/pipeconsole/internal/execution/state"
	"github.com/animus-labs/pipeconsole/internal/platform/auditlog"
	"github.com/animus-labs/pipeconsole/internal/repo"
)

// StateReader is the read side of the execution registry.
type StateReader interface {
	Execution(id string) (domain.Execution, bool)
	Stages(executionID string) []domain.Stage
}

type Controller interface {
	Apply(ctx context.Context, action controlsurface.Action) error
}

type Request struct {
	ExecutionID string `json:"execution_id"`
	Type        string `json:"intervention_type"`
	TargetStage string `json:"target_stage,omitempty"`
	Reason      string `json:"reason"`
	PerformedBy string `json:"performed_by,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

type Dispatcher struct {
	state    StateReader
	fallback repo.ExecutionReader
	audit    repo.InterventionAppender
	exporter auditlog.Exporter
	control  Controller
	logger   *slog.Logger
	timeout  time.Duration
}

type Option func(*Dispatcher)

// WithFallback reads execution and stages from the store when the registry
// does not hold them, e.g. for an execution that is not under observation.
func WithFallback(store repo.ExecutionReader) Option {
	return func(d *Dispatcher) { d.fallback = store }
}

// WithExporter archives every recorded intervention. Export failures are
// logged and never block the control call.
func WithExporter(exporter auditlog.Exporter) Option {
	return func(d *Dispatcher) {
		if exporter != nil {
			d.exporter = exporter
		}
	}
}

func New(reader StateReader, audit repo.InterventionAppender, control Controller, logger *slog.Logger, opts ...Option) (*Dispatcher, error) {
	if reader == nil {
		return nil, errors.New("state reader is required")
	}
	if audit == nil {
		return nil, errors.New("intervention appender is required")
	}
	if control == nil {
		return nil, errors.New("controller is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		state:    reader,
		audit:    audit,
		exporter: auditlog.NoopExporter{},
		control:  control,
		logger:   logger,
		timeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch validates req, writes its audit record and invokes the control
// surface. On a control failure the returned record is valid and the error is
// a *domain.NotAppliedError.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (domain.Intervention, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return domain.Intervention{}, domain.ErrMissingReason
	}
	executionID := strings.TrimSpace(req.ExecutionID)
	if executionID == "" {
		return domain.Intervention{}, fmt.Errorf("%w: execution id is required", domain.ErrInvalidArgument)
	}
	typ, err := domain.ParseInterventionType(req.Type)
	if err != nil {
		return domain.Intervention{}, err
	}
	targetStage := strings.TrimSpace(req.TargetStage)
	if typ.TargetsStage() && targetStage == "" {
		return domain.Intervention{}, fmt.Errorf("%w: %s requires a target stage", domain.ErrInvalidArgument, typ)
	}
	if !typ.TargetsStage() {
		targetStage = ""
	}

	exec, stages, err := d.lookup(ctx, executionID, typ.TargetsStage())
	if err != nil {
		return domain.Intervention{}, err
	}
	if _, err := state.CheckIntervention(exec, stages, typ, targetStage); err != nil {
		return domain.Intervention{}, err
	}

	performer := strings.TrimSpace(req.PerformedBy)
	if performer == "" {
		performer = "anonymous"
	}
	record, err := d.audit.AppendIntervention(ctx, domain.Intervention{
		ExecutionID: executionID,
		Type:        typ,
		TargetStage: targetStage,
		Reason:      strings.TrimSpace(req.Reason),
		PerformedBy: performer,
		RequestID:   strings.TrimSpace(req.RequestID),
	})
	if err != nil {
		return domain.Intervention{}, fmt.Errorf("record intervention: %w", err)
	}
	d.export(ctx, record)

	err = d.control.Apply(ctx, controlsurface.Action{
		ExecutionID: executionID,
		Type:        typ,
		TargetStage: targetStage,
		RequestID:   record.RequestID,
	})
	if err != nil {
		d.logger.Info("intervention not applied",
			"intervention_id", record.ID,
			"execution_id", executionID,
			"type", string(typ),
			"error", err,
		)
		return record, &domain.NotAppliedError{Intervention: record, Err: err}
	}

	d.logger.Info("intervention dispatched",
		"intervention_id", record.ID,
		"execution_id", executionID,
		"type", string(typ),
		"target_stage", targetStage,
	)
	return record, nil
}

func (d *Dispatcher) lookup(ctx context.Context, executionID string, needStages bool) (domain.Execution, []domain.Stage, error) {
	exec, ok := d.state.Execution(executionID)
	var stages []domain.Stage
	if ok {
		stages = d.state.Stages(executionID)
	}
	if ok && (!needStages || len(stages) > 0) {
		return exec, stages, nil
	}
	if d.fallback == nil {
		if !ok {
			return domain.Execution{}, nil, fmt.Errorf("execution %s: %w", executionID, domain.ErrNotFound)
		}
		return exec, stages, nil
	}

	if !ok {
		fetched, err := d.fallback.GetExecution(ctx, executionID)
		if err != nil {
			return domain.Execution{}, nil, fmt.Errorf("execution %s: %w", executionID, err)
		}
		exec = fetched
	}
	if needStages {
		fetched, err := d.fallback.ListStages(ctx, executionID)
		if err != nil {
			return domain.Execution{}, nil, fmt.Errorf("stages of %s: %w", executionID, err)
		}
		stages = fetched
	}
	return exec, stages, nil
}

func (d *Dispatcher) export(ctx context.Context, record domain.Intervention) {
	exportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	if err := d.exporter.Export(exportCtx, record); err != nil {
		d.logger.Warn("intervention archive failed", "intervention_id", record.ID, "error", err)
	}
}
