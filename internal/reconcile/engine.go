// Package reconcile periodically re-pulls authoritative state to correct
// drift from the push channel. It is the only path by which executions and
// alerts leave the local active view.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/pipeconsole/internal/domain"
	"github.com/animus-labs/pipeconsole/internal/registry"
	"github.com/animus-labs/pipeconsole/internal/repo"
)

type Config struct {
	Interval    time.Duration
	ActiveLimit int
	LogWindow   int
	AlertLimit  int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.ActiveLimit <= 0 {
		c.ActiveLimit = 50
	}
	if c.LogWindow <= 0 {
		c.LogWindow = 100
	}
	if c.AlertLimit <= 0 {
		c.AlertLimit = 50
	}
	return c
}

type Engine struct {
	store    repo.ExecutionReader
	registry *registry.Registry
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time

	inFlight atomic.Bool
	mu       sync.Mutex
	observed string
	cycles   atomic.Int64
}

func New(store repo.ExecutionReader, reg *registry.Registry, logger *slog.Logger, cfg Config) *Engine {
	if store == nil || reg == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		registry: reg,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// Observe sets the execution whose stages and logs are pulled on each cycle.
// An empty id clears the detail target.
func (e *Engine) Observe(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observed = executionID
}

func (e *Engine) Observed() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observed
}

// Cycles returns the number of completed reconciliation cycles.
func (e *Engine) Cycles() int64 { return e.cycles.Load() }

// Run reconciles once immediately and then on every interval until ctx is
// done. The ticker is stopped before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	e.Refresh(ctx)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Refresh(ctx)
		}
	}
}

// Refresh runs one cycle. It reports false without issuing any request when a
// previous cycle is still outstanding.
func (e *Engine) Refresh(ctx context.Context) bool {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.logger.Debug("reconcile skipped, previous cycle in flight")
		return false
	}
	defer e.inFlight.Store(false)

	issued := e.now().UTC()
	observed := e.Observed()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.pullActive(gctx, issued)
		if observed != "" {
			e.pullDetail(gctx, issued, observed)
		}
		return nil
	})
	g.Go(func() error {
		e.pullAlerts(gctx, issued)
		return nil
	})
	if observed != "" {
		g.Go(func() error {
			e.pullLogs(gctx, issued, observed)
			return nil
		})
	}
	_ = g.Wait()
	e.cycles.Add(1)
	return true
}

func (e *Engine) pullActive(ctx context.Context, issued time.Time) {
	executions, err := e.store.ListExecutions(ctx, repo.ExecutionFilter{
		Statuses: domain.ActiveExecutionStatuses,
		Limit:    e.cfg.ActiveLimit,
	})
	if err != nil {
		e.transient("list active executions", err)
		return
	}
	if err := e.registry.ReplaceActive(issued, executions); err != nil {
		e.logger.Warn("active executions partially rejected", "error", err)
	}
}

func (e *Engine) pullAlerts(ctx context.Context, issued time.Time) {
	alerts, err := e.store.ListAlerts(ctx, repo.AlertFilter{Status: domain.AlertActive, Limit: e.cfg.AlertLimit})
	if err != nil {
		e.transient("list active alerts", err)
		return
	}
	e.registry.ReplaceAlerts(issued, alerts)
}

func (e *Engine) pullDetail(ctx context.Context, issued time.Time, executionID string) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		e.transient("get execution", err, "execution_id", executionID)
	} else if e.Observed() == executionID {
		if _, err := e.registry.MergeExecution(registry.PullAt(issued), domain.PatchFromExecution(exec)); err != nil {
			e.logger.Warn("observed execution rejected", "execution_id", executionID, "error", err)
		}
	}

	stages, err := e.store.ListStages(ctx, executionID)
	if err != nil {
		e.transient("list stages", err, "execution_id", executionID)
		return
	}
	if e.Observed() != executionID {
		return
	}
	if err := e.registry.MergeStages(issued, executionID, stages); err != nil {
		e.logger.Warn("stages partially rejected", "execution_id", executionID, "error", err)
	}
}

func (e *Engine) pullLogs(ctx context.Context, issued time.Time, executionID string) {
	logs, err := e.store.ListLogs(ctx, repo.LogFilter{ExecutionID: executionID, Limit: e.cfg.LogWindow})
	if err != nil {
		e.transient("list logs", err, "execution_id", executionID)
		return
	}
	if e.Observed() != executionID {
		return
	}
	e.registry.AppendLogs(registry.PullAt(issued), executionID, logs)
}

func (e *Engine) transient(op string, err error, attrs ...any) {
	attrs = append(attrs, "error", domain.TransientError(op, err))
	e.logger.Warn("reconcile pull failed", attrs...)
}
