package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/pipeconsole/internal/domain"
	"github.com/animus-labs/pipeconsole/internal/registry"
	"github.com/animus-labs/pipeconsole/internal/repo"
)

type fakeStore struct {
	mu         sync.Mutex
	executions []domain.Execution
	detail     map[string]domain.Execution
	stages     map[string][]domain.Stage
	logs       map[string][]domain.Log
	alerts     []domain.Alert
	listErr    error
	block      chan struct{}
	listCalls  int
	lastFilter repo.ExecutionFilter
}

func (f *fakeStore) ListExecutions(ctx context.Context, filter repo.ExecutionFilter) ([]domain.Execution, error) {
	f.mu.Lock()
	f.listCalls++
	f.lastFilter = filter
	block := f.block
	err := f.listErr
	out := append([]domain.Execution(nil), f.executions...)
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeStore) GetExecution(ctx context.Context, id string) (domain.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exec, ok := f.detail[id]
	if !ok {
		return domain.Execution{}, repo.ErrNotFound
	}
	return exec, nil
}

func (f *fakeStore) ListStages(ctx context.Context, executionID string) ([]domain.Stage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Stage(nil), f.stages[executionID]...), nil
}

func (f *fakeStore) ListLogs(ctx context.Context, filter repo.LogFilter) ([]domain.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Log(nil), f.logs[filter.ExecutionID]...), nil
}

func (f *fakeStore) ListAlerts(ctx context.Context, filter repo.AlertFilter) ([]domain.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Alert(nil), f.alerts...), nil
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestRefreshReplacesActiveAndIsIdempotent(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		executions: []domain.Execution{
			{ID: "e2", Status: domain.ExecutionRunning, StartedAt: started.Add(time.Minute), TotalStages: 3},
			{ID: "e1", Status: domain.ExecutionInitializing, StartedAt: started, TotalStages: 3},
		},
		alerts: []domain.Alert{{ID: "a1", Status: domain.AlertActive, Severity: domain.SeverityCritical, CreatedAt: started}},
	}
	reg := registry.New(10)
	engine := New(store, reg, newTestLogger(), Config{ActiveLimit: 25})

	if !engine.Refresh(context.Background()) {
		t.Fatalf("expected refresh to run")
	}
	first := reg.Snapshot()
	if !engine.Refresh(context.Background()) {
		t.Fatalf("expected refresh to run")
	}
	second := reg.Snapshot()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("registry differs after identical pulls:\n%+v\n%+v", first, second)
	}
	if len(second.Active) != 2 || len(second.Alerts) != 1 {
		t.Fatalf("unexpected snapshot %+v", second)
	}
	if store.lastFilter.Limit != 25 || len(store.lastFilter.Statuses) != 3 {
		t.Fatalf("unexpected filter %+v", store.lastFilter)
	}
}

func TestRefreshRemovesTerminatedExecution(t *testing.T) {
	store := &fakeStore{executions: []domain.Execution{{ID: "e1", Status: domain.ExecutionRunning}}}
	reg := registry.New(10)
	engine := New(store, reg, newTestLogger(), Config{})

	engine.Refresh(context.Background())
	store.mu.Lock()
	store.executions = nil
	store.mu.Unlock()
	engine.Refresh(context.Background())

	if got := len(reg.Active()); got != 0 {
		t.Fatalf("active=%d, want 0", got)
	}
}

func TestRefreshSkipsWhileCycleInFlight(t *testing.T) {
	store := &fakeStore{block: make(chan struct{})}
	engine := New(store, registry.New(10), newTestLogger(), Config{})

	done := make(chan bool, 1)
	go func() { done <- engine.Refresh(context.Background()) }()

	deadline := time.After(2 * time.Second)
	for store.calls() == 0 {
		select {
		case <-deadline:
			t.Fatalf("first cycle never started")
		case <-time.After(time.Millisecond):
		}
	}
	if engine.Refresh(context.Background()) {
		t.Fatalf("expected overlapping refresh to be skipped")
	}
	if store.calls() != 1 {
		t.Fatalf("overlapping refresh issued a request")
	}

	close(store.block)
	if !<-done {
		t.Fatalf("first refresh reported skipped")
	}
	if !engine.Refresh(context.Background()) {
		t.Fatalf("expected refresh after completion to run")
	}
}

func TestRefreshAbsorbsFetchErrors(t *testing.T) {
	store := &fakeStore{executions: []domain.Execution{{ID: "e1", Status: domain.ExecutionRunning}}}
	reg := registry.New(10)
	engine := New(store, reg, newTestLogger(), Config{})
	engine.Refresh(context.Background())

	store.mu.Lock()
	store.listErr = errors.New("connection reset")
	store.mu.Unlock()
	if !engine.Refresh(context.Background()) {
		t.Fatalf("expected cycle to complete despite error")
	}
	if got := len(reg.Active()); got != 1 {
		t.Fatalf("failed pull must leave a stale view, active=%d", got)
	}
}

func TestRefreshPullsObservedDetail(t *testing.T) {
	now := time.Now().UTC()
	exec := domain.Execution{ID: "E1", Status: domain.ExecutionRunning, TotalStages: 2, CompletedStages: 1}
	store := &fakeStore{
		executions: []domain.Execution{exec},
		detail:     map[string]domain.Execution{"E1": exec},
		stages: map[string][]domain.Stage{"E1": {
			{ID: "s2", ExecutionID: "E1", Name: "analysis", Order: 2, Status: domain.StageRunning, Attempt: 1},
			{ID: "s1", ExecutionID: "E1", Name: "evidence", Order: 1, Status: domain.StageCompleted, Attempt: 1},
		}},
		logs: map[string][]domain.Log{"E1": {
			{ID: "l1", ExecutionID: "E1", Timestamp: now, Message: "started"},
		}},
	}
	reg := registry.New(10)
	engine := New(store, reg, newTestLogger(), Config{})
	engine.Observe("E1")
	engine.Refresh(context.Background())

	stages := reg.Stages("E1")
	if len(stages) != 2 || stages[0].Name != "evidence" || stages[1].Name != "analysis" {
		t.Fatalf("stages=%+v", stages)
	}
	if got := reg.Logs("E1"); len(got) != 1 {
		t.Fatalf("logs=%+v", got)
	}
	got, _ := reg.Execution("E1")
	if got.CurrentStage != "analysis" || got.CompletedStages != 1 {
		t.Fatalf("execution=%+v", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	engine := New(store, registry.New(10), newTestLogger(), Config{Interval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for engine.Cycles() < 3 {
		select {
		case <-deadline:
			t.Fatalf("engine did not tick")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}
