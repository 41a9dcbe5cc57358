// Package registry is the console-wide store of executions, stages, logs and
// alerts. All writes are serialized under one lock and every merge is atomic
// with respect to readers.
//
// Two writer paths exist. Push writes come from the change feed and are
// applied as field-level merges. Pull writes come from reconciliation and
// either merge (stages, logs) or replace a whole list (active executions,
// alerts). A pull issued before the last push for an entity does not overwrite
// that entity; on a tie the pull wins.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/pipeconsole/internal/domain"
	"github.com/animus-labs/pipeconsole/internal/execution/state"
)

const defaultLogWindow = 200

type Origin int

const (
	Push Origin = iota
	Pull
)

func (o Origin) String() string {
	if o == Pull {
		return "pull"
	}
	return "push"
}

// Write stamps a registry write. For pulls At is the time the pull was issued.
type Write struct {
	Origin Origin
	At     time.Time
}

func PushAt(at time.Time) Write { return Write{Origin: Push, At: at} }
func PullAt(at time.Time) Write { return Write{Origin: Pull, At: at} }

type executionEntry struct {
	value    domain.Execution
	lastPush time.Time
}

type stageEntry struct {
	value    domain.Stage
	lastPush time.Time
}

type alertEntry struct {
	value    domain.Alert
	lastPush time.Time
}

type Registry struct {
	mu        sync.RWMutex
	logWindow int

	active     []string
	executions map[string]*executionEntry
	stages     map[string]map[string]*stageEntry
	logs       map[string][]domain.Log
	alerts     map[string]*alertEntry

	// forgotten records when each released execution's detail was dropped.
	// Detail writes observed before that instant are discarded.
	forgotten map[string]time.Time
	now       func() time.Time
}

func New(logWindow int) *Registry {
	if logWindow <= 0 {
		logWindow = defaultLogWindow
	}
	return &Registry{
		logWindow:  logWindow,
		executions: make(map[string]*executionEntry),
		stages:     make(map[string]map[string]*stageEntry),
		logs:       make(map[string][]domain.Log),
		alerts:     make(map[string]*alertEntry),
		forgotten:  make(map[string]time.Time),
		now:        time.Now,
	}
}

// Snapshot is a consistent read of the active view.
type Snapshot struct {
	Active []domain.Execution `json:"active"`
	Alerts []domain.Alert     `json:"alerts"`
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{Active: r.activeLocked(), Alerts: r.alertsLocked()}
}

func (r *Registry) Active() []domain.Execution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked()
}

func (r *Registry) Execution(id string) (domain.Execution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.executions[id]
	if !ok {
		return domain.Execution{}, false
	}
	return entry.value, true
}

// Stages returns the stages of an execution ordered by stage index.
func (r *Registry) Stages(executionID string) []domain.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stagesLocked(executionID)
}

// Logs returns the retained log window, newest first.
func (r *Registry) Logs(executionID string) []domain.Log {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.logs[executionID]
	out := make([]domain.Log, len(src))
	copy(out, src)
	return out
}

func (r *Registry) Alerts() []domain.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.alertsLocked()
}

// MergeExecution applies a field-level merge, inserting the execution when it
// is unseen. The merge is rejected, leaving state untouched, when it would
// break the stage counter invariant.
func (r *Registry) MergeExecution(w Write, p domain.ExecutionPatch) (domain.Execution, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return domain.Execution{}, fmt.Errorf("execution patch: id is required")
	}
	p.ID = id

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.executions[id]
	if ok && w.Origin == Pull && entry.lastPush.After(w.At) {
		return entry.value, nil
	}
	var current domain.Execution
	if ok {
		current = entry.value
	}
	merged := current.Merge(p)
	if rolled, ok := state.Rollup(merged, r.stagesLocked(id)); ok {
		merged = rolled
	}
	if err := merged.ValidateCounters(); err != nil {
		return current, err
	}

	if !ok {
		entry = &executionEntry{}
		r.executions[id] = entry
		if w.Origin == Push && !merged.Status.Terminal() {
			r.active = append([]string{id}, r.active...)
		}
	}
	entry.value = merged
	if w.Origin == Push {
		entry.lastPush = w.At
	}
	return merged, nil
}

// ReplaceActive replaces the active execution list wholesale with a pull
// result. Executions pushed after the pull was issued are kept.
func (r *Registry) ReplaceActive(at time.Time, executions []domain.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]string, 0, len(executions))
	seen := make(map[string]struct{}, len(executions))
	for _, exec := range executions {
		id := strings.TrimSpace(exec.ID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		next = append(next, id)
	}
	for _, id := range r.active {
		if _, ok := seen[id]; ok {
			continue
		}
		if entry, ok := r.executions[id]; ok && entry.lastPush.After(at) && !entry.value.Status.Terminal() {
			next = append(next, id)
			seen[id] = struct{}{}
		}
	}

	var firstErr error
	for _, exec := range executions {
		entry, ok := r.executions[exec.ID]
		if ok && entry.lastPush.After(at) {
			continue
		}
		merged := exec
		if ok {
			merged = entry.value.Merge(domain.PatchFromExecution(exec))
		}
		if rolled, ok := state.Rollup(merged, r.stagesLocked(exec.ID)); ok {
			merged = rolled
		}
		if err := merged.ValidateCounters(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !ok {
			entry = &executionEntry{}
			r.executions[exec.ID] = entry
		}
		entry.value = merged
	}

	for id := range r.executions {
		if _, ok := seen[id]; ok {
			continue
		}
		if _, detail := r.stages[id]; detail {
			continue
		}
		delete(r.executions, id)
	}
	for id, forgotAt := range r.forgotten {
		if forgotAt.Before(at) {
			delete(r.forgotten, id)
		}
	}
	r.active = next
	return firstErr
}

// MergeStage applies a field-level stage merge. Patches describing an older
// attempt than the one already known are ignored.
func (r *Registry) MergeStage(w Write, p domain.StagePatch) (domain.Stage, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return domain.Stage{}, fmt.Errorf("stage patch: id is required")
	}
	p.ID = id

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mergeStageLocked(w, p)
}

// MergeStages merges a pulled stage list for one execution.
func (r *Registry) MergeStages(at time.Time, executionID string, stages []domain.Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.forgottenLocked(executionID, at) {
		return nil
	}
	if _, ok := r.stages[executionID]; !ok {
		r.stages[executionID] = make(map[string]*stageEntry)
	}
	var firstErr error
	for _, stage := range stages {
		if stage.ExecutionID == "" {
			stage.ExecutionID = executionID
		}
		if _, err := r.mergeStageLocked(PullAt(at), domain.PatchFromStage(stage)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) mergeStageLocked(w Write, p domain.StagePatch) (domain.Stage, error) {
	byID := r.stages[p.ExecutionID]
	entry, ok := byID[p.ID]
	if !ok && p.ExecutionID == "" {
		entry, ok = r.findStageByIDLocked(p.ID)
		if ok {
			p.ExecutionID = entry.value.ExecutionID
			byID = r.stages[p.ExecutionID]
		}
	}
	if !ok && p.ExecutionID == "" {
		return domain.Stage{}, fmt.Errorf("stage patch %s: execution id is required", p.ID)
	}
	if r.forgottenLocked(p.ExecutionID, w.At) {
		return domain.Stage{}, nil
	}
	if ok {
		if w.Origin == Pull && entry.lastPush.After(w.At) {
			return entry.value, nil
		}
		if p.StaleFor(entry.value) {
			return entry.value, nil
		}
	}

	var current domain.Stage
	if ok {
		current = entry.value
	}
	merged := current.Merge(p)
	if err := merged.Validate(); err != nil {
		return current, fmt.Errorf("stage %s: %w", p.ID, err)
	}

	var superseded string
	for otherID, other := range byID {
		if otherID == merged.ID {
			continue
		}
		if other.value.Name == merged.Name && other.value.Attempt < merged.Attempt {
			superseded = otherID
			continue
		}
		if other.value.Order == merged.Order && other.value.Name != merged.Name {
			return current, fmt.Errorf("%w: stage order %d of execution %s used by %s and %s",
				domain.ErrInvariant, merged.Order, merged.ExecutionID, other.value.Name, merged.Name)
		}
		if other.value.Name == merged.Name && other.value.Attempt > merged.Attempt {
			return other.value, nil
		}
	}

	if byID == nil {
		byID = make(map[string]*stageEntry)
		r.stages[merged.ExecutionID] = byID
	}
	if superseded != "" {
		delete(byID, superseded)
	}
	if !ok {
		entry = &stageEntry{}
		byID[merged.ID] = entry
	}
	entry.value = merged
	if w.Origin == Push {
		entry.lastPush = w.At
	}
	r.rollupLocked(merged.ExecutionID)
	return merged, nil
}

func (r *Registry) findStageByIDLocked(id string) (*stageEntry, bool) {
	for _, byID := range r.stages {
		if entry, ok := byID[id]; ok {
			return entry, true
		}
	}
	return nil, false
}

func (r *Registry) rollupLocked(executionID string) {
	entry, ok := r.executions[executionID]
	if !ok {
		return
	}
	if rolled, ok := state.Rollup(entry.value, r.stagesLocked(executionID)); ok {
		entry.value = rolled
	}
}

// AppendLogs adds log entries that are not yet present and trims the window
// to the most recent entries.
func (r *Registry) AppendLogs(w Write, executionID string, logs []domain.Log) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.forgottenLocked(executionID, w.At) {
		return 0
	}

	current := r.logs[executionID]
	known := make(map[string]struct{}, len(current))
	for _, entry := range current {
		known[entry.ID] = struct{}{}
	}
	added := 0
	for _, entry := range logs {
		if strings.TrimSpace(entry.ID) == "" {
			continue
		}
		if _, ok := known[entry.ID]; ok {
			continue
		}
		known[entry.ID] = struct{}{}
		current = append(current, entry)
		added++
	}
	if added == 0 {
		return 0
	}
	sort.SliceStable(current, func(i, j int) bool {
		if current[i].Timestamp.Equal(current[j].Timestamp) {
			return current[i].ID > current[j].ID
		}
		return current[i].Timestamp.After(current[j].Timestamp)
	})
	if len(current) > r.logWindow {
		current = current[:r.logWindow]
	}
	r.logs[executionID] = current
	return added
}

func (r *Registry) MergeAlert(w Write, p domain.AlertPatch) (domain.Alert, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return domain.Alert{}, fmt.Errorf("alert patch: id is required")
	}
	p.ID = id

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.alerts[id]
	if ok && w.Origin == Pull && entry.lastPush.After(w.At) {
		return entry.value, nil
	}
	if !ok {
		entry = &alertEntry{}
		r.alerts[id] = entry
	}
	entry.value = entry.value.Merge(p)
	if w.Origin == Push {
		entry.lastPush = w.At
	}
	return entry.value, nil
}

// ReplaceAlerts replaces the active alert set with a pull result. Alerts
// pushed after the pull was issued are kept.
func (r *Registry) ReplaceAlerts(at time.Time, alerts []domain.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]*alertEntry, len(alerts))
	for _, alert := range alerts {
		if strings.TrimSpace(alert.ID) == "" {
			continue
		}
		if entry, ok := r.alerts[alert.ID]; ok && entry.lastPush.After(at) {
			next[alert.ID] = entry
			continue
		}
		next[alert.ID] = &alertEntry{value: alert}
	}
	for id, entry := range r.alerts {
		if _, ok := next[id]; ok {
			continue
		}
		if entry.lastPush.After(at) {
			next[id] = entry
		}
	}
	r.alerts = next
}

// Forget drops the detail state (stages and logs) of an execution. Stage and
// log writes observed before the call are ignored afterwards, so a pull that
// was in flight cannot bring the detail back.
func (r *Registry) Forget(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgotten[executionID] = r.now().UTC()
	delete(r.stages, executionID)
	delete(r.logs, executionID)
	for _, id := range r.active {
		if id == executionID {
			return
		}
	}
	delete(r.executions, executionID)
}

func (r *Registry) forgottenLocked(executionID string, at time.Time) bool {
	forgotAt, ok := r.forgotten[executionID]
	return ok && at.Before(forgotAt)
}

func (r *Registry) activeLocked() []domain.Execution {
	out := make([]domain.Execution, 0, len(r.active))
	for _, id := range r.active {
		if entry, ok := r.executions[id]; ok {
			out = append(out, entry.value)
		}
	}
	return out
}

func (r *Registry) stagesLocked(executionID string) []domain.Stage {
	byID := r.stages[executionID]
	out := make([]domain.Stage, 0, len(byID))
	for _, entry := range byID {
		out = append(out, entry.value)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order == out[j].Order {
			return out[i].ID < out[j].ID
		}
		return out[i].Order < out[j].Order
	})
	return out
}

func (r *Registry) alertsLocked() []domain.Alert {
	out := make([]domain.Alert, 0, len(r.alerts))
	for _, entry := range r.alerts {
		out = append(out, entry.value)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
