// Package state holds the legal transitions for executions and stages and the
// stage roll-up used to derive execution counters.
//
// Executions:
//   - initializing -> running | failed | cancelled
//   - running -> paused | completed | failed | partial | cancelled
//   - paused -> running | failed | cancelled
//
// Stages:
//   - pending -> running
//   - running -> completed | failed | skipped
//   - failed -> running (retry_stage only, attempt + 1)
//   - failed -> skipped (skip_stage only)
package state

import (
	"fmt"
	"strings"

	"github.com/animus-labs/pipeconsole/internal/domain"
)

var executionEdges = map[domain.ExecutionStatus][]domain.ExecutionStatus{
	domain.ExecutionInitializing: {domain.ExecutionRunning, domain.ExecutionFailed, domain.ExecutionCancelled},
	domain.ExecutionRunning: {
		domain.ExecutionPaused,
		domain.ExecutionCompleted,
		domain.ExecutionFailed,
		domain.ExecutionPartial,
		domain.ExecutionCancelled,
	},
	domain.ExecutionPaused: {domain.ExecutionRunning, domain.ExecutionFailed, domain.ExecutionCancelled},
}

var stageEdges = map[domain.StageStatus][]domain.StageStatus{
	domain.StagePending: {domain.StageRunning},
	domain.StageRunning: {domain.StageCompleted, domain.StageFailed, domain.StageSkipped},
}

// CanTransitionExecution reports whether from -> to is an edge of the
// execution machine.
func CanTransitionExecution(from, to domain.ExecutionStatus) bool {
	for _, next := range executionEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionStage reports whether from -> to is legal when driven by via.
// Worker progress passes an empty intervention type. An intervention only
// ever moves a failed stage.
func CanTransitionStage(from, to domain.StageStatus, via domain.InterventionType) bool {
	if via != "" && from != domain.StageFailed {
		return false
	}
	if from == domain.StageFailed {
		switch to {
		case domain.StageRunning:
			return via == domain.InterventionRetryStage
		case domain.StageSkipped:
			return via == domain.InterventionSkipStage
		default:
			return false
		}
	}
	for _, next := range stageEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Target is the state an intervention requests.
type Target struct {
	Execution domain.ExecutionStatus
	Stage     *domain.Stage
	NextStage domain.StageStatus
}

// CheckIntervention validates an intervention against locally known state and
// returns the requested target. It never mutates its inputs.
func CheckIntervention(exec domain.Execution, stages []domain.Stage, typ domain.InterventionType, targetStage string) (Target, error) {
	switch typ {
	case domain.InterventionPause:
		return executionTarget(exec, typ, domain.ExecutionRunning, domain.ExecutionPaused)
	case domain.InterventionResume:
		return executionTarget(exec, typ, domain.ExecutionPaused, domain.ExecutionRunning)
	case domain.InterventionCancel:
		if exec.Status.Terminal() || exec.Status == "" {
			return Target{}, &domain.TransitionError{
				Subject: "execution " + exec.ID,
				From:    string(exec.Status),
				To:      string(domain.ExecutionCancelled),
				Reason:  "cancel requires a non-terminal execution",
			}
		}
		return Target{Execution: domain.ExecutionCancelled}, nil
	case domain.InterventionRetryStage, domain.InterventionSkipStage:
		return stageTarget(exec, stages, typ, targetStage)
	default:
		return Target{}, fmt.Errorf("unsupported intervention type %q", typ)
	}
}

func executionTarget(exec domain.Execution, typ domain.InterventionType, required, next domain.ExecutionStatus) (Target, error) {
	if exec.Status != required || !CanTransitionExecution(exec.Status, next) {
		return Target{}, &domain.TransitionError{
			Subject: "execution " + exec.ID,
			From:    string(exec.Status),
			To:      string(next),
			Reason:  fmt.Sprintf("%s requires status %s", typ, required),
		}
	}
	return Target{Execution: next}, nil
}

func stageTarget(exec domain.Execution, stages []domain.Stage, typ domain.InterventionType, targetStage string) (Target, error) {
	name := strings.TrimSpace(targetStage)
	if name == "" {
		return Target{}, &domain.TransitionError{
			Subject: "execution " + exec.ID,
			From:    string(exec.Status),
			To:      string(exec.Status),
			Reason:  fmt.Sprintf("%s requires a target stage", typ),
		}
	}
	if exec.Status.Terminal() {
		return Target{}, &domain.TransitionError{
			Subject: "execution " + exec.ID,
			From:    string(exec.Status),
			To:      string(exec.Status),
			Reason:  fmt.Sprintf("%s requires a non-terminal execution", typ),
		}
	}
	stage, ok := FindStage(stages, name)
	if !ok {
		return Target{}, fmt.Errorf("stage %q of execution %s: %w", name, exec.ID, domain.ErrNotFound)
	}
	next := domain.StageRunning
	if typ == domain.InterventionSkipStage {
		next = domain.StageSkipped
	}
	if stage.Status != domain.StageFailed || !CanTransitionStage(stage.Status, next, typ) {
		return Target{}, &domain.TransitionError{
			Subject: "stage " + name,
			From:    string(stage.Status),
			To:      string(next),
			Reason:  fmt.Sprintf("%s requires a failed stage", typ),
		}
	}
	return Target{Execution: exec.Status, Stage: &stage, NextStage: next}, nil
}

// FindStage returns the stage with the given name. When several attempts are
// present under the same name the highest attempt wins.
func FindStage(stages []domain.Stage, name string) (domain.Stage, bool) {
	var (
		found domain.Stage
		ok    bool
	)
	for _, stage := range stages {
		if strings.TrimSpace(stage.Name) != name {
			continue
		}
		if !ok || stage.Attempt > found.Attempt {
			found = stage
			ok = true
		}
	}
	return found, ok
}
