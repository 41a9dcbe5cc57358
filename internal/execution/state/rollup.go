package state

import (
	"sort"

	"github.com/animus-labs/pipeconsole/internal/domain"
)

// Rollup derives stage counters and the current stage of exec from its stage
// set. Skipped stages are counted separately and never as completed. The
// execution is returned unchanged unless every stage is known.
func Rollup(exec domain.Execution, stages []domain.Stage) (domain.Execution, bool) {
	if exec.TotalStages <= 0 || len(stages) != exec.TotalStages {
		return exec, false
	}

	ordered := make([]domain.Stage, len(stages))
	copy(ordered, stages)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	completed, failed, skipped := 0, 0, 0
	current := ""
	firstPending := ""
	for _, stage := range ordered {
		switch stage.Status {
		case domain.StageCompleted:
			completed++
		case domain.StageFailed:
			failed++
		case domain.StageSkipped:
			skipped++
		case domain.StageRunning:
			if current == "" {
				current = stage.Name
			}
		case domain.StagePending:
			if firstPending == "" {
				firstPending = stage.Name
			}
		}
	}
	if current == "" {
		current = firstPending
	}
	if current == "" && !exec.Status.Terminal() {
		current = exec.CurrentStage
	}

	exec.CompletedStages = completed
	exec.FailedStages = failed
	exec.SkippedStages = skipped
	exec.CurrentStage = current
	return exec, true
}
