package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/pipeconsole/internal/domain"
)

type scriptedFetcher struct {
	mu     sync.Mutex
	calls  int
	status func(call int) (domain.ReportJob, error)
}

func (f *scriptedFetcher) GetStatus(ctx context.Context, jobID string) (domain.ReportJob, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.status(call)
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingWait struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingWait) wait(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestPoller(t *testing.T, fetcher StatusFetcher, rec *recordingWait) *Poller {
	t.Helper()
	p, err := New(fetcher, slog.New(slog.NewJSONHandler(io.Discard, nil)), Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.wait = rec.wait
	return p
}

func running() (domain.ReportJob, error) {
	return domain.ReportJob{ID: "job-1", Status: domain.ReportRunning, Progress: 10}, nil
}

func TestScheduleDefaultBands(t *testing.T) {
	s, err := NewSchedule(DefaultBands())
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	for poll := 1; poll <= 25; poll++ {
		got := s.Next()
		var want time.Duration
		switch {
		case poll == 1:
			want = 0
		case poll <= 10:
			want = 30 * time.Second
		case poll <= 20:
			want = 60 * time.Second
		default:
			want = 120 * time.Second
		}
		if got != want {
			t.Fatalf("poll %d: delay=%s want %s", poll, got, want)
		}
	}
}

func TestValidateBandsRejectsUnboundedMiddleBand(t *testing.T) {
	err := ValidateBands([]Band{{Interval: time.Second}, {Interval: 2 * time.Second, Polls: 3}})
	if err == nil {
		t.Fatalf("expected error for unbounded non-final band")
	}
	if err := ValidateBands(nil); err == nil {
		t.Fatalf("expected error for empty bands")
	}
}

func TestRunCompletedOnTenthPoll(t *testing.T) {
	fetcher := &scriptedFetcher{status: func(call int) (domain.ReportJob, error) {
		if call == 10 {
			return domain.ReportJob{ID: "job-1", Status: domain.ReportCompleted, Progress: 100}, nil
		}
		return running()
	}}
	rec := &recordingWait{}
	p := newTestPoller(t, fetcher, rec)

	var snapshots []domain.ReportJob
	if err := p.Run(context.Background(), "job-1", func(job domain.ReportJob) {
		snapshots = append(snapshots, job)
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if fetcher.Calls() != 10 {
		t.Fatalf("polls=%d, want 10", fetcher.Calls())
	}
	band1 := 0
	for _, d := range rec.delays[:10] {
		if d == 30*time.Second {
			band1++
		}
	}
	if rec.delays[0] != 0 || band1 != 9 {
		t.Fatalf("delays=%v", rec.delays)
	}
	if len(rec.delays) != 11 || rec.delays[10] != 2*time.Second {
		t.Fatalf("expected settle delay after completion, delays=%v", rec.delays)
	}
	if last := snapshots[len(snapshots)-1]; last.Status != domain.ReportCompleted {
		t.Fatalf("last snapshot=%+v", last)
	}
}

func TestRunEscalatesBands(t *testing.T) {
	fetcher := &scriptedFetcher{status: func(call int) (domain.ReportJob, error) { return running() }}
	rec := &recordingWait{}
	p := newTestPoller(t, fetcher, rec)

	ctx, cancel := context.WithCancel(context.Background())
	err := p.Run(ctx, "job-1", func(domain.ReportJob) {
		if fetcher.Calls() == 25 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err=%v, want context.Canceled", err)
	}
	for i, d := range rec.delays[:25] {
		poll := i + 1
		switch {
		case poll >= 11 && poll <= 20 && d != 60*time.Second:
			t.Fatalf("poll %d delay=%s, want 60s", poll, d)
		case poll > 20 && d != 120*time.Second:
			t.Fatalf("poll %d delay=%s, want 120s", poll, d)
		}
	}
}

func TestRunFailedStopsImmediately(t *testing.T) {
	fetcher := &scriptedFetcher{status: func(call int) (domain.ReportJob, error) {
		if call == 3 {
			return domain.ReportJob{ID: "job-1", Status: domain.ReportFailed, Error: "template missing"}, nil
		}
		return running()
	}}
	rec := &recordingWait{}
	p := newTestPoller(t, fetcher, rec)

	err := p.Run(context.Background(), "job-1", nil)
	var failed *domain.JobFailedError
	if !errors.As(err, &failed) || failed.Message != "template missing" {
		t.Fatalf("Run err=%v", err)
	}
	if !errors.Is(err, domain.ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
	if len(rec.delays) != 3 {
		t.Fatalf("failed job must not settle or reschedule, delays=%v", rec.delays)
	}
}

func TestRunSwallowsTransportErrors(t *testing.T) {
	fetcher := &scriptedFetcher{status: func(call int) (domain.ReportJob, error) {
		switch call {
		case 1, 2:
			return domain.ReportJob{}, errors.New("dial tcp: connection refused")
		case 3:
			return domain.ReportJob{Status: "succeeded"}, nil
		}
		return running()
	}}
	rec := &recordingWait{}
	p := newTestPoller(t, fetcher, rec)

	var last domain.ReportJob
	if err := p.Run(context.Background(), "job-7", func(job domain.ReportJob) { last = job }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fetcher.Calls() != 3 {
		t.Fatalf("polls=%d, want 3", fetcher.Calls())
	}
	if last.ID != "job-7" || last.Status != domain.ReportCompleted {
		t.Fatalf("last=%+v", last)
	}
	if rec.delays[1] != 30*time.Second || rec.delays[2] != 30*time.Second {
		t.Fatalf("errors must keep the current interval, delays=%v", rec.delays)
	}
}

func TestWatchStopHaltsPolling(t *testing.T) {
	fetcher := &scriptedFetcher{status: func(call int) (domain.ReportJob, error) { return running() }}
	p, err := New(fetcher, slog.New(slog.NewJSONHandler(io.Discard, nil)), Config{
		Bands: []Band{{Interval: time.Hour}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	w := p.Watch(context.Background(), "job-1")
	select {
	case job := <-w.Updates():
		if job.Status != domain.ReportRunning {
			t.Fatalf("first snapshot=%+v", job)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no snapshot from immediate poll")
	}

	w.Stop()
	if w.Err() != nil {
		t.Fatalf("stop reported error: %v", w.Err())
	}
	if fetcher.Calls() != 1 {
		t.Fatalf("polls after stop=%d, want 1", fetcher.Calls())
	}
	if _, ok := <-w.Updates(); ok {
		t.Fatalf("updates channel must be closed after stop")
	}
}

func TestWatchUpdatesAreLatestWins(t *testing.T) {
	w := &Watch{updates: make(chan domain.ReportJob, 1)}
	w.publish(domain.ReportJob{ID: "j", Progress: 10})
	w.publish(domain.ReportJob{ID: "j", Progress: 40})
	w.publish(domain.ReportJob{ID: "j", Progress: 70})

	got := <-w.Updates()
	if got.Progress != 70 {
		t.Fatalf("progress=%d, want 70", got.Progress)
	}
	latest, ok := w.Latest()
	if !ok || latest.Progress != 70 {
		t.Fatalf("latest=%+v", latest)
	}
}

func TestBoardFinishKeepsFailureMessage(t *testing.T) {
	b := NewBoard()
	b.Track("job-1", "E1", "security-review")
	b.Set(domain.ReportJob{ID: "job-1", Status: domain.ReportRunning, Progress: 55})
	b.Finish("job-1", &domain.JobFailedError{JobID: "job-1", Message: "renderer crashed"})

	rec, ok := b.Get("job-1")
	if !ok {
		t.Fatalf("record missing")
	}
	if !rec.Done || rec.Job.Status != domain.ReportFailed || rec.Job.Error != "renderer crashed" {
		t.Fatalf("record=%+v", rec)
	}
	if rec.ExecutionID != "E1" || rec.TemplateID != "security-review" || rec.Job.Progress != 55 {
		t.Fatalf("tracking fields lost: %+v", rec)
	}
	if got := len(b.List()); got != 1 {
		t.Fatalf("list=%d", got)
	}
}
