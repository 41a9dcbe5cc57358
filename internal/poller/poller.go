// Package poller tracks asynchronous report jobs that have no push channel.
// Each watched job is polled by a single goroutine on an escalating band
// schedule until it reports a terminal status or the watch is stopped.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/pipeconsole/internal/domain"
)

// StatusFetcher reads the current status of a job.
type StatusFetcher interface {
	GetStatus(ctx context.Context, jobID string) (domain.ReportJob, error)
}

type Config struct {
	Bands  []Band
	Settle time.Duration
}

type Poller struct {
	fetcher StatusFetcher
	logger  *slog.Logger
	bands   []Band
	settle  time.Duration
	wait    func(ctx context.Context, d time.Duration) error
}

func New(fetcher StatusFetcher, logger *slog.Logger, cfg Config) (*Poller, error) {
	if fetcher == nil {
		return nil, errors.New("status fetcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	bands := cfg.Bands
	if len(bands) == 0 {
		bands = DefaultBands()
	}
	if err := ValidateBands(bands); err != nil {
		return nil, err
	}
	settle := cfg.Settle
	if settle <= 0 {
		settle = 2 * time.Second
	}
	return &Poller{
		fetcher: fetcher,
		logger:  logger,
		bands:   append([]Band(nil), bands...),
		settle:  settle,
		wait:    sleep,
	}, nil
}

// Run polls jobID until it terminates, calling emit with every snapshot. A
// completed job returns nil after the settle delay; a failed job returns a
// *domain.JobFailedError immediately. Transport errors are logged and the
// schedule continues. Run returns ctx.Err() once ctx is done.
func (p *Poller) Run(ctx context.Context, jobID string, emit func(domain.ReportJob)) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return errors.New("job id is required")
	}
	schedule, err := NewSchedule(p.bands)
	if err != nil {
		return err
	}

	for {
		if err := p.wait(ctx, schedule.Next()); err != nil {
			return err
		}
		job, err := p.fetcher.GetStatus(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("report job poll failed",
				"job_id", jobID,
				"poll", schedule.Polls(),
				"error", domain.TransientError("get job status", err),
			)
			continue
		}
		if job.ID == "" {
			job.ID = jobID
		}
		if normalized := domain.NormalizeReportJobStatus(string(job.Status)); normalized != "" {
			job.Status = normalized
		}
		if emit != nil {
			emit(job)
		}

		switch job.Status {
		case domain.ReportCompleted:
			p.logger.Info("report job completed", "job_id", jobID, "polls", schedule.Polls())
			if err := p.wait(ctx, p.settle); err != nil {
				return err
			}
			return nil
		case domain.ReportFailed:
			return &domain.JobFailedError{JobID: jobID, Message: job.Error}
		}
	}
}

// Watch starts polling jobID in the background. The returned handle is
// stopped by Stop or by cancelling ctx.
func (p *Poller) Watch(ctx context.Context, jobID string) *Watch {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watch{
		jobID:   jobID,
		updates: make(chan domain.ReportJob, 1),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go func() {
		defer close(w.done)
		defer close(w.updates)
		defer cancel()
		err := p.Run(ctx, jobID, w.publish)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
	}()
	return w
}

// Watch is a running poll of one job.
type Watch struct {
	jobID   string
	updates chan domain.ReportJob
	done    chan struct{}
	cancel  context.CancelFunc

	mu     sync.Mutex
	err    error
	latest domain.ReportJob
	seen   bool
}

func (w *Watch) JobID() string { return w.jobID }

// Updates delivers snapshots. It holds at most one pending snapshot; an
// unread snapshot is replaced by a newer one. The channel is closed when
// polling ends.
func (w *Watch) Updates() <-chan domain.ReportJob { return w.updates }

func (w *Watch) Done() <-chan struct{} { return w.done }

// Stop halts all future polls and waits for the poll goroutine to exit.
func (w *Watch) Stop() {
	w.cancel()
	<-w.done
}

// Err returns the terminal error once Done is closed. Stopping the watch is
// not an error.
func (w *Watch) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Latest returns the most recent snapshot, if any.
func (w *Watch) Latest() (domain.ReportJob, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest, w.seen
}

func (w *Watch) publish(job domain.ReportJob) {
	w.mu.Lock()
	w.latest = job
	w.seen = true
	w.mu.Unlock()
	for {
		select {
		case w.updates <- job:
			return
		default:
		}
		select {
		case <-w.updates:
		default:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
