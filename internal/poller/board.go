package poller

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/animus-labs/pipeconsole/internal/domain"
)

// Record is the latest known state of one watched job.
type Record struct {
	Job         domain.ReportJob `json:"job"`
	ExecutionID string           `json:"execution_id,omitempty"`
	TemplateID  string           `json:"template_id,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Done        bool             `json:"done"`
	Error       string           `json:"error,omitempty"`
}

// Board keeps one latest-wins record per job, separate from the execution
// registry.
type Board struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

func NewBoard() *Board {
	return &Board{records: map[string]Record{}, now: time.Now}
}

// Track registers a job before its first snapshot arrives.
func (b *Board) Track(jobID, executionID, templateID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.records[jobID]
	rec.Job.ID = jobID
	if rec.Job.Status == "" {
		rec.Job.Status = domain.ReportQueued
	}
	rec.ExecutionID = executionID
	rec.TemplateID = templateID
	rec.UpdatedAt = b.now().UTC()
	b.records[jobID] = rec
}

// Set overwrites the snapshot for the job.
func (b *Board) Set(job domain.ReportJob) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.records[job.ID]
	rec.Job = job
	rec.UpdatedAt = b.now().UTC()
	b.records[job.ID] = rec
}

// Finish marks the job as no longer polled. A failed job keeps its error
// message.
func (b *Board) Finish(jobID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[jobID]
	if !ok {
		rec.Job.ID = jobID
	}
	rec.Done = true
	rec.UpdatedAt = b.now().UTC()
	var failed *domain.JobFailedError
	switch {
	case errors.As(err, &failed):
		rec.Job.Status = domain.ReportFailed
		rec.Job.Error = failed.Message
		rec.Error = failed.Error()
	case err != nil:
		rec.Error = err.Error()
	}
	b.records[jobID] = rec
}

func (b *Board) Get(jobID string) (Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[jobID]
	return rec, ok
}

// List returns all records, most recently updated first.
func (b *Board) List() []Record {
	b.mu.RLock()
	out := make([]Record, 0, len(b.records))
	for _, rec := range b.records {
		out = append(out, rec)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Job.ID < out[j].Job.ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (b *Board) Remove(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, jobID)
}
