package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrMissingReason          = errors.New("missing reason")
	ErrInterventionNotApplied = errors.New("intervention not applied")
	ErrTransientFetch         = errors.New("transient fetch error")
	ErrJobFailed              = errors.New("job failed")
	ErrInvariant              = errors.New("invariant violated")
	ErrInvalidArgument        = errors.New("invalid argument")
)

// TransitionError describes a rejected state change.
type TransitionError struct {
	Subject string
	From    string
	To      string
	Reason  string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition for %s: %s -> %s", e.Subject, e.From, e.To)
	if strings.TrimSpace(e.Reason) != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NotAppliedError reports a control call that failed after its audit record
// was written. The audit record stands.
type NotAppliedError struct {
	Intervention Intervention
	Err          error
}

func (e *NotAppliedError) Error() string {
	return fmt.Sprintf("intervention %s (%s) not applied: %v", e.Intervention.ID, e.Intervention.Type, e.Err)
}

func (e *NotAppliedError) Unwrap() []error { return []error{ErrInterventionNotApplied, e.Err} }

// JobFailedError carries the terminal error message reported by a polled job.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("report job %s failed", e.JobID)
	}
	return fmt.Sprintf("report job %s failed: %s", e.JobID, e.Message)
}

func (e *JobFailedError) Unwrap() error { return ErrJobFailed }

// TransientError marks a pull or poll failure that is retried on schedule.
func TransientError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransientFetch, err)
}
