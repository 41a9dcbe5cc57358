// Package changefeed mirrors executions, stages, logs and alerts from the
// backend push channel into the registry.
//
// Upserts are field-level merges. Deletes are never applied here; entities
// leave the local view only through reconciliation.
package changefeed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/animus-labs/pipeconsole/internal/domain"
	"github.com/animus-labs/pipeconsole/internal/registry"
)

const defaultRetryDelay = 2 * time.Second

type Subscriber struct {
	source     Source
	registry   *registry.Registry
	logger     *slog.Logger
	retryDelay time.Duration
	now        func() time.Time
}

func NewSubscriber(source Source, reg *registry.Registry, logger *slog.Logger, retryDelay time.Duration) *Subscriber {
	if source == nil || reg == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &Subscriber{
		source:     source,
		registry:   reg,
		logger:     logger,
		retryDelay: retryDelay,
		now:        time.Now,
	}
}

// Events returns an unbounded stream of events for ch. Lost subscriptions are
// re-opened after the retry delay; the stream closes only when ctx is done.
func (s *Subscriber) Events(ctx context.Context, ch Channel) (<-chan Event, error) {
	if err := ch.Validate(); err != nil {
		return nil, err
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			stream, err := s.source.Subscribe(ctx, ch)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("change feed subscribe failed", "channel", ch.String(), "error", err)
			} else {
				for ev := range stream {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("change feed stream closed, resubscribing", "channel", ch.String())
			}
			timer := time.NewTimer(s.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
	return out, nil
}

// Run drains ch into the registry until ctx is done.
func (s *Subscriber) Run(ctx context.Context, ch Channel) error {
	events, err := s.Events(ctx, ch)
	if err != nil {
		return err
	}
	for ev := range events {
		if err := s.Apply(ev); err != nil {
			s.logger.Warn("change feed event rejected", "channel", ch.String(), "operation", string(ev.Operation), "error", err)
		}
	}
	return nil
}

// Apply merges one event into the registry.
func (s *Subscriber) Apply(ev Event) error {
	if ev.Operation == OpDelete {
		s.logger.Debug("change feed delete ignored", "channel", ev.Channel.String())
		return nil
	}
	at := ev.ReceivedAt
	if at.IsZero() {
		at = s.now().UTC()
	}
	w := registry.PushAt(at)

	switch {
	case ev.Execution != nil:
		_, err := s.registry.MergeExecution(w, *ev.Execution)
		return err
	case ev.Stage != nil:
		_, err := s.registry.MergeStage(w, *ev.Stage)
		return err
	case ev.Log != nil:
		s.registry.AppendLogs(w, ev.Log.ExecutionID, []domain.Log{*ev.Log})
		return nil
	case ev.Alert != nil:
		_, err := s.registry.MergeAlert(w, *ev.Alert)
		return err
	default:
		return errors.New("event carries no entity")
	}
}
