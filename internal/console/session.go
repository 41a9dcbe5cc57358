// Package console owns one monitoring session: the reconciliation timer, the
// change feed subscriptions, the detail view of one execution and the status
// pollers of watched report jobs. Every goroutine it starts is stopped by
// Release, StopReport or Close, and Run does not return until they are gone.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/pipeconsole/internal/alerts"
	"github.com/animus-labs/pipeconsole/internal/changefeed"
	"github.com/animus-labs/pipeconsole/internal/config"
	"github.com/animus-labs/pipeconsole/internal/domain"
	"github.com/animus-labs/pipeconsole/internal/intervention"
	"github.com/animus-labs/pipeconsole/internal/poller"
	"github.com/animus-labs/pipeconsole/internal/reconcile"
	"github.com/animus-labs/pipeconsole/internal/registry"
	"github.com/animus-labs/pipeconsole/internal/repo"
)

var ErrClosed = errors.New("console session closed")

type Dispatcher interface {
	Dispatch(ctx context.Context, req intervention.Request) (domain.Intervention, error)
}

type ReportStarter interface {
	Start(ctx context.Context, req domain.ReportRequest) (string, error)
}

type Deps struct {
	Store      repo.ExecutionReader
	Source     changefeed.Source
	Registry   *registry.Registry
	Dispatcher Dispatcher
	Reports    ReportStarter
	JobStatus  poller.StatusFetcher
	Catalog    *config.Catalog
	Logger     *slog.Logger
	Reconcile  reconcile.Config
}

type detailView struct {
	executionID string
	cancel      context.CancelFunc
	done        chan struct{}
}

type reportWatch struct {
	watch       *poller.Watch
	executionID string
	done        chan struct{}
}

type Session struct {
	registry   *registry.Registry
	engine     *reconcile.Engine
	subscriber *changefeed.Subscriber
	dispatcher Dispatcher
	reports    ReportStarter
	jobStatus  poller.StatusFetcher
	catalog    *config.Catalog
	board      *poller.Board
	logger     *slog.Logger

	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	detail  *detailView
	watches map[string]*reportWatch
}

func New(deps Deps) (*Session, error) {
	if deps.Store == nil {
		return nil, errors.New("execution store is required")
	}
	if deps.Source == nil {
		return nil, errors.New("change feed source is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = registry.New(deps.Reconcile.LogWindow)
	}
	if deps.Catalog == nil {
		deps.Catalog = config.NewCatalog(config.Default())
	}

	base, cancel := context.WithCancel(context.Background())
	return &Session{
		registry:   deps.Registry,
		engine:     reconcile.New(deps.Store, deps.Registry, deps.Logger, deps.Reconcile),
		subscriber: changefeed.NewSubscriber(deps.Source, deps.Registry, deps.Logger, 0),
		dispatcher: deps.Dispatcher,
		reports:    deps.Reports,
		jobStatus:  deps.JobStatus,
		catalog:    deps.Catalog,
		board:      poller.NewBoard(),
		logger:     deps.Logger,
		base:       base,
		cancel:     cancel,
		watches:    map[string]*reportWatch{},
	}, nil
}

func (s *Session) Registry() *registry.Registry { return s.registry }

func (s *Session) Board() *poller.Board { return s.board }

// Run drives reconciliation and the execution and alert feeds until ctx is
// done or Close is called, then tears everything down.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()
	defer s.Close()

	g, gctx := errgroup.WithContext(s.base)
	g.Go(func() error { return s.engine.Run(gctx) })
	g.Go(func() error {
		return s.subscriber.Run(gctx, changefeed.Channel{Entity: changefeed.EntityExecution})
	})
	g.Go(func() error {
		return s.subscriber.Run(gctx, changefeed.Channel{Entity: changefeed.EntityAlert})
	})
	s.logger.Info("console session started")
	err := g.Wait()
	s.logger.Info("console session stopped")
	return err
}

// Close stops every timer, subscription and poller owned by the session.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	detail := s.detail
	s.detail = nil
	s.engine.Observe("")
	watches := s.watches
	s.watches = map[string]*reportWatch{}
	s.mu.Unlock()

	s.cancel()
	if detail != nil {
		detail.cancel()
		<-detail.done
	}
	for _, w := range watches {
		w.watch.Stop()
		<-w.done
	}
}

// Observe opens the detail view of one execution: its stage and log feeds are
// subscribed and reconciliation starts pulling its stages and logs. Any
// previous detail view is released first.
func (s *Session) Observe(ctx context.Context, executionID string) error {
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return fmt.Errorf("%w: execution id is required", domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.detail != nil && s.detail.executionID == executionID {
		s.mu.Unlock()
		return nil
	}
	previous := s.detail
	detailCtx, cancel := context.WithCancel(s.base)
	view := &detailView{executionID: executionID, cancel: cancel, done: make(chan struct{})}
	s.detail = view
	s.engine.Observe(executionID)
	s.mu.Unlock()

	if previous != nil {
		s.teardownDetail(previous)
	}

	go func() {
		defer close(view.done)
		var wg sync.WaitGroup
		for _, entity := range []changefeed.Entity{changefeed.EntityStage, changefeed.EntityLog} {
			ch := changefeed.Channel{Entity: entity, ExecutionID: executionID}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.subscriber.Run(detailCtx, ch); err != nil {
					s.logger.Warn("detail feed stopped", "channel", ch.String(), "error", err)
				}
			}()
		}
		wg.Wait()
	}()

	s.logger.Info("execution observed", "execution_id", executionID)
	s.engine.Refresh(ctx)
	return nil
}

// Release closes the current detail view, if any.
func (s *Session) Release() {
	s.mu.Lock()
	view := s.detail
	s.detail = nil
	if view != nil {
		s.engine.Observe("")
	}
	s.mu.Unlock()
	if view != nil {
		s.teardownDetail(view)
	}
}

// Observed returns the execution under detailed observation.
func (s *Session) Observed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detail == nil {
		return ""
	}
	return s.detail.executionID
}

// teardownDetail stops a detail view that is no longer s.detail. The engine's
// observed id is kept in step with s.detail by the callers, under s.mu.
func (s *Session) teardownDetail(view *detailView) {
	view.cancel()
	<-view.done

	s.mu.Lock()
	var stale []*reportWatch
	for jobID, w := range s.watches {
		if w.executionID != "" && w.executionID == view.executionID {
			stale = append(stale, w)
			delete(s.watches, jobID)
		}
	}
	s.mu.Unlock()
	for _, w := range stale {
		w.watch.Stop()
		<-w.done
	}

	s.registry.Forget(view.executionID)
	s.logger.Info("execution released", "execution_id", view.executionID)
}

// Detail is the observed state of one execution.
type Detail struct {
	Execution domain.Execution `json:"execution"`
	Stages    []domain.Stage   `json:"stages"`
	Logs      []domain.Log     `json:"logs"`
	Alerts    []domain.Alert   `json:"alerts"`
}

func (s *Session) Active() []domain.Execution { return s.registry.Active() }

func (s *Session) Detail(executionID string) (Detail, error) {
	exec, ok := s.registry.Execution(executionID)
	if !ok {
		return Detail{}, fmt.Errorf("execution %s: %w", executionID, domain.ErrNotFound)
	}
	return Detail{
		Execution: exec,
		Stages:    s.registry.Stages(executionID),
		Logs:      s.registry.Logs(executionID),
		Alerts:    alerts.ForExecution(s.registry.Alerts(), executionID),
	}, nil
}

func (s *Session) AlertSummary(limit int) alerts.Summary {
	if limit <= 0 {
		limit = s.catalog.Current().AlertLimit
	}
	return alerts.Summarize(s.registry.Alerts(), limit)
}

// Refresh runs a reconciliation cycle now. It reports false when a cycle was
// already in flight.
func (s *Session) Refresh(ctx context.Context) bool { return s.engine.Refresh(ctx) }

func (s *Session) Dispatch(ctx context.Context, req intervention.Request) (domain.Intervention, error) {
	return s.dispatcher.Dispatch(ctx, req)
}

func (s *Session) Templates() []config.Template { return s.catalog.Templates() }

// StartReport starts a report job from a configured template and watches it
// until it terminates. Template params are overridden by request params.
func (s *Session) StartReport(ctx context.Context, req domain.ReportRequest) (poller.Record, error) {
	if s.reports == nil || s.jobStatus == nil {
		return poller.Record{}, errors.New("report job service not configured")
	}
	tpl, ok := s.catalog.Template(req.TemplateID)
	if !ok {
		return poller.Record{}, fmt.Errorf("template %q: %w", req.TemplateID, domain.ErrNotFound)
	}
	params := tpl.Params.Clone()
	for k, v := range req.Params {
		params[k] = v
	}
	req.TemplateID = tpl.ID
	req.Params = params

	polling := s.catalog.Current().Polling
	p, err := poller.New(s.jobStatus, s.logger, poller.Config{Bands: polling.Bands, Settle: polling.Settle})
	if err != nil {
		return poller.Record{}, err
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return poller.Record{}, ErrClosed
	}

	jobID, err := s.reports.Start(ctx, req)
	if err != nil {
		return poller.Record{}, err
	}
	s.board.Track(jobID, req.ExecutionID, tpl.ID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return poller.Record{}, ErrClosed
	}
	w := &reportWatch{watch: p.Watch(s.base, jobID), executionID: req.ExecutionID, done: make(chan struct{})}
	s.watches[jobID] = w
	s.mu.Unlock()

	go s.follow(jobID, w)
	s.logger.Info("report job started", "job_id", jobID, "template_id", tpl.ID, "execution_id", req.ExecutionID)

	rec, _ := s.board.Get(jobID)
	return rec, nil
}

func (s *Session) follow(jobID string, w *reportWatch) {
	defer close(w.done)
	for job := range w.watch.Updates() {
		s.board.Set(job)
	}
	err := w.watch.Err()
	s.board.Finish(jobID, err)
	if err != nil {
		s.logger.Info("report job failed", "job_id", jobID, "error", err)
	}

	s.mu.Lock()
	if current, ok := s.watches[jobID]; ok && current == w {
		delete(s.watches, jobID)
	}
	s.mu.Unlock()
}

// StopReport halts polling of a job. Its last snapshot stays on the board.
func (s *Session) StopReport(jobID string) bool {
	s.mu.Lock()
	w, ok := s.watches[jobID]
	delete(s.watches, jobID)
	s.mu.Unlock()
	if !ok {
		return false
	}
	w.watch.Stop()
	<-w.done
	return true
}

// Watching reports how many report jobs are being polled.
func (s *Session) Watching() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

func (s *Session) Report(jobID string) (poller.Record, error) {
	rec, ok := s.board.Get(jobID)
	if !ok {
		return poller.Record{}, fmt.Errorf("report job %s: %w", jobID, domain.ErrNotFound)
	}
	return rec, nil
}

func (s *Session) Reports() []poller.Record { return s.board.List() }
