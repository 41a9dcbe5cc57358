package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/animus-labs/pipeconsole/internal/alerts"
	"github.com/animus-labs/pipeconsole/internal/config"
	"github.com/animus-labs/pipeconsole/internal/console"
	"github.com/animus-labs/pipeconsole/internal/domain"
	"github.com/animus-labs/pipeconsole/internal/intervention"
	"github.com/animus-labs/pipeconsole/internal/platform/httpserver"
	"github.com/animus-labs/pipeconsole/internal/poller"
)

type fakeConsole struct {
	active      []domain.Execution
	details     map[string]console.Detail
	observed    string
	released    int
	dispatched  []intervention.Request
	dispatchErr error
	refreshOK   bool
	summaryArg  int
	started     []domain.ReportRequest
	startErr    error
	reports     map[string]poller.Record
	watching    map[string]bool
}

func (f *fakeConsole) Active() []domain.Execution { return f.active }

func (f *fakeConsole) Detail(id string) (console.Detail, error) {
	d, ok := f.details[id]
	if !ok {
		return console.Detail{}, fmt.Errorf("execution %s: %w", id, domain.ErrNotFound)
	}
	return d, nil
}

func (f *fakeConsole) Observe(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: execution id is required", domain.ErrInvalidArgument)
	}
	f.observed = id
	return nil
}

func (f *fakeConsole) Release() {
	f.observed = ""
	f.released++
}

func (f *fakeConsole) Observed() string { return f.observed }

func (f *fakeConsole) Dispatch(ctx context.Context, req intervention.Request) (domain.Intervention, error) {
	f.dispatched = append(f.dispatched, req)
	if f.dispatchErr != nil {
		return domain.Intervention{}, f.dispatchErr
	}
	return domain.Intervention{ID: "int-1", ExecutionID: req.ExecutionID, PerformedBy: req.PerformedBy, Reason: req.Reason}, nil
}

func (f *fakeConsole) AlertSummary(limit int) alerts.Summary {
	f.summaryArg = limit
	return alerts.Summary{Shown: 1, Total: 3, Highest: domain.SeverityCritical}
}

func (f *fakeConsole) Refresh(ctx context.Context) bool { return f.refreshOK }

func (f *fakeConsole) StartReport(ctx context.Context, req domain.ReportRequest) (poller.Record, error) {
	f.started = append(f.started, req)
	if f.startErr != nil {
		return poller.Record{}, f.startErr
	}
	return poller.Record{Job: domain.ReportJob{ID: "job-1", Status: domain.ReportQueued}, TemplateID: req.TemplateID}, nil
}

func (f *fakeConsole) StopReport(jobID string) bool {
	ok := f.watching[jobID]
	delete(f.watching, jobID)
	return ok
}

func (f *fakeConsole) Report(jobID string) (poller.Record, error) {
	rec, ok := f.reports[jobID]
	if !ok {
		return poller.Record{}, fmt.Errorf("report job %s: %w", jobID, domain.ErrNotFound)
	}
	return rec, nil
}

func (f *fakeConsole) Reports() []poller.Record {
	out := make([]poller.Record, 0, len(f.reports))
	for _, rec := range f.reports {
		out = append(out, rec)
	}
	return out
}

func (f *fakeConsole) Templates() []config.Template {
	return []config.Template{{ID: "security-review", Name: "Security review"}}
}

func newTestHandler(c Console, checks ...httpserver.ReadinessCheck) http.Handler {
	return Handler(slog.New(slog.NewJSONHandler(io.Discard, nil)), c, checks...)
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestInterventionPassesOperatorAndRequestID(t *testing.T) {
	fc := &fakeConsole{}
	h := newTestHandler(fc)

	rr := do(t, h, http.MethodPost, "/v1/executions/E1/interventions",
		`{"intervention_type":"retry_stage","target_stage":"security-scan","reason":"transient network error"}`,
		map[string]string{OperatorHeader: "alice", httpserver.RequestIDHeader: "req-42"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if len(fc.dispatched) != 1 {
		t.Fatalf("dispatched=%d", len(fc.dispatched))
	}
	got := fc.dispatched[0]
	if got.ExecutionID != "E1" || got.Type != "retry_stage" || got.TargetStage != "security-scan" {
		t.Fatalf("request=%+v", got)
	}
	if got.PerformedBy != "alice" || got.RequestID != "req-42" {
		t.Fatalf("identity not forwarded: %+v", got)
	}
}

func TestInterventionErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"missing reason", domain.ErrMissingReason, http.StatusBadRequest, "missing_reason"},
		{"invalid transition", &domain.TransitionError{Subject: "stage s1", From: "completed", To: "pending"}, http.StatusConflict, "invalid_transition"},
		{"not applied", &domain.NotAppliedError{Intervention: domain.Intervention{ID: "int-9"}, Err: errors.New("502 from control")}, http.StatusBadGateway, "intervention_not_applied"},
		{"not found", fmt.Errorf("execution E9: %w", domain.ErrNotFound), http.StatusNotFound, "not_found"},
		{"invalid argument", fmt.Errorf("%w: unknown intervention type", domain.ErrInvalidArgument), http.StatusBadRequest, "invalid_argument"},
		{"store down", &pgconn.PgError{Code: "57P01"}, http.StatusServiceUnavailable, "store_unavailable"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(&fakeConsole{dispatchErr: tc.err})
			rr := do(t, h, http.MethodPost, "/v1/executions/E1/interventions", `{"intervention_type":"pause","reason":"x"}`, nil)
			if rr.Code != tc.status {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tc.status, rr.Body.String())
			}
			body := decodeBody(t, rr)
			if body["error"] != tc.code {
				t.Fatalf("error=%v want %s", body["error"], tc.code)
			}
			if body["request_id"] == nil {
				t.Fatalf("request id missing from error body")
			}
		})
	}
}

func TestNotAppliedCarriesAuditRecord(t *testing.T) {
	h := newTestHandler(&fakeConsole{dispatchErr: &domain.NotAppliedError{
		Intervention: domain.Intervention{ID: "int-9", ExecutionID: "E1"},
		Err:          errors.New("control surface returned 503"),
	}})
	rr := do(t, h, http.MethodPost, "/v1/executions/E1/interventions", `{"intervention_type":"pause","reason":"x"}`, nil)
	body := decodeBody(t, rr)
	record, ok := body["intervention"].(map[string]any)
	if !ok || record["id"] != "int-9" {
		t.Fatalf("intervention=%v", body["intervention"])
	}
}

func TestInterventionRejectsUnknownFields(t *testing.T) {
	fc := &fakeConsole{}
	rr := do(t, newTestHandler(fc), http.MethodPost, "/v1/executions/E1/interventions", `{"type":"pause","reason":"x"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
	if len(fc.dispatched) != 0 {
		t.Fatalf("invalid body reached the dispatcher")
	}
}

func TestObserveAndRelease(t *testing.T) {
	fc := &fakeConsole{details: map[string]console.Detail{"E1": {Execution: domain.Execution{ID: "E1"}}}}
	h := newTestHandler(fc)

	rr := do(t, h, http.MethodPost, "/v1/executions/E1/observe", "", nil)
	if rr.Code != http.StatusOK || fc.observed != "E1" {
		t.Fatalf("observe status=%d observed=%q", rr.Code, fc.observed)
	}

	rr = do(t, h, http.MethodDelete, "/v1/executions/E2/observe", "", nil)
	if rr.Code != http.StatusNotFound || fc.released != 0 {
		t.Fatalf("release of unobserved execution status=%d released=%d", rr.Code, fc.released)
	}

	rr = do(t, h, http.MethodDelete, "/v1/executions/E1/observe", "", nil)
	if rr.Code != http.StatusNoContent || fc.released != 1 {
		t.Fatalf("release status=%d released=%d", rr.Code, fc.released)
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	rr := do(t, newTestHandler(&fakeConsole{}), http.MethodGet, "/v1/executions/E404", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestAlertSummaryLimit(t *testing.T) {
	fc := &fakeConsole{}
	h := newTestHandler(fc)

	rr := do(t, h, http.MethodGet, "/v1/alerts/summary?limit=5", "", nil)
	if rr.Code != http.StatusOK || fc.summaryArg != 5 {
		t.Fatalf("status=%d limit=%d", rr.Code, fc.summaryArg)
	}
	if body := decodeBody(t, rr); body["highest"] != "critical" {
		t.Fatalf("body=%v", body)
	}

	rr = do(t, h, http.MethodGet, "/v1/alerts/summary?limit=-1", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestRefreshReportsInFlight(t *testing.T) {
	rr := do(t, newTestHandler(&fakeConsole{refreshOK: false}), http.MethodPost, "/v1/refresh", "", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status=%d", rr.Code)
	}
	rr = do(t, newTestHandler(&fakeConsole{refreshOK: true}), http.MethodPost, "/v1/refresh", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestStartReport(t *testing.T) {
	fc := &fakeConsole{}
	h := newTestHandler(fc)

	rr := do(t, h, http.MethodPost, "/v1/reports", `{"company_id":"acme","template_id":"security-review","params":{"depth":"full"}}`, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if len(fc.started) != 1 || fc.started[0].Params["depth"] != "full" {
		t.Fatalf("started=%+v", fc.started)
	}

	rr = do(t, h, http.MethodPost, "/v1/reports", `{"template_id":"security-review"}`, nil)
	if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["error"] != "company_id_required" {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	fc.startErr = fmt.Errorf("template %q: %w", "nope", domain.ErrNotFound)
	rr = do(t, h, http.MethodPost, "/v1/reports", `{"company_id":"acme","template_id":"nope"}`, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestReportLookupAndStop(t *testing.T) {
	fc := &fakeConsole{
		reports:  map[string]poller.Record{"job-1": {Job: domain.ReportJob{ID: "job-1", Status: domain.ReportRunning, Progress: 40}}},
		watching: map[string]bool{"job-1": true},
	}
	h := newTestHandler(fc)

	rr := do(t, h, http.MethodGet, "/v1/reports/job-1", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr = do(t, h, http.MethodGet, "/v1/reports/job-2", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr = do(t, h, http.MethodDelete, "/v1/reports/job-1", "", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("stop status=%d", rr.Code)
	}
	if rr = do(t, h, http.MethodDelete, "/v1/reports/job-1", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("second stop status=%d", rr.Code)
	}
}

func TestReadyzReportsFailingCheck(t *testing.T) {
	h := newTestHandler(&fakeConsole{}, httpserver.ReadinessCheck{
		Name:  "postgres",
		Check: func(context.Context) error { return errors.New("connection refused") },
	})
	rr := do(t, h, http.MethodGet, "/readyz", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr = do(t, h, http.MethodGet, "/healthz", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rr.Code)
	}
}
