// Package api is the operator JSON API over a console session.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/animus-labs/pipeconsole/internal/alerts"
	"github.com/animus-labs/pipeconsole/internal/config"
	"github.com/animus-labs/pipeconsole/internal/console"
	"github.com/animus-labs/pipeconsole/internal/domain"
	"github.com/animus-labs/pipeconsole/internal/intervention"
	"github.com/animus-labs/pipeconsole/internal/platform/httpserver"
	"github.com/animus-labs/pipeconsole/internal/poller"
)

// OperatorHeader carries the performer identity set by the fronting proxy.
const OperatorHeader = "X-Operator"

const maxBodyBytes = 1 << 20

// Console is the part of console.Session the API serves.
type Console interface {
	Active() []domain.Execution
	Detail(executionID string) (console.Detail, error)
	Observe(ctx context.Context, executionID string) error
	Release()
	Observed() string
	Dispatch(ctx context.Context, req intervention.Request) (domain.Intervention, error)
	AlertSummary(limit int) alerts.Summary
	Refresh(ctx context.Context) bool
	StartReport(ctx context.Context, req domain.ReportRequest) (poller.Record, error)
	StopReport(jobID string) bool
	Report(jobID string) (poller.Record, error)
	Reports() []poller.Record
	Templates() []config.Template
}

type API struct {
	logger  *slog.Logger
	console Console
}

func New(logger *slog.Logger, c Console) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{logger: logger, console: c}
}

func (api *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/executions", api.handleListExecutions)
	mux.HandleFunc("GET /v1/executions/{id}", api.handleGetExecution)
	mux.HandleFunc("POST /v1/executions/{id}/observe", api.handleObserve)
	mux.HandleFunc("DELETE /v1/executions/{id}/observe", api.handleRelease)
	mux.HandleFunc("POST /v1/executions/{id}/interventions", api.handleIntervention)
	mux.HandleFunc("GET /v1/alerts/summary", api.handleAlertSummary)
	mux.HandleFunc("POST /v1/refresh", api.handleRefresh)
	mux.HandleFunc("GET /v1/templates", api.handleTemplates)
	mux.HandleFunc("GET /v1/reports", api.handleListReports)
	mux.HandleFunc("POST /v1/reports", api.handleStartReport)
	mux.HandleFunc("GET /v1/reports/{job_id}", api.handleGetReport)
	mux.HandleFunc("DELETE /v1/reports/{job_id}", api.handleStopReport)
}

// Handler builds the full operator handler: probes, API routes and the
// standard middleware chain.
func Handler(logger *slog.Logger, c Console, checks ...httpserver.ReadinessCheck) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz("pipeconsole"))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks("pipeconsole", checks...))
	New(logger, c).Register(mux)
	return httpserver.Wrap(logger, mux)
}

func (api *API) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	executions := api.console.Active()
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"executions": executions,
		"count":      len(executions),
		"observed":   api.console.Observed(),
	})
}

func (api *API) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	detail, err := api.console.Detail(r.PathValue("id"))
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, detail)
}

func (api *API) handleObserve(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if err := api.console.Observe(r.Context(), id); err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	detail, err := api.console.Detail(id)
	if err != nil {
		httpserver.WriteJSON(w, http.StatusAccepted, map[string]any{"observed": id})
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, detail)
}

func (api *API) handleRelease(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if api.console.Observed() != id {
		httpserver.WriteError(w, r, http.StatusNotFound, "not_observed", "execution is not under observation")
		return
	}
	api.console.Release()
	w.WriteHeader(http.StatusNoContent)
}

type interventionRequest struct {
	Type        string `json:"intervention_type"`
	TargetStage string `json:"target_stage,omitempty"`
	Reason      string `json:"reason"`
}

func (api *API) handleIntervention(w http.ResponseWriter, r *http.Request) {
	var body interventionRequest
	if err := decodeJSON(w, r, &body); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	req := intervention.Request{
		ExecutionID: r.PathValue("id"),
		Type:        body.Type,
		TargetStage: body.TargetStage,
		Reason:      body.Reason,
		PerformedBy: strings.TrimSpace(r.Header.Get(OperatorHeader)),
	}
	if id, ok := httpserver.RequestIDFromContext(r.Context()); ok {
		req.RequestID = id
	}

	record, err := api.console.Dispatch(r.Context(), req)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, record)
}

func (api *API) handleAlertSummary(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = v
	}
	httpserver.WriteJSON(w, http.StatusOK, api.console.AlertSummary(limit))
}

func (api *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !api.console.Refresh(r.Context()) {
		httpserver.WriteJSON(w, http.StatusAccepted, map[string]any{"status": "in_flight"})
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"status": "refreshed"})
}

func (api *API) handleTemplates(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"templates": api.console.Templates()})
}

func (api *API) handleListReports(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"reports": api.console.Reports()})
}

func (api *API) handleStartReport(w http.ResponseWriter, r *http.Request) {
	var req domain.ReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	req.TemplateID = strings.TrimSpace(req.TemplateID)
	if req.CompanyID == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "company_id_required", "")
		return
	}
	if req.TemplateID == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "template_id_required", "")
		return
	}

	rec, err := api.console.StartReport(r.Context(), req)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusAccepted, rec)
}

func (api *API) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rec, err := api.console.Report(r.PathValue("job_id"))
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, rec)
}

func (api *API) handleStopReport(w http.ResponseWriter, r *http.Request) {
	if !api.console.StopReport(r.PathValue("job_id")) {
		httpserver.WriteError(w, r, http.StatusNotFound, "not_watching", "report job is not being polled")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err == nil {
		return errors.New("multiple JSON values")
	}
	return nil
}
