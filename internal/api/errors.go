package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/animus-labs/pipeconsole/internal/console"
	"github.com/animus-labs/pipeconsole/internal/domain"
	"github.com/animus-labs/pipeconsole/internal/platform/httpserver"
	"github.com/animus-labs/pipeconsole/internal/repo"
	pgrepo "github.com/animus-labs/pipeconsole/internal/repo/postgres"
)

// writeDomainError maps operator-facing failures to HTTP responses.
func (api *API) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notApplied *domain.NotAppliedError
		transition *domain.TransitionError
		pgErr      *pgconn.PgError
	)
	switch {
	case errors.Is(err, domain.ErrMissingReason):
		httpserver.WriteError(w, r, http.StatusBadRequest, "missing_reason", err.Error())
	case errors.As(err, &transition):
		httpserver.WriteError(w, r, http.StatusConflict, "invalid_transition", transition.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		httpserver.WriteError(w, r, http.StatusConflict, "invalid_transition", err.Error())
	case errors.As(err, &notApplied):
		api.logger.Info("intervention not applied",
			"intervention_id", notApplied.Intervention.ID,
			"execution_id", notApplied.Intervention.ExecutionID,
			"error", notApplied.Err,
		)
		body := map[string]any{
			"error":        "intervention_not_applied",
			"message":      notApplied.Error(),
			"intervention": notApplied.Intervention,
		}
		if id, ok := httpserver.RequestIDFromContext(r.Context()); ok {
			body["request_id"] = id
		}
		httpserver.WriteJSON(w, http.StatusBadGateway, body)
	case errors.Is(err, domain.ErrInvalidArgument):
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, console.ErrClosed):
		httpserver.WriteError(w, r, http.StatusServiceUnavailable, "session_closed", "")
	case errors.As(err, &pgErr):
		classified := pgrepo.Classify(err)
		api.logger.Warn("store error", "code", pgErr.Code, "error", err)
		switch {
		case errors.Is(classified, domain.ErrTransientFetch):
			httpserver.WriteError(w, r, http.StatusServiceUnavailable, "store_unavailable", "")
			return
		case errors.Is(classified, repo.ErrNotFound):
			httpserver.WriteError(w, r, http.StatusNotFound, "not_found", "")
			return
		case errors.Is(classified, repo.ErrConflict):
			httpserver.WriteError(w, r, http.StatusConflict, "conflict", "")
			return
		}
		httpserver.WriteError(w, r, http.StatusInternalServerError, "store_error", "")
	case errors.Is(err, domain.ErrTransientFetch):
		httpserver.WriteError(w, r, http.StatusServiceUnavailable, "backend_unavailable", "")
	default:
		api.logger.Error("request failed", "path", r.URL.Path, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error", "")
	}
}
