package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/klaxon/internal/incident"
)

// IncidentService defines the business operations alertapi needs.
type IncidentService interface {
	RaiseAlert(ctx context.Context, req *incident.AlertRequest) (*incident.Incident, error)
	Acknowledge(ctx context.Context, id, by string) (*incident.Incident, error)
	Resolve(ctx context.Context, id, notes string) (*incident.Incident, error)
	Get(ctx context.Context, id string) (*incident.Incident, bool, error)
	Query(ctx context.Context, f incident.Filter) ([]*incident.Incident, error)
}

// Reporter computes response-time reports over a time range.
type Reporter interface {
	Report(ctx context.Context, from, to time.Time) (*incident.Report, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      IncidentService
	reporter Reporter
}

// New creates a new API handler.
func New(logger log.Logger, svc IncidentService, reporter Reporter) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("incident service is required"))
	}
	if reporter == nil {
		panic(xerrors.New("reporter is required"))
	}
	return &API{
		logger:   logger,
		svc:      svc,
		reporter: reporter,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/alerts", a.handleRaiseAlert)
		r.Get("/incidents", a.handleListIncidents)
		r.Get("/incidents/{id}", a.handleGetIncident)
		r.Post("/incidents/{id}/ack", a.handleAcknowledge)
		r.Post("/incidents/{id}/resolve", a.handleResolve)
		r.Get("/report", a.handleReport)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps known domain errors to HTTP status codes. Returns
// false if the error is not one of them and the caller should treat it as
// internal.
func writeDomainError(w http.ResponseWriter, err error) bool {
	var ve *incident.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Error()})
		return true
	}
	var nf *incident.NotFoundError
	if errors.As(err, &nf) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": nf.Error()})
		return true
	}
	return false
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	a.logger.Error(r.Context(), err, msg, kv...)
	http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
}
