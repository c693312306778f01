package alertapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/klaxon/internal/incident"
)

func (a *API) handleRaiseAlert(w http.ResponseWriter, r *http.Request) {
	var req incident.AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("klaxon.alert.source", req.Source),
		attribute.String("klaxon.alert.title", req.Title),
	)

	in, err := a.svc.RaiseAlert(r.Context(), &req)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		a.internalError(w, r, err, "failed to raise alert", "source", req.Source)
		return
	}
	if in == nil {
		// Suppressed by a maintenance window or as a duplicate.
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "suppressed"})
		return
	}

	span.SetAttributes(attribute.String("klaxon.incident.id", in.ID))
	writeJSON(w, http.StatusCreated, in)
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("klaxon.incident.id", id))

	in, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.internalError(w, r, err, "failed to get incident", "id", id)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("klaxon.incident.status", string(in.Status)))
	writeJSON(w, http.StatusOK, in)
}

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	var f incident.Filter

	for _, s := range r.URL.Query()["status"] {
		st := incident.Status(s)
		if !st.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status " + s})
			return
		}
		f.Statuses = append(f.Statuses, st)
	}

	var err error
	if f.CreatedFrom, err = parseTimeParam(r, "created_from"); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if f.CreatedTo, err = parseTimeParam(r, "created_to"); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	incidents, err := a.svc.Query(r.Context(), f)
	if err != nil {
		a.internalError(w, r, err, "failed to query incidents")
		return
	}
	if incidents == nil {
		incidents = []*incident.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": incidents})
}

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		By string `json:"by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("klaxon.incident.id", id))

	in, err := a.svc.Acknowledge(r.Context(), id, body.By)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		a.internalError(w, r, err, "failed to acknowledge incident", "id", id)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("klaxon.incident.id", id))

	in, err := a.svc.Resolve(r.Context(), id, body.Notes)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		a.internalError(w, r, err, "failed to resolve incident", "id", id)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}

	rep, err := a.reporter.Report(r.Context(), from, to)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		a.internalError(w, r, err, "failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// parseTimeParam reads an RFC 3339 query parameter, returning the zero time
// when absent.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, &incident.ValidationError{Field: name, Reason: "must be RFC 3339"}
	}
	return t, nil
}
