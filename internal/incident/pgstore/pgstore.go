// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/klaxon/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/klaxon/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// Store persists incidents in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const incidentColumns = `id, dedup_key, severity, title, description, source, status,
	created_at, acknowledged_at, acknowledged_by, resolved_at, resolution_notes,
	escalation_level, last_escalated_at, provider_ref, metadata`

// Create inserts a new incident. The partial unique index on live dedup keys
// turns a racing duplicate into incident.ErrLiveDuplicate.
func (s *Store) Create(ctx context.Context, in *incident.Incident) error {
	ctx, span := tracer.Start(ctx, "pgstore.Create", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	metaJSON, err := json.Marshal(orEmpty(in.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `INSERT INTO incidents (` + incidentColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	_, err = s.pool.Exec(ctx, query,
		in.ID, in.DedupKey, string(in.Severity), in.Title, in.Description, in.Source,
		string(in.Status), in.CreatedAt, in.AcknowledgedAt, in.AcknowledgedBy,
		in.ResolvedAt, in.ResolutionNotes, in.EscalationLevel, in.LastEscalatedAt,
		in.ProviderRef, metaJSON,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "incidents_live_dedup_key" {
			return incident.ErrLiveDuplicate
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// Get retrieves an incident by ID.
func (s *Store) Get(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	in, err := scanIncident(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if in == nil {
		return nil, false, nil
	}
	return in, true, nil
}

// ConditionalUpdate applies upd iff the incident's current status equals
// expected, as a single UPDATE ... WHERE id AND status statement so the check
// and the write are one atomic step.
func (s *Store) ConditionalUpdate(ctx context.Context, id string, expected incident.Status, upd incident.Update) (bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ConditionalUpdate", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	sets := make([]string, 0, 8)
	args := []any{id, string(expected)}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if upd.Status != nil {
		sets = append(sets, "status = "+arg(string(*upd.Status)))
	}
	if upd.AcknowledgedAt != nil {
		sets = append(sets, "acknowledged_at = "+arg(*upd.AcknowledgedAt))
	}
	if upd.AcknowledgedBy != nil {
		sets = append(sets, "acknowledged_by = "+arg(*upd.AcknowledgedBy))
	}
	if upd.ResolvedAt != nil {
		sets = append(sets, "resolved_at = "+arg(*upd.ResolvedAt))
	}
	if upd.ResolutionNotes != nil {
		sets = append(sets, "resolution_notes = "+arg(*upd.ResolutionNotes))
	}
	if upd.EscalationLevel != nil {
		sets = append(sets, "escalation_level = "+arg(*upd.EscalationLevel))
	}
	if upd.LastEscalatedAt != nil {
		sets = append(sets, "last_escalated_at = "+arg(*upd.LastEscalatedAt))
	}
	if upd.ProviderRef != nil {
		sets = append(sets, "provider_ref = "+arg(*upd.ProviderRef))
	}
	if len(sets) == 0 {
		return false, nil
	}

	query := `UPDATE incidents SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 AND status = $2`
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("conditional update: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Query returns incidents matching the filter, ordered by creation time.
func (s *Store) Query(ctx context.Context, f incident.Filter) ([]*incident.Incident, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Query", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		sts := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			sts[i] = string(st)
		}
		conds = append(conds, "status = ANY("+arg(sts)+")")
	}
	if !f.CreatedFrom.IsZero() {
		conds = append(conds, "created_at >= "+arg(f.CreatedFrom))
	}
	if !f.CreatedTo.IsZero() {
		conds = append(conds, "created_at < "+arg(f.CreatedTo))
	}
	if !f.AckedFrom.IsZero() {
		conds = append(conds, "acknowledged_at >= "+arg(f.AckedFrom))
	}
	if !f.AckedTo.IsZero() {
		conds = append(conds, "acknowledged_at < "+arg(f.AckedTo))
	}
	if !f.ResolvedFrom.IsZero() {
		conds = append(conds, "resolved_at >= "+arg(f.ResolvedFrom))
	}
	if !f.ResolvedTo.IsZero() {
		conds = append(conds, "resolved_at < "+arg(f.ResolvedTo))
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []*incident.Incident
	for rows.Next() {
		in, err := scanIncident(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

// scanIncident scans a single row into an incident.Incident.
// Returns (nil, nil) when no row is found.
func scanIncident(row pgx.Row) (*incident.Incident, error) {
	var (
		in       incident.Incident
		severity string
		status   string
		ackedAt  *time.Time
		resAt    *time.Time
		escAt    *time.Time
		metaJSON []byte
	)

	err := row.Scan(
		&in.ID, &in.DedupKey, &severity, &in.Title, &in.Description, &in.Source,
		&status, &in.CreatedAt, &ackedAt, &in.AcknowledgedBy, &resAt,
		&in.ResolutionNotes, &in.EscalationLevel, &escAt, &in.ProviderRef, &metaJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	in.Severity = incident.Severity(severity)
	in.Status = incident.Status(status)
	in.AcknowledgedAt = ackedAt
	in.ResolvedAt = resAt
	in.LastEscalatedAt = escAt

	if err := json.Unmarshal(metaJSON, &in.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if len(in.Metadata) == 0 {
		in.Metadata = nil
	}
	return &in, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
