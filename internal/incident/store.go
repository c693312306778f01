package incident

import (
	"context"
	"errors"
	"time"
)

// ErrLiveDuplicate is returned by Store.Create when an open or acknowledged
// incident already exists for the same dedup key. It backs the invariant the
// in-memory dedup guard can only enforce best-effort.
var ErrLiveDuplicate = errors.New("live incident already exists for dedup key")

// Update carries the fields a conditional update may set. Nil fields are left
// untouched by the store.
type Update struct {
	Status          *Status
	AcknowledgedAt  *time.Time
	AcknowledgedBy  *string
	ResolvedAt      *time.Time
	ResolutionNotes *string
	EscalationLevel *int
	LastEscalatedAt *time.Time
	ProviderRef     *string
}

// Filter selects incidents for Query. Zero time bounds are open-ended.
type Filter struct {
	Statuses     []Status
	CreatedFrom  time.Time
	CreatedTo    time.Time
	AckedFrom    time.Time
	AckedTo      time.Time
	ResolvedFrom time.Time
	ResolvedTo   time.Time
}

// Matches reports whether the incident satisfies the filter. Shared by the
// in-memory store and by tests.
func (f Filter) Matches(in *Incident) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if in.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.CreatedFrom.IsZero() && in.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && !in.CreatedAt.Before(f.CreatedTo) {
		return false
	}
	if !f.AckedFrom.IsZero() || !f.AckedTo.IsZero() {
		if in.AcknowledgedAt == nil {
			return false
		}
		if !f.AckedFrom.IsZero() && in.AcknowledgedAt.Before(f.AckedFrom) {
			return false
		}
		if !f.AckedTo.IsZero() && !in.AcknowledgedAt.Before(f.AckedTo) {
			return false
		}
	}
	if !f.ResolvedFrom.IsZero() || !f.ResolvedTo.IsZero() {
		if in.ResolvedAt == nil {
			return false
		}
		if !f.ResolvedFrom.IsZero() && in.ResolvedAt.Before(f.ResolvedFrom) {
			return false
		}
		if !f.ResolvedTo.IsZero() && !in.ResolvedAt.Before(f.ResolvedTo) {
			return false
		}
	}
	return true
}

// Store is the persistence interface for incidents. Implementations must make
// ConditionalUpdate atomic with respect to the expected status so concurrent
// lifecycle transitions converge to a single outcome (first writer wins).
type Store interface {
	// Create persists a new incident.
	Create(ctx context.Context, in *Incident) error

	// Get retrieves an incident by id.
	Get(ctx context.Context, id string) (*Incident, bool, error)

	// ConditionalUpdate applies upd iff the incident's current status equals
	// expected. Returns applied=false, without error, when the status no
	// longer matches (a concurrent writer won) or the id is unknown.
	ConditionalUpdate(ctx context.Context, id string, expected Status, upd Update) (applied bool, err error)

	// Query returns incidents matching the filter, ordered by creation time.
	Query(ctx context.Context, f Filter) ([]*Incident, error)
}
