// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/klaxon/internal/incident"
)

// Store holds incidents in memory. Suitable for dev/testing; conditional
// updates are atomic under the store mutex, matching the semantics the
// postgres store gets from single-statement UPDATEs.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*incident.Incident // incident ID -> record
	live      map[string]string             // dedup key -> live incident ID
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		incidents: make(map[string]*incident.Incident),
		live:      make(map[string]string),
	}
}

// Create persists a new incident, enforcing at most one open or acknowledged
// incident per dedup key.
func (s *Store) Create(_ context.Context, in *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.live[in.DedupKey]; ok {
		if cur := s.incidents[id]; cur != nil && cur.Status != incident.StatusResolved {
			return incident.ErrLiveDuplicate
		}
	}

	s.incidents[in.ID] = in.Clone()
	s.live[in.DedupKey] = in.ID
	return nil
}

// Get retrieves an incident by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return in.Clone(), true, nil
}

// ConditionalUpdate applies upd iff the incident's status equals expected.
func (s *Store) ConditionalUpdate(_ context.Context, id string, expected incident.Status, upd incident.Update) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.incidents[id]
	if !ok || in.Status != expected {
		return false, nil
	}

	if upd.Status != nil {
		in.Status = *upd.Status
	}
	if upd.AcknowledgedAt != nil {
		t := *upd.AcknowledgedAt
		in.AcknowledgedAt = &t
	}
	if upd.AcknowledgedBy != nil {
		in.AcknowledgedBy = *upd.AcknowledgedBy
	}
	if upd.ResolvedAt != nil {
		t := *upd.ResolvedAt
		in.ResolvedAt = &t
	}
	if upd.ResolutionNotes != nil {
		in.ResolutionNotes = *upd.ResolutionNotes
	}
	if upd.EscalationLevel != nil {
		in.EscalationLevel = *upd.EscalationLevel
	}
	if upd.LastEscalatedAt != nil {
		t := *upd.LastEscalatedAt
		in.LastEscalatedAt = &t
	}
	if upd.ProviderRef != nil {
		in.ProviderRef = *upd.ProviderRef
	}
	return true, nil
}

// Query returns copies of incidents matching the filter, ordered by creation
// time then ID.
func (s *Store) Query(_ context.Context, f incident.Filter) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*incident.Incident
	for _, in := range s.incidents {
		if f.Matches(in) {
			out = append(out, in.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
