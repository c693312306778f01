package incident

import (
	"context"
	"fmt"
	"time"
)

// Report summarizes incident volume and responsiveness over a time range.
// MTTA covers incidents acknowledged in the range; MTTR covers incidents
// resolved in the range, whether or not they were ever acknowledged. A range
// with no qualifying incidents yields zero durations and zero sample counts,
// never NaN.
type Report struct {
	From              time.Time     `json:"from"`
	To                time.Time     `json:"to"`
	TotalIncidents    int           `json:"total_incidents"`
	ActiveIncidents   int           `json:"active_incidents"`
	ResolvedIncidents int           `json:"resolved_incidents"`
	MTTA              time.Duration `json:"mtta_ns"`
	MTTR              time.Duration `json:"mttr_ns"`
	AckSamples        int           `json:"ack_samples"`
	ResolveSamples    int           `json:"resolve_samples"`
}

// Aggregator computes reports from the incident store.
type Aggregator struct {
	store Store
}

// NewAggregator creates an aggregator over the given store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Report computes counts and MTTA/MTTR for [from, to).
func (a *Aggregator) Report(ctx context.Context, from, to time.Time) (*Report, error) {
	if !to.After(from) {
		return nil, &ValidationError{Field: "time_range", Reason: "to must be after from"}
	}

	r := &Report{From: from, To: to}

	created, err := a.store.Query(ctx, Filter{CreatedFrom: from, CreatedTo: to})
	if err != nil {
		return nil, fmt.Errorf("query created: %w", err)
	}
	r.TotalIncidents = len(created)
	for _, in := range created {
		if in.Status != StatusResolved {
			r.ActiveIncidents++
		} else {
			r.ResolvedIncidents++
		}
	}

	acked, err := a.store.Query(ctx, Filter{AckedFrom: from, AckedTo: to})
	if err != nil {
		return nil, fmt.Errorf("query acknowledged: %w", err)
	}
	var ackSum time.Duration
	for _, in := range acked {
		if in.AcknowledgedAt == nil {
			continue
		}
		ackSum += in.AcknowledgedAt.Sub(in.CreatedAt)
		r.AckSamples++
	}
	if r.AckSamples > 0 {
		r.MTTA = ackSum / time.Duration(r.AckSamples)
	}

	resolved, err := a.store.Query(ctx, Filter{ResolvedFrom: from, ResolvedTo: to})
	if err != nil {
		return nil, fmt.Errorf("query resolved: %w", err)
	}
	var resSum time.Duration
	for _, in := range resolved {
		if in.ResolvedAt == nil {
			continue
		}
		resSum += in.ResolvedAt.Sub(in.CreatedAt)
		r.ResolveSamples++
	}
	if r.ResolveSamples > 0 {
		r.MTTR = resSum / time.Duration(r.ResolveSamples)
	}

	return r, nil
}
