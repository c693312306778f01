package incident

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedIncident(s *fakeStore, id string, created time.Time, acked, resolved *time.Time) {
	in := &Incident{
		ID:        id,
		DedupKey:  id,
		Severity:  SeverityHigh,
		Title:     id,
		Source:    "seed",
		Status:    StatusOpen,
		CreatedAt: created,
	}
	if acked != nil {
		in.Status = StatusAcknowledged
		in.AcknowledgedAt = acked
		in.AcknowledgedBy = "seed"
	}
	if resolved != nil {
		in.Status = StatusResolved
		in.ResolvedAt = resolved
		in.ResolutionNotes = "seed"
	}
	s.put(in)
}

func TestReport_InvalidRange(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(newFakeStore())
	_, err := agg.Report(context.Background(), testEpoch, testEpoch)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if ve.Field != "time_range" {
		t.Errorf("field = %q, want time_range", ve.Field)
	}
}

func TestReport_EmptyRange(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(newFakeStore())
	r, err := agg.Report(context.Background(), testEpoch, testEpoch.Add(time.Hour))
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if r.TotalIncidents != 0 || r.ActiveIncidents != 0 || r.ResolvedIncidents != 0 {
		t.Errorf("counts = %d/%d/%d, want all zero", r.TotalIncidents, r.ActiveIncidents, r.ResolvedIncidents)
	}
	if r.MTTA != 0 || r.MTTR != 0 {
		t.Errorf("MTTA=%v MTTR=%v, want zero durations for empty range", r.MTTA, r.MTTR)
	}
	if r.AckSamples != 0 || r.ResolveSamples != 0 {
		t.Errorf("samples = %d/%d, want zero", r.AckSamples, r.ResolveSamples)
	}
}

func TestReport_Math(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	at := func(d time.Duration) *time.Time {
		ts := testEpoch.Add(d)
		return &ts
	}

	// Acked at 2m, resolved at 10m.
	seedIncident(store, "a", testEpoch, at(2*time.Minute), at(10*time.Minute))
	// Acked at 4m, still active.
	seedIncident(store, "b", testEpoch.Add(time.Minute), at(4*time.Minute), nil)
	// Never acked, resolved at 30m: counts toward MTTR only.
	seedIncident(store, "c", testEpoch, nil, at(30*time.Minute))
	// Still open, no samples at all.
	seedIncident(store, "d", testEpoch.Add(5*time.Minute), nil, nil)

	agg := NewAggregator(store)
	r, err := agg.Report(context.Background(), testEpoch, testEpoch.Add(time.Hour))
	if err != nil {
		t.Fatalf("Report: %v", err)
	}

	if r.TotalIncidents != 4 {
		t.Errorf("total = %d, want 4", r.TotalIncidents)
	}
	if r.ActiveIncidents != 2 {
		t.Errorf("active = %d, want 2", r.ActiveIncidents)
	}
	if r.ResolvedIncidents != 2 {
		t.Errorf("resolved = %d, want 2", r.ResolvedIncidents)
	}

	// MTTA: (2m + 3m) / 2.
	if r.AckSamples != 2 {
		t.Errorf("ack samples = %d, want 2", r.AckSamples)
	}
	if want := 150 * time.Second; r.MTTA != want {
		t.Errorf("MTTA = %v, want %v", r.MTTA, want)
	}

	// MTTR: (10m + 30m) / 2, the un-acked resolution included.
	if r.ResolveSamples != 2 {
		t.Errorf("resolve samples = %d, want 2", r.ResolveSamples)
	}
	if want := 20 * time.Minute; r.MTTR != want {
		t.Errorf("MTTR = %v, want %v", r.MTTR, want)
	}
}

func TestReport_RangeBoundaries(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	at := func(d time.Duration) *time.Time {
		ts := testEpoch.Add(d)
		return &ts
	}

	// Created before the range but acked inside it: MTTA sample, not a count.
	seedIncident(store, "early", testEpoch.Add(-time.Hour), at(time.Minute), nil)
	// Created inside, resolved after the range: counted, no MTTR sample.
	seedIncident(store, "late", testEpoch, nil, at(2*time.Hour))

	agg := NewAggregator(store)
	r, err := agg.Report(context.Background(), testEpoch, testEpoch.Add(time.Hour))
	if err != nil {
		t.Fatalf("Report: %v", err)
	}

	if r.TotalIncidents != 1 {
		t.Errorf("total = %d, want 1 (only incidents created in range)", r.TotalIncidents)
	}
	if r.AckSamples != 1 {
		t.Errorf("ack samples = %d, want 1", r.AckSamples)
	}
	if want := time.Hour + time.Minute; r.MTTA != want {
		t.Errorf("MTTA = %v, want %v (ack latency spans range start)", r.MTTA, want)
	}
	if r.ResolveSamples != 0 {
		t.Errorf("resolve samples = %d, want 0", r.ResolveSamples)
	}
	if r.MTTR != 0 {
		t.Errorf("MTTR = %v, want 0", r.MTTR)
	}
}

// Full lifecycle through the engine, checked end to end via the report.
func TestReport_EndToEndLifecycle(t *testing.T) {
	t.Parallel()

	te := newTestEngine(t)
	ctx := context.Background()

	in, err := te.engine.RaiseAlert(ctx, criticalRequest())
	if err != nil || in == nil {
		t.Fatalf("raise: in=%v err=%v", in, err)
	}

	// Duplicate a minute later is suppressed and leaves no trace in the store.
	te.advance(time.Minute)
	if dup, _ := te.engine.RaiseAlert(ctx, criticalRequest()); dup != nil {
		t.Fatal("duplicate was not suppressed")
	}

	te.advance(time.Minute)
	if _, err := te.engine.Acknowledge(ctx, in.ID, "alice"); err != nil {
		t.Fatalf("ack: %v", err)
	}

	te.advance(18 * time.Minute)
	if _, err := te.engine.Resolve(ctx, in.ID, "failover completed"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	agg := NewAggregator(te.store)
	r, err := agg.Report(ctx, testEpoch.Add(-time.Minute), testEpoch.Add(time.Hour))
	if err != nil {
		t.Fatalf("Report: %v", err)
	}

	if r.TotalIncidents != 1 {
		t.Fatalf("total = %d, want 1 (duplicate must not count)", r.TotalIncidents)
	}
	if r.ResolvedIncidents != 1 || r.ActiveIncidents != 0 {
		t.Errorf("resolved/active = %d/%d, want 1/0", r.ResolvedIncidents, r.ActiveIncidents)
	}
	if want := 2 * time.Minute; r.MTTA != want {
		t.Errorf("MTTA = %v, want %v", r.MTTA, want)
	}
	if want := 20 * time.Minute; r.MTTR != want {
		t.Errorf("MTTR = %v, want %v", r.MTTR, want)
	}
}

func TestReport_StoreError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.queryErr = errors.New("connection reset")
	agg := NewAggregator(store)

	_, err := agg.Report(context.Background(), testEpoch, testEpoch.Add(time.Hour))
	if err == nil {
		t.Fatal("expected error when the store query fails")
	}
}
