package postgres

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestReqDBStats_AddQuery(t *testing.T) {
	t.Parallel()

	s := &ReqDBStats{}

	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))
	s.AddQuery(5*time.Millisecond, nil)

	if s.QueryCount != 3 {
		t.Errorf("QueryCount = %d, want 3", s.QueryCount)
	}
	if s.TotalDuration != 35*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 35ms", s.TotalDuration)
	}
	if s.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", s.ErrorCount)
	}
}

func TestReqDBStatsContext_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := NewReqDBStatsContext(context.Background())
	got, ok := ReqDBStatsFromContext(ctx)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got == nil {
		t.Fatal("expected non-nil stats")
	}

	// Verify it's the same pointer
	got.AddQuery(time.Millisecond, nil)
	got2, _ := ReqDBStatsFromContext(ctx)
	if got2.QueryCount != 1 {
		t.Errorf("QueryCount = %d, want 1 (same pointer)", got2.QueryCount)
	}
}

func TestReqDBStatsFromContext_Missing(t *testing.T) {
	t.Parallel()

	_, ok := ReqDBStatsFromContext(context.Background())
	if ok {
		t.Error("expected ok=false for plain context")
	}
}

func TestWithHTTPMethod_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithHTTPMethod(context.Background(), "POST")
	got := httpMethodFromContext(ctx)
	if got != "POST" {
		t.Errorf("httpMethodFromContext = %q, want %q", got, "POST")
	}
}

func TestWithHTTPMethod_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithHTTPMethod(context.Background(), "")
	got := httpMethodFromContext(ctx)
	if got != "" {
		t.Errorf("httpMethodFromContext = %q, want empty", got)
	}
}

func TestReqDBStatsMiddleware_AttachesStats(t *testing.T) {
	t.Parallel()

	var seen *ReqDBStats
	handler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s, ok := ReqDBStatsFromContext(req.Context())
		if !ok {
			t.Fatal("no stats accumulator in request context")
		}
		seen = s
		// Stand in for the tracer's TraceQueryEnd.
		s.AddQuery(3*time.Millisecond, nil)
		s.AddQuery(time.Millisecond, errors.New("deadlock"))
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/incidents", nil)
	ReqDBStatsMiddleware()(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	queries, total, errCount := seen.Snapshot()
	if queries != 2 {
		t.Errorf("queries = %d, want 2", queries)
	}
	if total != 4*time.Millisecond {
		t.Errorf("total = %v, want 4ms", total)
	}
	if errCount != 1 {
		t.Errorf("errors = %d, want 1", errCount)
	}
}

func TestReqDBStatsMiddleware_FreshPerRequest(t *testing.T) {
	t.Parallel()

	var counts []int
	handler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s, _ := ReqDBStatsFromContext(req.Context())
		s.AddQuery(time.Millisecond, nil)
		queries, _, _ := s.Snapshot()
		counts = append(counts, queries)
	})

	mw := ReqDBStatsMiddleware()(handler)
	for range 2 {
		mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/report", nil))
	}

	if len(counts) != 2 || counts[0] != 1 || counts[1] != 1 {
		t.Errorf("per-request query counts = %v, want [1 1] (accumulator not shared)", counts)
	}
}

func TestSetQueryObserver(t *testing.T) {
	t.Parallel()

	// Save and restore the global to avoid test pollution.
	defer SetQueryObserver(nil)

	called := false
	obs := QueryObserverFunc(func(_ context.Context, _, _, _ string, _ time.Duration) {
		called = true
	})

	SetQueryObserver(obs)
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "GET", "/test", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	got = getQueryObserver()
	if got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}

func TestNewPool_InvalidURL(t *testing.T) {
	t.Parallel()

	_, err := NewPool(context.Background(), "://not-a-url")
	if err == nil {
		t.Fatal("expected error for invalid database url")
	}
}
