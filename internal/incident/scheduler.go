package incident

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Scheduler periodically scans open incidents and escalates the ones nobody
// acknowledged inside the escalation timeout. It is a single non-re-entrant
// task: a tick that fires while a scan is still running is skipped, never
// overlapped. Start and Stop give it an explicit lifecycle so tests can drive
// scans with TickNow instead of sleeping.
type Scheduler struct {
	engine *Engine
	store  Store
	rules  RuleSource
	logger log.Logger
	hooks  EngineHooks

	now      func() time.Time
	scanning atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler over the shared engine and store. A nil
// logger is replaced with a no-op.
func NewScheduler(engine *Engine, store Store, rules RuleSource, logger log.Logger, hooks EngineHooks) *Scheduler {
	if logger == nil {
		logger = log.Nop()
	}
	return &Scheduler{
		engine: engine,
		store:  store,
		rules:  rules,
		logger: logger.With("component", "escalation-scheduler"),
		hooks:  hooks,
		now:    time.Now,
	}
}

// Start launches the periodic scan loop. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	interval := s.rules.Current().ScanInterval
	s.logger.Info(ctx, "escalation scheduler started", "interval", interval.String())

	go s.run(ctx, interval)
}

// Stop cancels the scan loop and waits for an in-flight scan to finish.
// Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) run(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.TickNow(ctx)

			// Pick up a hot-reloaded interval without restarting.
			if cur := s.rules.Current().ScanInterval; cur != interval && cur > 0 {
				interval = cur
				ticker.Reset(interval)
			}
		}
	}
}

// TickNow runs one scan immediately unless one is already running, in which
// case it returns false.
func (s *Scheduler) TickNow(ctx context.Context) bool {
	if !s.scanning.CompareAndSwap(false, true) {
		s.logger.Warn(ctx, "previous scan still running, skipping tick")
		if s.hooks.OnSkipScan != nil {
			s.hooks.OnSkipScan()
		}
		return false
	}
	defer s.scanning.Store(false)

	s.scan(ctx)
	return true
}

// scan escalates every open incident past its escalation deadline. Races with
// concurrent acknowledge/resolve are tolerated: Escalate re-reads status and
// its conditional update fails harmlessly when a transition won, so the scan
// just moves to the next candidate.
func (s *Scheduler) scan(ctx context.Context) {
	start := s.now()
	snap := s.rules.Current()

	open, err := s.store.Query(ctx, Filter{Statuses: []Status{StatusOpen}})
	if err != nil {
		s.logger.Error(ctx, err, "escalation scan query failed")
		return
	}

	now := s.now()
	var escalated, stuck int

	for _, in := range open {
		if ctx.Err() != nil {
			return
		}
		if now.Before(in.EscalationDeadline(snap.EscalationTimeout)) {
			continue
		}
		if in.EscalationLevel >= snap.MaxEscalationLevel {
			// Past the cap: stays open, stops escalating, surfaced in metrics.
			stuck++
			s.logger.Warn(ctx, "incident stuck at escalation cap",
				"incident_id", in.ID,
				"severity", string(in.Severity),
				"level", in.EscalationLevel,
				"age", now.Sub(in.CreatedAt).String(),
			)
			continue
		}

		out, err := s.engine.Escalate(ctx, in.ID)
		if err != nil {
			s.logger.Error(ctx, err, "escalation failed", "incident_id", in.ID)
			continue
		}
		if out != nil {
			escalated++
		}
	}

	dur := s.now().Sub(start)
	if escalated > 0 || stuck > 0 {
		s.logger.Info(ctx, "escalation scan complete",
			"open", len(open),
			"escalated", escalated,
			"stuck", stuck,
			"duration", dur.String(),
		)
	}
	if s.hooks.OnScan != nil {
		s.hooks.OnScan(dur.Seconds(), escalated, stuck)
	}
}
