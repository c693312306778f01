package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

const (
	// maxDispatchAttempts bounds provider calls per dispatch: the initial
	// call plus retries after 1/2/4/8s backoff.
	maxDispatchAttempts = 5

	// dispatchCallTimeout bounds a single provider call.
	dispatchCallTimeout = 5 * time.Second

	baseBackoff = 1 * time.Second
	maxBackoff  = 8 * time.Second
)

// Raise outcomes observed by hooks.
const (
	RaiseOutcomeRaised           = "raised"
	RaiseOutcomeSuppressedWindow = "suppressed_window"
	RaiseOutcomeSuppressedDedup  = "suppressed_dedup"
	RaiseOutcomeInvalid          = "invalid"
	RaiseOutcomeStoreError       = "store_error"
)

// Dispatch outcomes observed by hooks.
const (
	DispatchOutcomeSuccess   = "success"
	DispatchOutcomeExhausted = "exhausted"
	DispatchOutcomePermanent = "permanent"
)

// Engine orchestrates the incident lifecycle: classify, gate, dedup, persist,
// dispatch, and the acknowledge/resolve/escalate transitions. One Engine is
// constructed per process and shared with the scheduler and the HTTP API.
type Engine struct {
	store      Store
	dispatcher Dispatcher
	guard      *DedupGuard
	gate       *WindowGate
	rules      RuleSource
	logger     log.Logger
	hooks      EngineHooks

	// overridable in tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an engine with the given collaborators. A nil logger is
// replaced with a no-op.
func NewEngine(store Store, dispatcher Dispatcher, guard *DedupGuard, gate *WindowGate, rules RuleSource, logger log.Logger, hooks EngineHooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		store:      store,
		dispatcher: dispatcher,
		guard:      guard,
		gate:       gate,
		rules:      rules,
		logger:     logger,
		hooks:      hooks,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RaiseAlert classifies the request, applies the maintenance and dedup gates,
// persists a new open incident, and dispatches pages per the severity's
// notification policy. A suppressed request returns (nil, nil): no incident,
// no dispatch. Persistence failures fail closed. Dispatch failures do not
// roll the incident back; it stays open with an empty provider reference so
// operators can still acknowledge it.
func (e *Engine) RaiseAlert(ctx context.Context, req *AlertRequest) (*Incident, error) {
	if req.Title == "" {
		e.raiseOutcome(RaiseOutcomeInvalid, "")
		return nil, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if req.Source == "" {
		e.raiseOutcome(RaiseOutcomeInvalid, "")
		return nil, &ValidationError{Field: "source", Reason: "must not be empty"}
	}

	snap := e.rules.Current()
	sev := snap.Classifier.Classify(req)
	now := e.now()

	L := e.logger.With("source", req.Source, "title", req.Title, "severity", string(sev))

	if e.gate.Suppressed(now, sev) {
		L.Info(ctx, "alert suppressed by maintenance window")
		e.raiseOutcome(RaiseOutcomeSuppressedWindow, sev)
		return nil, nil
	}

	key := req.DedupKey
	if key == "" {
		key = DeriveDedupKey(req.Source, req.Title)
	}
	if e.guard.Suppress(key, now, snap.DedupWindow) {
		L.Info(ctx, "alert suppressed as duplicate", "dedup_key", key)
		e.raiseOutcome(RaiseOutcomeSuppressedDedup, sev)
		return nil, nil
	}

	in := &Incident{
		ID:          ulid.Make().String(),
		DedupKey:    key,
		Severity:    sev,
		Title:       req.Title,
		Description: req.Description,
		Source:      req.Source,
		Status:      StatusOpen,
		CreatedAt:   now,
		Metadata:    req.Metadata,
	}

	if err := e.store.Create(ctx, in); err != nil {
		if errors.Is(err, ErrLiveDuplicate) {
			// Two raisers slipped past the in-memory guard; the store's
			// invariant decides. Same outcome as a dedup suppression.
			L.Info(ctx, "alert suppressed by store dedup invariant", "dedup_key", key)
			e.raiseOutcome(RaiseOutcomeSuppressedDedup, sev)
			return nil, nil
		}
		// Re-arm the guard so the next identical alert is not swallowed
		// while nothing is persisted for it.
		e.guard.Forget(key)
		e.raiseOutcome(RaiseOutcomeStoreError, sev)
		return nil, fmt.Errorf("create incident: %w", err)
	}

	L = L.With("incident_id", in.ID, "dedup_key", key)
	L.Info(ctx, "incident raised",
		"channels", channelNames(snap.PolicyFor(sev)),
		"response_target", snap.ResponseTarget(sev).String(),
	)
	e.raiseOutcome(RaiseOutcomeRaised, sev)

	ref, err := e.dispatch(ctx, in, snap.PolicyFor(sev), 0)
	if err != nil {
		L.Error(ctx, err, "initial page dispatch failed; incident remains open")
	} else if ref != "" {
		e.storeProviderRef(ctx, in, ref)
	}

	return in, nil
}

// Acknowledge transitions an open incident to acknowledged. Idempotent: once
// acknowledged or resolved, the current record is returned unchanged and the
// first acknowledger wins.
func (e *Engine) Acknowledge(ctx context.Context, id, by string) (*Incident, error) {
	if by == "" {
		return nil, &ValidationError{Field: "acknowledged_by", Reason: "must not be empty"}
	}

	in, ok, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	if in.Status != StatusOpen {
		return in, nil
	}

	now := e.now()
	st := StatusAcknowledged
	applied, err := e.store.ConditionalUpdate(ctx, id, StatusOpen, Update{
		Status:         &st,
		AcknowledgedAt: &now,
		AcknowledgedBy: &by,
	})
	if err != nil {
		return nil, fmt.Errorf("acknowledge incident: %w", err)
	}

	cur, ok, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reread incident: %w", err)
	}
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	if applied {
		e.logger.Info(ctx, "incident acknowledged",
			"incident_id", id,
			"by", by,
			"latency", now.Sub(in.CreatedAt).String(),
		)
		if e.hooks.OnAck != nil {
			e.hooks.OnAck(now.Sub(in.CreatedAt))
		}
	}
	// Lost race: a concurrent acknowledge or resolve won; return their record.
	return cur, nil
}

// Resolve transitions an incident to resolved from open or acknowledged.
// Resolution notes are mandatory. Idempotent: the first resolution wins and
// later calls return the original record unchanged.
func (e *Engine) Resolve(ctx context.Context, id, notes string) (*Incident, error) {
	if notes == "" {
		return nil, &ValidationError{Field: "resolution_notes", Reason: "must not be empty"}
	}

	// Two passes cover the open->acknowledged race between read and write.
	for attempt := 0; attempt < 2; attempt++ {
		in, ok, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get incident: %w", err)
		}
		if !ok {
			return nil, &NotFoundError{ID: id}
		}
		if in.Status == StatusResolved {
			return in, nil
		}

		now := e.now()
		st := StatusResolved
		applied, err := e.store.ConditionalUpdate(ctx, id, in.Status, Update{
			Status:          &st,
			ResolvedAt:      &now,
			ResolutionNotes: &notes,
		})
		if err != nil {
			return nil, fmt.Errorf("resolve incident: %w", err)
		}
		if !applied {
			continue
		}

		e.logger.Info(ctx, "incident resolved",
			"incident_id", id,
			"latency", now.Sub(in.CreatedAt).String(),
		)
		if e.hooks.OnResolve != nil {
			e.hooks.OnResolve(now.Sub(in.CreatedAt))
		}

		cur, ok, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reread incident: %w", err)
		}
		if !ok {
			return nil, &NotFoundError{ID: id}
		}
		return cur, nil
	}

	// Both passes lost the race; whoever won resolved it.
	cur, ok, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reread incident: %w", err)
	}
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return cur, nil
}

// Escalate bumps an open incident to the next responder tier. Called only by
// the scheduler. Acknowledged and resolved incidents are never escalated:
// anything but open is a no-op returning (nil, nil), as is losing the
// conditional update to a concurrent transition.
func (e *Engine) Escalate(ctx context.Context, id string) (*Incident, error) {
	in, ok, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	if in.Status != StatusOpen {
		return nil, nil
	}

	snap := e.rules.Current()
	if in.EscalationLevel >= snap.MaxEscalationLevel {
		return nil, nil
	}

	now := e.now()
	level := in.EscalationLevel + 1
	applied, err := e.store.ConditionalUpdate(ctx, id, StatusOpen, Update{
		EscalationLevel: &level,
		LastEscalatedAt: &now,
	})
	if err != nil {
		return nil, fmt.Errorf("escalate incident: %w", err)
	}
	if !applied {
		// Status changed between read and write; the scheduler moves on.
		return nil, nil
	}

	in.EscalationLevel = level
	in.LastEscalatedAt = &now

	e.logger.Warn(ctx, "incident escalated",
		"incident_id", id,
		"severity", string(in.Severity),
		"level", level,
		"age", now.Sub(in.CreatedAt).String(),
	)
	if e.hooks.OnEscalate != nil {
		e.hooks.OnEscalate(level)
	}

	if _, err := e.dispatch(ctx, in, snap.PolicyFor(in.Severity), level); err != nil {
		e.logger.Error(ctx, err, "escalation page dispatch failed", "incident_id", id, "level", level)
	}

	return in, nil
}

// Get retrieves an incident by id.
func (e *Engine) Get(ctx context.Context, id string) (*Incident, bool, error) {
	return e.store.Get(ctx, id)
}

// Query returns incidents matching the filter.
func (e *Engine) Query(ctx context.Context, f Filter) ([]*Incident, error) {
	return e.store.Query(ctx, f)
}

// dispatch sends a page with bounded exponential backoff on transient
// failures. It never runs while holding the dedup guard's lock; the persisted
// incident is the synchronization point.
func (e *Engine) dispatch(ctx context.Context, in *Incident, channels []Channel, tier int) (string, error) {
	start := e.now()
	var lastErr error

	for attempt := 1; attempt <= maxDispatchAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, dispatchCallTimeout)
		ref, err := e.dispatcher.SendPage(callCtx, in, channels, tier)
		cancel()

		if err == nil {
			e.dispatchOutcome(in.Severity, DispatchOutcomeSuccess, attempt, start)
			return ref, nil
		}
		lastErr = err

		var perm *PermanentDispatchError
		if errors.As(err, &perm) {
			// Broken routing config: retrying cannot help, surface loudly.
			e.logger.Error(ctx, err, "permanent dispatch failure, paging configuration is broken",
				"incident_id", in.ID, "tier", tier)
			e.dispatchOutcome(in.Severity, DispatchOutcomePermanent, attempt, start)
			return "", err
		}

		if attempt == maxDispatchAttempts {
			break
		}
		wait := baseBackoff << (attempt - 1)
		if wait > maxBackoff {
			wait = maxBackoff
		}
		e.logger.Warn(ctx, "page dispatch failed, retrying",
			"incident_id", in.ID, "attempt", attempt, "backoff", wait.String(), "error", err.Error())
		if serr := e.sleep(ctx, wait); serr != nil {
			e.dispatchOutcome(in.Severity, DispatchOutcomeExhausted, attempt, start)
			return "", fmt.Errorf("dispatch aborted: %w", serr)
		}
	}

	e.dispatchOutcome(in.Severity, DispatchOutcomeExhausted, maxDispatchAttempts, start)
	return "", fmt.Errorf("dispatch retries exhausted: %w", lastErr)
}

// storeProviderRef records the paging provider's reference on a freshly
// raised incident. Losing the conditional update means an operator already
// transitioned the incident; dropping the ref then is harmless.
func (e *Engine) storeProviderRef(ctx context.Context, in *Incident, ref string) {
	applied, err := e.store.ConditionalUpdate(ctx, in.ID, StatusOpen, Update{ProviderRef: &ref})
	if err != nil {
		e.logger.Error(ctx, err, "failed to store provider reference", "incident_id", in.ID)
		return
	}
	if applied {
		in.ProviderRef = ref
	}
}

func (e *Engine) raiseOutcome(outcome string, sev Severity) {
	if e.hooks.OnRaise != nil {
		e.hooks.OnRaise(outcome, sev)
	}
}

func (e *Engine) dispatchOutcome(sev Severity, outcome string, attempts int, start time.Time) {
	if e.hooks.OnDispatch != nil {
		e.hooks.OnDispatch(sev, outcome, attempts, e.now().Sub(start).Seconds())
	}
}

func channelNames(chs []Channel) []string {
	out := make([]string, len(chs))
	for i, c := range chs {
		out[i] = string(c)
	}
	return out
}
