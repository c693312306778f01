package incident

import "time"

// WindowGate answers whether a severity is currently suppressed by an active
// maintenance window. It holds no state of its own: every call re-reads the
// rule source's current snapshot, so window edits take effect within the
// source's reload latency.
type WindowGate struct {
	rules RuleSource
}

// NewWindowGate creates a gate over the given rule source.
func NewWindowGate(rules RuleSource) *WindowGate {
	return &WindowGate{rules: rules}
}

// Suppressed reports whether any active maintenance window suppresses the
// severity at instant now. Overlapping windows combine with logical OR.
func (g *WindowGate) Suppressed(now time.Time, s Severity) bool {
	for _, w := range g.rules.Current().Windows {
		if w.Active(now) && w.Suppresses(s) {
			return true
		}
	}
	return false
}
