package incident

import "time"

// Default tuning used when the rules file leaves a knob unset.
const (
	DefaultDedupWindow       = 5 * time.Minute
	DefaultEscalationTimeout = 15 * time.Minute
	DefaultMaxEscalation     = 3
	DefaultScanInterval      = time.Minute
)

// RuleSet is one immutable snapshot of the hot-reloadable configuration
// surface: severity rules, maintenance windows, dedup window, escalation
// tuning, and per-severity notification policies. Snapshots are never mutated
// after construction so they are safe to share across goroutines.
type RuleSet struct {
	Classifier         *Classifier
	Windows            []MaintenanceWindow
	DedupWindow        time.Duration
	EscalationTimeout  time.Duration
	MaxEscalationLevel int
	ScanInterval       time.Duration
	Policies           map[Severity][]Channel
	ResponseTargets    map[Severity]time.Duration
}

// PolicyFor returns the notification channels for a severity, falling back to
// the built-in defaults when the snapshot has no override.
func (rs *RuleSet) PolicyFor(s Severity) []Channel {
	if chs, ok := rs.Policies[s]; ok && len(chs) > 0 {
		return chs
	}
	return DefaultPolicy(s)
}

// ResponseTarget returns the response-time expectation bound to a severity,
// zero when none is configured.
func (rs *RuleSet) ResponseTarget(s Severity) time.Duration {
	return rs.ResponseTargets[s]
}

// DefaultRuleSet returns a snapshot with no rules, no windows, and default
// tuning. The classifier falls through to severity hints and the LOW default.
func DefaultRuleSet() *RuleSet {
	return &RuleSet{
		Classifier:         MustClassifier(nil),
		DedupWindow:        DefaultDedupWindow,
		EscalationTimeout:  DefaultEscalationTimeout,
		MaxEscalationLevel: DefaultMaxEscalation,
		ScanInterval:       DefaultScanInterval,
	}
}

// RuleSource hands out the current configuration snapshot. Every gate and
// engine decision re-reads it so hot reloads take effect without restarts.
type RuleSource interface {
	Current() *RuleSet
}

// StaticRules is a RuleSource pinned to a single snapshot. Used in tests and
// when no rules file is configured.
type StaticRules struct {
	Set *RuleSet
}

// Current implements RuleSource.
func (s StaticRules) Current() *RuleSet { return s.Set }
