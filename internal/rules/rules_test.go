package rules

import (
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/klaxon/internal/incident"
)

const fullRules = `
dedup_window: 10m
escalation:
  timeout: 20m
  max_level: 5
  scan_interval: 30s
severity_rules:
  - severity: critical
    source: db-primary
  - severity: high
    source_prefix: db-
  - severity: medium
    title_contains: latency
    metadata:
      env: staging
maintenance_windows:
  - starts_at: 2026-09-01T02:00:00Z
    ends_at: 2026-09-01T04:00:00Z
    suppress: [low, medium]
notification_policies:
  critical: [phone, sms, push]
  low: [email]
response_targets:
  critical: 5m
  high: 15m
`

func TestParse_FullFile(t *testing.T) {
	t.Parallel()

	rs, err := Parse([]byte(fullRules))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if rs.DedupWindow != 10*time.Minute {
		t.Errorf("dedup window = %v, want 10m", rs.DedupWindow)
	}
	if rs.EscalationTimeout != 20*time.Minute {
		t.Errorf("escalation timeout = %v, want 20m", rs.EscalationTimeout)
	}
	if rs.MaxEscalationLevel != 5 {
		t.Errorf("max level = %d, want 5", rs.MaxEscalationLevel)
	}
	if rs.ScanInterval != 30*time.Second {
		t.Errorf("scan interval = %v, want 30s", rs.ScanInterval)
	}
	if rs.Classifier.Len() != 3 {
		t.Errorf("rule table size = %d, want 3", rs.Classifier.Len())
	}
	if len(rs.Windows) != 1 {
		t.Fatalf("windows = %d, want 1", len(rs.Windows))
	}
	if got := rs.Windows[0].Suppress; len(got) != 2 {
		t.Errorf("suppress set = %v, want [low medium]", got)
	}

	if got := rs.PolicyFor(incident.SeverityCritical); len(got) != 3 || got[0] != incident.ChannelPhone {
		t.Errorf("critical policy = %v, want [phone sms push]", got)
	}
	if got := rs.ResponseTarget(incident.SeverityCritical); got != 5*time.Minute {
		t.Errorf("critical response target = %v, want 5m", got)
	}

	// Classification uses the parsed table.
	sev := rs.Classifier.Classify(&incident.AlertRequest{Source: "db-replica", Title: "lag"})
	if sev != incident.SeverityHigh {
		t.Errorf("classified severity = %q, want high", sev)
	}
}

func TestParse_EmptyFileYieldsDefaults(t *testing.T) {
	t.Parallel()

	rs, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	def := incident.DefaultRuleSet()
	if rs.DedupWindow != def.DedupWindow {
		t.Errorf("dedup window = %v, want default %v", rs.DedupWindow, def.DedupWindow)
	}
	if rs.EscalationTimeout != def.EscalationTimeout {
		t.Errorf("escalation timeout = %v, want default %v", rs.EscalationTimeout, def.EscalationTimeout)
	}
	if rs.MaxEscalationLevel != def.MaxEscalationLevel {
		t.Errorf("max level = %d, want default %d", rs.MaxEscalationLevel, def.MaxEscalationLevel)
	}
	if rs.Classifier.Len() != 0 {
		t.Errorf("rule table size = %d, want 0", rs.Classifier.Len())
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		errPart string
	}{
		{
			name:    "malformed yaml",
			yaml:    "dedup_window: [",
			errPart: "parse rules file",
		},
		{
			name:    "negative dedup window",
			yaml:    "dedup_window: -5m",
			errPart: "dedup_window must be positive",
		},
		{
			name:    "negative escalation timeout",
			yaml:    "escalation:\n  timeout: -1m",
			errPart: "escalation.timeout must be positive",
		},
		{
			name:    "unknown rule severity",
			yaml:    "severity_rules:\n  - severity: urgent\n    source: x",
			errPart: `unknown severity "urgent"`,
		},
		{
			name:    "low rule target",
			yaml:    "severity_rules:\n  - severity: low\n    source: x",
			errPart: "severity low",
		},
		{
			name:    "rule without predicates",
			yaml:    "severity_rules:\n  - severity: high",
			errPart: "no predicates",
		},
		{
			name:    "window missing bounds",
			yaml:    "maintenance_windows:\n  - starts_at: 2026-09-01T02:00:00Z",
			errPart: "starts_at and ends_at are required",
		},
		{
			name: "window ends before start",
			yaml: "maintenance_windows:\n" +
				"  - starts_at: 2026-09-01T04:00:00Z\n" +
				"    ends_at: 2026-09-01T02:00:00Z",
			errPart: "ends_at must be after starts_at",
		},
		{
			name:    "unknown policy channel",
			yaml:    "notification_policies:\n  high: [pigeon]",
			errPart: `unknown channel "pigeon"`,
		},
		{
			name:    "negative response target",
			yaml:    "response_targets:\n  high: -5m",
			errPart: "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected parse error")
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("error = %q, want substring %q", err, tt.errPart)
			}
		})
	}
}

func TestParse_JoinsAllErrors(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("dedup_window: -5m\nescalation:\n  max_level: -1\n"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	for _, part := range []string{"dedup_window", "max_level"} {
		if !strings.Contains(err.Error(), part) {
			t.Errorf("error = %q, want to mention %q", err, part)
		}
	}
}
