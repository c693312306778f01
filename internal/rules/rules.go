// Package rules loads and hot-reloads Klaxon's alerting rules file: the
// severity rule table, maintenance windows, dedup window, escalation tuning,
// and per-severity notification policies. A Provider hands out immutable
// incident.RuleSet snapshots; the file is re-checked on a short TTL and
// rewatched with fsnotify, so edits land without a restart. An invalid file
// is fatal at startup but never replaces a good snapshot at reload time.
package rules

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/klaxon/internal/incident"
)

// File is the on-disk YAML shape of the rules file.
type File struct {
	DedupWindow time.Duration `yaml:"dedup_window"`

	Escalation struct {
		Timeout      time.Duration `yaml:"timeout"`
		MaxLevel     int           `yaml:"max_level"`
		ScanInterval time.Duration `yaml:"scan_interval"`
	} `yaml:"escalation"`

	SeverityRules []RuleEntry `yaml:"severity_rules"`

	MaintenanceWindows []WindowEntry `yaml:"maintenance_windows"`

	NotificationPolicies map[string][]string `yaml:"notification_policies"`

	ResponseTargets map[string]time.Duration `yaml:"response_targets"`
}

// RuleEntry is one severity rule in the file.
type RuleEntry struct {
	Severity      string            `yaml:"severity"`
	Source        string            `yaml:"source"`
	SourcePrefix  string            `yaml:"source_prefix"`
	TitleContains string            `yaml:"title_contains"`
	Metadata      map[string]string `yaml:"metadata"`
}

// WindowEntry is one maintenance window in the file.
type WindowEntry struct {
	StartsAt time.Time `yaml:"starts_at"`
	EndsAt   time.Time `yaml:"ends_at"`
	Suppress []string  `yaml:"suppress"`
}

// Load reads and validates a rules file into an immutable snapshot.
func Load(path string) (*incident.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}

// Parse validates raw YAML into a snapshot. All validation errors are
// reported together so a broken file can be fixed in one pass.
func Parse(data []byte) (*incident.RuleSet, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	var errs []error

	rs := incident.DefaultRuleSet()
	if f.DedupWindow > 0 {
		rs.DedupWindow = f.DedupWindow
	} else if f.DedupWindow < 0 {
		errs = append(errs, errors.New("dedup_window must be positive"))
	}
	if f.Escalation.Timeout > 0 {
		rs.EscalationTimeout = f.Escalation.Timeout
	} else if f.Escalation.Timeout < 0 {
		errs = append(errs, errors.New("escalation.timeout must be positive"))
	}
	if f.Escalation.MaxLevel > 0 {
		rs.MaxEscalationLevel = f.Escalation.MaxLevel
	} else if f.Escalation.MaxLevel < 0 {
		errs = append(errs, errors.New("escalation.max_level must be positive"))
	}
	if f.Escalation.ScanInterval > 0 {
		rs.ScanInterval = f.Escalation.ScanInterval
	} else if f.Escalation.ScanInterval < 0 {
		errs = append(errs, errors.New("escalation.scan_interval must be positive"))
	}

	ruleTable := make([]incident.Rule, 0, len(f.SeverityRules))
	for i, re := range f.SeverityRules {
		sev := incident.Severity(re.Severity)
		if !sev.Valid() {
			errs = append(errs, fmt.Errorf("severity_rules[%d]: unknown severity %q", i, re.Severity))
			continue
		}
		ruleTable = append(ruleTable, incident.Rule{
			Severity:      sev,
			Source:        re.Source,
			SourcePrefix:  re.SourcePrefix,
			TitleContains: re.TitleContains,
			Metadata:      re.Metadata,
		})
	}
	cls, err := incident.NewClassifier(ruleTable)
	if err != nil {
		errs = append(errs, fmt.Errorf("severity_rules: %w", err))
	} else {
		rs.Classifier = cls
	}

	for i, we := range f.MaintenanceWindows {
		if we.StartsAt.IsZero() || we.EndsAt.IsZero() {
			errs = append(errs, fmt.Errorf("maintenance_windows[%d]: starts_at and ends_at are required", i))
			continue
		}
		if !we.EndsAt.After(we.StartsAt) {
			errs = append(errs, fmt.Errorf("maintenance_windows[%d]: ends_at must be after starts_at", i))
			continue
		}
		w := incident.MaintenanceWindow{StartsAt: we.StartsAt, EndsAt: we.EndsAt}
		for _, s := range we.Suppress {
			sev := incident.Severity(s)
			if !sev.Valid() {
				errs = append(errs, fmt.Errorf("maintenance_windows[%d]: unknown severity %q", i, s))
				continue
			}
			w.Suppress = append(w.Suppress, sev)
		}
		rs.Windows = append(rs.Windows, w)
	}

	if len(f.NotificationPolicies) > 0 {
		rs.Policies = make(map[incident.Severity][]incident.Channel, len(f.NotificationPolicies))
		for s, chans := range f.NotificationPolicies {
			sev := incident.Severity(s)
			if !sev.Valid() {
				errs = append(errs, fmt.Errorf("notification_policies: unknown severity %q", s))
				continue
			}
			var chs []incident.Channel
			for _, c := range chans {
				ch := incident.Channel(c)
				if !incident.ValidChannel(ch) {
					errs = append(errs, fmt.Errorf("notification_policies[%s]: unknown channel %q", s, c))
					continue
				}
				chs = append(chs, ch)
			}
			rs.Policies[sev] = chs
		}
	}

	if len(f.ResponseTargets) > 0 {
		rs.ResponseTargets = make(map[incident.Severity]time.Duration, len(f.ResponseTargets))
		for s, d := range f.ResponseTargets {
			sev := incident.Severity(s)
			if !sev.Valid() {
				errs = append(errs, fmt.Errorf("response_targets: unknown severity %q", s))
				continue
			}
			if d <= 0 {
				errs = append(errs, fmt.Errorf("response_targets[%s]: must be positive", s))
				continue
			}
			rs.ResponseTargets[sev] = d
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rs, nil
}
