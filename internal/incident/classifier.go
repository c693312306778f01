package incident

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Rule maps alert requests matching its predicates to a severity. All set
// predicates must hold for the rule to match; a rule with no predicates is
// rejected at construction because it would shadow the LOW default.
type Rule struct {
	Severity      Severity
	Source        string            // exact source match
	SourcePrefix  string            // source prefix match
	TitleContains string            // case-insensitive substring of the title
	Metadata      map[string]string // every pair must be present and equal
}

// specificity counts the predicates a rule requires. Ties between rules of the
// same severity are broken by putting more specific rules first.
func (r Rule) specificity() int {
	n := len(r.Metadata)
	if r.Source != "" {
		n++
	}
	if r.SourcePrefix != "" {
		n++
	}
	if r.TitleContains != "" {
		n++
	}
	return n
}

func (r Rule) matches(req *AlertRequest) bool {
	if r.Source != "" && req.Source != r.Source {
		return false
	}
	if r.SourcePrefix != "" && !strings.HasPrefix(req.Source, r.SourcePrefix) {
		return false
	}
	if r.TitleContains != "" && !strings.Contains(strings.ToLower(req.Title), strings.ToLower(r.TitleContains)) {
		return false
	}
	for k, v := range r.Metadata {
		if req.Metadata[k] != v {
			return false
		}
	}
	return true
}

// Classifier maps alert requests to severities through an ordered rule table.
// Critical rules are evaluated first, then high, then medium; LOW is the
// unconditional default. Classification is deterministic and side-effect-free.
type Classifier struct {
	// bands in evaluation order: critical, high, medium.
	bands [3][]Rule
}

// bandOrder fixes the evaluation order of rule bands.
var bandOrder = [3]Severity{SeverityCritical, SeverityHigh, SeverityMedium}

// NewClassifier validates and indexes a rule table. Construction fails on
// rules targeting LOW (the default must stay reachable), on predicate-free
// rules, and on unknown severities, so malformed tables surface at startup
// rather than per call.
func NewClassifier(rules []Rule) (*Classifier, error) {
	c := &Classifier{}

	var errs []error
	for i, r := range rules {
		if !r.Severity.Valid() {
			errs = append(errs, fmt.Errorf("rule %d: unknown severity %q", i, r.Severity))
			continue
		}
		if r.Severity == SeverityLow {
			errs = append(errs, fmt.Errorf("rule %d: severity low is the default, not a rule target", i))
			continue
		}
		if r.specificity() == 0 {
			errs = append(errs, fmt.Errorf("rule %d: no predicates, would match every alert", i))
			continue
		}
		for b, sev := range bandOrder {
			if r.Severity == sev {
				c.bands[b] = append(c.bands[b], r)
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for b := range c.bands {
		band := c.bands[b]
		sort.SliceStable(band, func(i, j int) bool {
			return band[i].specificity() > band[j].specificity()
		})
	}
	return c, nil
}

// MustClassifier is NewClassifier for rule tables known to be valid.
func MustClassifier(rules []Rule) *Classifier {
	c, err := NewClassifier(rules)
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns the severity for an alert request. The first matching rule
// wins; an explicit severity hint is honored when no rule matches; otherwise
// the result is LOW.
func (c *Classifier) Classify(req *AlertRequest) Severity {
	for b, sev := range bandOrder {
		for _, r := range c.bands[b] {
			if r.matches(req) {
				return sev
			}
		}
	}
	if req.SeverityHint.Valid() {
		return req.SeverityHint
	}
	return SeverityLow
}

// Len returns the number of rules in the table.
func (c *Classifier) Len() int {
	return len(c.bands[0]) + len(c.bands[1]) + len(c.bands[2])
}
