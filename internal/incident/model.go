package incident

import "time"

// Severity orders incidents by operational urgency.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityRank maps severities to a comparable rank, higher is more urgent.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// MoreUrgentThan reports whether s outranks other.
func (s Severity) MoreUrgentThan(other Severity) bool {
	return severityRank[s] > severityRank[other]
}

// Status tracks where an incident is in its lifecycle.
type Status string

const (
	// StatusOpen means raised, nobody has responded yet
	StatusOpen Status = "open"

	// StatusAcknowledged means a human has taken ownership
	StatusAcknowledged Status = "acknowledged"

	// StatusResolved means the underlying problem is fixed; terminal
	StatusResolved Status = "resolved"
)

// Valid reports whether st is a known status.
func (st Status) Valid() bool {
	switch st {
	case StatusOpen, StatusAcknowledged, StatusResolved:
		return true
	}
	return false
}

// Channel identifies a paging delivery mechanism.
type Channel string

const (
	ChannelPhone Channel = "phone"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

// ValidChannel reports whether c is a known channel.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelPhone, ChannelSMS, ChannelPush, ChannelEmail:
		return true
	}
	return false
}

// DefaultPolicy returns the built-in channel set for a severity, used when the
// rules file does not override it.
func DefaultPolicy(s Severity) []Channel {
	switch s {
	case SeverityCritical:
		return []Channel{ChannelPhone, ChannelSMS, ChannelPush}
	case SeverityHigh:
		return []Channel{ChannelSMS, ChannelPush}
	case SeverityMedium:
		return []Channel{ChannelPush, ChannelEmail}
	default:
		return []Channel{ChannelEmail}
	}
}

// AlertRequest is a transient, already-formed alert from a producer
// (health check, APM, error-rate calculator).
type AlertRequest struct {
	SeverityHint Severity          `json:"severity_hint,omitempty"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Source       string            `json:"source"`
	DedupKey     string            `json:"dedup_key,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at,omitempty"`
}

// Incident is the durable record of a raised alert and its lifecycle.
// Timestamps are write-once: AcknowledgedAt, ResolvedAt and ResolutionNotes
// are set by the first successful transition and never rewritten.
type Incident struct {
	ID              string            `json:"id"`
	DedupKey        string            `json:"dedup_key"`
	Severity        Severity          `json:"severity"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	Source          string            `json:"source"`
	Status          Status            `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	AcknowledgedAt  *time.Time        `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string            `json:"acknowledged_by,omitempty"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
	ResolutionNotes string            `json:"resolution_notes,omitempty"`
	EscalationLevel int               `json:"escalation_level"`
	LastEscalatedAt *time.Time        `json:"last_escalated_at,omitempty"`
	ProviderRef     string            `json:"provider_ref,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// EscalationDeadline returns the instant the incident becomes due for its next
// escalation, given the configured timeout.
func (in *Incident) EscalationDeadline(timeout time.Duration) time.Time {
	anchor := in.CreatedAt
	if in.LastEscalatedAt != nil && in.LastEscalatedAt.After(anchor) {
		anchor = *in.LastEscalatedAt
	}
	return anchor.Add(timeout)
}

// Clone returns a deep copy safe to mutate without aliasing.
func (in *Incident) Clone() *Incident {
	cp := *in
	if in.AcknowledgedAt != nil {
		t := *in.AcknowledgedAt
		cp.AcknowledgedAt = &t
	}
	if in.ResolvedAt != nil {
		t := *in.ResolvedAt
		cp.ResolvedAt = &t
	}
	if in.LastEscalatedAt != nil {
		t := *in.LastEscalatedAt
		cp.LastEscalatedAt = &t
	}
	if in.Metadata != nil {
		cp.Metadata = make(map[string]string, len(in.Metadata))
		for k, v := range in.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// MaintenanceWindow is a configured time range during which some severities
// are suppressed from paging.
type MaintenanceWindow struct {
	StartsAt time.Time  `json:"starts_at"`
	EndsAt   time.Time  `json:"ends_at"`
	Suppress []Severity `json:"suppress,omitempty"`
}

// Active reports whether now falls inside the window. The start bound is
// inclusive, the end bound exclusive.
func (w MaintenanceWindow) Active(now time.Time) bool {
	return !now.Before(w.StartsAt) && now.Before(w.EndsAt)
}

// Suppresses reports whether the window suppresses the given severity.
// An empty suppress set means the default policy: everything but critical.
func (w MaintenanceWindow) Suppresses(s Severity) bool {
	if len(w.Suppress) == 0 {
		return s != SeverityCritical
	}
	for _, sup := range w.Suppress {
		if sup == s {
			return true
		}
	}
	return false
}
