package models

import "time"

// OutcomeKind is the disposition reported for a dispatch attempt.
type OutcomeKind string

const (
	OutcomeSent                OutcomeKind = "sent"
	OutcomeFailed              OutcomeKind = "failed"
	OutcomeFallbackCreated     OutcomeKind = "fallback_created"
	OutcomeRetryScheduled      OutcomeKind = "retry_scheduled"
	OutcomeSkippedUnconfigured OutcomeKind = "skipped_unconfigured"
)

// Outcome is emitted to the outcome sink for analytics consumers.
type Outcome struct {
	ID         string            `json:"id"`
	LeadID     string            `json:"lead_id"`
	CampaignID string            `json:"campaign_id,omitempty"`
	ActionID   string            `json:"action_id"`
	Channel    Channel           `json:"channel"`
	StepIndex  int               `json:"step_index"`
	Kind       OutcomeKind       `json:"kind"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewOutcome builds an outcome for the given action.
func NewOutcome(a *Action, kind OutcomeKind, at time.Time, meta map[string]string) Outcome {
	return Outcome{
		LeadID:     a.LeadID,
		CampaignID: a.CampaignID,
		ActionID:   a.ID,
		Channel:    a.Channel,
		StepIndex:  a.StepIndex,
		Kind:       kind,
		Metadata:   meta,
		OccurredAt: at,
	}
}

// ActivityType categorizes activity log entries.
type ActivityType string

const (
	ActivityOutreachSent   ActivityType = "outreach_sent"
	ActivityOutreachFailed ActivityType = "outreach_failed"
	ActivityFallback       ActivityType = "fallback"
	ActivityNoShow         ActivityType = "no_show"
	ActivitySystemNote     ActivityType = "system_note"
)

// Activity is a human-readable record of something that happened to a lead.
type Activity struct {
	ID        string            `json:"id"`
	LeadID    string            `json:"lead_id"`
	Type      ActivityType      `json:"type"`
	Subject   string            `json:"subject"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// SessionStatus is the state of a booked session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionCompleted SessionStatus = "completed"
	SessionNoShow    SessionStatus = "no_show"
	SessionCancelled SessionStatus = "cancelled"
)

// IsValidSessionStatus checks if s is a known session status.
func IsValidSessionStatus(s SessionStatus) bool {
	switch s {
	case SessionScheduled, SessionCompleted, SessionNoShow, SessionCancelled:
		return true
	default:
		return false
	}
}

// BookedSession is a meeting a lead booked; the no-show detector watches these.
type BookedSession struct {
	ID          string        `json:"id"`
	LeadID      string        `json:"lead_id"`
	CampaignID  string        `json:"campaign_id,omitempty"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
