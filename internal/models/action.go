package models

import "time"

// Step is one entry in a sequence definition.
type Step struct {
	DelayOffset     time.Duration `json:"delay_offset"`
	Channel         Channel       `json:"channel"`
	MaxAttempts     int           `json:"max_attempts"`
	FallbackChannel Channel       `json:"fallback_channel,omitempty"`
	Subject         string        `json:"subject,omitempty"`
	Body            string        `json:"body,omitempty"`
	Instructions    string        `json:"instructions,omitempty"`
	Tone            string        `json:"tone,omitempty"`
	Goal            string        `json:"goal,omitempty"`
	VoiceScript     string        `json:"voice_script,omitempty"`
	AgentProfile    string        `json:"agent_profile,omitempty"`
}

// Validate checks the step's structural rules.
func (s Step) Validate() error {
	if !IsValidChannel(s.Channel) {
		return ErrInvalidChannel
	}
	if s.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}
	if s.DelayOffset < 0 {
		return ErrNegativeDelay
	}
	if s.FallbackChannel != "" {
		if !IsValidChannel(s.FallbackChannel) {
			return ErrInvalidChannel
		}
		if s.FallbackChannel == s.Channel {
			return ErrFallbackSameAsChannel
		}
	}
	return nil
}

// Sequence is an ordered, flat list of steps applied to enrolled leads.
type Sequence struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the sequence and each of its steps.
func (s Sequence) Validate() error {
	if s.ID == "" {
		return ErrMissingSequenceID
	}
	if len(s.Steps) == 0 {
		return ErrEmptySteps
	}
	for _, step := range s.Steps {
		if err := step.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Lead is the read-only contact record served by the lead directory.
type Lead struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Company  string  `json:"company,omitempty"`
	Title    string  `json:"title,omitempty"`
	Email    string  `json:"email,omitempty"`
	Phone    string  `json:"phone,omitempty"`
	Industry string  `json:"industry,omitempty"`
	Score    float64 `json:"score,omitempty"`
	Interest string  `json:"interest,omitempty"`
	Cohort   string  `json:"cohort,omitempty"`
}

// FirstName returns the first whitespace-delimited token of the lead's name.
func (l Lead) FirstName() string {
	for i, r := range l.Name {
		if r == ' ' || r == '\t' {
			return l.Name[:i]
		}
	}
	return l.Name
}

// DestinationFor returns the lead's contact address for the channel.
func (l Lead) DestinationFor(c Channel) string {
	if c == ChannelEmail {
		return l.Email
	}
	return l.Phone
}

// Metadata keys written onto actions.
const (
	MetaFallbackChannel  = "fallback_channel"
	MetaFallbackFrom     = "fallback_from"
	MetaGenerationError  = "generation_error"
	MetaProviderID       = "provider_id"
	MetaProviderStatus   = "provider_status"
	MetaOriginalDest     = "original_destination"
	MetaTestMode         = "test_mode"
	MetaSkipReason       = "skip_reason"
	MetaFailureRetryable = "retryable"
)

// Action is one scheduled, channel-specific send for a lead.
type Action struct {
	ID              string            `json:"id"`
	LeadID          string            `json:"lead_id"`
	SequenceID      string            `json:"sequence_id"`
	StepIndex       int               `json:"step_index"`
	CampaignID      string            `json:"campaign_id,omitempty"`
	Channel         Channel           `json:"channel"`
	Destination     string            `json:"destination"`
	Status          ActionStatus      `json:"status"`
	DueAt           time.Time         `json:"due_at"`
	AttemptsMade    int               `json:"attempts_made"`
	MaxAttempts     int               `json:"max_attempts"`
	FallbackChannel Channel           `json:"fallback_channel,omitempty"`
	Subject         string            `json:"subject,omitempty"`
	Body            string            `json:"body,omitempty"`
	Instructions    string            `json:"instructions,omitempty"`
	ContentSource   ContentSource     `json:"content_source"`
	TokensUsed      int               `json:"tokens_used"`
	Hints           Hints             `json:"-"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
	SentAt          *time.Time        `json:"sent_at,omitempty"`
	ClaimedBy       string            `json:"claimed_by,omitempty"`
	ClaimedUntil    *time.Time        `json:"claimed_until,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// HasFallbackContent reports whether the action carries usable template content.
func (a *Action) HasFallbackContent() bool {
	return a.Body != ""
}

// WantsGeneration reports whether content should be generated at dispatch time.
func (a *Action) WantsGeneration() bool {
	return a.Instructions != ""
}

// SetMeta sets a metadata key, allocating the map on first use.
func (a *Action) SetMeta(key, value string) {
	if a.Metadata == nil {
		a.Metadata = make(map[string]string)
	}
	a.Metadata[key] = value
}

// CloneMetadata returns a copy of the action's metadata map.
func (a *Action) CloneMetadata() map[string]string {
	out := make(map[string]string, len(a.Metadata))
	for k, v := range a.Metadata {
		out[k] = v
	}
	return out
}
