// Package models defines the core data structures for CadencePipe.
//
// It includes sequences and their steps, scheduled actions, leads, outcome events and the
// API response envelope, which are shared across modules.
package models

import (
	"errors"
	"strings"
)

// Channel identifies the delivery channel of a step or action.
type Channel string

const (
	// ChannelEmail delivers through the configured email transport.
	ChannelEmail Channel = "email"
	// ChannelVoice places an outbound call through the voice provider.
	ChannelVoice Channel = "voice"
	// ChannelSMS sends a text message through the SMS provider.
	ChannelSMS Channel = "sms"
)

// IsValidChannel checks if the given channel is supported.
func IsValidChannel(c Channel) bool {
	switch c {
	case ChannelEmail, ChannelVoice, ChannelSMS:
		return true
	default:
		return false
	}
}

// ParseChannel normalizes and validates a channel name.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !IsValidChannel(c) {
		return "", ErrInvalidChannel
	}
	return c, nil
}

// ActionStatus represents the lifecycle state of an action.
type ActionStatus string

const (
	// ActionStatusPending is the only status the scheduler selects.
	ActionStatusPending ActionStatus = "pending"
	// ActionStatusSent indicates the provider accepted the send.
	ActionStatusSent ActionStatus = "sent"
	// ActionStatusFailed indicates attempts were exhausted (with or without a fallback sibling).
	ActionStatusFailed ActionStatus = "failed"
	// ActionStatusCancelled indicates an operator or enrollment cancelled the action.
	ActionStatusCancelled ActionStatus = "cancelled"
	// ActionStatusPaused indicates an operator paused the action.
	ActionStatusPaused ActionStatus = "paused"
	// ActionStatusSkipped indicates the channel is not configured in this environment.
	ActionStatusSkipped ActionStatus = "skipped"
)

// IsTerminal reports whether the scheduler will never pick the action up again.
func (s ActionStatus) IsTerminal() bool {
	return s != ActionStatusPending
}

// IsValidActionStatus checks if s is a known action status.
func IsValidActionStatus(s ActionStatus) bool {
	switch s {
	case ActionStatusPending, ActionStatusSent, ActionStatusFailed, ActionStatusCancelled, ActionStatusPaused, ActionStatusSkipped:
		return true
	default:
		return false
	}
}

// ContentSource records where an action's final content came from.
type ContentSource string

const (
	ContentSourceTemplate  ContentSource = "template"
	ContentSourceGenerated ContentSource = "generated"
)

// Error variables for better error handling and testability
var (
	ErrInvalidChannel        = errors.New("invalid channel")
	ErrSequenceUnavailable   = errors.New("sequence not found or inactive")
	ErrLeadNotFound          = errors.New("lead not found")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrContentUnavailable    = errors.New("no usable content for action")
	ErrGenerationUnavailable = errors.New("content generation unavailable")
	ErrMissingDestination    = errors.New("action has no usable destination")
	ErrProviderRejected      = errors.New("provider rejected the send")
	ErrNoCallScript          = errors.New("call has no script to speak")
	ErrTransportUnconfigured = errors.New("channel transport not configured")
	ErrActionNotFound        = errors.New("action not found")
	ErrActionNotPending      = errors.New("action is not pending")
	ErrSessionNotFound       = errors.New("session not found")
	ErrEmptySteps            = errors.New("sequence has no steps")
	ErrInvalidMaxAttempts    = errors.New("max_attempts must be at least 1")
	ErrFallbackSameAsChannel = errors.New("fallback_channel must differ from channel")
	ErrNegativeDelay         = errors.New("delay_offset must not be negative")
	ErrMissingSequenceID     = errors.New("sequence id is required")
	ErrHintsChannelMismatch  = errors.New("hints channel does not match action channel")
	ErrUnknownHintsEnvelope  = errors.New("unknown hints envelope")
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
