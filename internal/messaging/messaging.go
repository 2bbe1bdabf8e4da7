// Package messaging implements the channel dispatchers and the provider interfaces they send through.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/BTreeMap/CadencePipe/internal/models"
)

// Dispatcher sends one content-resolved action on its channel.
// Implementations only talk to the provider; persistence is handled by Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, a *models.Action, lead *models.Lead) models.DispatchResult
}

// EmailTransport delivers one email.
type EmailTransport interface {
	Send(ctx context.Context, to, subject, html string, headers map[string]string) error
}

// CallContext is the structured context handed to the voice agent.
type CallContext struct {
	LeadName   string  `json:"lead_name,omitempty"`
	Company    string  `json:"company,omitempty"`
	Title      string  `json:"title,omitempty"`
	Industry   string  `json:"industry,omitempty"`
	Score      float64 `json:"score,omitempty"`
	Interest   string  `json:"interest,omitempty"`
	Cohort     string  `json:"cohort,omitempty"`
	StepGoal   string  `json:"step_goal,omitempty"`
	Tone       string  `json:"tone,omitempty"`
	CampaignID string  `json:"campaign_id,omitempty"`
}

// CallRequest is one outbound call. Prompt carries generated agent instructions and is only
// meant for providers that run a conversational agent. Script is the template-hydrated text a
// text-to-speech provider may read to the lead; it is kept alongside a generated Prompt when the
// step has a voice script.
type CallRequest struct {
	To           string
	AgentProfile string
	Context      CallContext
	Prompt       string
	Script       string
}

// CallResult is what the voice provider reports for an accepted call.
type CallResult struct {
	ProviderID string
	Status     string
}

// VoiceProvider places outbound calls.
type VoiceProvider interface {
	Call(ctx context.Context, req CallRequest) (CallResult, error)
}

// SMSProvider sends text messages and returns the provider message id.
type SMSProvider interface {
	Send(ctx context.Context, to, text string) (string, error)
}

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// NormalizePhone strips formatting from a phone number, keeping a leading "+".
// It fails with models.ErrMissingDestination when fewer than 6 digits remain.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", models.ErrMissingDestination
	}
	digits := phoneNumberRegex.ReplaceAllString(raw, "")
	if len(digits) < 6 {
		return "", fmt.Errorf("%w: invalid phone number %q", models.ErrMissingDestination, raw)
	}
	if strings.HasPrefix(raw, "+") {
		return "+" + digits, nil
	}
	return digits, nil
}

// classify turns a provider error into a dispatch result. Destination problems and calls with
// nothing to speak cannot be fixed by waiting; everything else, provider rejections included, is
// retryable.
func classify(err error) models.DispatchResult {
	if errors.Is(err, models.ErrMissingDestination) || errors.Is(err, models.ErrNoCallScript) {
		return models.Permanent(err)
	}
	return models.Retryable(err)
}
