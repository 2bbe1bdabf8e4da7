package messaging

import (
	"context"

	"github.com/BTreeMap/CadencePipe/internal/content"
	"github.com/BTreeMap/CadencePipe/internal/models"
)

// VoiceDispatcher places voice actions through a VoiceProvider.
type VoiceDispatcher struct {
	provider     VoiceProvider
	defaultAgent string
}

// NewVoiceDispatcher creates a voice dispatcher. defaultAgent is used when the step names no
// agent profile. A nil provider makes every dispatch a skipped_unconfigured result.
func NewVoiceDispatcher(p VoiceProvider, defaultAgent string) *VoiceDispatcher {
	return &VoiceDispatcher{provider: p, defaultAgent: defaultAgent}
}

func (d *VoiceDispatcher) Dispatch(ctx context.Context, a *models.Action, lead *models.Lead) models.DispatchResult {
	if d.provider == nil {
		return models.SkippedUnconfigured()
	}
	to, err := NormalizePhone(a.Destination)
	if err != nil {
		return models.Permanent(err)
	}

	req := BuildCallRequest(a, lead, d.defaultAgent)
	req.To = to
	res, err := d.provider.Call(ctx, req)
	if err != nil {
		return classify(err)
	}
	return models.Sent(map[string]string{
		models.MetaProviderID:     res.ProviderID,
		models.MetaProviderStatus: res.Status,
	})
}

// BuildCallRequest assembles the call for a, without the normalized destination.
func BuildCallRequest(a *models.Action, lead *models.Lead, defaultAgent string) CallRequest {
	req := CallRequest{
		To:           a.Destination,
		AgentProfile: defaultAgent,
		Context:      CallContext{CampaignID: a.CampaignID},
	}
	if lead != nil {
		req.Context.LeadName = lead.Name
		req.Context.Company = lead.Company
		req.Context.Title = lead.Title
		req.Context.Industry = lead.Industry
		req.Context.Score = lead.Score
		req.Context.Interest = lead.Interest
		req.Context.Cohort = lead.Cohort
	}
	if a.Hints != nil {
		req.Context.StepGoal = a.Hints.StepGoal()
		req.Context.Tone = a.Hints.ToneTags()
		if vh, ok := a.Hints.(models.VoiceHints); ok && vh.AgentProfile != "" {
			req.AgentProfile = vh.AgentProfile
		}
	}
	if a.ContentSource == models.ContentSourceGenerated {
		req.Prompt = a.Body
		if vh, ok := a.Hints.(models.VoiceHints); ok {
			req.Script = content.Render(vh.Script, lead)
		}
	} else {
		req.Script = a.Body
	}
	return req
}
