// Package content resolves the final subject and body of an action at dispatch time.
//
// Template content is rendered at enrollment. When an action carries generation instructions the
// resolver asks a Generator for fresh content and keeps the template as a fallback.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/BTreeMap/CadencePipe/internal/tone"
)

// HistoryLimit is how many recent activity records are summarized for generation.
const HistoryLimit = 5

// Settings keys read for generation context.
const (
	SettingCampaignContext = "campaign_context"
	SettingCohortContext   = "cohort_context"
)

// GenerationRequest is everything a generator may use.
type GenerationRequest struct {
	Channel         models.Channel
	Instructions    string
	Lead            models.Lead
	History         []string
	CampaignContext string
	CohortContext   string
	Goal            string
	ToneTags        []string
	ToneGuide       string
}

// GenerationResult is the generated content. Subject is only meaningful for email.
type GenerationResult struct {
	Subject    string
	Body       string
	TokensUsed int
}

// Generator produces content. It returns models.ErrGenerationUnavailable when unconfigured.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
}

// Store is the persistence the resolver needs.
type Store interface {
	UpdateActionContent(id, subject, body string, source models.ContentSource, tokens int, metadata map[string]string) error
	ListRecentActivities(leadID string, limit int) ([]models.Activity, error)
	GetCampaignSettings(campaignID string) (map[string]string, error)
}

// Resolver fills in generated content for actions that ask for it.
type Resolver struct {
	store Store
	gen   Generator
}

// NewResolver creates a resolver. gen may be nil, in which case every generation attempt
// fails with ErrGenerationUnavailable and template content is used when present.
func NewResolver(st Store, gen Generator) *Resolver {
	return &Resolver{store: st, gen: gen}
}

// Resolve updates a in place. The returned ContentResult carries content failures, which are
// routed to the retry controller; the error return is reserved for store failures.
func (r *Resolver) Resolve(ctx context.Context, a *models.Action, lead *models.Lead) (models.ContentResult, error) {
	if !a.WantsGeneration() {
		return models.ContentResult{}, nil
	}

	res, genErr := r.generate(ctx, a, lead)
	if genErr == nil && strings.TrimSpace(res.Body) == "" {
		genErr = errors.New("generator returned empty body")
	}

	if genErr != nil {
		if !a.HasFallbackContent() {
			slog.Warn("Resolver.Resolve: generation failed with no fallback content", "actionID", a.ID, "channel", a.Channel, "error", genErr)
			return models.ContentResult{Err: fmt.Errorf("%w: %v", models.ErrContentUnavailable, genErr)}, nil
		}
		slog.Info("Resolver.Resolve: generation failed, using template content", "actionID", a.ID, "channel", a.Channel, "error", genErr)
		a.SetMeta(models.MetaGenerationError, genErr.Error())
		if err := r.store.UpdateActionContent(a.ID, a.Subject, a.Body, a.ContentSource, a.TokensUsed, a.Metadata); err != nil {
			return models.ContentResult{}, err
		}
		return models.ContentResult{FellBack: true}, nil
	}

	if res.Subject != "" && a.Channel == models.ChannelEmail {
		a.Subject = res.Subject
	}
	a.Body = res.Body
	a.ContentSource = models.ContentSourceGenerated
	a.TokensUsed = res.TokensUsed
	delete(a.Metadata, models.MetaGenerationError)
	if err := r.store.UpdateActionContent(a.ID, a.Subject, a.Body, a.ContentSource, a.TokensUsed, a.Metadata); err != nil {
		return models.ContentResult{}, err
	}
	slog.Debug("Resolver.Resolve: content generated", "actionID", a.ID, "channel", a.Channel, "tokens", res.TokensUsed)
	return models.ContentResult{Generated: true}, nil
}

func (r *Resolver) generate(ctx context.Context, a *models.Action, lead *models.Lead) (GenerationResult, error) {
	if r.gen == nil {
		return GenerationResult{}, models.ErrGenerationUnavailable
	}
	req, err := r.buildRequest(a, lead)
	if err != nil {
		return GenerationResult{}, err
	}
	return r.gen.Generate(ctx, req)
}

func (r *Resolver) buildRequest(a *models.Action, lead *models.Lead) (GenerationRequest, error) {
	req := GenerationRequest{
		Channel:      a.Channel,
		Instructions: a.Instructions,
	}
	if lead != nil {
		req.Lead = *lead
	}
	if a.Hints != nil {
		req.Goal = a.Hints.StepGoal()
		req.ToneTags = tone.ParseTags(a.Hints.ToneTags())
		req.ToneGuide = tone.BuildToneGuide(req.ToneTags, a.Channel)
	}

	activities, err := r.store.ListRecentActivities(a.LeadID, HistoryLimit)
	if err != nil {
		return req, fmt.Errorf("load history: %w", err)
	}
	req.History = SummarizeHistory(activities)

	if a.CampaignID != "" {
		settings, err := r.store.GetCampaignSettings(a.CampaignID)
		if err != nil {
			return req, fmt.Errorf("load campaign settings: %w", err)
		}
		req.CampaignContext = settings[SettingCampaignContext]
		req.CohortContext = cohortContext(req.Lead.Cohort, settings[SettingCohortContext])
	} else {
		req.CohortContext = cohortContext(req.Lead.Cohort, "")
	}
	return req, nil
}

// SummarizeHistory renders activity records, newest first, as one line each.
func SummarizeHistory(activities []models.Activity) []string {
	out := make([]string, 0, len(activities))
	for _, act := range activities {
		out = append(out, fmt.Sprintf("%s %s: %s", act.CreatedAt.Format("2006-01-02"), act.Type, act.Subject))
	}
	return out
}

func cohortContext(cohort, setting string) string {
	switch {
	case cohort != "" && setting != "":
		return "Cohort " + cohort + ". " + setting
	case cohort != "":
		return "Cohort " + cohort + "."
	default:
		return setting
	}
}
