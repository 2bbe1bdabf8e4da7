// Package enrollment materializes a sequence's steps into pending actions for one lead.
package enrollment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/clock"
	"github.com/BTreeMap/CadencePipe/internal/content"
	"github.com/BTreeMap/CadencePipe/internal/directory"
	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/BTreeMap/CadencePipe/internal/store"
	"github.com/BTreeMap/CadencePipe/internal/util"
)

// Store is the subset of the action store enrollment writes to.
type Store interface {
	GetSequence(id string) (*models.Sequence, error)
	CancelPendingActions(scope store.CancelScope) (int, error)
	InsertActions(actions []models.Action) error
}

// Request identifies who to enroll in what.
type Request struct {
	LeadID     string `json:"lead_id" validate:"required"`
	SequenceID string `json:"sequence_id" validate:"required"`
	CampaignID string `json:"campaign_id,omitempty"`
}

// Enroller is implemented by Service; the no-show detector and the API depend on it.
type Enroller interface {
	Enroll(ctx context.Context, req Request) ([]models.Action, error)
}

// Service creates actions for enrollments.
type Service struct {
	store Store
	leads directory.Directory
	clock clock.Clock
}

// NewService creates an enrollment service.
func NewService(st Store, leads directory.Directory, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{store: st, leads: leads, clock: clk}
}

// Enroll cancels the lead's pending actions in scope and inserts one pending action per step,
// returned in step order. It never dispatches.
func (s *Service) Enroll(ctx context.Context, req Request) ([]models.Action, error) {
	req.LeadID = strings.TrimSpace(req.LeadID)
	req.SequenceID = strings.TrimSpace(req.SequenceID)
	req.CampaignID = strings.TrimSpace(req.CampaignID)
	if err := util.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}

	seq, err := s.store.GetSequence(req.SequenceID)
	if err != nil {
		return nil, fmt.Errorf("load sequence %s: %w", req.SequenceID, err)
	}
	if seq == nil || !seq.Active {
		slog.Warn("Service.Enroll: sequence unavailable", "sequenceID", req.SequenceID, "leadID", req.LeadID)
		return nil, fmt.Errorf("%w: %s", models.ErrSequenceUnavailable, req.SequenceID)
	}

	lead, err := s.leads.GetLead(ctx, req.LeadID)
	if err != nil {
		return nil, err
	}

	scope := store.CancelScope{LeadID: req.LeadID}
	if req.CampaignID != "" {
		scope.CampaignID = req.CampaignID
		scope.SequenceID = req.SequenceID
	}
	cancelled, err := s.store.CancelPendingActions(scope)
	if err != nil {
		return nil, fmt.Errorf("cancel pending actions for lead %s: %w", req.LeadID, err)
	}

	now := s.clock.Now()
	actions := make([]models.Action, 0, len(seq.Steps))
	for i, step := range seq.Steps {
		actions = append(actions, buildAction(now, req, i, step, lead))
	}
	if err := s.store.InsertActions(actions); err != nil {
		return nil, fmt.Errorf("insert actions for lead %s: %w", req.LeadID, err)
	}

	slog.Info("Service.Enroll: lead enrolled", "leadID", req.LeadID, "sequenceID", req.SequenceID,
		"campaignID", req.CampaignID, "actions", len(actions), "cancelled", cancelled)
	return actions, nil
}

func buildAction(now time.Time, req Request, idx int, step models.Step, lead *models.Lead) models.Action {
	maxAttempts := step.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return models.Action{
		ID:              util.GenerateActionID(),
		LeadID:          req.LeadID,
		SequenceID:      req.SequenceID,
		StepIndex:       idx,
		CampaignID:      req.CampaignID,
		Channel:         step.Channel,
		Destination:     lead.DestinationFor(step.Channel),
		Status:          models.ActionStatusPending,
		DueAt:           now.Add(step.DelayOffset),
		AttemptsMade:    0,
		MaxAttempts:     maxAttempts,
		FallbackChannel: step.FallbackChannel,
		Subject:         content.Render(step.Subject, lead),
		Body:            content.Render(templateBody(step), lead),
		Instructions:    step.Instructions,
		ContentSource:   models.ContentSourceTemplate,
		Hints:           models.HintsForStep(step),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// templateBody picks the fallback body; voice steps fall back to their script.
func templateBody(step models.Step) string {
	if step.Body == "" && step.Channel == models.ChannelVoice {
		return step.VoiceScript
	}
	return step.Body
}
