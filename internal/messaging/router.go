package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/clock"
	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/BTreeMap/CadencePipe/internal/outcome"
)

// SkipReasonUnconfigured is recorded on actions whose channel has no transport.
const SkipReasonUnconfigured = "transport_unconfigured"

// Store is the persistence Router needs after a dispatch.
type Store interface {
	MarkActionSent(id string, sentAt time.Time, attempts int, metadata map[string]string) error
	MarkActionSkipped(id, reason string, metadata map[string]string) error
}

// Router picks the dispatcher for an action's channel and applies the success side effects:
// the action is marked sent, an activity is recorded and a sent outcome is emitted.
type Router struct {
	dispatchers map[models.Channel]Dispatcher
	store       Store
	sink        outcome.Sink
	activities  *outcome.ActivityLog
	clock       clock.Clock
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithDispatcher registers d for channel c.
func WithDispatcher(c models.Channel, d Dispatcher) RouterOption {
	return func(r *Router) { r.dispatchers[c] = d }
}

// WithOutcomeSink sets where outcomes are emitted.
func WithOutcomeSink(s outcome.Sink) RouterOption {
	return func(r *Router) { r.sink = s }
}

// WithActivityLog sets the activity log.
func WithActivityLog(l *outcome.ActivityLog) RouterOption {
	return func(r *Router) { r.activities = l }
}

// WithClock overrides the clock used for sent_at.
func WithClock(c clock.Clock) RouterOption {
	return func(r *Router) { r.clock = c }
}

// NewRouter creates a router over st.
func NewRouter(st Store, opts ...RouterOption) *Router {
	r := &Router{
		dispatchers: make(map[models.Channel]Dispatcher),
		store:       st,
		clock:       clock.System{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch sends a. Failed results are returned untouched for the retry controller. The error
// return reports store failures only.
func (r *Router) Dispatch(ctx context.Context, a *models.Action, lead *models.Lead) (models.DispatchResult, error) {
	d, ok := r.dispatchers[a.Channel]
	var res models.DispatchResult
	if !ok || d == nil {
		res = models.SkippedUnconfigured()
	} else {
		res = d.Dispatch(ctx, a, lead)
	}

	switch res.Outcome {
	case models.DispatchSent:
		return res, r.markSent(ctx, a, res)
	case models.DispatchSkippedUnconfigured:
		return res, r.markSkipped(ctx, a)
	default:
		slog.Debug("Router.Dispatch: dispatch failed", "actionID", a.ID, "channel", a.Channel, "retryable", res.Retryable, "error", res.Err)
		return res, nil
	}
}

func (r *Router) markSent(ctx context.Context, a *models.Action, res models.DispatchResult) error {
	now := r.clock.Now()
	attempts := a.AttemptsMade + 1
	for k, v := range res.ProviderPayload {
		if v != "" {
			a.SetMeta(k, v)
		}
	}
	if err := r.store.MarkActionSent(a.ID, now, attempts, a.Metadata); err != nil {
		return fmt.Errorf("mark action %s sent: %w", a.ID, err)
	}
	a.Status = models.ActionStatusSent
	a.AttemptsMade = attempts
	a.SentAt = &now

	slog.Info("Router.Dispatch: action sent", "actionID", a.ID, "leadID", a.LeadID, "campaignID", a.CampaignID, "channel", a.Channel)
	r.activities.Record(a.LeadID, models.ActivityOutreachSent, sentSubject(a), map[string]string{
		"action_id": a.ID,
		"channel":   string(a.Channel),
	})
	outcome.Emit(ctx, r.sink, models.NewOutcome(a, models.OutcomeSent, now, res.ProviderPayload))
	return nil
}

func (r *Router) markSkipped(ctx context.Context, a *models.Action) error {
	now := r.clock.Now()
	a.SetMeta(models.MetaSkipReason, SkipReasonUnconfigured)
	if err := r.store.MarkActionSkipped(a.ID, SkipReasonUnconfigured, a.Metadata); err != nil {
		return fmt.Errorf("mark action %s skipped: %w", a.ID, err)
	}
	a.Status = models.ActionStatusSkipped

	slog.Warn("Router.Dispatch: no transport configured, action skipped", "actionID", a.ID, "channel", a.Channel)
	r.activities.Record(a.LeadID, models.ActivitySystemNote, fmt.Sprintf("%s not sent: no %s transport configured", a.Channel, a.Channel), map[string]string{
		"action_id": a.ID,
	})
	outcome.Emit(ctx, r.sink, models.NewOutcome(a, models.OutcomeSkippedUnconfigured, now, nil))
	return nil
}

func sentSubject(a *models.Action) string {
	switch a.Channel {
	case models.ChannelEmail:
		return "Email sent: " + a.Subject
	case models.ChannelVoice:
		return "Voice call placed"
	default:
		return "SMS sent"
	}
}
