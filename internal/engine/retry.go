package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/clock"
	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/BTreeMap/CadencePipe/internal/outcome"
	"github.com/BTreeMap/CadencePipe/internal/telemetry"
	"github.com/BTreeMap/CadencePipe/internal/util"
)

// Retry timing. The backoff is constant regardless of attempt number.
const (
	DefaultRetryBackoff  = 5 * time.Minute
	DefaultFallbackDelay = time.Minute
)

// RetryStore is the persistence the retry controller writes to.
type RetryStore interface {
	RescheduleAction(id string, attempts int, dueAt time.Time, lastErr string) error
	FailAction(id string, attempts int, lastErr string, metadata map[string]string) error
	FailActionWithFallback(id string, attempts int, lastErr string, metadata map[string]string, fallback models.Action) error
}

// DecisionKind is what the retry controller did with a failure.
type DecisionKind int

const (
	// DecisionRetry left the action pending with a later due_at.
	DecisionRetry DecisionKind = iota
	// DecisionFallback failed the action and created a sibling on the fallback channel.
	DecisionFallback
	// DecisionFailed failed the action with no sibling.
	DecisionFailed
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionRetry:
		return "retry"
	case DecisionFallback:
		return "fallback"
	default:
		return "failed"
	}
}

// Decision describes the transition applied to a failed action.
type Decision struct {
	Kind     DecisionKind
	Attempts int
	// DueAt is set for retries.
	DueAt time.Time
	// Sibling is set for fallbacks.
	Sibling *models.Action
}

// RetryController applies bounded retries and channel fallback to failed actions.
type RetryController struct {
	store         RetryStore
	sink          outcome.Sink
	activities    *outcome.ActivityLog
	reporter      telemetry.Reporter
	clock         clock.Clock
	backoff       time.Duration
	fallbackDelay time.Duration
}

// RetryOption configures a RetryController.
type RetryOption func(*RetryController)

// WithRetryBackoff overrides the constant retry delay. Non-positive values keep the default.
func WithRetryBackoff(d time.Duration) RetryOption {
	return func(r *RetryController) {
		if d > 0 {
			r.backoff = d
		}
	}
}

// WithFallbackDelay overrides the delay before a fallback sibling becomes due. Non-positive
// values keep the default.
func WithFallbackDelay(d time.Duration) RetryOption {
	return func(r *RetryController) {
		if d > 0 {
			r.fallbackDelay = d
		}
	}
}

// WithRetrySink sets the outcome sink.
func WithRetrySink(s outcome.Sink) RetryOption {
	return func(r *RetryController) { r.sink = s }
}

// WithRetryActivityLog sets the activity log.
func WithRetryActivityLog(l *outcome.ActivityLog) RetryOption {
	return func(r *RetryController) { r.activities = l }
}

// WithReporter sets where terminal failures are reported.
func WithReporter(rep telemetry.Reporter) RetryOption {
	return func(r *RetryController) { r.reporter = rep }
}

// NewRetryController creates a controller with the default timings.
func NewRetryController(st RetryStore, clk clock.Clock, opts ...RetryOption) *RetryController {
	if clk == nil {
		clk = clock.System{}
	}
	r := &RetryController{
		store:         st,
		clock:         clk,
		reporter:      telemetry.NopReporter{},
		backoff:       DefaultRetryBackoff,
		fallbackDelay: DefaultFallbackDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle records one failed attempt of a. Store errors are returned unchanged; the action is
// then left as it was and picked up again by a later cycle.
func (r *RetryController) Handle(ctx context.Context, a *models.Action, lead *models.Lead, f models.Failure) (Decision, error) {
	now := r.clock.Now()
	next := a.AttemptsMade + 1
	errText := "unknown error"
	if f.Err != nil {
		errText = f.Err.Error()
	}

	switch {
	case f.Retryable && next < a.MaxAttempts:
		return r.reschedule(ctx, a, next, now, errText, f)
	case a.FallbackChannel != "" && a.FallbackChannel != a.Channel:
		return r.fallback(ctx, a, lead, next, now, errText, f)
	default:
		return r.fail(ctx, a, next, now, errText, f)
	}
}

func (r *RetryController) reschedule(ctx context.Context, a *models.Action, next int, now time.Time, errText string, f models.Failure) (Decision, error) {
	due := now.Add(r.backoff)
	if err := r.store.RescheduleAction(a.ID, next, due, errText); err != nil {
		return Decision{}, fmt.Errorf("reschedule action %s: %w", a.ID, err)
	}
	a.AttemptsMade = next
	a.DueAt = due
	a.LastError = errText

	slog.Info("RetryController.Handle: retry scheduled", "actionID", a.ID, "leadID", a.LeadID, "channel", a.Channel,
		"attempts", next, "maxAttempts", a.MaxAttempts, "dueAt", due, "stage", f.Stage, "error", errText)
	outcome.Emit(ctx, r.sink, models.NewOutcome(a, models.OutcomeRetryScheduled, now, map[string]string{
		"attempt": strconv.Itoa(next),
		"error":   errText,
		"stage":   f.Stage,
	}))
	return Decision{Kind: DecisionRetry, Attempts: next, DueAt: due}, nil
}

func (r *RetryController) fallback(ctx context.Context, a *models.Action, lead *models.Lead, next int, now time.Time, errText string, f models.Failure) (Decision, error) {
	sib := Sibling(a, lead, now.Add(r.fallbackDelay), now)
	meta := a.CloneMetadata()
	meta[models.MetaFallbackChannel] = string(a.FallbackChannel)
	meta[models.MetaFailureRetryable] = strconv.FormatBool(f.Retryable)
	if err := r.store.FailActionWithFallback(a.ID, next, errText, meta, sib); err != nil {
		return Decision{}, fmt.Errorf("fail action %s with fallback: %w", a.ID, err)
	}
	a.Status = models.ActionStatusFailed
	a.AttemptsMade = next
	a.LastError = errText
	a.Metadata = meta

	slog.Warn("RetryController.Handle: attempts exhausted, fallback created", "actionID", a.ID, "leadID", a.LeadID,
		"channel", a.Channel, "fallbackChannel", sib.Channel, "fallbackID", sib.ID, "error", errText)
	r.activities.Record(a.LeadID, models.ActivityFallback,
		fmt.Sprintf("%s outreach failed after %d attempt(s), falling back to %s", a.Channel, next, sib.Channel),
		map[string]string{"action_id": a.ID, "fallback_action_id": sib.ID, "error": errText})
	outcome.Emit(ctx, r.sink, models.NewOutcome(a, models.OutcomeFallbackCreated, now, map[string]string{
		"fallback_action_id": sib.ID,
		"fallback_channel":   string(sib.Channel),
		"error":              errText,
	}))
	return Decision{Kind: DecisionFallback, Attempts: next, Sibling: &sib}, nil
}

func (r *RetryController) fail(ctx context.Context, a *models.Action, next int, now time.Time, errText string, f models.Failure) (Decision, error) {
	meta := a.CloneMetadata()
	meta[models.MetaFailureRetryable] = strconv.FormatBool(f.Retryable)
	if err := r.store.FailAction(a.ID, next, errText, meta); err != nil {
		return Decision{}, fmt.Errorf("fail action %s: %w", a.ID, err)
	}
	a.Status = models.ActionStatusFailed
	a.AttemptsMade = next
	a.LastError = errText
	a.Metadata = meta

	slog.Warn("RetryController.Handle: action failed", "actionID", a.ID, "leadID", a.LeadID, "channel", a.Channel,
		"attempts", next, "stage", f.Stage, "error", errText)
	r.activities.Record(a.LeadID, models.ActivitySystemNote,
		fmt.Sprintf("%s outreach failed after %d attempt(s): %s", a.Channel, next, errText),
		map[string]string{"action_id": a.ID, "stage": f.Stage})
	outcome.Emit(ctx, r.sink, models.NewOutcome(a, models.OutcomeFailed, now, map[string]string{
		"error": errText,
		"stage": f.Stage,
	}))
	r.reporter.ReportFailure(a, f.Err, f.Stage)
	return Decision{Kind: DecisionFailed, Attempts: next}, nil
}

// Sibling builds the single fallback action for a. It never carries a fallback of its own.
func Sibling(a *models.Action, lead *models.Lead, due, now time.Time) models.Action {
	var dest string
	if lead != nil {
		dest = lead.DestinationFor(a.FallbackChannel)
	}
	return models.Action{
		ID:            util.GenerateActionID(),
		LeadID:        a.LeadID,
		SequenceID:    a.SequenceID,
		StepIndex:     a.StepIndex,
		CampaignID:    a.CampaignID,
		Channel:       a.FallbackChannel,
		Destination:   dest,
		Status:        models.ActionStatusPending,
		DueAt:         due,
		AttemptsMade:  0,
		MaxAttempts:   1,
		Subject:       a.Subject,
		Body:          a.Body,
		Instructions:  a.Instructions,
		ContentSource: models.ContentSourceTemplate,
		Hints:         models.ConvertHints(a.Hints, a.FallbackChannel),
		Metadata:      map[string]string{models.MetaFallbackFrom: a.ID},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
