// Package telemetry reports terminal action failures to Sentry.
package telemetry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/getsentry/sentry-go"
)

// Reporter receives terminal failures and cycle breadcrumbs.
type Reporter interface {
	ReportFailure(a *models.Action, err error, stage string)
	Breadcrumb(category string, data map[string]interface{})
}

// Init configures the global Sentry client. With an empty DSN it returns a NopReporter.
// The returned flush function should be deferred by the caller.
func Init(dsn, environment, release string) (Reporter, func(), error) {
	if dsn == "" {
		return NopReporter{}, func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return NopReporter{}, func() {}, fmt.Errorf("sentry init: %w", err)
	}
	slog.Info("telemetry.Init: sentry enabled", "environment", environment)
	return SentryReporter{}, func() { sentry.Flush(2 * time.Second) }, nil
}

// SentryReporter sends events through the global Sentry hub.
type SentryReporter struct{}

func (SentryReporter) ReportFailure(a *models.Action, err error, stage string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("channel", string(a.Channel))
		scope.SetTag("stage", stage)
		if a.CampaignID != "" {
			scope.SetTag("campaign_id", a.CampaignID)
		}
		scope.SetExtra("action_id", a.ID)
		scope.SetExtra("lead_id", a.LeadID)
		scope.SetExtra("sequence_id", a.SequenceID)
		scope.SetExtra("step_index", a.StepIndex)
		scope.SetExtra("attempts_made", a.AttemptsMade)
		sentry.CaptureException(err)
	})
}

func (SentryReporter) Breadcrumb(category string, data map[string]interface{}) {
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "info",
		Category:  category,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// NopReporter discards everything.
type NopReporter struct{}

func (NopReporter) ReportFailure(*models.Action, error, string) {}
func (NopReporter) Breadcrumb(string, map[string]interface{})   {}

var (
	_ Reporter = SentryReporter{}
	_ Reporter = NopReporter{}
)
