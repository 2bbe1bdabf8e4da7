package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/clock"
	"github.com/BTreeMap/CadencePipe/internal/enrollment"
	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/BTreeMap/CadencePipe/internal/outcome"
	"github.com/BTreeMap/CadencePipe/internal/store"
)

// No-show defaults.
const (
	DefaultNoShowInterval  = 5 * time.Minute
	DefaultNoShowGrace     = 30 * time.Minute
	DefaultNoShowBatchSize = 100
)

// NoShowConfig configures the detector.
type NoShowConfig struct {
	Interval time.Duration
	Grace    time.Duration
	// RecoverySequenceID is the sequence no-show leads are enrolled in. Empty disables enrollment.
	RecoverySequenceID string
	BatchSize          int
}

// SessionStore is the persistence the detector uses.
type SessionStore interface {
	ListOverdueSessions(before time.Time, limit int) ([]models.BookedSession, error)
	MarkSessionNoShow(id string, now time.Time) (bool, error)
	UpdateSessionStatus(id string, status models.SessionStatus) error
	CancelPendingActions(scope store.CancelScope) (int, error)
}

// NoShowReport summarizes one detector tick.
type NoShowReport struct {
	Found    int
	Marked   int
	Enrolled int
	Errors   int
}

// NoShowDetector turns missed booked sessions into recovery enrollments.
type NoShowDetector struct {
	cfg        NoShowConfig
	store      SessionStore
	enroller   enrollment.Enroller
	activities *outcome.ActivityLog
	clock      clock.Clock
}

// NewNoShowDetector creates a detector. Zero config fields take the defaults.
func NewNoShowDetector(cfg NoShowConfig, st SessionStore, enroller enrollment.Enroller, activities *outcome.ActivityLog, clk clock.Clock) *NoShowDetector {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultNoShowInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultNoShowGrace
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultNoShowBatchSize
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &NoShowDetector{cfg: cfg, store: st, enroller: enroller, activities: activities, clock: clk}
}

// Run ticks until ctx is done.
func (d *NoShowDetector) Run(ctx context.Context) error {
	slog.Info("NoShowDetector.Run: starting", "interval", d.cfg.Interval, "grace", d.cfg.Grace, "recoverySequence", d.cfg.RecoverySequenceID)
	ticker := d.clock.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			d.Tick(ctx)
		}
	}
}

// Tick processes every overdue scheduled session once. Each session is independent.
func (d *NoShowDetector) Tick(ctx context.Context) NoShowReport {
	var report NoShowReport
	now := d.clock.Now()
	sessions, err := d.store.ListOverdueSessions(now.Add(-d.cfg.Grace), d.cfg.BatchSize)
	if err != nil {
		slog.Error("NoShowDetector.Tick: failed to list overdue sessions", "error", err)
		report.Errors++
		return report
	}
	report.Found = len(sessions)

	for _, bs := range sessions {
		if ctx.Err() != nil {
			break
		}
		marked, enrolled, err := d.handleSafely(ctx, bs, now)
		if marked {
			report.Marked++
		}
		if enrolled {
			report.Enrolled++
		}
		if err != nil {
			report.Errors++
			slog.Error("NoShowDetector.Tick: session not fully processed", "sessionID", bs.ID, "leadID", bs.LeadID, "error", err)
		}
	}
	if report.Found > 0 {
		slog.Info("NoShowDetector.Tick: done", "found", report.Found, "marked", report.Marked, "enrolled", report.Enrolled, "errors", report.Errors)
	}
	return report
}

func (d *NoShowDetector) handleSafely(ctx context.Context, bs models.BookedSession, now time.Time) (marked, enrolled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	marked, err = d.store.MarkSessionNoShow(bs.ID, now)
	if err != nil || !marked {
		return false, false, err
	}

	cancelled, enrolled, err := d.recoverLead(ctx, bs)
	if err != nil {
		// Back to scheduled so the next tick retries the whole session.
		if rerr := d.store.UpdateSessionStatus(bs.ID, models.SessionScheduled); rerr != nil {
			return true, false, errors.Join(err, fmt.Errorf("revert session to scheduled: %w", rerr))
		}
		return false, false, err
	}

	d.activities.Record(bs.LeadID, models.ActivityNoShow,
		fmt.Sprintf("Missed booked session scheduled for %s", bs.ScheduledAt.UTC().Format(time.RFC3339)),
		map[string]string{"session_id": bs.ID, "cancelled_actions": fmt.Sprint(cancelled)})
	return true, enrolled, nil
}

// recoverLead cancels the lead's pending actions and enrolls it in the recovery sequence.
func (d *NoShowDetector) recoverLead(ctx context.Context, bs models.BookedSession) (cancelled int, enrolled bool, err error) {
	cancelled, err = d.store.CancelPendingActions(store.CancelScope{LeadID: bs.LeadID})
	if err != nil {
		return 0, false, fmt.Errorf("cancel pending actions: %w", err)
	}
	if d.cfg.RecoverySequenceID == "" {
		slog.Warn("NoShowDetector: no recovery sequence configured, lead not re-enrolled", "sessionID", bs.ID, "leadID", bs.LeadID)
		return cancelled, false, nil
	}
	_, err = d.enroller.Enroll(ctx, enrollment.Request{
		LeadID:     bs.LeadID,
		SequenceID: d.cfg.RecoverySequenceID,
		CampaignID: bs.CampaignID,
	})
	if err != nil {
		return cancelled, false, fmt.Errorf("enroll in recovery sequence: %w", err)
	}
	slog.Info("NoShowDetector: lead enrolled in recovery sequence", "sessionID", bs.ID, "leadID", bs.LeadID, "sequenceID", d.cfg.RecoverySequenceID)
	return cancelled, true, nil
}
