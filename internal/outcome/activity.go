package outcome

import (
	"log/slog"

	"github.com/BTreeMap/CadencePipe/internal/clock"
	"github.com/BTreeMap/CadencePipe/internal/models"
)

// ActivityRecorder is the store method ActivityLog writes through.
type ActivityRecorder interface {
	RecordActivity(a models.Activity) error
}

// ActivityLog is the fire-and-forget activity log.
type ActivityLog struct {
	repo  ActivityRecorder
	clock clock.Clock
}

// NewActivityLog creates an activity log. A nil clock uses the system clock.
func NewActivityLog(repo ActivityRecorder, clk clock.Clock) *ActivityLog {
	if clk == nil {
		clk = clock.System{}
	}
	return &ActivityLog{repo: repo, clock: clk}
}

// Record writes an activity entry. Failures are logged and swallowed.
func (l *ActivityLog) Record(leadID string, typ models.ActivityType, subject string, metadata map[string]string) {
	if l == nil || l.repo == nil {
		return
	}
	err := l.repo.RecordActivity(models.Activity{
		LeadID:    leadID,
		Type:      typ,
		Subject:   subject,
		Metadata:  metadata,
		CreatedAt: l.clock.Now(),
	})
	if err != nil {
		slog.Warn("ActivityLog.Record: failed to record activity", "leadID", leadID, "type", typ, "error", err)
	}
}
