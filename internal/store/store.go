// Package store provides storage backends for CadencePipe.
//
// It holds the Action Store together with the sequence, booked-session, activity, outcome and
// campaign-settings repositories. SQLite and PostgreSQL share one SQL implementation.
package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/clock"
	"github.com/BTreeMap/CadencePipe/internal/models"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
	// Clock stamps updated_at and created_at columns. Defaults to the wall clock.
	Clock clock.Clock
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path (or file: URI).
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithClock sets the clock used for row timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open picks the backend from the DSN and opens it.
func Open(dsn string, opts ...Option) (Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(append(opts, WithPostgresDSN(dsn))...)
	}
	return NewSQLiteStore(append(opts, WithSQLiteDSN(dsn))...)
}

// ActionFilter narrows ListActions. Empty fields match everything.
type ActionFilter struct {
	LeadID     string
	CampaignID string
	SequenceID string
	Status     models.ActionStatus
	Limit      int
}

// CancelScope selects which pending actions an enrollment cancels.
// With an empty CampaignID every pending action of the lead is cancelled; otherwise only the
// lead's pending actions in that campaign and sequence.
type CancelScope struct {
	LeadID     string
	CampaignID string
	SequenceID string
}

// ActionRepo is the durable table of scheduled sends.
type ActionRepo interface {
	// InsertActions writes all actions in a single transaction.
	InsertActions(actions []models.Action) error
	// GetAction returns nil, nil when the action does not exist.
	GetAction(id string) (*models.Action, error)
	ListActions(f ActionFilter) ([]models.Action, error)
	// ListDueActions returns pending, unclaimed (or lease-expired) actions with due_at <= now,
	// oldest first, bounded by limit.
	ListDueActions(now time.Time, limit int) ([]models.Action, error)
	// ClaimAction takes a lease on a pending action. It returns false when the action is no
	// longer pending or another owner holds a live lease.
	ClaimAction(id, owner string, until, now time.Time) (bool, error)
	ReleaseClaim(id, owner string) error
	// RequeueExpiredClaims clears leases that ended before now and reports how many.
	RequeueExpiredClaims(now time.Time) (int, error)

	// The following writes apply only while the action is pending. A write against an action
	// that left pending concurrently is a no-op.
	MarkActionSent(id string, sentAt time.Time, attempts int, metadata map[string]string) error
	RescheduleAction(id string, attempts int, dueAt time.Time, lastErr string) error
	FailAction(id string, attempts int, lastErr string, metadata map[string]string) error
	// FailActionWithFallback fails id and inserts fallback atomically; a no-op when id is not pending.
	FailActionWithFallback(id string, attempts int, lastErr string, metadata map[string]string, fallback models.Action) error
	MarkActionSkipped(id, reason string, metadata map[string]string) error
	UpdateActionContent(id, subject, body string, source models.ContentSource, tokens int, metadata map[string]string) error

	CancelPendingActions(scope CancelScope) (int, error)
	// CancelAction and PauseAction return ErrActionNotFound or ErrActionNotPending.
	CancelAction(id string) error
	PauseAction(id string) error
}

// SequenceRepo stores sequence definitions.
type SequenceRepo interface {
	UpsertSequence(seq models.Sequence) error
	// GetSequence returns nil, nil when the sequence does not exist.
	GetSequence(id string) (*models.Sequence, error)
	ListSequences() ([]models.Sequence, error)
}

// SessionRepo stores booked sessions.
type SessionRepo interface {
	CreateSession(s models.BookedSession) error
	GetSession(id string) (*models.BookedSession, error)
	// ListOverdueSessions returns scheduled sessions with scheduled_at < before.
	ListOverdueSessions(before time.Time, limit int) ([]models.BookedSession, error)
	// MarkSessionNoShow moves a scheduled session to no_show and reports whether it did.
	MarkSessionNoShow(id string, now time.Time) (bool, error)
	UpdateSessionStatus(id string, status models.SessionStatus) error
}

// ActivityRepo stores the lead activity log.
type ActivityRepo interface {
	RecordActivity(a models.Activity) error
	// ListRecentActivities returns the newest activity records first.
	ListRecentActivities(leadID string, limit int) ([]models.Activity, error)
}

// OutcomeRepo stores emitted outcome events.
type OutcomeRepo interface {
	RecordOutcome(o models.Outcome) error
	ListOutcomes(actionID string) ([]models.Outcome, error)
}

// CampaignSettingsRepo stores flat per-campaign key/value settings.
type CampaignSettingsRepo interface {
	GetCampaignSettings(campaignID string) (map[string]string, error)
	// SetCampaignSettings replaces every setting of the campaign.
	SetCampaignSettings(campaignID string, settings map[string]string) error
}

// Store is implemented by every backend.
type Store interface {
	ActionRepo
	SequenceRepo
	SessionRepo
	ActivityRepo
	OutcomeRepo
	CampaignSettingsRepo
	Close() error
}
