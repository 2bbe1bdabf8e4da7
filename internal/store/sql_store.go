package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/clock"
	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/BTreeMap/CadencePipe/internal/util"
)

// sqlStore is the database/sql implementation shared by the SQLite and Postgres backends.
// Queries are written with ? placeholders and rebound for Postgres.
type sqlStore struct {
	db       *sql.DB
	name     string
	postgres bool
	clock    clock.Clock
}

func newSQLStore(db *sql.DB, name string, postgres bool, cfg Opts) *sqlStore {
	c := cfg.Clock
	if c == nil {
		c = clock.System{}
	}
	return &sqlStore{db: db, name: name, postgres: postgres, clock: c}
}

func (s *sqlStore) now() time.Time { return s.clock.Now() }

func (s *sqlStore) q(query string) string {
	if s.postgres {
		return rebind(query)
	}
	return query
}

func (s *sqlStore) exec(query string, args ...interface{}) (int64, error) {
	res, err := s.db.Exec(s.q(query), args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug(s.name + ".Close: closing database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error(s.name+".Close: failed to close database", "error", err)
	}
	return err
}

// ---- actions ----

func (s *sqlStore) InsertActions(actions []models.Action) error {
	if len(actions) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert actions: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertActionsTx(tx, actions); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert actions: %w", err)
	}
	slog.Debug(s.name+".InsertActions: inserted", "count", len(actions), "leadID", actions[0].LeadID)
	return nil
}

func (s *sqlStore) insertActionsTx(tx *sql.Tx, actions []models.Action) error {
	stmt, err := tx.Prepare(s.q(`INSERT INTO actions (` + actionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare insert actions: %w", err)
	}
	defer stmt.Close()

	for i := range actions {
		a := &actions[i]
		hints, err := models.MarshalHints(a.Hints)
		if err != nil {
			return err
		}
		meta, err := encodeMetadata(a.Metadata)
		if err != nil {
			return err
		}
		source := a.ContentSource
		if source == "" {
			source = models.ContentSourceTemplate
		}
		var sentAt, claimedUntil interface{}
		if a.SentAt != nil {
			sentAt = utc(*a.SentAt)
		}
		if a.ClaimedUntil != nil {
			claimedUntil = utc(*a.ClaimedUntil)
		}
		_, err = stmt.Exec(
			a.ID, a.LeadID, a.SequenceID, a.StepIndex, nilIfEmpty(a.CampaignID), string(a.Channel), a.Destination,
			string(a.Status), utc(a.DueAt), a.AttemptsMade, a.MaxAttempts, nilIfEmpty(string(a.FallbackChannel)),
			nilIfEmpty(a.Subject), nilIfEmpty(a.Body), nilIfEmpty(a.Instructions), string(source), a.TokensUsed,
			nilIfEmpty(hints), nilIfEmpty(meta), nilIfEmpty(a.LastError), sentAt, nilIfEmpty(a.ClaimedBy), claimedUntil,
			utc(a.CreatedAt), utc(a.UpdatedAt),
		)
		if err != nil {
			slog.Error(s.name+".InsertActions: insert failed", "actionID", a.ID, "leadID", a.LeadID, "error", err)
			return fmt.Errorf("insert action %s: %w", a.ID, err)
		}
	}
	return nil
}

func (s *sqlStore) GetAction(id string) (*models.Action, error) {
	row := s.db.QueryRow(s.q(`SELECT `+actionColumns+` FROM actions WHERE id = ?`), id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get action failed: %w", err)
	}
	return &a, nil
}

func (s *sqlStore) ListActions(f ActionFilter) ([]models.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions WHERE 1 = 1`
	var args []interface{}
	if f.LeadID != "" {
		query += ` AND lead_id = ?`
		args = append(args, f.LeadID)
	}
	if f.CampaignID != "" {
		query += ` AND campaign_id = ?`
		args = append(args, f.CampaignID)
	}
	if f.SequenceID != "" {
		query += ` AND sequence_id = ?`
		args = append(args, f.SequenceID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY due_at ASC, step_index ASC, created_at ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.Query(s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list actions query failed: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

func (s *sqlStore) ListDueActions(now time.Time, limit int) ([]models.Action, error) {
	now = utc(now)
	rows, err := s.db.Query(s.q(`SELECT `+actionColumns+` FROM actions
		WHERE status = 'pending' AND due_at <= ?
		  AND (claimed_until IS NULL OR claimed_until <= ?)
		ORDER BY due_at ASC, id ASC LIMIT ?`), now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due actions query failed: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

func (s *sqlStore) ClaimAction(id, owner string, until, now time.Time) (bool, error) {
	n, err := s.exec(`UPDATE actions SET claimed_by = ?, claimed_until = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
		  AND (claimed_by IS NULL OR claimed_by = ? OR claimed_until IS NULL OR claimed_until <= ?)`,
		owner, utc(until), utc(now), id, owner, utc(now))
	if err != nil {
		return false, fmt.Errorf("claim action failed: %w", err)
	}
	return n == 1, nil
}

func (s *sqlStore) ReleaseClaim(id, owner string) error {
	_, err := s.exec(`UPDATE actions SET claimed_by = NULL, claimed_until = NULL WHERE id = ? AND claimed_by = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("release claim failed: %w", err)
	}
	return nil
}

func (s *sqlStore) RequeueExpiredClaims(now time.Time) (int, error) {
	n, err := s.exec(`UPDATE actions SET claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE claimed_until IS NOT NULL AND claimed_until < ?`, utc(now), utc(now))
	if err != nil {
		return 0, fmt.Errorf("requeue expired claims failed: %w", err)
	}
	if n > 0 {
		slog.Info(s.name+".RequeueExpiredClaims", "requeued", n)
	}
	return int(n), nil
}

// pendingWrite runs a status-guarded update and logs when the action already left pending.
func (s *sqlStore) pendingWrite(op, id, query string, args ...interface{}) error {
	n, err := s.exec(query, args...)
	if err != nil {
		slog.Error(s.name+"."+op+": update failed", "actionID", id, "error", err)
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if n == 0 {
		slog.Warn(s.name+"."+op+": action no longer pending, write skipped", "actionID", id)
	}
	return nil
}

func (s *sqlStore) MarkActionSent(id string, sentAt time.Time, attempts int, metadata map[string]string) error {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	return s.pendingWrite("MarkActionSent", id, `UPDATE actions
		SET status = 'sent', sent_at = ?, attempts_made = ?, metadata = ?, last_error = NULL,
		    claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		utc(sentAt), attempts, nilIfEmpty(meta), utc(sentAt), id)
}

func (s *sqlStore) RescheduleAction(id string, attempts int, dueAt time.Time, lastErr string) error {
	return s.pendingWrite("RescheduleAction", id, `UPDATE actions
		SET attempts_made = ?, due_at = ?, last_error = ?, claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		attempts, utc(dueAt), nilIfEmpty(lastErr), utc(s.now()), id)
}

func (s *sqlStore) FailAction(id string, attempts int, lastErr string, metadata map[string]string) error {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	return s.pendingWrite("FailAction", id, `UPDATE actions
		SET status = 'failed', attempts_made = ?, last_error = ?, metadata = ?,
		    claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		attempts, nilIfEmpty(lastErr), nilIfEmpty(meta), utc(s.now()), id)
}

// FailActionWithFallback fails id and inserts its fallback in one transaction. When id is no
// longer pending nothing is written.
func (s *sqlStore) FailActionWithFallback(id string, attempts int, lastErr string, metadata map[string]string, fallback models.Action) error {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin fail with fallback: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(s.q(`UPDATE actions
		SET status = 'failed', attempts_made = ?, last_error = ?, metadata = ?,
		    claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND status = 'pending'`),
		attempts, nilIfEmpty(lastErr), nilIfEmpty(meta), utc(s.now()), id)
	if err != nil {
		slog.Error(s.name+".FailActionWithFallback: update failed", "actionID", id, "error", err)
		return fmt.Errorf("FailActionWithFallback failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn(s.name+".FailActionWithFallback: action no longer pending, write skipped", "actionID", id)
		return nil
	}
	if err := s.insertActionsTx(tx, []models.Action{fallback}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fail with fallback: %w", err)
	}
	return nil
}

func (s *sqlStore) MarkActionSkipped(id, reason string, metadata map[string]string) error {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	return s.pendingWrite("MarkActionSkipped", id, `UPDATE actions
		SET status = 'skipped', last_error = ?, metadata = ?, claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		nilIfEmpty(reason), nilIfEmpty(meta), utc(s.now()), id)
}

func (s *sqlStore) UpdateActionContent(id, subject, body string, source models.ContentSource, tokens int, metadata map[string]string) error {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	return s.pendingWrite("UpdateActionContent", id, `UPDATE actions
		SET subject = ?, body = ?, content_source = ?, tokens_used = ?, metadata = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		nilIfEmpty(subject), nilIfEmpty(body), string(source), tokens, nilIfEmpty(meta), utc(s.now()), id)
}

func (s *sqlStore) CancelPendingActions(scope CancelScope) (int, error) {
	if scope.LeadID == "" {
		return 0, fmt.Errorf("cancel pending actions: lead id required")
	}
	query := `UPDATE actions SET status = 'cancelled', claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE lead_id = ? AND status = 'pending'`
	args := []interface{}{utc(s.now()), scope.LeadID}
	if scope.CampaignID != "" {
		query += ` AND campaign_id = ? AND sequence_id = ?`
		args = append(args, scope.CampaignID, scope.SequenceID)
	}
	n, err := s.exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("cancel pending actions failed: %w", err)
	}
	slog.Debug(s.name+".CancelPendingActions", "leadID", scope.LeadID, "campaignID", scope.CampaignID, "cancelled", n)
	return int(n), nil
}

func (s *sqlStore) CancelAction(id string) error {
	return s.operatorTransition(id, models.ActionStatusCancelled)
}

func (s *sqlStore) PauseAction(id string) error {
	return s.operatorTransition(id, models.ActionStatusPaused)
}

func (s *sqlStore) operatorTransition(id string, to models.ActionStatus) error {
	n, err := s.exec(`UPDATE actions SET status = ?, claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND status = 'pending'`, string(to), utc(s.now()), id)
	if err != nil {
		return fmt.Errorf("transition action to %s failed: %w", to, err)
	}
	if n == 1 {
		return nil
	}
	existing, err := s.GetAction(id)
	if err != nil {
		return err
	}
	if existing == nil {
		return models.ErrActionNotFound
	}
	return fmt.Errorf("%w: status is %s", models.ErrActionNotPending, existing.Status)
}

// ---- sequences ----

func (s *sqlStore) UpsertSequence(seq models.Sequence) error {
	steps, err := encodeSteps(seq.Steps)
	if err != nil {
		return err
	}
	now := utc(s.now())
	_, err = s.exec(`INSERT INTO sequences (id, name, active, steps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, active = excluded.active,
			steps = excluded.steps, updated_at = excluded.updated_at`,
		seq.ID, seq.Name, seq.Active, steps, now, now)
	if err != nil {
		slog.Error(s.name+".UpsertSequence failed", "sequenceID", seq.ID, "error", err)
		return fmt.Errorf("upsert sequence %s: %w", seq.ID, err)
	}
	return nil
}

func (s *sqlStore) GetSequence(id string) (*models.Sequence, error) {
	row := s.db.QueryRow(s.q(`SELECT id, name, active, steps, created_at, updated_at FROM sequences WHERE id = ?`), id)
	seq, err := scanSequence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence failed: %w", err)
	}
	return &seq, nil
}

func (s *sqlStore) ListSequences() ([]models.Sequence, error) {
	rows, err := s.db.Query(`SELECT id, name, active, steps, created_at, updated_at FROM sequences ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sequences query failed: %w", err)
	}
	defer rows.Close()
	var out []models.Sequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sequence failed: %w", err)
		}
		out = append(out, seq)
	}
	return out, rows.Err()
}

// ---- sessions ----

func (s *sqlStore) CreateSession(bs models.BookedSession) error {
	if bs.ID == "" {
		bs.ID = util.GenerateSessionID()
	}
	if bs.Status == "" {
		bs.Status = models.SessionScheduled
	}
	now := s.now()
	if bs.CreatedAt.IsZero() {
		bs.CreatedAt = now
	}
	bs.UpdatedAt = now
	_, err := s.exec(`INSERT INTO booked_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		bs.ID, bs.LeadID, nilIfEmpty(bs.CampaignID), utc(bs.ScheduledAt), string(bs.Status), utc(bs.CreatedAt), utc(bs.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create session failed: %w", err)
	}
	return nil
}

func (s *sqlStore) GetSession(id string) (*models.BookedSession, error) {
	bs, err := scanSession(s.db.QueryRow(s.q(`SELECT `+sessionColumns+` FROM booked_sessions WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return &bs, nil
}

func (s *sqlStore) ListOverdueSessions(before time.Time, limit int) ([]models.BookedSession, error) {
	rows, err := s.db.Query(s.q(`SELECT `+sessionColumns+` FROM booked_sessions
		WHERE status = 'scheduled' AND scheduled_at < ? ORDER BY scheduled_at ASC LIMIT ?`), utc(before), limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue sessions failed: %w", err)
	}
	defer rows.Close()
	var out []models.BookedSession
	for rows.Next() {
		bs, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session failed: %w", err)
		}
		out = append(out, bs)
	}
	return out, rows.Err()
}

func (s *sqlStore) MarkSessionNoShow(id string, now time.Time) (bool, error) {
	n, err := s.exec(`UPDATE booked_sessions SET status = 'no_show', updated_at = ? WHERE id = ? AND status = 'scheduled'`, utc(now), id)
	if err != nil {
		return false, fmt.Errorf("mark session no-show failed: %w", err)
	}
	return n == 1, nil
}

func (s *sqlStore) UpdateSessionStatus(id string, status models.SessionStatus) error {
	n, err := s.exec(`UPDATE booked_sessions SET status = ?, updated_at = ? WHERE id = ?`, string(status), utc(s.now()), id)
	if err != nil {
		return fmt.Errorf("update session status failed: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// ---- activities & outcomes ----

func (s *sqlStore) RecordActivity(a models.Activity) error {
	if a.ID == "" {
		a.ID = util.GenerateActivityID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	meta, err := encodeMetadata(a.Metadata)
	if err != nil {
		return err
	}
	_, err = s.exec(`INSERT INTO activities (id, lead_id, type, subject, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.LeadID, string(a.Type), a.Subject, nilIfEmpty(meta), utc(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("record activity failed: %w", err)
	}
	return nil
}

func (s *sqlStore) ListRecentActivities(leadID string, limit int) ([]models.Activity, error) {
	rows, err := s.db.Query(s.q(`SELECT id, lead_id, type, subject, metadata, created_at FROM activities
		WHERE lead_id = ? ORDER BY created_at DESC LIMIT ?`), leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activities failed: %w", err)
	}
	defer rows.Close()
	var out []models.Activity
	for rows.Next() {
		var a models.Activity
		var meta sql.NullString
		if err := rows.Scan(&a.ID, &a.LeadID, &a.Type, &a.Subject, &meta, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity failed: %w", err)
		}
		a.Metadata = decodeMetadata(meta.String)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqlStore) RecordOutcome(o models.Outcome) error {
	if o.ID == "" {
		o.ID = util.GenerateOutcomeID()
	}
	meta, err := encodeMetadata(o.Metadata)
	if err != nil {
		return err
	}
	_, err = s.exec(`INSERT INTO outcomes (id, lead_id, campaign_id, action_id, channel, step_index, kind, metadata, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.LeadID, nilIfEmpty(o.CampaignID), o.ActionID, string(o.Channel), o.StepIndex, string(o.Kind),
		nilIfEmpty(meta), utc(o.OccurredAt))
	if err != nil {
		return fmt.Errorf("record outcome failed: %w", err)
	}
	return nil
}

func (s *sqlStore) ListOutcomes(actionID string) ([]models.Outcome, error) {
	rows, err := s.db.Query(s.q(`SELECT id, lead_id, campaign_id, action_id, channel, step_index, kind, metadata, occurred_at
		FROM outcomes WHERE action_id = ? ORDER BY occurred_at ASC`), actionID)
	if err != nil {
		return nil, fmt.Errorf("list outcomes failed: %w", err)
	}
	defer rows.Close()
	var out []models.Outcome
	for rows.Next() {
		var o models.Outcome
		var campaignID, meta sql.NullString
		if err := rows.Scan(&o.ID, &o.LeadID, &campaignID, &o.ActionID, &o.Channel, &o.StepIndex, &o.Kind, &meta, &o.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan outcome failed: %w", err)
		}
		o.CampaignID = campaignID.String
		o.Metadata = decodeMetadata(meta.String)
		out = append(out, o)
	}
	return out, rows.Err()
}

// ---- campaign settings ----

func (s *sqlStore) GetCampaignSettings(campaignID string) (map[string]string, error) {
	rows, err := s.db.Query(s.q(`SELECT key, value FROM campaign_settings WHERE campaign_id = ?`), campaignID)
	if err != nil {
		return nil, fmt.Errorf("get campaign settings failed: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan campaign setting failed: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *sqlStore) SetCampaignSettings(campaignID string, settings map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin set campaign settings: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(s.q(`DELETE FROM campaign_settings WHERE campaign_id = ?`), campaignID); err != nil {
		return fmt.Errorf("clear campaign settings: %w", err)
	}
	for k, v := range settings {
		if _, err := tx.Exec(s.q(`INSERT INTO campaign_settings (campaign_id, key, value) VALUES (?, ?, ?)`), campaignID, k, v); err != nil {
			return fmt.Errorf("insert campaign setting %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit campaign settings: %w", err)
	}
	slog.Debug(s.name+".SetCampaignSettings", "campaignID", campaignID, "keys", len(settings))
	return nil
}
