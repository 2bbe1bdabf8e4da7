package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// utc normalizes timestamps so text comparisons in SQLite order correctly.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(s string) map[string]string {
	if s == "" {
		return nil
	}
	m := make(map[string]string)
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

const actionColumns = `id, lead_id, sequence_id, step_index, campaign_id, channel, destination, status, due_at,
	attempts_made, max_attempts, fallback_channel, subject, body, instructions, content_source, tokens_used,
	hints, metadata, last_error, sent_at, claimed_by, claimed_until, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAction scans an Action from a row in actionColumns order.
func scanAction(row rowScanner) (models.Action, error) {
	var a models.Action
	var campaignID, fallback, subject, body, instructions, hints, metadata, lastError, claimedBy sql.NullString
	var sentAt, claimedUntil sql.NullTime
	err := row.Scan(
		&a.ID, &a.LeadID, &a.SequenceID, &a.StepIndex, &campaignID, &a.Channel, &a.Destination, &a.Status, &a.DueAt,
		&a.AttemptsMade, &a.MaxAttempts, &fallback, &subject, &body, &instructions, &a.ContentSource, &a.TokensUsed,
		&hints, &metadata, &lastError, &sentAt, &claimedBy, &claimedUntil, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return a, err
	}
	a.CampaignID = campaignID.String
	a.FallbackChannel = models.Channel(fallback.String)
	a.Subject = subject.String
	a.Body = body.String
	a.Instructions = instructions.String
	a.Metadata = decodeMetadata(metadata.String)
	a.LastError = lastError.String
	a.ClaimedBy = claimedBy.String
	if sentAt.Valid {
		t := sentAt.Time
		a.SentAt = &t
	}
	if claimedUntil.Valid {
		t := claimedUntil.Time
		a.ClaimedUntil = &t
	}
	h, err := models.UnmarshalHints(hints.String)
	if err != nil {
		return a, fmt.Errorf("action %s: %w", a.ID, err)
	}
	a.Hints = h
	return a, nil
}

func scanActions(rows *sql.Rows) ([]models.Action, error) {
	var out []models.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action failed: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions failed: %w", err)
	}
	return out, nil
}

const sessionColumns = `id, lead_id, campaign_id, scheduled_at, status, created_at, updated_at`

func scanSession(row rowScanner) (models.BookedSession, error) {
	var s models.BookedSession
	var campaignID sql.NullString
	err := row.Scan(&s.ID, &s.LeadID, &campaignID, &s.ScheduledAt, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	s.CampaignID = campaignID.String
	return s, err
}

func encodeSteps(steps []models.Step) (string, error) {
	data, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("encode steps: %w", err)
	}
	return string(data), nil
}

func scanSequence(row rowScanner) (models.Sequence, error) {
	var seq models.Sequence
	var steps string
	if err := row.Scan(&seq.ID, &seq.Name, &seq.Active, &steps, &seq.CreatedAt, &seq.UpdatedAt); err != nil {
		return seq, err
	}
	if err := json.Unmarshal([]byte(steps), &seq.Steps); err != nil {
		return seq, fmt.Errorf("decode steps for sequence %s: %w", seq.ID, err)
	}
	return seq, nil
}
