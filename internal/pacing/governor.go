package pacing

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/models"
)

// Reasons an action is left pending for a later cycle.
const (
	DeferCampaignCap     = "campaign_cap"
	DeferCallWindow      = "outside_call_window"
	DeferDailyCallCap    = "daily_call_cap"
	DeferCounterError    = "call_counter_unavailable"
	DeferTestNoOverride  = "test_mode_without_override"
	DeferSettingsMissing = "settings_unavailable"
)

// SettingsSource supplies raw campaign settings.
type SettingsSource interface {
	GetCampaignSettings(campaignID string) (map[string]string, error)
}

// Admission is an action the cycle may dispatch, with its campaign settings.
type Admission struct {
	Action   models.Action
	Settings Settings
}

// Deferral is an action left pending this cycle. Its due_at is not touched.
type Deferral struct {
	Action models.Action
	Reason string
}

// Plan is the governor's decision for one cycle. Admitted is in ascending due_at order.
type Plan struct {
	Admitted []Admission
	Deferred []Deferral
}

// Governor applies per-campaign caps, voice call windows and daily call caps.
type Governor struct {
	settings SettingsSource
	calls    CallCounter
}

// NewGovernor creates a governor. A nil counter uses an in-memory one.
func NewGovernor(src SettingsSource, calls CallCounter) *Governor {
	if calls == nil {
		calls = NewMemoryCallCounter()
	}
	return &Governor{settings: src, calls: calls}
}

// Settings loads and parses the settings of one campaign. Actions without a campaign get the
// defaults with no call window.
func (g *Governor) Settings(campaignID string) (Settings, error) {
	if campaignID == "" || g.settings == nil {
		return DefaultSettings(), nil
	}
	raw, err := g.settings.GetCampaignSettings(campaignID)
	if err != nil {
		return Settings{}, err
	}
	s, perr := ParseSettings(raw)
	if perr != nil {
		slog.Warn("Governor.Settings: invalid campaign settings, defaults used for bad keys", "campaignID", campaignID, "error", perr)
	}
	return s, nil
}

// Plan groups due actions by campaign and admits at most MaxLeadsPerCycle per campaign, oldest
// due first. Voice actions outside their campaign's call window or over its daily call cap are
// deferred. Actions with no campaign form one unbounded group.
func (g *Governor) Plan(ctx context.Context, due []models.Action, now time.Time) Plan {
	sorted := append([]models.Action(nil), due...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].DueAt.Equal(sorted[j].DueAt) {
			return sorted[i].DueAt.Before(sorted[j].DueAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var plan Plan
	cache := make(map[string]*Settings)
	failed := make(map[string]bool)
	admitted := make(map[string]int)
	voiceAdmitted := make(map[string]int)

	for _, a := range sorted {
		c := a.CampaignID
		if failed[c] {
			plan.Deferred = append(plan.Deferred, Deferral{Action: a, Reason: DeferSettingsMissing})
			continue
		}
		s, ok := cache[c]
		if !ok {
			loaded, err := g.Settings(c)
			if err != nil {
				slog.Error("Governor.Plan: failed to load campaign settings", "campaignID", c, "error", err)
				failed[c] = true
				plan.Deferred = append(plan.Deferred, Deferral{Action: a, Reason: DeferSettingsMissing})
				continue
			}
			s = &loaded
			cache[c] = s
		}

		if reason := g.check(ctx, a, *s, now, admitted[c], voiceAdmitted[c]); reason != "" {
			plan.Deferred = append(plan.Deferred, Deferral{Action: a, Reason: reason})
			continue
		}
		admitted[c]++
		if a.Channel == models.ChannelVoice {
			voiceAdmitted[c]++
		}
		plan.Admitted = append(plan.Admitted, Admission{Action: a, Settings: *s})
	}

	if len(plan.Deferred) > 0 {
		slog.Debug("Governor.Plan: actions deferred", "admitted", len(plan.Admitted), "deferred", len(plan.Deferred))
	}
	return plan
}

func (g *Governor) check(ctx context.Context, a models.Action, s Settings, now time.Time, admitted, voiceAdmitted int) string {
	if a.CampaignID == "" {
		return ""
	}
	if admitted >= s.MaxLeadsPerCycle {
		return DeferCampaignCap
	}
	if s.TestMode && overrideFor(a.Channel, s) == "" {
		return DeferTestNoOverride
	}
	if a.Channel != models.ChannelVoice {
		return ""
	}
	if !s.InCallWindow(now) {
		return DeferCallWindow
	}
	if s.MaxDailyCalls > 0 {
		placed, err := g.calls.Count(ctx, a.CampaignID, s.LocalDay(now))
		if err != nil {
			slog.Error("Governor.Plan: call counter unavailable", "campaignID", a.CampaignID, "error", err)
			return DeferCounterError
		}
		if placed+voiceAdmitted >= s.MaxDailyCalls {
			return DeferDailyCallCap
		}
	}
	return ""
}

// RecordCall counts a placed voice call against the campaign's daily cap.
func (g *Governor) RecordCall(ctx context.Context, a *models.Action, s Settings, now time.Time) {
	if a.CampaignID == "" || a.Channel != models.ChannelVoice {
		return
	}
	if _, err := g.calls.Increment(ctx, a.CampaignID, s.LocalDay(now)); err != nil {
		slog.Warn("Governor.RecordCall: failed to count call", "actionID", a.ID, "campaignID", a.CampaignID, "error", err)
	}
}

// ApplyTestMode redirects a to the campaign's test address and prefixes its subject. It reports
// whether anything changed. The real destination is kept in metadata the first time.
func ApplyTestMode(a *models.Action, s Settings) bool {
	if !s.TestMode {
		return false
	}
	override := overrideFor(a.Channel, s)
	if override == "" {
		return false
	}
	if _, kept := a.Metadata[models.MetaOriginalDest]; !kept {
		a.SetMeta(models.MetaOriginalDest, a.Destination)
	}
	a.SetMeta(models.MetaTestMode, "true")
	a.Destination = override
	if a.Channel == models.ChannelEmail && !strings.HasPrefix(a.Subject, TestSubjectPrefix) {
		a.Subject = TestSubjectPrefix + a.Subject
	}
	return true
}

func overrideFor(c models.Channel, s Settings) string {
	if c == models.ChannelEmail {
		return s.TestEmail
	}
	return s.TestPhone
}
