package content_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/content"
	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/BTreeMap/CadencePipe/internal/store"
	"github.com/BTreeMap/CadencePipe/internal/testutil"
)

func insertAction(t *testing.T, st store.Store, a models.Action) *models.Action {
	t.Helper()
	a.Status = models.ActionStatusPending
	if a.MaxAttempts == 0 {
		a.MaxAttempts = 1
	}
	if a.DueAt.IsZero() {
		a.DueAt = time.Now()
	}
	if err := st.InsertActions([]models.Action{a}); err != nil {
		t.Fatalf("InsertActions: %v", err)
	}
	return &a
}

func TestResolveWithoutInstructionsIsNoop(t *testing.T) {
	st := testutil.NewTestStore(t)
	gen := &testutil.FakeGenerator{}
	a := insertAction(t, st, models.Action{ID: "a1", LeadID: "42", Channel: models.ChannelEmail, Body: "template"})

	res, err := content.NewResolver(st, gen).Resolve(context.Background(), a, nil)
	if err != nil || !res.OK() || res.Generated || res.FellBack {
		t.Fatalf("Resolve = %+v, %v", res, err)
	}
	if len(gen.Requests) != 0 {
		t.Fatal("generator must not be called without instructions")
	}
	if a.Body != "template" {
		t.Fatalf("body changed to %q", a.Body)
	}
}

func TestResolveGenerated(t *testing.T) {
	st := testutil.NewTestStore(t)
	if err := st.SetCampaignSettings("spring", map[string]string{
		content.SettingCampaignContext: "Spring launch of the analytics suite",
		content.SettingCohortContext:   "Series B companies",
	}); err != nil {
		t.Fatalf("SetCampaignSettings: %v", err)
	}
	if err := st.RecordActivity(models.Activity{LeadID: "42", Type: models.ActivityOutreachSent, Subject: "Email sent: Intro"}); err != nil {
		t.Fatalf("RecordActivity: %v", err)
	}
	gen := &testutil.FakeGenerator{Result: content.GenerationResult{Subject: "Ada, a quick idea", Body: "Generated body", TokensUsed: 120}}
	a := insertAction(t, st, models.Action{
		ID: "a1", LeadID: "42", CampaignID: "spring", Channel: models.ChannelEmail,
		Subject: "Template subject", Body: "Template body", Instructions: "Pitch the analytics suite",
		Hints: models.EmailHints{Tone: "warm,concise", Goal: "book a call"},
	})
	lead := &models.Lead{ID: "42", Name: "Ada Lovelace", Company: "Engines", Cohort: "enterprise"}

	res, err := content.NewResolver(st, gen).Resolve(context.Background(), a, lead)
	if err != nil || !res.Generated {
		t.Fatalf("Resolve = %+v, %v", res, err)
	}
	if a.Subject != "Ada, a quick idea" || a.Body != "Generated body" || a.ContentSource != models.ContentSourceGenerated || a.TokensUsed != 120 {
		t.Fatalf("in-memory action = %+v", a)
	}

	stored, _ := st.GetAction("a1")
	if stored.Body != "Generated body" || stored.ContentSource != models.ContentSourceGenerated || stored.TokensUsed != 120 {
		t.Fatalf("stored action = %+v", stored)
	}

	req := gen.Requests[0]
	if req.CampaignContext != "Spring launch of the analytics suite" {
		t.Errorf("campaign context = %q", req.CampaignContext)
	}
	if !strings.Contains(req.CohortContext, "enterprise") || !strings.Contains(req.CohortContext, "Series B") {
		t.Errorf("cohort context = %q", req.CohortContext)
	}
	if len(req.History) != 1 || !strings.Contains(req.History[0], "Email sent: Intro") {
		t.Errorf("history = %v", req.History)
	}
	if req.Goal != "book a call" || len(req.ToneTags) != 2 || req.ToneGuide == "" {
		t.Errorf("tone/goal = %v %q %q", req.ToneTags, req.Goal, req.ToneGuide)
	}
	if req.Lead.Company != "Engines" {
		t.Errorf("lead = %+v", req.Lead)
	}
}

func TestResolveFallsBackToTemplate(t *testing.T) {
	st := testutil.NewTestStore(t)
	gen := &testutil.FakeGenerator{Err: errors.New("model overloaded")}
	a := insertAction(t, st, models.Action{
		ID: "a1", LeadID: "42", Channel: models.ChannelEmail,
		Subject: "Template subject", Body: "Template body", Instructions: "Write something",
	})

	res, err := content.NewResolver(st, gen).Resolve(context.Background(), a, nil)
	if err != nil || !res.OK() || !res.FellBack {
		t.Fatalf("Resolve = %+v, %v", res, err)
	}
	if a.Body != "Template body" || a.ContentSource == models.ContentSourceGenerated {
		t.Fatalf("template content should be kept: %+v", a)
	}
	stored, _ := st.GetAction("a1")
	if stored.Metadata[models.MetaGenerationError] != "model overloaded" {
		t.Fatalf("metadata = %v", stored.Metadata)
	}
}

func TestResolveWithoutGeneratorFallsBack(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := insertAction(t, st, models.Action{ID: "a1", LeadID: "42", Channel: models.ChannelSMS, Body: "hi", Instructions: "x"})
	res, err := content.NewResolver(st, nil).Resolve(context.Background(), a, nil)
	if err != nil || !res.FellBack {
		t.Fatalf("Resolve = %+v, %v", res, err)
	}
	if !strings.Contains(a.Metadata[models.MetaGenerationError], models.ErrGenerationUnavailable.Error()) {
		t.Fatalf("metadata = %v", a.Metadata)
	}
}

func TestResolveWithoutFallbackFails(t *testing.T) {
	st := testutil.NewTestStore(t)
	gen := &testutil.FakeGenerator{Err: models.ErrGenerationUnavailable}
	a := insertAction(t, st, models.Action{ID: "a1", LeadID: "42", Channel: models.ChannelVoice, Instructions: "Call them"})

	res, err := content.NewResolver(st, gen).Resolve(context.Background(), a, nil)
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	if res.OK() || !errors.Is(res.Err, models.ErrContentUnavailable) {
		t.Fatalf("Resolve = %+v", res)
	}
}

func TestResolveEmptyGeneratedBodyFallsBack(t *testing.T) {
	st := testutil.NewTestStore(t)
	gen := &testutil.FakeGenerator{Result: content.GenerationResult{Body: "  "}}
	a := insertAction(t, st, models.Action{ID: "a1", LeadID: "42", Channel: models.ChannelEmail, Body: "tmpl", Instructions: "x"})
	res, err := content.NewResolver(st, gen).Resolve(context.Background(), a, nil)
	if err != nil || !res.FellBack || a.Body != "tmpl" {
		t.Fatalf("Resolve = %+v, %v, body %q", res, err, a.Body)
	}
}

func TestSummarizeHistory(t *testing.T) {
	got := content.SummarizeHistory([]models.Activity{
		{Type: models.ActivityOutreachSent, Subject: "Email sent: Hi", CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	})
	if len(got) != 1 || got[0] != "2026-03-01 outreach_sent: Email sent: Hi" {
		t.Fatalf("SummarizeHistory = %v", got)
	}
}
