package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/engine"
	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/BTreeMap/CadencePipe/internal/outcome"
	"github.com/BTreeMap/CadencePipe/internal/store"
)

func (h *harness) session(id, leadID, campaignID string, at time.Time) {
	h.t.Helper()
	err := h.st.CreateSession(models.BookedSession{ID: id, LeadID: leadID, CampaignID: campaignID, ScheduledAt: at})
	if err != nil {
		h.t.Fatalf("CreateSession: %v", err)
	}
}

func (h *harness) detector(recovery string) *engine.NoShowDetector {
	return engine.NewNoShowDetector(engine.NoShowConfig{RecoverySequenceID: recovery}, h.st, h.enroller,
		outcome.NewActivityLog(h.st, h.clk), h.clk)
}

func TestNoShowRecovery(t *testing.T) {
	h := newHarness(t).wire()
	h.addLead("43")
	h.sequence("nurture",
		models.Step{Channel: models.ChannelEmail, DelayOffset: 24 * time.Hour, Body: "Nurture 1"},
		models.Step{Channel: models.ChannelEmail, DelayOffset: 72 * time.Hour, Body: "Nurture 2"},
	)
	h.sequence("recovery", models.Step{Channel: models.ChannelEmail, Subject: "Sorry we missed you", Body: "Rebook?"})
	h.enroll("42", "nurture", "spring")
	h.enroll("43", "nurture", "spring")

	h.session("s-missed", "42", "spring", monday10.Add(-40*time.Minute))
	h.session("s-recent", "43", "spring", monday10.Add(-20*time.Minute))

	d := h.detector("recovery")
	r := d.Tick(context.Background())
	if r.Found != 1 || r.Marked != 1 || r.Enrolled != 1 || r.Errors != 0 {
		t.Fatalf("report = %+v", r)
	}

	missed, _ := h.st.GetSession("s-missed")
	if missed.Status != models.SessionNoShow {
		t.Fatalf("missed session status = %s", missed.Status)
	}
	recent, _ := h.st.GetSession("s-recent")
	if recent.Status != models.SessionScheduled {
		t.Fatalf("recent session status = %s", recent.Status)
	}

	if n := len(h.list(store.ActionFilter{LeadID: "42", SequenceID: "nurture", Status: models.ActionStatusPending})); n != 0 {
		t.Fatalf("nurture actions still pending: %d", n)
	}
	rec := h.list(store.ActionFilter{LeadID: "42", SequenceID: "recovery"})
	if len(rec) != 1 || rec[0].Status != models.ActionStatusPending || rec[0].CampaignID != "spring" {
		t.Fatalf("recovery actions = %+v", rec)
	}
	if n := len(h.list(store.ActionFilter{LeadID: "43", Status: models.ActionStatusPending})); n != 2 {
		t.Fatalf("lead 43 should keep its nurture actions, has %d pending", n)
	}

	acts, _ := h.st.ListRecentActivities("42", 5)
	if len(acts) == 0 || acts[0].Type != models.ActivityNoShow || acts[0].Metadata["session_id"] != "s-missed" {
		t.Fatalf("activities = %+v", acts)
	}

	// A second tick finds nothing new and enrolls nobody twice.
	if r := d.Tick(context.Background()); r.Found != 0 || r.Enrolled != 0 {
		t.Fatalf("second tick = %+v", r)
	}
	if n := len(h.list(store.ActionFilter{LeadID: "42", SequenceID: "recovery"})); n != 1 {
		t.Fatalf("recovery enrolled %d times", n)
	}

	// Once the grace period passes for the second session it is handled too.
	h.clk.Advance(15 * time.Minute)
	if r := d.Tick(context.Background()); r.Marked != 1 {
		t.Fatalf("third tick = %+v", r)
	}
}

func TestNoShowWithoutRecoverySequence(t *testing.T) {
	h := newHarness(t).wire()
	h.sequence("nurture", models.Step{Channel: models.ChannelEmail, DelayOffset: time.Hour, Body: "x"})
	h.enroll("42", "nurture", "")
	h.session("s1", "42", "", monday10.Add(-time.Hour))

	r := h.detector("").Tick(context.Background())
	if r.Marked != 1 || r.Enrolled != 0 || r.Errors != 0 {
		t.Fatalf("report = %+v", r)
	}
	if n := len(h.list(store.ActionFilter{LeadID: "42", Status: models.ActionStatusPending})); n != 0 {
		t.Fatalf("pending actions = %d", n)
	}
}

func TestNoShowUnknownRecoverySequenceIsReported(t *testing.T) {
	h := newHarness(t).wire()
	h.session("s1", "42", "", monday10.Add(-time.Hour))

	r := h.detector("missing").Tick(context.Background())
	if r.Marked != 0 || r.Enrolled != 0 || r.Errors != 1 {
		t.Fatalf("report = %+v", r)
	}
	s, _ := h.st.GetSession("s1")
	if s.Status != models.SessionScheduled {
		t.Fatalf("status = %s, want scheduled so a later tick retries", s.Status)
	}
	if acts, _ := h.st.ListRecentActivities("42", 5); len(acts) != 0 {
		t.Fatalf("no activity expected before recovery succeeds, got %+v", acts)
	}
}

func TestNoShowEnrollmentFailureIsRetriedNextTick(t *testing.T) {
	h := newHarness(t).wire()
	steps := []models.Step{{Channel: models.ChannelEmail, Subject: "Sorry we missed you", Body: "Rebook?", MaxAttempts: 1}}
	if err := h.st.UpsertSequence(models.Sequence{ID: "recovery", Name: "recovery", Active: false, Steps: steps}); err != nil {
		t.Fatalf("UpsertSequence: %v", err)
	}
	h.session("s1", "42", "spring", monday10.Add(-time.Hour))
	d := h.detector("recovery")

	if r := d.Tick(context.Background()); r.Found != 1 || r.Marked != 0 || r.Errors != 1 {
		t.Fatalf("first tick = %+v", r)
	}

	h.sequence("recovery", steps...)
	h.clk.Advance(5 * time.Minute)
	r := d.Tick(context.Background())
	if r.Found != 1 || r.Marked != 1 || r.Enrolled != 1 || r.Errors != 0 {
		t.Fatalf("second tick = %+v", r)
	}
	s, _ := h.st.GetSession("s1")
	if s.Status != models.SessionNoShow {
		t.Fatalf("status = %s", s.Status)
	}
	if rec := h.list(store.ActionFilter{LeadID: "42", SequenceID: "recovery"}); len(rec) != 1 {
		t.Fatalf("recovery actions = %d", len(rec))
	}
	acts, _ := h.st.ListRecentActivities("42", 5)
	noShows := 0
	for _, a := range acts {
		if a.Type == models.ActivityNoShow {
			noShows++
		}
	}
	if noShows != 1 {
		t.Fatalf("no_show activities = %d, want 1", noShows)
	}
}

func TestNoShowRunTicksOnClock(t *testing.T) {
	h := newHarness(t).wire()
	h.sequence("recovery", models.Step{Channel: models.ChannelEmail, Subject: "Sorry we missed you", Body: "Rebook?"})
	h.session("s1", "42", "spring", monday10.Add(-time.Hour))
	d := engine.NewNoShowDetector(engine.NoShowConfig{Interval: time.Minute, RecoverySequenceID: "recovery"},
		h.st, h.enroller, nil, h.clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	if !eventually(func() bool { return h.clk.Tickers() == 1 }) {
		t.Fatal("Run never started its ticker")
	}
	if s, _ := h.st.GetSession("s1"); s.Status != models.SessionScheduled {
		t.Fatalf("session handled before the first tick: %s", s.Status)
	}
	marked := eventually(func() bool {
		h.clk.Advance(time.Minute)
		s, _ := h.st.GetSession("s1")
		return s.Status == models.SessionNoShow
	})
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !marked {
		t.Fatal("session not marked after clock ticks")
	}
	if h.clk.Tickers() != 0 {
		t.Fatal("ticker not stopped on return")
	}
}
