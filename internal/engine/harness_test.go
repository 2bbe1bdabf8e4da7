package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/content"
	"github.com/BTreeMap/CadencePipe/internal/directory"
	"github.com/BTreeMap/CadencePipe/internal/engine"
	"github.com/BTreeMap/CadencePipe/internal/enrollment"
	"github.com/BTreeMap/CadencePipe/internal/messaging"
	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/BTreeMap/CadencePipe/internal/outcome"
	"github.com/BTreeMap/CadencePipe/internal/pacing"
	"github.com/BTreeMap/CadencePipe/internal/store"
	"github.com/BTreeMap/CadencePipe/internal/testutil"
)

// monday10 is 10:00 UTC on Monday 2026-03-02.
var monday10 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type harness struct {
	t        *testing.T
	st       *store.SQLiteStore
	clk      *testutil.FakeClock
	leads    *directory.MemoryDirectory
	email    *testutil.FakeEmailTransport
	voice    *testutil.FakeVoiceProvider
	sms      *testutil.FakeSMSProvider
	gen      *testutil.FakeGenerator
	sink     *testutil.RecordingSink
	noEmail  bool
	router   *messaging.Router
	retry    *engine.RetryController
	governor *pacing.Governor
	resolver *content.Resolver
	enroller *enrollment.Service
	sched    *engine.Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := testutil.NewFakeClock(monday10)
	h := &harness{
		t:     t,
		st:    testutil.NewTestStore(t, store.WithClock(clk)),
		clk:   clk,
		leads: directory.NewMemoryDirectory(),
		email: &testutil.FakeEmailTransport{},
		voice: &testutil.FakeVoiceProvider{},
		sms:   &testutil.FakeSMSProvider{},
		gen:   &testutil.FakeGenerator{Err: errors.New("generation backend down")},
		sink:  &testutil.RecordingSink{},
	}
	h.addLead("42")
	return h
}

func (h *harness) addLead(id string) models.Lead {
	l := models.Lead{
		ID:      id,
		Name:    "Ada Lovelace",
		Company: "Engines",
		Email:   "lead" + id + "@example.com",
		Phone:   "+1555010" + id,
	}
	h.leads.Put(l)
	return l
}

// wire builds the engine from the harness fields. Call after adjusting fakes.
func (h *harness) wire() *harness {
	activities := outcome.NewActivityLog(h.st, h.clk)
	var email messaging.EmailTransport
	if !h.noEmail {
		email = h.email
	}
	h.router = messaging.NewRouter(h.st,
		messaging.WithDispatcher(models.ChannelEmail, messaging.NewEmailDispatcher(email)),
		messaging.WithDispatcher(models.ChannelVoice, messaging.NewVoiceDispatcher(h.voice, "default-agent")),
		messaging.WithDispatcher(models.ChannelSMS, messaging.NewSMSDispatcher(h.sms)),
		messaging.WithOutcomeSink(h.sink),
		messaging.WithActivityLog(activities),
		messaging.WithClock(h.clk),
	)
	h.retry = engine.NewRetryController(h.st, h.clk,
		engine.WithRetrySink(h.sink),
		engine.WithRetryActivityLog(activities),
	)
	h.governor = pacing.NewGovernor(h.st, pacing.NewMemoryCallCounter())
	h.resolver = content.NewResolver(h.st, h.gen)
	h.enroller = enrollment.NewService(h.st, h.leads, h.clk)
	h.sched = h.scheduler(h.router)
	return h
}

func (h *harness) scheduler(d engine.ActionDispatcher) *engine.Scheduler {
	return engine.NewScheduler(engine.Config{InstanceID: "test-instance"}, h.st, h.leads, h.governor, h.resolver, d, h.retry, h.clk)
}

func (h *harness) sequence(id string, steps ...models.Step) {
	h.t.Helper()
	for i := range steps {
		if steps[i].MaxAttempts == 0 {
			steps[i].MaxAttempts = 1
		}
	}
	if err := h.st.UpsertSequence(models.Sequence{ID: id, Name: id, Active: true, Steps: steps}); err != nil {
		h.t.Fatalf("UpsertSequence: %v", err)
	}
}

func (h *harness) settings(campaign string, kv map[string]string) {
	h.t.Helper()
	if err := h.st.SetCampaignSettings(campaign, kv); err != nil {
		h.t.Fatalf("SetCampaignSettings: %v", err)
	}
}

func (h *harness) enroll(leadID, seqID, campaignID string) []models.Action {
	h.t.Helper()
	actions, err := h.enroller.Enroll(context.Background(), enrollment.Request{LeadID: leadID, SequenceID: seqID, CampaignID: campaignID})
	if err != nil {
		h.t.Fatalf("Enroll(%s, %s): %v", leadID, seqID, err)
	}
	return actions
}

func (h *harness) action(id string) *models.Action {
	h.t.Helper()
	a, err := h.st.GetAction(id)
	if err != nil || a == nil {
		h.t.Fatalf("GetAction(%s) = %v, %v", id, a, err)
	}
	return a
}

func (h *harness) list(f store.ActionFilter) []models.Action {
	h.t.Helper()
	out, err := h.st.ListActions(f)
	if err != nil {
		h.t.Fatalf("ListActions: %v", err)
	}
	return out
}

func (h *harness) cycle() engine.CycleReport {
	return h.sched.RunCycle(context.Background())
}

// eventually polls cond until it holds or two seconds pass.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
