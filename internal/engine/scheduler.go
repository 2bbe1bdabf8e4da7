// Package engine runs the delivery loop: the scheduler, the retry/fallback controller and the
// no-show detector.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/clock"
	"github.com/BTreeMap/CadencePipe/internal/directory"
	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/BTreeMap/CadencePipe/internal/pacing"
	"github.com/google/uuid"
)

// Scheduler defaults.
const (
	DefaultInterval   = 30 * time.Second
	DefaultBatchSize  = 200
	DefaultClaimLease = 5 * time.Minute
)

// Config holds the scheduler's cadence and claim settings.
type Config struct {
	Interval   time.Duration
	BatchSize  int
	ClaimLease time.Duration
	// InstanceID owns the claims this process takes.
	InstanceID string
}

// DefaultConfig returns the default configuration with a fresh instance id.
func DefaultConfig() Config {
	return Config{
		Interval:   DefaultInterval,
		BatchSize:  DefaultBatchSize,
		ClaimLease: DefaultClaimLease,
		InstanceID: uuid.NewString(),
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = DefaultClaimLease
	}
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}
	return c
}

// ActionStore is the part of the action store the scheduler reads and claims through.
type ActionStore interface {
	ListDueActions(now time.Time, limit int) ([]models.Action, error)
	ClaimAction(id, owner string, until, now time.Time) (bool, error)
	ReleaseClaim(id, owner string) error
}

// ContentResolver fills in generated content; *content.Resolver implements it.
type ContentResolver interface {
	Resolve(ctx context.Context, a *models.Action, lead *models.Lead) (models.ContentResult, error)
}

// ActionDispatcher sends an action and applies success side effects; *messaging.Router implements it.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, a *models.Action, lead *models.Lead) (models.DispatchResult, error)
}

// FailureHandler consumes failed attempts; *RetryController implements it.
type FailureHandler interface {
	Handle(ctx context.Context, a *models.Action, lead *models.Lead, f models.Failure) (Decision, error)
}

// CycleReport summarizes one scheduler cycle.
type CycleReport struct {
	Due       int
	Admitted  int
	Deferred  int
	ClaimLost int
	Sent      int
	Skipped   int
	FellBack  int
	Retried   int
	Fallbacks int
	Failed    int
	Errors    int
}

// Scheduler polls the action store on a fixed interval and dispatches due actions.
type Scheduler struct {
	cfg        Config
	store      ActionStore
	leads      directory.Directory
	governor   *pacing.Governor
	resolver   ContentResolver
	dispatcher ActionDispatcher
	failures   FailureHandler
	clock      clock.Clock

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewScheduler wires a scheduler. A nil clock uses the system clock.
func NewScheduler(cfg Config, st ActionStore, leads directory.Directory, gov *pacing.Governor,
	resolver ContentResolver, dispatcher ActionDispatcher, failures FailureHandler, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.System{}
	}
	return &Scheduler{
		cfg:        cfg.withDefaults(),
		store:      st,
		leads:      leads,
		governor:   gov,
		resolver:   resolver,
		dispatcher: dispatcher,
		failures:   failures,
		clock:      clk,
	}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// Run executes a cycle immediately and then on every interval until ctx is done. A tick that
// arrives while the previous cycle is still running is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("Scheduler.Run: starting", "interval", s.cfg.Interval, "batchSize", s.cfg.BatchSize, "instanceID", s.cfg.InstanceID)
	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("Scheduler.Run: stopped")
			return nil
		case <-ticker.C():
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		slog.Warn("Scheduler.tick: previous cycle still running, skipping tick")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.RunCycle(ctx)
	}()
}

// RunCycle processes one batch of due actions. It never returns an error: every action runs in
// its own boundary and problems are counted in the report.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	var report CycleReport
	now := s.clock.Now()

	due, err := s.store.ListDueActions(now, s.cfg.BatchSize)
	if err != nil {
		slog.Error("Scheduler.RunCycle: failed to list due actions", "error", err)
		report.Errors++
		return report
	}
	report.Due = len(due)
	if len(due) == 0 {
		return report
	}

	plan := s.governor.Plan(ctx, due, now)
	report.Admitted = len(plan.Admitted)
	report.Deferred = len(plan.Deferred)

	for i, adm := range plan.Admitted {
		if ctx.Err() != nil {
			slog.Info("Scheduler.RunCycle: context done, stopping cycle early", "remaining", len(plan.Admitted)-i)
			break
		}
		s.processSafely(ctx, adm, &report)

		if i < len(plan.Admitted)-1 && adm.Settings.SendDelay > 0 {
			if err := s.clock.Sleep(ctx, adm.Settings.SendDelay); err != nil {
				break
			}
		}
	}

	slog.Info("Scheduler.RunCycle: cycle complete", "due", report.Due, "admitted", report.Admitted,
		"deferred", report.Deferred, "sent", report.Sent, "retried", report.Retried, "fallbacks", report.Fallbacks,
		"failed", report.Failed, "skipped", report.Skipped, "errors", report.Errors)
	return report
}

func (s *Scheduler) processSafely(ctx context.Context, adm pacing.Admission, report *CycleReport) {
	defer func() {
		if r := recover(); r != nil {
			report.Errors++
			slog.Error("Scheduler.process: panic while processing action", "actionID", adm.Action.ID, "panic", r)
		}
	}()
	if err := s.process(ctx, adm, report); err != nil {
		report.Errors++
		slog.Error("Scheduler.process: action left for a later cycle", "actionID", adm.Action.ID,
			"leadID", adm.Action.LeadID, "channel", adm.Action.Channel, "error", err)
	}
}

func (s *Scheduler) process(ctx context.Context, adm pacing.Admission, report *CycleReport) error {
	a := adm.Action
	owner := s.cfg.InstanceID
	now := s.clock.Now()

	claimed, err := s.store.ClaimAction(a.ID, owner, now.Add(s.cfg.ClaimLease), now)
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		report.ClaimLost++
		slog.Debug("Scheduler.process: action no longer claimable", "actionID", a.ID)
		return nil
	}
	defer func() {
		if err := s.store.ReleaseClaim(a.ID, owner); err != nil {
			slog.Warn("Scheduler.process: failed to release claim", "actionID", a.ID, "error", err)
		}
	}()

	lead, err := s.leads.GetLead(ctx, a.LeadID)
	if err != nil {
		if !errors.Is(err, models.ErrLeadNotFound) {
			return fmt.Errorf("load lead: %w", err)
		}
		slog.Warn("Scheduler.process: lead missing from directory, dispatching with stored destination", "actionID", a.ID, "leadID", a.LeadID)
		lead = nil
	}

	cr, err := s.resolver.Resolve(ctx, &a, lead)
	if err != nil {
		return fmt.Errorf("resolve content: %w", err)
	}
	if !cr.OK() {
		return s.handleFailure(ctx, &a, lead, models.FailureFromContent(cr), report)
	}
	if cr.FellBack {
		report.FellBack++
	}

	// Test mode redirects this attempt only; the stored action keeps the lead's address.
	out := a
	out.Metadata = a.CloneMetadata()
	pacing.ApplyTestMode(&out, adm.Settings)

	res, err := s.dispatcher.Dispatch(ctx, &out, lead)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	switch res.Outcome {
	case models.DispatchSent:
		report.Sent++
		s.governor.RecordCall(ctx, &out, adm.Settings, now)
		return nil
	case models.DispatchSkippedUnconfigured:
		report.Skipped++
		return nil
	default:
		return s.handleFailure(ctx, &a, lead, models.FailureFromDispatch(res), report)
	}
}

func (s *Scheduler) handleFailure(ctx context.Context, a *models.Action, lead *models.Lead, f models.Failure, report *CycleReport) error {
	d, err := s.failures.Handle(ctx, a, lead, f)
	if err != nil {
		return err
	}
	switch d.Kind {
	case DecisionRetry:
		report.Retried++
	case DecisionFallback:
		report.Fallbacks++
	default:
		report.Failed++
	}
	return nil
}
