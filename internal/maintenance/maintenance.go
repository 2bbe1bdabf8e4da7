// Package maintenance runs periodic housekeeping jobs on cron schedules.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Default job schedules.
const (
	ClaimSweepSchedule   = "* * * * *"
	CounterPruneSchedule = "17 * * * *"
)

// Job is one housekeeping task.
type Job func(ctx context.Context) error

// Cron wraps a cron runner with named, logged jobs.
type Cron struct {
	cron *cron.Cron
	ctx  context.Context
}

// New creates a cron runner. Jobs receive ctx; it is not started until Start.
func New(ctx context.Context) *Cron {
	// Standard 5-field parser (min, hour, dom, month, dow); panics in jobs are recovered.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	return &Cron{cron: c, ctx: ctx}
}

// AddJob schedules job under name. It returns an error if the expression is invalid.
func (c *Cron) AddJob(name, expr string, job Job) error {
	_, err := c.cron.AddFunc(expr, func() {
		start := time.Now()
		if err := job(c.ctx); err != nil {
			slog.Error("Cron job failed", "job", name, "error", err)
			return
		}
		slog.Debug("Cron job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", expr, name, err)
	}
	return nil
}

// Len returns the number of scheduled jobs.
func (c *Cron) Len() int { return len(c.cron.Entries()) }

func (c *Cron) Start() { c.cron.Start() }

// Stop stops the runner and waits for running jobs to finish.
func (c *Cron) Stop() {
	<-c.cron.Stop().Done()
}

// ClaimStore clears expired action leases.
type ClaimStore interface {
	RequeueExpiredClaims(now time.Time) (int, error)
}

// SweepClaims returns a job that requeues actions whose lease expired.
func SweepClaims(st ClaimStore, now func() time.Time) Job {
	return func(context.Context) error {
		_, err := st.RequeueExpiredClaims(now())
		return err
	}
}

// CounterPruner drops daily call counts older than a day.
type CounterPruner interface {
	Prune(before string) int
}

// PruneCounters returns a job that keeps only yesterday's and today's call counts.
func PruneCounters(p CounterPruner, now func() time.Time) Job {
	return func(context.Context) error {
		before := now().UTC().AddDate(0, 0, -1).Format(time.DateOnly)
		if n := p.Prune(before); n > 0 {
			slog.Info("PruneCounters: dropped old call counts", "count", n, "before", before)
		}
		return nil
	}
}
