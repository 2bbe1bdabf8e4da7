// Package recovery restores engine state after a restart.
//
// Leases left behind by a crashed instance are cleared so their actions become due again, and
// sessions that ended while the process was down are swept once before the loops start.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/clock"
)

// Recoverable is a component that repairs its state at startup.
type Recoverable interface {
	Name() string
	Recover(ctx context.Context, now time.Time) error
}

// ClaimStore clears expired action leases.
type ClaimStore interface {
	RequeueExpiredClaims(now time.Time) (int, error)
}

// ExpiredClaims requeues actions whose claim lease ended without a release.
type ExpiredClaims struct {
	Store ClaimStore
}

func (ExpiredClaims) Name() string { return "expired_claims" }

func (r ExpiredClaims) Recover(_ context.Context, now time.Time) error {
	n, err := r.Store.RequeueExpiredClaims(now)
	if err != nil {
		return err
	}
	slog.Info("ExpiredClaims.Recover: leases cleared", "count", n)
	return nil
}

// Func adapts a function to Recoverable.
type Func struct {
	Label string
	Fn    func(ctx context.Context, now time.Time) error
}

func (f Func) Name() string { return f.Label }

func (f Func) Recover(ctx context.Context, now time.Time) error { return f.Fn(ctx, now) }

// Manager runs registered recoverables in order.
type Manager struct {
	clock        clock.Clock
	recoverables []Recoverable
}

// NewManager creates a manager. A nil clock uses the system clock.
func NewManager(clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.System{}
	}
	return &Manager{clock: clk}
}

// Register adds a component to recover.
func (m *Manager) Register(r Recoverable) {
	m.recoverables = append(m.recoverables, r)
}

// RecoverAll runs every component even when an earlier one fails and reports how many failed.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "components", len(m.recoverables))
	now := m.clock.Now()

	recovered, failed := 0, 0
	for _, r := range m.recoverables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Recover(ctx, now); err != nil {
			slog.Error("Component recovery failed", "component", r.Name(), "error", err)
			failed++
			continue
		}
		recovered++
	}

	slog.Info("Application recovery completed", "recovered", recovered, "errors", failed)
	if failed > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", failed, len(m.recoverables))
	}
	return nil
}
