// Package clock abstracts wall time so the scheduler and detectors can be driven deterministically.
package clock

import (
	"context"
	"time"
)

// Clock supplies the current time, cooperative sleeps and tickers.
type Clock interface {
	Now() time.Time
	// Sleep pauses for d or until ctx is done, whichever is first.
	Sleep(ctx context.Context, d time.Duration) error
	// NewTicker delivers ticks every d until stopped. d must be positive.
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of *time.Ticker the loops use.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// System is the real wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

func (System) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (System) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }
