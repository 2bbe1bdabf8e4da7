// Package outcome emits outcome events and activity records.
//
// Both are best effort: a failing sink or activity write is logged and never fails the dispatch
// that produced it.
package outcome

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/CadencePipe/internal/models"
)

// Sink receives outcome events for downstream analytics.
type Sink interface {
	Record(ctx context.Context, o models.Outcome) error
}

// Emit records o on sink, logging instead of returning any failure.
func Emit(ctx context.Context, sink Sink, o models.Outcome) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, o); err != nil {
		slog.Warn("outcome.Emit: sink rejected outcome", "actionID", o.ActionID, "kind", o.Kind, "error", err)
	}
}

// OutcomeRecorder is the store method StoreSink writes through.
type OutcomeRecorder interface {
	RecordOutcome(o models.Outcome) error
}

// StoreSink persists outcomes in the outcomes table.
type StoreSink struct {
	repo OutcomeRecorder
}

// NewStoreSink creates a sink backed by repo.
func NewStoreSink(repo OutcomeRecorder) *StoreSink {
	return &StoreSink{repo: repo}
}

func (s *StoreSink) Record(_ context.Context, o models.Outcome) error {
	return s.repo.RecordOutcome(o)
}

// MultiSink fans an outcome out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, o models.Outcome) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Sink = (*StoreSink)(nil)
	_ Sink = MultiSink(nil)
	_ Sink = (*RedisSink)(nil)
)
