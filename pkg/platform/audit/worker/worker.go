// Package worker relays audit events from the Postgres outbox to a sink.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	audit "validity/pkg/platform/audit"
	"validity/pkg/platform/audit/store/postgres"
	"validity/pkg/platform/circuit"
)

// Outbox is the part of the outbox store the relay needs.
type Outbox interface {
	Pending(ctx context.Context, limit int) ([]postgres.Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Worker polls the outbox and forwards pending events to the sink in order.
// Repeated sink failures open a breaker; while it is open each poll sends a
// single probe event instead of a full batch.
type Worker struct {
	outbox   Outbox
	sink     audit.Sink
	breaker  *circuit.Breaker
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

type Option func(*Worker)

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batch = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(w *Worker) {
		w.breaker = b
	}
}

func NewWorker(outbox Outbox, sink audit.Sink, opts ...Option) *Worker {
	w := &Worker{
		outbox:   outbox,
		sink:     sink,
		breaker:  circuit.New("audit-relay"),
		logger:   slog.Default(),
		interval: time.Second,
		batch:    100,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run relays until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.WarnContext(ctx, "audit relay failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce forwards one batch and returns how many events were delivered.
// Delivery stops at the first sink failure so ordering is preserved.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	limit := w.batch
	if w.breaker.IsOpen() {
		limit = 1
	}
	entries, err := w.outbox.Pending(ctx, limit)
	if err != nil {
		return 0, err
	}

	delivered := make([]uuid.UUID, 0, len(entries))
	var sinkErr error
	for _, entry := range entries {
		if sinkErr = w.sink.Emit(ctx, entry.Event); sinkErr != nil {
			if _, change := w.breaker.RecordFailure(); change.Opened {
				w.logger.WarnContext(ctx, "audit relay circuit opened", "error", sinkErr)
			}
			break
		}
		if _, change := w.breaker.RecordSuccess(); change.Closed {
			w.logger.InfoContext(ctx, "audit relay circuit closed")
		}
		delivered = append(delivered, entry.ID)
	}

	if err := w.outbox.MarkPublished(ctx, delivered, time.Now()); err != nil {
		return 0, err
	}
	return len(delivered), sinkErr
}
