package worker

import (
	"context"
	"log/slog"
	"time"

	"L402Paywall/internal/payments"
	"L402Paywall/internal/services"
	"L402Paywall/internal/store"
)

// EventSink consumes verified payment events.
type EventSink interface {
	Reconcile(ctx context.Context, ev *payments.VerifiedEvent) (services.Result, error)
}

type Worker struct {
	Store          store.Store
	Reconciler     EventSink
	Interval       time.Duration
	SweepBatch     int
	StreamEndpoint string
	ReconnectDelay time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

func (w *Worker) log() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

// Run sweeps overdue intents every Interval and, when a stream endpoint is
// set, listens for LNbits payments until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	if w.StreamEndpoint != "" {
		go w.RunStream(ctx)
	}
	interval := w.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := w.SweepOnce(ctx); err != nil {
			w.log().Error("expiry sweep failed", "err", err)
		} else if n > 0 {
			w.log().Info("expired payment intents", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce expires every pending intent past its deadline, in batches of
// SweepBatch.
func (w *Worker) SweepOnce(ctx context.Context) (int64, error) {
	batch := w.SweepBatch
	if batch <= 0 {
		batch = 500
	}
	now := w.now()
	var total int64
	for {
		n, err := w.Store.ExpirePending(ctx, now, batch)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(batch) {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}
