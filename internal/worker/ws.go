package worker

import (
	"context"
	"time"

	"L402Paywall/internal/payments"
)

func (w *Worker) RunStream(ctx context.Context) {
	if w.StreamEndpoint == "" {
		w.log().Info("payment stream disabled: no endpoint")
		return
	}
	delay := w.ReconnectDelay
	if delay <= 0 {
		delay = 3 * time.Second
	}

	for ctx.Err() == nil {
		stream := payments.NewLNbitsStream(w.StreamEndpoint)
		if err := stream.Connect(ctx); err != nil {
			w.log().Warn("payment stream connect failed", "err", err)
			sleep(ctx, delay)
			continue
		}
		w.log().Info("payment stream connected")
		w.consume(ctx, stream)
		sleep(ctx, delay)
	}
}

func (w *Worker) consume(ctx context.Context, stream *payments.LNbitsStream) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-done:
		}
	}()
	defer stream.Close()

	for {
		msg, err := stream.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.log().Warn("payment stream read failed", "err", err)
			}
			return
		}
		w.handleMessage(ctx, msg)
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg []byte) {
	ev, ok, err := payments.ParseStreamMessage(msg, w.now())
	if err != nil {
		w.log().Warn("payment stream message rejected", "err", err)
		return
	}
	if !ok || !ev.Settled() {
		return
	}
	res, err := w.Reconciler.Reconcile(ctx, ev)
	if err != nil {
		w.log().Error("reconcile stream payment failed", "reference", ev.Reference, "err", err)
		return
	}
	w.log().Info("stream payment reconciled", "reference", ev.Reference, "outcome", res.Outcome)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
