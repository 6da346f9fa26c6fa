package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/yashrajoria/fitmeals-backend/services/order-service/models"
)

const sweepBatchSize = 100

// PendingSweeper settles payments left pending past a TTL, for intents whose
// webhook never arrived or whose customer walked away.
type PendingSweeper struct {
	payments *PaymentService
	interval time.Duration
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewPendingSweeper(payments *PaymentService, interval, ttl time.Duration, logger *zap.Logger) *PendingSweeper {
	return &PendingSweeper{
		payments: payments,
		interval: interval,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled. A non-positive interval
// disables the sweeper.
func (w *PendingSweeper) Run(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info("pending payment sweeper disabled")
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("pending payment sweeper started",
		zap.Duration("interval", w.interval), zap.Duration("ttl", w.ttl))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("pending payment sweeper stopped")
			return
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil {
				w.logger.Warn("pending payment sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce reconciles one batch of stale pending payments and returns how
// many it moved out of pending.
func (w *PendingSweeper) SweepOnce(ctx context.Context) (int, error) {
	stale, err := w.payments.payments.FindStalePending(ctx, w.now().Add(-w.ttl), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range stale {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		done, err := w.reconcile(ctx, &stale[i])
		if err != nil {
			w.logger.Warn("failed to reconcile pending payment",
				zap.String("payment_id", stale[i].ID.String()), zap.Error(err))
			continue
		}
		if done {
			settled++
		}
	}
	if settled > 0 {
		w.logger.Info("pending payments reconciled", zap.Int("count", settled))
	}
	return settled, nil
}

func (w *PendingSweeper) reconcile(ctx context.Context, p *models.Payment) (bool, error) {
	svc := w.payments
	intent, err := svc.processor.RetrieveIntent(ctx, p.ProcessorIntentID)
	if errors.Is(err, ErrIntentNotFound) {
		return svc.applyFailed(ctx, p, "payment intent no longer exists")
	}
	if err != nil {
		return false, err
	}

	switch {
	case intent.Status == IntentSucceeded:
		s, err := svc.applySucceeded(ctx, p.ID)
		if err != nil {
			return false, err
		}
		return s.PaymentChanged, nil
	case intent.Status == IntentCanceled:
		return svc.applyFailed(ctx, p, "payment intent canceled")
	case intent.Status.AwaitingCustomer() && intent.Status != IntentProcessing:
		if err := svc.processor.CancelIntent(ctx, intent.ID); err != nil {
			return false, err
		}
		return svc.applyFailed(ctx, p, "payment abandoned")
	}
	return false, nil
}
