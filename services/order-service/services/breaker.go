package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

// BreakerProcessor guards a PaymentProcessor with a circuit breaker so a
// processor outage fails requests fast instead of tying up handlers.
// Declines and other 4xx answers count as successful calls.
type BreakerProcessor struct {
	next PaymentProcessor
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerProcessor trips after five consecutive transport or 5xx failures
// and tries again after timeout.
func NewBreakerProcessor(next PaymentProcessor, timeout time.Duration, logger *zap.Logger) *BreakerProcessor {
	settings := gobreaker.Settings{
		Name:        "payment-processor",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isProcessorFault(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &BreakerProcessor{next: next, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

func (b *BreakerProcessor) CreateIntent(ctx context.Context, amountMinor int64, currency, idempotencyKey string, metadata map[string]string) (*Intent, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.CreateIntent(ctx, amountMinor, currency, idempotencyKey, metadata)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Intent), nil
}

func (b *BreakerProcessor) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.RetrieveIntent(ctx, intentID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Intent), nil
}

func (b *BreakerProcessor) CancelIntent(ctx context.Context, intentID string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.CancelIntent(ctx, intentID)
	})
	return err
}

func (b *BreakerProcessor) CreateRefund(ctx context.Context, intentID, reason, idempotencyKey string) (*Refund, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.CreateRefund(ctx, intentID, reason, idempotencyKey)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Refund), nil
}

// VerifyWebhook is a local computation and bypasses the breaker.
func (b *BreakerProcessor) VerifyWebhook(payload []byte, signature string) (*ProcessorEvent, error) {
	return b.next.VerifyWebhook(payload, signature)
}

// State exposes the breaker state for health reporting.
func (b *BreakerProcessor) State() gobreaker.State {
	return b.cb.State()
}

// isProcessorFault reports whether err means the processor itself is
// unhealthy rather than rejecting this particular request.
func isProcessorFault(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrIntentNotFound) {
		return false
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		return se.HTTPStatusCode >= http.StatusInternalServerError || se.HTTPStatusCode == http.StatusTooManyRequests
	}
	return true
}
