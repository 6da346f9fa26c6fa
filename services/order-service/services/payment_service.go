package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/fitmeals-backend/pkg/aws"
	apperrors "github.com/yashrajoria/fitmeals-backend/services/common/errors"
	"github.com/yashrajoria/fitmeals-backend/services/common/logger"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/models"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/repository"
)

const DefaultRefundReason = "requested_by_customer"

// recordTimeout bounds local writes that must outlive the request once the
// processor has acted.
const recordTimeout = 10 * time.Second

var refundReasons = map[string]bool{
	"requested_by_customer": true,
	"duplicate":             true,
	"fraudulent":            true,
}

type IntentResult struct {
	ClientSecret    string          `json:"clientSecret"`
	PaymentID       uuid.UUID       `json:"paymentId"`
	PaymentIntentID string          `json:"paymentIntentId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

// PaymentOutcome is a payment together with its order after a state change.
type PaymentOutcome struct {
	Payment models.Payment `json:"payment"`
	Order   models.Order   `json:"order"`
}

type RefundInput struct {
	PaymentID   uuid.UUID
	RequesterID string
	IsAdmin     bool
	Reason      string
}

type PaymentListResponse struct {
	Payments []models.Payment `json:"payments"`
	Meta     PageMeta         `json:"meta"`
}

type PaymentService struct {
	payments  repository.PaymentRepository
	orders    repository.OrderRepository
	processor PaymentProcessor
	events    ProcessedEventStore
	notifier  *Notifier
	currency  string
}

// NewPaymentService wires the payment flow. events may be nil, in which case
// webhook redeliveries are reprocessed (harmlessly, since every update is
// idempotent).
func NewPaymentService(
	payments repository.PaymentRepository,
	orders repository.OrderRepository,
	processor PaymentProcessor,
	events ProcessedEventStore,
	notifier *Notifier,
	currency string,
) *PaymentService {
	if currency == "" {
		currency = "usd"
	}
	return &PaymentService{
		payments:  payments,
		orders:    orders,
		processor: processor,
		events:    events,
		notifier:  notifier,
		currency:  currency,
	}
}

// CreatePaymentIntent starts collecting payment for the user's order. An
// intent still awaiting the customer is reused rather than duplicated.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, orderID uuid.UUID, userID string) (*IntentResult, error) {
	order, err := s.orders.FindByIDAndUserID(ctx, orderID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("Order not found")
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to fetch order", err)
	}

	paid, err := s.payments.HasCompletedForOrder(ctx, order.ID)
	if err != nil {
		return nil, apperrors.Internal("Failed to check payment status", err)
	}
	if paid {
		return nil, apperrors.InvalidState("Order is already paid")
	}
	if order.Status.IsTerminal() {
		return nil, apperrors.InvalidState(fmt.Sprintf("Order is %s and cannot be paid", order.Status))
	}

	amountMinor := models.ToMinorUnits(order.TotalAmount)
	if amountMinor <= 0 {
		return nil, apperrors.InvalidState("Order total must be positive")
	}

	open, err := s.payments.FindOpenByOrderID(ctx, order.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return nil, apperrors.Internal("Failed to check payment status", err)
	default:
		res, err := s.resumeOpenPayment(ctx, open, amountMinor)
		if res != nil || err != nil {
			return res, err
		}
	}

	attempts, err := s.payments.CountByOrderID(ctx, order.ID)
	if err != nil {
		return nil, apperrors.Internal("Failed to check payment status", err)
	}
	intentKey := fmt.Sprintf("intent-%s-%d", order.ID, attempts+1)

	intent, err := s.processor.CreateIntent(ctx, amountMinor, s.currency, intentKey, map[string]string{
		"orderId": order.ID.String(),
		"userId":  userID,
	})
	if err != nil {
		logger.Error(ctx, "payment intent creation failed", err, zap.String("order_id", order.ID.String()))
		return nil, apperrors.External("Payment processor unavailable", err)
	}

	payment := &models.Payment{
		ID:                uuid.New(),
		OrderID:           order.ID,
		UserID:            userID,
		Amount:            order.TotalAmount,
		AmountMinor:       amountMinor,
		Currency:          s.currency,
		Method:            models.PaymentMethodCard,
		Status:            models.PaymentPending,
		ProcessorIntentID: intent.ID,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			// A retry reuses intentKey and records the same intent.
			return nil, apperrors.Internal("Failed to record payment", err)
		}
		winner, findErr := s.payments.FindOpenByOrderID(ctx, order.ID)
		if findErr == nil && winner.ProcessorIntentID == intent.ID {
			// A concurrent request with the same key recorded this intent first.
			return &IntentResult{
				ClientSecret:    intent.ClientSecret,
				PaymentID:       winner.ID,
				PaymentIntentID: intent.ID,
				Amount:          winner.Amount,
				Currency:        winner.Currency,
			}, nil
		}
		s.abandonIntent(ctx, intent.ID)
		return nil, apperrors.InvalidState("A payment for this order is already in progress")
	}

	logger.Info(ctx, "payment intent created",
		zap.String("payment_id", payment.ID.String()),
		zap.String("order_id", order.ID.String()),
		zap.String("intent_id", intent.ID),
		zap.Int64("amount_minor", amountMinor),
	)
	s.notifier.PaymentIntentCreated(ctx)

	return &IntentResult{
		ClientSecret:    intent.ClientSecret,
		PaymentID:       payment.ID,
		PaymentIntentID: intent.ID,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
	}, nil
}

// resumeOpenPayment decides what to do with an order's existing non-failed
// payment. A nil result and nil error mean a new intent should be created.
func (s *PaymentService) resumeOpenPayment(ctx context.Context, open *models.Payment, amountMinor int64) (*IntentResult, error) {
	switch open.Status {
	case models.PaymentCompleted:
		return nil, apperrors.InvalidState("Order is already paid")
	case models.PaymentRefunded:
		return nil, apperrors.InvalidState("Order payment was refunded")
	}

	intent, err := s.processor.RetrieveIntent(ctx, open.ProcessorIntentID)
	if err != nil && !errors.Is(err, ErrIntentNotFound) {
		return nil, apperrors.External("Payment processor unavailable", err)
	}

	if err == nil {
		switch {
		case intent.Status == IntentSucceeded:
			if _, applyErr := s.applySucceeded(ctx, open.ID); applyErr != nil {
				return nil, applyErr
			}
			return nil, apperrors.InvalidState("Order is already paid")
		case intent.Status.AwaitingCustomer() && intent.Amount == amountMinor:
			return &IntentResult{
				ClientSecret:    intent.ClientSecret,
				PaymentID:       open.ID,
				PaymentIntentID: intent.ID,
				Amount:          open.Amount,
				Currency:        open.Currency,
			}, nil
		case intent.Status != IntentCanceled:
			if err := s.processor.CancelIntent(ctx, intent.ID); err != nil {
				return nil, apperrors.External("Payment processor unavailable", err)
			}
		}
	}

	if _, err := s.applyFailed(ctx, open, "superseded by a new payment attempt"); err != nil {
		return nil, err
	}
	return nil, nil
}

// ConfirmPayment is the client-driven settlement path: once the processor
// reports the intent succeeded, the payment completes and its order is
// confirmed.
func (s *PaymentService) ConfirmPayment(ctx context.Context, intentID, userID string) (*PaymentOutcome, error) {
	intent, err := s.processor.RetrieveIntent(ctx, intentID)
	if errors.Is(err, ErrIntentNotFound) {
		return nil, apperrors.NotFound("Payment not found")
	}
	if err != nil {
		logger.Error(ctx, "payment intent lookup failed", err, zap.String("intent_id", intentID))
		return nil, apperrors.External("Payment processor unavailable", err)
	}
	if intent.Status != IntentSucceeded {
		return nil, apperrors.InvalidState("Payment not succeeded")
	}

	payment, err := s.payments.FindByIntentIDAndUserID(ctx, intentID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("Payment not found")
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to fetch payment", err)
	}

	settlement, err := s.applySucceeded(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	return &PaymentOutcome{Payment: settlement.Payment, Order: settlement.Order}, nil
}

// HandleWebhook verifies and applies a processor event. Unknown event types
// and events for payments this service does not know are acknowledged.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	evt, err := s.processor.VerifyWebhook(payload, signature)
	if err != nil {
		logger.Warn(ctx, "webhook signature verification failed", zap.Error(err))
		return apperrors.Unauthorized("Invalid webhook signature")
	}
	if evt.Kind == EventIgnored {
		logger.Debug(ctx, "ignoring webhook event", zap.String("event_id", evt.ID), zap.String("type", evt.Type))
		return nil
	}

	reserved := false
	if s.events != nil {
		ok, err := s.events.Reserve(ctx, evt.ID)
		if err != nil {
			logger.Warn(ctx, "webhook dedupe unavailable, processing anyway", zap.Error(err))
		} else if !ok {
			logger.Info(ctx, "duplicate webhook event", zap.String("event_id", evt.ID))
			s.notifier.Counted(ctx, awspkg.MetricWebhookReplays)
			return nil
		} else {
			reserved = true
		}
	}

	if err := s.applyEvent(ctx, evt); err != nil {
		if reserved {
			if relErr := s.events.Release(ctx, evt.ID); relErr != nil {
				logger.Warn(ctx, "failed to release webhook event", zap.String("event_id", evt.ID), zap.Error(relErr))
			}
		}
		return err
	}
	return nil
}

func (s *PaymentService) applyEvent(ctx context.Context, evt *ProcessorEvent) error {
	payment, err := s.payments.FindByIntentID(ctx, evt.IntentID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Info(ctx, "webhook for unknown payment intent",
			zap.String("event_id", evt.ID), zap.String("intent_id", evt.IntentID))
		return nil
	}
	if err != nil {
		return apperrors.Internal("Failed to fetch payment", err)
	}

	switch evt.Kind {
	case EventPaymentSucceeded:
		return s.settleFromEvent(ctx, payment)
	case EventPaymentFailed:
		if payment.Status == models.PaymentPending {
			paid, err := s.closeDeclinedIntent(ctx, payment)
			if err != nil {
				return err
			}
			if paid {
				return s.settleFromEvent(ctx, payment)
			}
		}
		_, err := s.applyFailed(ctx, payment, evt.FailureMessage)
		return err
	case EventPaymentCanceled:
		reason := evt.FailureMessage
		if reason == "" {
			reason = "payment intent canceled"
		}
		_, err := s.applyFailed(ctx, payment, reason)
		return err
	}
	return nil
}

// settleFromEvent applies a processor-reported success. Conflicts are logged
// and acknowledged so the processor stops redelivering.
func (s *PaymentService) settleFromEvent(ctx context.Context, payment *models.Payment) error {
	_, err := s.applySucceeded(ctx, payment.ID)
	if apperrors.Is(err, apperrors.KindInvalidState) {
		logger.Warn(ctx, "succeeded event not applied",
			zap.String("payment_id", payment.ID.String()),
			zap.String("status", string(payment.Status)),
			zap.Error(err))
		return nil
	}
	return err
}

// closeDeclinedIntent cancels a declined intent so the customer cannot
// complete it after the payment is failed locally. It reports true when a
// retry on the same intent already succeeded.
func (s *PaymentService) closeDeclinedIntent(ctx context.Context, payment *models.Payment) (bool, error) {
	intent, err := s.processor.RetrieveIntent(ctx, payment.ProcessorIntentID)
	switch {
	case errors.Is(err, ErrIntentNotFound):
		return false, nil
	case err != nil:
		return false, apperrors.External("Payment processor unavailable", err)
	case intent.Status == IntentSucceeded:
		return true, nil
	case intent.Status == IntentCanceled:
		return false, nil
	}
	if err := s.processor.CancelIntent(ctx, intent.ID); err != nil {
		return false, apperrors.External("Payment processor unavailable", err)
	}
	return false, nil
}

// applySucceeded is the single idempotent settlement used by the confirm
// call, the webhook and the pending sweep. A failed payment whose charge went
// through is completed once the payment holding its order is cleared.
func (s *PaymentService) applySucceeded(ctx context.Context, paymentID uuid.UUID) (*repository.Settlement, error) {
	settlement, err := s.payments.MarkSucceeded(ctx, paymentID)
	if errors.Is(err, repository.ErrDuplicate) {
		if err := s.releaseOrderFor(ctx, paymentID); err != nil {
			return nil, err
		}
		settlement, err = s.payments.MarkSucceeded(ctx, paymentID)
	}
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, apperrors.InvalidState("Order is already paid by another payment")
	}
	if errors.Is(err, repository.ErrStaleState) {
		return nil, apperrors.InvalidState("Payment can no longer be completed")
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("Payment not found")
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to record payment", err)
	}

	if settlement.PaymentChanged {
		logger.Info(ctx, "payment completed",
			zap.String("payment_id", paymentID.String()),
			zap.String("order_id", settlement.Order.ID.String()))
		s.notifier.PaymentSettled(ctx, &settlement.Payment, "")
	}
	if settlement.OrderChanged {
		s.notifier.OrderStatusChanged(ctx, &settlement.Order, settlement.PrevOrderStatus)
	} else if settlement.Order.Status == models.OrderCancelled {
		logger.Warn(ctx, "payment captured for cancelled order",
			zap.String("payment_id", paymentID.String()),
			zap.String("order_id", settlement.Order.ID.String()))
	}
	return settlement, nil
}

// releaseOrderFor makes room for a late success on a failed payment. A
// pending payment holding the order is cancelled and failed. If the order was
// already paid, the late charge is refunded as a duplicate instead.
func (s *PaymentService) releaseOrderFor(ctx context.Context, paymentID uuid.UUID) error {
	late, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return apperrors.Internal("Failed to fetch payment", err)
	}
	holder, err := s.payments.FindOpenByOrderID(ctx, late.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperrors.Internal("Failed to fetch payment", err)
	}
	if holder.Status != models.PaymentPending {
		return s.refundDuplicate(ctx, late)
	}

	intent, err := s.processor.RetrieveIntent(ctx, holder.ProcessorIntentID)
	switch {
	case errors.Is(err, ErrIntentNotFound):
	case err != nil:
		return apperrors.External("Payment processor unavailable", err)
	case intent.Status == IntentSucceeded:
		// Both charges went through: the holder keeps the order.
		if _, err := s.applySucceeded(ctx, holder.ID); err != nil {
			return err
		}
		return s.refundDuplicate(ctx, late)
	case intent.Status != IntentCanceled:
		if err := s.processor.CancelIntent(ctx, intent.ID); err != nil {
			return apperrors.External("Payment processor unavailable", err)
		}
	}
	_, err = s.applyFailed(ctx, holder, "superseded by a completed payment")
	return err
}

// refundDuplicate returns a late charge on a failed payment and reports the
// order as already paid.
func (s *PaymentService) refundDuplicate(ctx context.Context, late *models.Payment) error {
	paid := apperrors.InvalidState("Order is already paid by another payment; the duplicate charge was refunded")
	if late.RefundID != nil {
		return paid
	}
	refund, err := s.processor.CreateRefund(ctx, late.ProcessorIntentID, "duplicate", refundKey(late.ID))
	if err != nil {
		logger.Error(ctx, "duplicate charge refund failed", err, zap.String("payment_id", late.ID.String()))
		return apperrors.External("Refund failed", err)
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.payments.RecordDuplicateRefund(recordCtx, late.ID, refund.ID); err != nil && !errors.Is(err, repository.ErrStaleState) {
		logger.Error(ctx, "duplicate refund issued but not recorded", err,
			zap.String("payment_id", late.ID.String()),
			zap.String("refund_id", refund.ID))
		return apperrors.Internal("Failed to record refund", err)
	}
	logger.Warn(ctx, "duplicate charge refunded",
		zap.String("payment_id", late.ID.String()),
		zap.String("order_id", late.OrderID.String()),
		zap.String("refund_id", refund.ID))
	s.notifier.Counted(ctx, awspkg.MetricDuplicateRefunded)
	return paid
}

func refundKey(paymentID uuid.UUID) string {
	return "refund-" + paymentID.String()
}

func (s *PaymentService) applyFailed(ctx context.Context, payment *models.Payment, reason string) (bool, error) {
	changed, err := s.payments.MarkFailed(ctx, payment.ID, reason)
	if err != nil {
		return false, apperrors.Internal("Failed to record payment", err)
	}
	if changed {
		failed := *payment
		failed.Status = models.PaymentFailed
		logger.Info(ctx, "payment failed",
			zap.String("payment_id", payment.ID.String()),
			zap.String("reason", reason))
		s.notifier.PaymentSettled(ctx, &failed, reason)
	}
	return changed, nil
}

// RefundPayment refunds a completed payment at the processor, then marks it
// refunded and cancels its order. Only the payer or an admin may refund.
func (s *PaymentService) RefundPayment(ctx context.Context, in RefundInput) (*PaymentOutcome, error) {
	reason := in.Reason
	if reason == "" {
		reason = DefaultRefundReason
	}
	if !refundReasons[reason] {
		return nil, apperrors.ValidationFields("Invalid refund reason", map[string]string{
			"reason": "must be one of requested_by_customer, duplicate, fraudulent",
		})
	}

	payment, err := s.payments.FindByID(ctx, in.PaymentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("Payment not found")
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to fetch payment", err)
	}
	if !in.IsAdmin && payment.UserID != in.RequesterID {
		return nil, apperrors.NotFound("Payment not found")
	}
	if payment.Status != models.PaymentCompleted {
		return nil, apperrors.InvalidState(fmt.Sprintf("Cannot refund payment in status %s", payment.Status))
	}

	refund, err := s.processor.CreateRefund(ctx, payment.ProcessorIntentID, reason, refundKey(payment.ID))
	if err != nil {
		logger.Error(ctx, "refund failed", err, zap.String("payment_id", payment.ID.String()))
		return nil, apperrors.External("Refund failed", err)
	}

	// The refund exists at the processor now; a request deadline must not
	// keep it from being recorded. A retry replays the same refund.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	settlement, err := s.payments.MarkRefunded(recordCtx, payment.ID, refund.ID, reason)
	if errors.Is(err, repository.ErrStaleState) {
		return nil, apperrors.InvalidState("Payment was refunded concurrently")
	}
	if err != nil {
		logger.Error(ctx, "refund issued but not recorded", err,
			zap.String("payment_id", payment.ID.String()),
			zap.String("refund_id", refund.ID))
		return nil, apperrors.Internal("Failed to record refund", err)
	}

	logger.Info(ctx, "payment refunded",
		zap.String("payment_id", payment.ID.String()),
		zap.String("refund_id", refund.ID),
		zap.String("reason", reason))
	s.notifier.PaymentSettled(ctx, &settlement.Payment, reason)
	if settlement.OrderChanged {
		s.notifier.OrderStatusChanged(ctx, &settlement.Order, settlement.PrevOrderStatus)
	}
	return &PaymentOutcome{Payment: settlement.Payment, Order: settlement.Order}, nil
}

// GetPaymentHistory lists the user's payments, newest first.
func (s *PaymentService) GetPaymentHistory(ctx context.Context, userID string, page, limit int) (*PaymentListResponse, error) {
	payments, total, err := s.payments.ListByUserID(ctx, userID, page, limit)
	if err != nil {
		return nil, apperrors.Internal("Failed to fetch payments", err)
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	return &PaymentListResponse{Payments: payments, Meta: newPageMeta(page, limit, total)}, nil
}

// abandonIntent cancels an intent that will never be recorded locally.
func (s *PaymentService) abandonIntent(ctx context.Context, intentID string) {
	if err := s.processor.CancelIntent(ctx, intentID); err != nil {
		logger.Warn(ctx, "failed to cancel orphaned payment intent",
			zap.String("intent_id", intentID), zap.Error(err))
	}
}
