package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/fitmeals-backend/services/common/errors"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/models"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/repository"
)

func placeOrder(t *testing.T, f *fixture, userID string) *models.Order {
	t.Helper()
	order, err := f.orders.CreateOrder(context.Background(), userID, "", validOrderInput())
	require.NoError(t, err)
	return order
}

func TestCreatePaymentIntent(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")

	res, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "pi_1", res.PaymentIntentID)
	assert.Equal(t, "pi_1_secret", res.ClientSecret)
	assert.Equal(t, "2000", res.Amount.String())
	assert.Equal(t, "usd", res.Currency)
	assert.Equal(t, int64(200000), f.processor.intents["pi_1"].Amount)

	p := f.store.payments[res.PaymentID]
	require.NotNil(t, p)
	assert.Equal(t, models.PaymentPending, p.Status)
	assert.Equal(t, int64(200000), p.AmountMinor)
	assert.Equal(t, models.PaymentMethodCard, p.Method)
}

func TestCreatePaymentIntent_ReusesOpenIntent(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")

	first, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	second, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, first.PaymentIntentID, second.PaymentIntentID)
	assert.Equal(t, 1, f.processor.count("create"))
	assert.Len(t, f.store.payments, 1)
}

func TestCreatePaymentIntent_ReplacesCanceledIntent(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")

	first, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	f.processor.setStatus(first.PaymentIntentID, IntentCanceled)

	second, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, models.PaymentFailed, f.store.payments[first.PaymentID].Status)
	assert.Equal(t, models.PaymentPending, f.store.payments[second.PaymentID].Status)
}

func TestCreatePaymentIntent_AlreadyPaidSkipsProcessor(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	res, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	f.processor.setStatus(res.PaymentIntentID, IntentSucceeded)
	_, err = f.payments.ConfirmPayment(context.Background(), res.PaymentIntentID, "user-1")
	require.NoError(t, err)

	creates, retrieves := f.processor.count("create"), f.processor.count("retrieve")
	_, err = f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidState))
	assert.Equal(t, creates, f.processor.count("create"))
	assert.Equal(t, retrieves, f.processor.count("retrieve"))
}

func TestCreatePaymentIntent_SucceededButUnrecorded(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	res, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	f.processor.setStatus(res.PaymentIntentID, IntentSucceeded)

	_, err = f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidState))
	assert.Equal(t, models.PaymentCompleted, f.store.payments[res.PaymentID].Status)
	assert.Equal(t, models.OrderConfirmed, f.store.orders[order.ID].Status)
}

func TestCreatePaymentIntent_Errors(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")

	_, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-2")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	f.processor.createErr = errors.New("stripe down")
	_, err = f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	assert.True(t, apperrors.Is(err, apperrors.KindExternal))
	assert.Empty(t, f.store.payments)

	f.processor.createErr = nil
	f.store.orders[order.ID].Status = models.OrderCancelled
	_, err = f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidState))
}

func TestCreatePaymentIntent_LostInsertRaceCancelsIntent(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	f.store.failNext = repository.ErrDuplicate

	_, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidState))
	assert.Equal(t, 1, f.processor.count("cancel"))
	assert.Equal(t, IntentCanceled, f.processor.intents["pi_1"].Status)
}

func TestConfirmPayment_IsIdempotent(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	res, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)

	_, err = f.payments.ConfirmPayment(context.Background(), res.PaymentIntentID, "user-1")
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidState))
	assert.Equal(t, models.PaymentPending, f.store.payments[res.PaymentID].Status)

	f.processor.setStatus(res.PaymentIntentID, IntentSucceeded)
	out, err := f.payments.ConfirmPayment(context.Background(), res.PaymentIntentID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, out.Payment.Status)
	assert.Equal(t, models.OrderConfirmed, out.Order.Status)
	require.NotNil(t, out.Order.PaymentID)
	assert.Equal(t, res.PaymentID, *out.Order.PaymentID)

	again, err := f.payments.ConfirmPayment(context.Background(), res.PaymentIntentID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, out.Payment.CompletedAt, again.Payment.CompletedAt)
	assert.Equal(t, models.OrderConfirmed, again.Order.Status)
}

func TestConfirmPayment_OtherUser(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	res, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	f.processor.setStatus(res.PaymentIntentID, IntentSucceeded)

	_, err = f.payments.ConfirmPayment(context.Background(), res.PaymentIntentID, "user-2")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
	assert.Equal(t, models.PaymentPending, f.store.payments[res.PaymentID].Status)

	_, err = f.payments.ConfirmPayment(context.Background(), "pi_unknown", "user-1")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestHandleWebhook_SucceededThenConfirm(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	res, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	f.processor.setStatus(res.PaymentIntentID, IntentSucceeded)

	f.processor.event = &ProcessorEvent{ID: "evt_1", Type: "payment_intent.succeeded", Kind: EventPaymentSucceeded, IntentID: res.PaymentIntentID}
	require.NoError(t, f.payments.HandleWebhook(context.Background(), []byte(`{}`), "sig"))
	assert.Equal(t, models.PaymentCompleted, f.store.payments[res.PaymentID].Status)
	assert.Equal(t, models.OrderConfirmed, f.store.orders[order.ID].Status)

	// Redelivery and the client confirm both leave the settled state alone.
	require.NoError(t, f.payments.HandleWebhook(context.Background(), []byte(`{}`), "sig"))
	out, err := f.payments.ConfirmPayment(context.Background(), res.PaymentIntentID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderConfirmed, out.Order.Status)
}

func TestHandleWebhook_FailedClosesDeclinedIntent(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	res, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)

	f.processor.event = &ProcessorEvent{ID: "evt_2", Kind: EventPaymentFailed, IntentID: res.PaymentIntentID, FailureMessage: "card_declined"}
	require.NoError(t, f.payments.HandleWebhook(context.Background(), nil, "sig"))

	p := f.store.payments[res.PaymentID]
	assert.Equal(t, models.PaymentFailed, p.Status)
	require.NotNil(t, p.FailureReason)
	assert.Equal(t, "card_declined", *p.FailureReason)
	assert.Equal(t, models.OrderPending, f.store.orders[order.ID].Status)
	assert.Equal(t, IntentCanceled, f.processor.intents[res.PaymentIntentID].Status)

	// The customer retries through a fresh intent and is charged once.
	retry, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, res.PaymentIntentID, retry.PaymentIntentID)
	f.processor.setStatus(retry.PaymentIntentID, IntentSucceeded)
	out, err := f.payments.ConfirmPayment(context.Background(), retry.PaymentIntentID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderConfirmed, out.Order.Status)
	assert.Equal(t, 1, f.processor.succeededIntents())
}

func TestHandleWebhook_FailedAfterRetrySucceeded(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	res, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	f.processor.setStatus(res.PaymentIntentID, IntentSucceeded)

	f.processor.event = &ProcessorEvent{ID: "evt_3", Kind: EventPaymentFailed, IntentID: res.PaymentIntentID, FailureMessage: "card_declined"}
	require.NoError(t, f.payments.HandleWebhook(context.Background(), nil, "sig"))

	assert.Equal(t, models.PaymentCompleted, f.store.payments[res.PaymentID].Status)
	assert.Equal(t, models.OrderConfirmed, f.store.orders[order.ID].Status)
	assert.Equal(t, 0, f.processor.count("cancel"))
}

func TestHandleWebhook_FailedProcessorErrorIsRetried(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	res, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)

	next := &flakyProcessor{fakeProcessor: f.processor, err: errors.New("connection reset")}
	f.payments.processor = next
	f.processor.event = &ProcessorEvent{ID: "evt_4", Kind: EventPaymentFailed, IntentID: res.PaymentIntentID}

	err = f.payments.HandleWebhook(context.Background(), nil, "sig")
	assert.True(t, apperrors.Is(err, apperrors.KindExternal))
	assert.Equal(t, models.PaymentPending, f.store.payments[res.PaymentID].Status)
	assert.Equal(t, 1, f.events.released)
}

func TestConfirmPayment_CompletesFailedPaymentCharged(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	res, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	f.store.payments[res.PaymentID].Status = models.PaymentFailed
	f.processor.setStatus(res.PaymentIntentID, IntentSucceeded)

	out, err := f.payments.ConfirmPayment(context.Background(), res.PaymentIntentID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, out.Payment.Status)
	assert.Equal(t, models.OrderConfirmed, out.Order.Status)
}

func TestConfirmPayment_LateChargeSupersedesPendingPayment(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	first, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	f.store.payments[first.PaymentID].Status = models.PaymentFailed

	second, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	require.NotEqual(t, first.PaymentIntentID, second.PaymentIntentID)

	f.processor.setStatus(first.PaymentIntentID, IntentSucceeded)
	out, err := f.payments.ConfirmPayment(context.Background(), first.PaymentIntentID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, out.Payment.Status)
	assert.Equal(t, models.OrderConfirmed, out.Order.Status)
	assert.Equal(t, models.PaymentFailed, f.store.payments[second.PaymentID].Status)
	assert.Equal(t, IntentCanceled, f.processor.intents[second.PaymentIntentID].Status)
	assert.Equal(t, 0, f.processor.count("refund"))
}

func TestConfirmPayment_LateChargeOnPaidOrderIsRefunded(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	first, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	f.store.payments[first.PaymentID].Status = models.PaymentFailed

	second, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	f.processor.setStatus(second.PaymentIntentID, IntentSucceeded)
	_, err = f.payments.ConfirmPayment(context.Background(), second.PaymentIntentID, "user-1")
	require.NoError(t, err)

	f.processor.setStatus(first.PaymentIntentID, IntentSucceeded)
	_, err = f.payments.ConfirmPayment(context.Background(), first.PaymentIntentID, "user-1")
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidState))

	late := f.store.payments[first.PaymentID]
	assert.Equal(t, models.PaymentFailed, late.Status)
	require.NotNil(t, late.RefundID)
	assert.Equal(t, "re_"+first.PaymentIntentID, *late.RefundID)
	require.NotNil(t, f.store.orders[order.ID].PaymentID)
	assert.Equal(t, second.PaymentID, *f.store.orders[order.ID].PaymentID)

	// A redelivered success for the late charge does not refund again.
	f.processor.event = &ProcessorEvent{ID: "evt_5", Kind: EventPaymentSucceeded, IntentID: first.PaymentIntentID}
	require.NoError(t, f.payments.HandleWebhook(context.Background(), nil, "sig"))
	assert.Equal(t, 1, f.processor.count("refund"))
}

func TestConfirmPayment_BothChargesSucceededKeepsHolder(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	first, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	f.store.payments[first.PaymentID].Status = models.PaymentFailed
	second, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)

	f.processor.setStatus(first.PaymentIntentID, IntentSucceeded)
	f.processor.setStatus(second.PaymentIntentID, IntentSucceeded)
	_, err = f.payments.ConfirmPayment(context.Background(), first.PaymentIntentID, "user-1")
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidState))

	assert.Equal(t, models.PaymentCompleted, f.store.payments[second.PaymentID].Status)
	assert.Equal(t, models.OrderConfirmed, f.store.orders[order.ID].Status)
	assert.NotNil(t, f.store.payments[first.PaymentID].RefundID)
	assert.Equal(t, []string{first.PaymentIntentID}, f.processor.refunded)
}

func TestConfirmThenWebhook(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	res, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	f.processor.setStatus(res.PaymentIntentID, IntentSucceeded)

	out, err := f.payments.ConfirmPayment(context.Background(), res.PaymentIntentID, "user-1")
	require.NoError(t, err)
	completedAt := out.Payment.CompletedAt

	f.processor.event = &ProcessorEvent{ID: "evt_6", Kind: EventPaymentSucceeded, IntentID: res.PaymentIntentID}
	require.NoError(t, f.payments.HandleWebhook(context.Background(), nil, "sig"))

	p := f.store.payments[res.PaymentID]
	assert.Equal(t, models.PaymentCompleted, p.Status)
	assert.Equal(t, completedAt, p.CompletedAt)
	assert.Equal(t, models.OrderConfirmed, f.store.orders[order.ID].Status)
}

func TestConfirmAndWebhookConcurrently(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture()
		order := placeOrder(t, f, "user-1")
		res, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
		require.NoError(t, err)
		f.processor.setStatus(res.PaymentIntentID, IntentSucceeded)
		f.processor.event = &ProcessorEvent{ID: "evt_7", Kind: EventPaymentSucceeded, IntentID: res.PaymentIntentID}

		var wg sync.WaitGroup
		var confirmErr, webhookErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, confirmErr = f.payments.ConfirmPayment(context.Background(), res.PaymentIntentID, "user-1")
		}()
		go func() {
			defer wg.Done()
			webhookErr = f.payments.HandleWebhook(context.Background(), nil, "sig")
		}()
		wg.Wait()

		require.NoError(t, confirmErr)
		require.NoError(t, webhookErr)
		assert.Equal(t, models.PaymentCompleted, f.store.payments[res.PaymentID].Status)
		assert.Equal(t, models.OrderConfirmed, f.store.orders[order.ID].Status)
	}
}

func TestHandleWebhook_UnknownIntentAndIgnoredTypes(t *testing.T) {
	f := newFixture()

	f.processor.event = &ProcessorEvent{ID: "evt_4", Kind: EventPaymentSucceeded, IntentID: "pi_elsewhere"}
	assert.NoError(t, f.payments.HandleWebhook(context.Background(), nil, "sig"))

	f.processor.event = &ProcessorEvent{ID: "evt_5", Type: "charge.updated", Kind: EventIgnored}
	assert.NoError(t, f.payments.HandleWebhook(context.Background(), nil, "sig"))
	assert.Empty(t, f.store.payments)
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	f := newFixture()
	f.processor.verifyErr = errors.New("no signatures found matching the expected signature")

	err := f.payments.HandleWebhook(context.Background(), []byte(`{}`), "bogus")
	assert.True(t, apperrors.Is(err, apperrors.KindUnauthorized))
}

func TestRefundPayment(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	res, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)

	in := RefundInput{PaymentID: res.PaymentID, RequesterID: "user-1"}
	_, err = f.payments.RefundPayment(context.Background(), in)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidState))
	assert.Equal(t, 0, f.processor.count("refund"))

	f.processor.setStatus(res.PaymentIntentID, IntentSucceeded)
	_, err = f.payments.ConfirmPayment(context.Background(), res.PaymentIntentID, "user-1")
	require.NoError(t, err)

	_, err = f.payments.RefundPayment(context.Background(), RefundInput{PaymentID: res.PaymentID, RequesterID: "user-2"})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	_, err = f.payments.RefundPayment(context.Background(), RefundInput{PaymentID: res.PaymentID, RequesterID: "user-1", Reason: "changed_mind"})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	out, err := f.payments.RefundPayment(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, out.Payment.Status)
	require.NotNil(t, out.Payment.RefundReason)
	assert.Equal(t, DefaultRefundReason, *out.Payment.RefundReason)
	assert.Equal(t, models.OrderCancelled, out.Order.Status)

	_, err = f.payments.RefundPayment(context.Background(), in)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidState))
	assert.Equal(t, 1, f.processor.count("refund"))
}

func paidOrder(t *testing.T, f *fixture) (*models.Order, *IntentResult) {
	t.Helper()
	order := placeOrder(t, f, "user-1")
	res, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	f.processor.setStatus(res.PaymentIntentID, IntentSucceeded)
	_, err = f.payments.ConfirmPayment(context.Background(), res.PaymentIntentID, "user-1")
	require.NoError(t, err)
	return order, res
}

func TestRefundPayment_RetryAfterRecordFailure(t *testing.T) {
	f := newFixture()
	order, res := paidOrder(t, f)
	in := RefundInput{PaymentID: res.PaymentID, RequesterID: "user-1"}

	f.store.refundFail = errors.New("connection reset by peer")
	_, err := f.payments.RefundPayment(context.Background(), in)
	assert.True(t, apperrors.Is(err, apperrors.KindInternal))
	assert.Equal(t, models.PaymentCompleted, f.store.payments[res.PaymentID].Status)

	out, err := f.payments.RefundPayment(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, out.Payment.Status)
	assert.Equal(t, models.OrderCancelled, f.store.orders[order.ID].Status)
	assert.Equal(t, 2, f.processor.count("refund"))
	assert.Len(t, f.processor.refunded, 1)
}

func TestRefundPayment_RecordedAfterRequestCancelled(t *testing.T) {
	f := newFixture()
	_, res := paidOrder(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := f.payments.RefundPayment(ctx, RefundInput{PaymentID: res.PaymentID, RequesterID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, out.Payment.Status)
}

func TestCreatePaymentIntent_RetryReplaysIntent(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	f.store.failNext = errors.New("connection reset by peer")

	_, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	assert.True(t, apperrors.Is(err, apperrors.KindInternal))
	assert.Equal(t, 0, f.processor.count("cancel"))

	res, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "pi_1", res.PaymentIntentID)
	assert.Len(t, f.processor.intents, 1)
	assert.Equal(t, 2, f.processor.count("create"))
}

func TestRefundPayment_AdminMayRefundAnyPayment(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	res, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	f.processor.setStatus(res.PaymentIntentID, IntentSucceeded)
	_, err = f.payments.ConfirmPayment(context.Background(), res.PaymentIntentID, "user-1")
	require.NoError(t, err)
	f.store.orders[order.ID].Status = models.OrderDelivered

	out, err := f.payments.RefundPayment(context.Background(), RefundInput{
		PaymentID: res.PaymentID, RequesterID: "admin-1", IsAdmin: true, Reason: "fraudulent",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, out.Payment.Status)
	assert.Equal(t, models.OrderDelivered, out.Order.Status)

	_, err = f.payments.RefundPayment(context.Background(), RefundInput{PaymentID: uuid.New(), IsAdmin: true})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestGetPaymentHistory(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f, "user-1")
	_, err := f.payments.CreatePaymentIntent(context.Background(), order.ID, "user-1")
	require.NoError(t, err)

	resp, err := f.payments.GetPaymentHistory(context.Background(), "user-1", 1, 10)
	require.NoError(t, err)
	assert.Len(t, resp.Payments, 1)
	assert.Equal(t, int64(1), resp.Meta.Total)

	resp, err = f.payments.GetPaymentHistory(context.Background(), "user-2", 1, 10)
	require.NoError(t, err)
	assert.NotNil(t, resp.Payments)
	assert.Empty(t, resp.Payments)
}

func TestPendingSweeper(t *testing.T) {
	f := newFixture()
	sweeper := NewPendingSweeper(f.payments, time.Minute, time.Hour, zap.NewNop())
	sweeper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	paid := placeOrder(t, f, "user-1")
	abandoned := placeOrder(t, f, "user-1")
	vanished := placeOrder(t, f, "user-1")

	paidRes, err := f.payments.CreatePaymentIntent(context.Background(), paid.ID, "user-1")
	require.NoError(t, err)
	abandonedRes, err := f.payments.CreatePaymentIntent(context.Background(), abandoned.ID, "user-1")
	require.NoError(t, err)
	vanishedRes, err := f.payments.CreatePaymentIntent(context.Background(), vanished.ID, "user-1")
	require.NoError(t, err)

	f.processor.setStatus(paidRes.PaymentIntentID, IntentSucceeded)
	delete(f.processor.intents, vanishedRes.PaymentIntentID)

	n, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, models.PaymentCompleted, f.store.payments[paidRes.PaymentID].Status)
	assert.Equal(t, models.OrderConfirmed, f.store.orders[paid.ID].Status)
	assert.Equal(t, models.PaymentFailed, f.store.payments[abandonedRes.PaymentID].Status)
	assert.Equal(t, IntentCanceled, f.processor.intents[abandonedRes.PaymentIntentID].Status)
	assert.Equal(t, models.PaymentFailed, f.store.payments[vanishedRes.PaymentID].Status)

	n, err = sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPendingSweeper_DisabledReturnsImmediately(t *testing.T) {
	f := newFixture()
	sweeper := NewPendingSweeper(f.payments, 0, time.Hour, zap.NewNop())

	done := make(chan struct{})
	go func() {
		sweeper.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled sweeper kept running")
	}
}
