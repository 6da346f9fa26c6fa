package services

import (
	"context"
	"errors"
)

// ErrIntentNotFound is returned when the processor has no intent with the
// requested ID.
var ErrIntentNotFound = errors.New("payment intent not found")

// IntentStatus mirrors the processor's payment intent lifecycle.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

// AwaitingCustomer reports whether the customer can still complete the
// intent with the client secret already handed out.
func (s IntentStatus) AwaitingCustomer() bool {
	switch s {
	case IntentRequiresPaymentMethod, IntentRequiresConfirmation, IntentRequiresAction, IntentProcessing:
		return true
	}
	return false
}

type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	Amount       int64
	Currency     string
}

type Refund struct {
	ID     string
	Status string
}

// EventKind is the reconciliation-relevant class of a processor event.
type EventKind int

const (
	EventIgnored EventKind = iota
	EventPaymentSucceeded
	EventPaymentFailed
	EventPaymentCanceled
)

// ProcessorEvent is a verified webhook event.
type ProcessorEvent struct {
	ID             string
	Type           string
	Kind           EventKind
	IntentID       string
	FailureMessage string
}

// PaymentProcessor is the external card processor. Writes carry an
// idempotency key so a retried call replays the first result instead of
// charging or refunding twice.
type PaymentProcessor interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency, idempotencyKey string, metadata map[string]string) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
	CreateRefund(ctx context.Context, intentID, reason, idempotencyKey string) (*Refund, error)
	// VerifyWebhook authenticates payload against signature and decodes it.
	VerifyWebhook(payload []byte, signature string) (*ProcessorEvent, error)
}
