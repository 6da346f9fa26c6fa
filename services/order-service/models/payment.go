package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

const PaymentMethodCard = "card"

// Payment is one attempt to collect an order's total through the processor.
// At most one non-failed payment may exist per order, enforced by the partial
// unique index on order_id.
type Payment struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID           uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_payments_active_order,where:status <> 'failed'" json:"orderId"`
	Order             *Order          `gorm:"foreignKey:OrderID" json:"order,omitempty"`
	UserID            string          `gorm:"type:varchar(64);not null;index" json:"userId"`
	Amount            decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	AmountMinor       int64           `gorm:"not null" json:"amountMinor"`
	Currency          string          `gorm:"type:varchar(10);not null" json:"currency"`
	Method            string          `gorm:"type:varchar(20);not null;default:'card'" json:"method"`
	Status            PaymentStatus   `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ProcessorIntentID string          `gorm:"type:varchar(255);not null;uniqueIndex" json:"paymentIntentId"`
	RefundID          *string         `gorm:"type:varchar(255)" json:"refundId,omitempty"`
	RefundReason      *string         `gorm:"type:varchar(50)" json:"refundReason,omitempty"`
	FailureReason     *string         `gorm:"type:text" json:"failureReason,omitempty"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
	FailedAt          *time.Time      `json:"failedAt,omitempty"`
	RefundedAt        *time.Time      `json:"refundedAt,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

// ToMinorUnits converts a major-unit amount to the processor's integer
// minor units, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
