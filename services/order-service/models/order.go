package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// OrderStatus is a state of the order lifecycle:
// pending -> confirmed -> preparing -> ready -> delivered, with cancelled
// reachable from every non-terminal state.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

var nextOrderStatus = map[OrderStatus]OrderStatus{
	OrderPending:   OrderConfirmed,
	OrderConfirmed: OrderPreparing,
	OrderPreparing: OrderReady,
	OrderReady:     OrderDelivered,
}

// ParseOrderStatus returns the status named s, or false if s is not one.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(s)
	switch st {
	case OrderPending, OrderConfirmed, OrderPreparing, OrderReady, OrderDelivered, OrderCancelled:
		return st, true
	}
	return "", false
}

// IsTerminal reports whether no transition may leave s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// CanTransitionTo reports whether to is an edge of the lifecycle graph from s.
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if to == OrderCancelled {
		return true
	}
	return nextOrderStatus[s] == to
}

// Address is the delivery destination embedded in an order.
type Address struct {
	Street  string `gorm:"type:varchar(255);not null" json:"street"`
	City    string `gorm:"type:varchar(100);not null" json:"city"`
	State   string `gorm:"type:varchar(100);not null" json:"state"`
	ZipCode string `gorm:"type:varchar(20);not null" json:"zipCode"`
	Country string `gorm:"type:varchar(2);not null;default:'US'" json:"country"`
}

type Order struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          string          `gorm:"type:varchar(64);not null;index" json:"userId"`
	Items           []OrderItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	TotalAmount     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"totalAmount"`
	Status          OrderStatus     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	DeliveryAddress Address         `gorm:"embedded;embeddedPrefix:delivery_" json:"deliveryAddress"`
	DeliveryDate    time.Time       `gorm:"type:date;not null" json:"deliveryDate"`
	DeliveryTime    string          `gorm:"type:varchar(5);not null" json:"deliveryTime"`
	Notes           string          `gorm:"type:varchar(500)" json:"notes,omitempty"`
	PaymentID       *uuid.UUID      `gorm:"type:uuid" json:"paymentId,omitempty"`
	CancelledAt     *time.Time      `json:"cancelledAt,omitempty"`
	DeliveredAt     *time.Time      `json:"deliveredAt,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

// OrderItem is a line of an order with the unit price captured at placement.
type OrderItem struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"-"`
	MealID         string          `gorm:"type:varchar(64);not null" json:"mealId"`
	MealName       string          `gorm:"type:varchar(255)" json:"mealName"`
	Quantity       int             `gorm:"not null" json:"quantity"`
	UnitPrice      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unitPrice"`
	Subtotal       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	Customizations pq.StringArray  `gorm:"type:text[]" json:"customizations,omitempty"`
}
