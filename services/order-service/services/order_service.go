package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/fitmeals-backend/services/common/errors"
	"github.com/yashrajoria/fitmeals-backend/services/common/logger"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/models"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/repository"
)

const (
	MaxNotesLength  = 500
	MaxItemQuantity = 100
	MaxOrderItems   = 50
)

// MaxOrderTotal is the largest single charge the card processor accepts.
var MaxOrderTotal = decimal.RequireFromString("999999.99")

var deliveryTimePattern = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)

type OrderItemInput struct {
	MealID         string
	Quantity       int
	Customizations []string
}

type CreateOrderInput struct {
	Items           []OrderItemInput
	DeliveryAddress models.Address
	// DeliveryDate is a calendar date; only its year, month and day are used.
	DeliveryDate time.Time
	DeliveryTime string
	Notes        string
}

type OrderListResponse struct {
	Orders []models.Order `json:"orders"`
	Meta   PageMeta       `json:"meta"`
}

type OrderService struct {
	orders   repository.OrderRepository
	meals    repository.MealRepository
	notifier *Notifier
	now      func() time.Time
}

func NewOrderService(orders repository.OrderRepository, meals repository.MealRepository, notifier *Notifier) *OrderService {
	return &OrderService{
		orders:   orders,
		meals:    meals,
		notifier: notifier,
		now:      time.Now,
	}
}

// CreateOrder prices the requested meals from the catalog and stores a
// pending order. userEmail is the fallback address for the confirmation mail.
func (s *OrderService) CreateOrder(ctx context.Context, userID, userEmail string, in CreateOrderInput) (*models.Order, error) {
	if err := s.validateCreateOrder(in); err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:              uuid.New(),
		UserID:          userID,
		Status:          models.OrderPending,
		DeliveryAddress: in.DeliveryAddress,
		DeliveryDate:    dateOnly(in.DeliveryDate),
		DeliveryTime:    in.DeliveryTime,
		Notes:           in.Notes,
		Items:           make([]models.OrderItem, 0, len(in.Items)),
	}
	if order.DeliveryAddress.Country == "" {
		order.DeliveryAddress.Country = "US"
	}

	total := decimal.Zero
	seen := make(map[string]*models.Meal, len(in.Items))
	for _, item := range in.Items {
		meal, ok := seen[item.MealID]
		if !ok {
			var err error
			meal, err = s.meals.FindByID(ctx, item.MealID)
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperrors.NotFound(fmt.Sprintf("Meal with ID %s not found", item.MealID))
			}
			if err != nil {
				return nil, apperrors.Internal("Failed to look up meal", err)
			}
			seen[item.MealID] = meal
		}
		if !meal.IsAvailable {
			return nil, apperrors.InvalidState(fmt.Sprintf("Meal %q is not available", meal.Name))
		}

		subtotal := meal.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(subtotal)
		order.Items = append(order.Items, models.OrderItem{
			ID:             uuid.New(),
			OrderID:        order.ID,
			MealID:         meal.ID,
			MealName:       meal.Name,
			Quantity:       item.Quantity,
			UnitPrice:      meal.Price,
			Subtotal:       subtotal,
			Customizations: item.Customizations,
		})
	}
	if total.GreaterThan(MaxOrderTotal) {
		return nil, apperrors.ValidationFields("Invalid order request", map[string]string{
			"items": fmt.Sprintf("order total must not exceed %s", MaxOrderTotal.StringFixed(2)),
		})
	}
	order.TotalAmount = total

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, apperrors.Internal("Failed to create order", err)
	}

	logger.Info(ctx, "order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", userID),
		zap.String("total", total.String()),
	)
	s.notifier.OrderPlaced(ctx, order, userEmail)
	return order, nil
}

func (s *OrderService) validateCreateOrder(in CreateOrderInput) error {
	fields := map[string]string{}
	if len(in.Items) == 0 {
		fields["items"] = "at least one item is required"
	} else if len(in.Items) > MaxOrderItems {
		fields["items"] = fmt.Sprintf("must contain at most %d items", MaxOrderItems)
	}
	for i, item := range in.Items {
		if item.MealID == "" {
			fields[fmt.Sprintf("items[%d].mealId", i)] = "is required"
		}
		switch {
		case item.Quantity < 1:
			fields[fmt.Sprintf("items[%d].quantity", i)] = "must be at least 1"
		case item.Quantity > MaxItemQuantity:
			fields[fmt.Sprintf("items[%d].quantity", i)] = fmt.Sprintf("must be at most %d", MaxItemQuantity)
		}
	}
	a := in.DeliveryAddress
	for name, v := range map[string]string{"street": a.Street, "city": a.City, "state": a.State, "zipCode": a.ZipCode} {
		if v == "" {
			fields["deliveryAddress."+name] = "is required"
		}
	}
	if in.DeliveryDate.IsZero() {
		fields["deliveryDate"] = "is required"
	} else if dateOnly(in.DeliveryDate).Before(dateOnly(s.now())) {
		fields["deliveryDate"] = "must not be in the past"
	}
	if !deliveryTimePattern.MatchString(in.DeliveryTime) {
		fields["deliveryTime"] = "must be in HH:MM format"
	}
	if len([]rune(in.Notes)) > MaxNotesLength {
		fields["notes"] = fmt.Sprintf("must be at most %d characters", MaxNotesLength)
	}

	if len(fields) > 0 {
		return apperrors.ValidationFields("Invalid order request", fields)
	}
	return nil
}

// GetUserOrders returns the user's orders, newest first.
func (s *OrderService) GetUserOrders(ctx context.Context, userID string, page, limit int) (*OrderListResponse, error) {
	return s.list(ctx, repository.OrderFilter{UserID: userID}, page, limit)
}

// ListOrders returns every order, optionally only those in status.
func (s *OrderService) ListOrders(ctx context.Context, status string, page, limit int) (*OrderListResponse, error) {
	filter := repository.OrderFilter{}
	if status != "" {
		st, ok := models.ParseOrderStatus(status)
		if !ok {
			return nil, apperrors.Validation(fmt.Sprintf("Unknown order status %q", status))
		}
		filter.Status = st
	}
	return s.list(ctx, filter, page, limit)
}

func (s *OrderService) list(ctx context.Context, filter repository.OrderFilter, page, limit int) (*OrderListResponse, error) {
	orders, total, err := s.orders.List(ctx, filter, page, limit)
	if err != nil {
		return nil, apperrors.Internal("Failed to fetch orders", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return &OrderListResponse{Orders: orders, Meta: newPageMeta(page, limit, total)}, nil
}

// GetOrder returns an order owned by userID.
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID, userID string) (*models.Order, error) {
	order, err := s.orders.FindByIDAndUserID(ctx, orderID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("Order not found")
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to fetch order", err)
	}
	return order, nil
}

// CancelOrder cancels the user's order unless it already reached a terminal
// state. No refund is issued.
func (s *OrderService) CancelOrder(ctx context.Context, orderID uuid.UUID, userID string) (*models.Order, error) {
	order, err := s.GetOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, apperrors.InvalidState(fmt.Sprintf("Order cannot be cancelled in status %s", order.Status))
	}
	return s.transition(ctx, order, models.OrderCancelled)
}

// UpdateOrderStatus moves an order along the lifecycle graph on behalf of
// staff. Setting the current status of a non-terminal order is a no-op.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus string) (*models.Order, error) {
	to, ok := models.ParseOrderStatus(newStatus)
	if !ok {
		return nil, apperrors.ValidationFields("Invalid status", map[string]string{
			"status": "must be one of pending, confirmed, preparing, ready, delivered, cancelled",
		})
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("Order not found")
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to fetch order", err)
	}

	if order.Status.IsTerminal() {
		return nil, apperrors.InvalidState(fmt.Sprintf("Order is %s and can no longer change", order.Status))
	}
	if order.Status == to {
		return order, nil
	}
	if !order.Status.CanTransitionTo(to) {
		return nil, apperrors.InvalidState(fmt.Sprintf("Cannot move order from %s to %s", order.Status, to))
	}
	return s.transition(ctx, order, to)
}

func (s *OrderService) transition(ctx context.Context, order *models.Order, to models.OrderStatus) (*models.Order, error) {
	from := order.Status
	err := s.orders.TransitionStatus(ctx, order.ID, from, to)
	if errors.Is(err, repository.ErrStaleState) {
		return nil, apperrors.InvalidState("Order status changed concurrently, retry")
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to update order", err)
	}

	now := s.now()
	order.Status = to
	order.UpdatedAt = now
	switch to {
	case models.OrderCancelled:
		order.CancelledAt = &now
	case models.OrderDelivered:
		order.DeliveredAt = &now
	}

	logger.Info(ctx, "order status changed",
		zap.String("order_id", order.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	s.notifier.OrderStatusChanged(ctx, order, from)
	return order, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
