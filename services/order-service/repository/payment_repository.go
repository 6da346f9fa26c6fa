package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yashrajoria/fitmeals-backend/services/order-service/models"
)

// Settlement is the outcome of applying a terminal payment event to a
// payment and its order in one transaction.
type Settlement struct {
	Payment         models.Payment
	Order           models.Order
	PrevOrderStatus models.OrderStatus
	PaymentChanged  bool
	OrderChanged    bool
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	FindByIntentIDAndUserID(ctx context.Context, intentID, userID string) (*models.Payment, error)
	FindOpenByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	CountByOrderID(ctx context.Context, orderID uuid.UUID) (int64, error)
	HasCompletedForOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
	ListByUserID(ctx context.Context, userID string, page, limit int) ([]models.Payment, int64, error)
	FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error)

	MarkSucceeded(ctx context.Context, id uuid.UUID) (*Settlement, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, refundID, reason string) (*Settlement, error)
	RecordDuplicateRefund(ctx context.Context, id uuid.UUID, refundID string) error
}

type GormPaymentRepository struct {
	db *gorm.DB
}

func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

func (r *GormPaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	return translate(r.db.WithContext(ctx).Omit("Order").Create(payment).Error)
}

func (r *GormPaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormPaymentRepository) FindByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	return r.first(ctx, "processor_intent_id = ?", intentID)
}

func (r *GormPaymentRepository) FindByIntentIDAndUserID(ctx context.Context, intentID, userID string) (*models.Payment, error) {
	return r.first(ctx, "processor_intent_id = ? AND user_id = ?", intentID, userID)
}

// FindOpenByOrderID returns the order's non-failed payment, if any.
func (r *GormPaymentRepository) FindOpenByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return r.first(ctx, "order_id = ? AND status <> ?", orderID, models.PaymentFailed)
}

// CountByOrderID counts every payment attempt for the order, failed ones
// included.
func (r *GormPaymentRepository) CountByOrderID(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ?", orderID).
		Count(&count).Error
	return count, err
}

func (r *GormPaymentRepository) HasCompletedForOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", orderID, models.PaymentCompleted).
		Count(&count).Error
	return count > 0, err
}

// ListByUserID returns one page of the user's payments, newest first, each
// with its order.
func (r *GormPaymentRepository) ListByUserID(ctx context.Context, userID string, page, limit int) ([]models.Payment, int64, error) {
	var (
		payments []models.Payment
		total    int64
	)
	query := r.db.WithContext(ctx).Model(&models.Payment{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.
		Preload("Order").
		Offset((page - 1) * limit).
		Limit(limit).
		Order("created_at DESC").
		Find(&payments).Error; err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

// FindStalePending returns up to limit pending payments created before the
// cutoff, oldest first.
func (r *GormPaymentRepository) FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PaymentPending, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// MarkSucceeded completes a pending payment and confirms its pending order
// atomically. Re-applying it to a completed payment changes nothing. A failed
// payment is completed too, since only a processor-reported success reaches
// here, unless another live payment holds the order (ErrDuplicate). A
// refunded payment yields ErrStaleState.
func (r *GormPaymentRepository) MarkSucceeded(ctx context.Context, id uuid.UUID) (*Settlement, error) {
	var s Settlement
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, id)
		if err != nil {
			return err
		}
		order, err := lockOrder(tx, p.OrderID)
		if err != nil {
			return err
		}
		s.PrevOrderStatus = order.Status

		switch p.Status {
		case models.PaymentFailed:
			var holders int64
			if err := tx.Model(&models.Payment{}).
				Where("order_id = ? AND id <> ? AND status <> ?", p.OrderID, p.ID, models.PaymentFailed).
				Count(&holders).Error; err != nil {
				return err
			}
			if holders > 0 {
				return ErrDuplicate
			}
			fallthrough
		case models.PaymentPending:
			now := time.Now()
			if err := tx.Model(&models.Payment{}).
				Where("id = ?", p.ID).
				Updates(map[string]interface{}{
					"status":       models.PaymentCompleted,
					"completed_at": now,
				}).Error; err != nil {
				return translate(err)
			}
			p.Status = models.PaymentCompleted
			p.CompletedAt = &now
			s.PaymentChanged = true
		case models.PaymentCompleted:
		default:
			return ErrStaleState
		}

		if order.Status == models.OrderPending {
			if err := tx.Model(&models.Order{}).
				Where("id = ?", order.ID).
				Updates(map[string]interface{}{
					"status":     models.OrderConfirmed,
					"payment_id": p.ID,
				}).Error; err != nil {
				return err
			}
			order.Status = models.OrderConfirmed
			order.PaymentID = &p.ID
			s.OrderChanged = true
		}

		s.Payment = *p
		s.Order = *order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// MarkFailed fails a pending payment. It reports false when the payment had
// already left pending.
func (r *GormPaymentRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	updates := map[string]interface{}{
		"status":    models.PaymentFailed,
		"failed_at": time.Now(),
	}
	if reason != "" {
		updates["failure_reason"] = reason
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkRefunded records a refund of a completed payment and cancels its order
// unless the order already reached a terminal state.
func (r *GormPaymentRepository) MarkRefunded(ctx context.Context, id uuid.UUID, refundID, reason string) (*Settlement, error) {
	var s Settlement
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, id)
		if err != nil {
			return err
		}
		if p.Status != models.PaymentCompleted {
			return ErrStaleState
		}
		order, err := lockOrder(tx, p.OrderID)
		if err != nil {
			return err
		}
		s.PrevOrderStatus = order.Status

		now := time.Now()
		if err := tx.Model(&models.Payment{}).
			Where("id = ?", p.ID).
			Updates(map[string]interface{}{
				"status":        models.PaymentRefunded,
				"refund_id":     refundID,
				"refund_reason": reason,
				"refunded_at":   now,
			}).Error; err != nil {
			return err
		}
		p.Status = models.PaymentRefunded
		p.RefundID = &refundID
		p.RefundReason = &reason
		p.RefundedAt = &now
		s.PaymentChanged = true

		if !order.Status.IsTerminal() {
			if err := tx.Model(&models.Order{}).
				Where("id = ?", order.ID).
				Updates(map[string]interface{}{
					"status":       models.OrderCancelled,
					"cancelled_at": now,
				}).Error; err != nil {
				return err
			}
			order.Status = models.OrderCancelled
			order.CancelledAt = &now
			s.OrderChanged = true
		}

		s.Payment = *p
		s.Order = *order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// RecordDuplicateRefund notes a refund issued for a failed payment whose
// charge went through after the order was paid by another payment. The
// payment stays failed so it never competes for the order.
func (r *GormPaymentRepository) RecordDuplicateRefund(ctx context.Context, id uuid.UUID, refundID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentFailed).
		Updates(map[string]interface{}{
			"refund_id":     refundID,
			"refund_reason": "duplicate",
			"refunded_at":   time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func lockPayment(tx *gorm.DB, id uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func lockOrder(tx *gorm.DB, id uuid.UUID) (*models.Order, error) {
	var o models.Order
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&o).Error; err != nil {
		return nil, translate(err)
	}
	return &o, nil
}

func (r *GormPaymentRepository) first(ctx context.Context, query string, args ...interface{}) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).Where(query, args...).Order("created_at DESC").First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}
