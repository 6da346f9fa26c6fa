package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/fitmeals-backend/pkg/aws"
	"github.com/yashrajoria/fitmeals-backend/services/common/logger"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/models"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/repository"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/sender"
)

// Counter is satisfied by *awspkg.MetricsClient.
type Counter interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
}

var orderPlacedTemplate = template.Must(template.New("order_placed").Parse(`<h1>Thanks for your order!</h1>
<p>Hi {{.FirstName}},</p>
<p>We received your order and will start preparing it once payment is confirmed.</p>
<p><strong>Order ID:</strong> {{.OrderID}}</p>
<p><strong>Total Amount:</strong> ${{.Total}}</p>
<p><strong>Delivery:</strong> {{.DeliveryDate}} at {{.DeliveryTime}}</p>
<p>Thank you for choosing Fit Meals!</p>
`))

// NotifierConfig wires the optional channels. Nil members disable the
// corresponding side effect.
type NotifierConfig struct {
	Email        sender.EmailSender
	Users        repository.UserRepository
	Events       awspkg.SNSPublisher
	Metrics      Counter
	OrderTopic   string
	PaymentTopic string
}

// Notifier emits emails, domain events and business metrics for order and
// payment changes. All work is best effort.
type Notifier struct {
	cfg     NotifierConfig
	effects *BestEffort
}

func NewNotifier(cfg NotifierConfig, effects *BestEffort) *Notifier {
	return &Notifier{cfg: cfg, effects: effects}
}

// OrderPlaced sends the order confirmation email and an order.created event.
// fallbackEmail is used when the user directory has no record.
func (n *Notifier) OrderPlaced(ctx context.Context, order *models.Order, fallbackEmail string) {
	if n == nil {
		return
	}
	snapshot := *order

	if n.cfg.Email != nil {
		n.effects.Go(ctx, "order_confirmation_email", func(ctx context.Context) error {
			return n.sendOrderPlacedEmail(ctx, &snapshot, fallbackEmail)
		})
	}
	n.publishOrder(ctx, models.EventOrderCreated, &snapshot, "")
	n.count(ctx, awspkg.MetricOrdersCreated)
}

// OrderStatusChanged reports a lifecycle transition of order from prev.
func (n *Notifier) OrderStatusChanged(ctx context.Context, order *models.Order, prev models.OrderStatus) {
	if n == nil {
		return
	}
	snapshot := *order
	eventType := models.EventOrderStatusChanged
	if order.Status == models.OrderCancelled {
		eventType = models.EventOrderCancelled
		n.count(ctx, awspkg.MetricOrdersCancelled)
	}
	n.publishOrder(ctx, eventType, &snapshot, prev)
}

// PaymentIntentCreated records a new intent.
func (n *Notifier) PaymentIntentCreated(ctx context.Context) {
	if n == nil {
		return
	}
	n.count(ctx, awspkg.MetricPaymentIntents)
}

// PaymentSettled reports a payment reaching completed, failed or refunded.
func (n *Notifier) PaymentSettled(ctx context.Context, payment *models.Payment, reason string) {
	if n == nil {
		return
	}
	var eventType, metric string
	switch payment.Status {
	case models.PaymentCompleted:
		eventType, metric = models.EventPaymentCompleted, awspkg.MetricPaymentSucceeded
	case models.PaymentFailed:
		eventType, metric = models.EventPaymentFailed, awspkg.MetricPaymentFailed
	case models.PaymentRefunded:
		eventType, metric = models.EventPaymentRefunded, awspkg.MetricPaymentRefunded
	default:
		return
	}
	n.count(ctx, metric)

	if n.cfg.Events == nil || n.cfg.PaymentTopic == "" {
		return
	}
	evt := models.PaymentEvent{
		EventType:  eventType,
		PaymentID:  payment.ID,
		OrderID:    payment.OrderID,
		UserID:     payment.UserID,
		Status:     payment.Status,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	n.effects.Go(ctx, "publish_"+eventType, func(ctx context.Context) error {
		return awspkg.PublishJSON(ctx, n.cfg.Events, n.cfg.PaymentTopic, eventType, evt)
	})
}

// Counted records a metric without any other side effect.
func (n *Notifier) Counted(ctx context.Context, metric string) {
	if n == nil {
		return
	}
	n.count(ctx, metric)
}

func (n *Notifier) publishOrder(ctx context.Context, eventType string, order *models.Order, prev models.OrderStatus) {
	if n.cfg.Events == nil || n.cfg.OrderTopic == "" {
		return
	}
	evt := models.OrderEvent{
		EventType:   eventType,
		OrderID:     order.ID,
		UserID:      order.UserID,
		Status:      order.Status,
		PrevStatus:  prev,
		TotalAmount: order.TotalAmount,
		OccurredAt:  time.Now().UTC(),
	}
	n.effects.Go(ctx, "publish_"+eventType, func(ctx context.Context) error {
		return awspkg.PublishJSON(ctx, n.cfg.Events, n.cfg.OrderTopic, eventType, evt)
	})
}

func (n *Notifier) count(ctx context.Context, metric string) {
	if n.cfg.Metrics == nil {
		return
	}
	n.effects.Go(ctx, "metric_"+metric, func(ctx context.Context) error {
		return n.cfg.Metrics.RecordCount(ctx, metric, map[string]string{"Service": "order-service"})
	})
}

func (n *Notifier) sendOrderPlacedEmail(ctx context.Context, order *models.Order, fallbackEmail string) error {
	to, firstName := fallbackEmail, "there"
	if n.cfg.Users != nil {
		contact, err := n.cfg.Users.FindContact(ctx, order.UserID)
		if err != nil {
			logger.Debug(ctx, "user contact lookup failed, using token email",
				zap.String("user_id", order.UserID), zap.Error(err))
		} else {
			to = contact.Email
			if contact.FirstName != "" {
				firstName = contact.FirstName
			}
		}
	}
	if to == "" {
		return fmt.Errorf("no email address for user %s", order.UserID)
	}

	var body bytes.Buffer
	err := orderPlacedTemplate.Execute(&body, map[string]string{
		"FirstName":    firstName,
		"OrderID":      order.ID.String(),
		"Total":        order.TotalAmount.StringFixed(2),
		"DeliveryDate": order.DeliveryDate.Format("2006-01-02"),
		"DeliveryTime": order.DeliveryTime,
	})
	if err != nil {
		return fmt.Errorf("render order email: %w", err)
	}

	res, err := n.cfg.Email.SendEmail(ctx, to, "Order Confirmation - Fit Meals", body.String())
	if err != nil {
		return err
	}
	logger.Info(ctx, "order confirmation sent",
		zap.String("order_id", order.ID.String()),
		zap.String("message_id", res.MessageID))
	return nil
}
