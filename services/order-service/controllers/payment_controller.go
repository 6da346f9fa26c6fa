package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/yashrajoria/fitmeals-backend/services/common/errors"
	"github.com/yashrajoria/fitmeals-backend/services/common/middleware"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/services"
)

// maxWebhookBody bounds the raw webhook payload read for signature checks.
const maxWebhookBody = 64 << 10

type PaymentAPI interface {
	CreatePaymentIntent(ctx context.Context, orderID uuid.UUID, userID string) (*services.IntentResult, error)
	ConfirmPayment(ctx context.Context, intentID, userID string) (*services.PaymentOutcome, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	RefundPayment(ctx context.Context, in services.RefundInput) (*services.PaymentOutcome, error)
	GetPaymentHistory(ctx context.Context, userID string, page, limit int) (*services.PaymentListResponse, error)
}

type PaymentController struct {
	service PaymentAPI
}

func NewPaymentController(service PaymentAPI) *PaymentController {
	return &PaymentController{service: service}
}

type createIntentRequest struct {
	OrderID string `json:"orderId" binding:"required,uuid"`
}

type confirmRequest struct {
	PaymentIntentID string `json:"paymentIntentId" binding:"required,max=255"`
}

type refundRequest struct {
	Reason string `json:"reason" binding:"omitempty,oneof=requested_by_customer duplicate fraudulent"`
}

func (pc *PaymentController) CreateIntent(ctx *gin.Context) {
	var req createIntentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(bindingError(err))
		return
	}
	orderID, _ := uuid.Parse(req.OrderID)

	result, err := pc.service.CreatePaymentIntent(ctx.Request.Context(), orderID, middleware.GetUserID(ctx))
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (pc *PaymentController) Confirm(ctx *gin.Context) {
	var req confirmRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(bindingError(err))
		return
	}
	outcome, err := pc.service.ConfirmPayment(ctx.Request.Context(), req.PaymentIntentID, middleware.GetUserID(ctx))
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message": "Payment confirmed successfully",
		"payment": outcome.Payment,
		"order":   outcome.Order,
	})
}

// Refund accepts an empty body, in which case the default reason applies.
func (pc *PaymentController) Refund(ctx *gin.Context) {
	paymentID, ok := pathUUID(ctx, "paymentId", "payment")
	if !ok {
		return
	}
	var req refundRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			_ = ctx.Error(bindingError(err))
			return
		}
	}

	outcome, err := pc.service.RefundPayment(ctx.Request.Context(), services.RefundInput{
		PaymentID:   paymentID,
		RequesterID: middleware.GetUserID(ctx),
		IsAdmin:     middleware.IsAdmin(ctx),
		Reason:      req.Reason,
	})
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message": "Refund processed successfully",
		"payment": outcome.Payment,
		"order":   outcome.Order,
	})
}

func (pc *PaymentController) History(ctx *gin.Context) {
	page, limit := parsePaginationParams(ctx.Query("page"), ctx.Query("limit"))
	resp, err := pc.service.GetPaymentHistory(ctx.Request.Context(), middleware.GetUserID(ctx), page, limit)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

// Webhook verifies and applies a processor event. It is mounted without
// authentication; the signature header is the credential.
func (pc *PaymentController) Webhook(ctx *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxWebhookBody))
	if err != nil {
		_ = ctx.Error(apperrors.Validation("Unreadable webhook payload"))
		return
	}
	if err := pc.service.HandleWebhook(ctx.Request.Context(), payload, ctx.GetHeader("Stripe-Signature")); err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"received": true})
}
