package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/yashrajoria/fitmeals-backend/services/common/errors"
	"github.com/yashrajoria/fitmeals-backend/services/common/middleware"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/models"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/services"
)

// OrderAPI is the subset of services.OrderService the handlers use.
type OrderAPI interface {
	CreateOrder(ctx context.Context, userID, userEmail string, in services.CreateOrderInput) (*models.Order, error)
	GetUserOrders(ctx context.Context, userID string, page, limit int) (*services.OrderListResponse, error)
	ListOrders(ctx context.Context, status string, page, limit int) (*services.OrderListResponse, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, userID string) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, userID string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus string) (*models.Order, error)
}

type OrderController struct {
	service OrderAPI
}

func NewOrderController(service OrderAPI) *OrderController {
	return &OrderController{service: service}
}

type orderItemRequest struct {
	MealID         string   `json:"mealId" binding:"required,mealid"`
	Quantity       int      `json:"quantity" binding:"required,min=1,max=100"`
	Customizations []string `json:"customizations" binding:"omitempty,max=20,dive,max=100"`
}

type addressRequest struct {
	Street  string `json:"street" binding:"required,max=255"`
	City    string `json:"city" binding:"required,max=100"`
	State   string `json:"state" binding:"required,max=100"`
	ZipCode string `json:"zipCode" binding:"required,max=20"`
	Country string `json:"country" binding:"omitempty,len=2"`
}

// createOrderRequest carries no prices; totals always come from the catalog.
type createOrderRequest struct {
	Items           []orderItemRequest `json:"items" binding:"required,min=1,max=50,dive"`
	DeliveryAddress addressRequest     `json:"deliveryAddress"`
	DeliveryDate    string             `json:"deliveryDate" binding:"required,isodate"`
	DeliveryTime    string             `json:"deliveryTime" binding:"required,deliverytime"`
	Notes           string             `json:"notes" binding:"max=500"`
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (r createOrderRequest) toInput() (services.CreateOrderInput, error) {
	date, err := parseDeliveryDate(r.DeliveryDate)
	if err != nil {
		return services.CreateOrderInput{}, apperrors.ValidationFields("Invalid request", map[string]string{
			"deliveryDate": "must be a date in YYYY-MM-DD format",
		})
	}
	items := make([]services.OrderItemInput, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, services.OrderItemInput{
			MealID:         it.MealID,
			Quantity:       it.Quantity,
			Customizations: it.Customizations,
		})
	}
	country := r.DeliveryAddress.Country
	if country == "" {
		country = "US"
	}
	return services.CreateOrderInput{
		Items: items,
		DeliveryAddress: models.Address{
			Street:  r.DeliveryAddress.Street,
			City:    r.DeliveryAddress.City,
			State:   r.DeliveryAddress.State,
			ZipCode: r.DeliveryAddress.ZipCode,
			Country: country,
		},
		DeliveryDate: date,
		DeliveryTime: r.DeliveryTime,
		Notes:        r.Notes,
	}, nil
}

func (oc *OrderController) CreateOrder(ctx *gin.Context) {
	var req createOrderRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(bindingError(err))
		return
	}
	in, err := req.toInput()
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	order, err := oc.service.CreateOrder(ctx.Request.Context(), middleware.GetUserID(ctx), middleware.GetEmail(ctx), in)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"message": "Order created successfully", "order": order})
}

func (oc *OrderController) GetMyOrders(ctx *gin.Context) {
	page, limit := parsePaginationParams(ctx.Query("page"), ctx.Query("limit"))
	resp, err := oc.service.GetUserOrders(ctx.Request.Context(), middleware.GetUserID(ctx), page, limit)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

// GetAllOrders is the admin listing, optionally filtered by ?status=.
func (oc *OrderController) GetAllOrders(ctx *gin.Context) {
	page, limit := parsePaginationParams(ctx.Query("page"), ctx.Query("limit"))
	resp, err := oc.service.ListOrders(ctx.Request.Context(), ctx.Query("status"), page, limit)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

func (oc *OrderController) GetOrderByID(ctx *gin.Context) {
	orderID, ok := pathUUID(ctx, "id", "order")
	if !ok {
		return
	}
	order, err := oc.service.GetOrder(ctx.Request.Context(), orderID, middleware.GetUserID(ctx))
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

func (oc *OrderController) CancelOrder(ctx *gin.Context) {
	orderID, ok := pathUUID(ctx, "id", "order")
	if !ok {
		return
	}
	order, err := oc.service.CancelOrder(ctx.Request.Context(), orderID, middleware.GetUserID(ctx))
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Order cancelled successfully", "order": order})
}

func (oc *OrderController) UpdateOrderStatus(ctx *gin.Context) {
	orderID, ok := pathUUID(ctx, "id", "order")
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(bindingError(err))
		return
	}
	order, err := oc.service.UpdateOrderStatus(ctx.Request.Context(), orderID, req.Status)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Order status updated", "order": order})
}

// pathUUID parses a path parameter, recording a validation error on failure.
func pathUUID(ctx *gin.Context, param, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param(param))
	if err != nil {
		_ = ctx.Error(apperrors.ValidationFields("Invalid "+what+" ID", map[string]string{
			param: "must be a UUID",
		}))
		return uuid.Nil, false
	}
	return id, true
}
