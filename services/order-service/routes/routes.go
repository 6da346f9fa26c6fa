package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/fitmeals-backend/services/common/auth"
	"github.com/yashrajoria/fitmeals-backend/services/common/middleware"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/controllers"
)

type Controllers struct {
	Orders   *controllers.OrderController
	Payments *controllers.PaymentController
	Health   *controllers.HealthController
}

type AuthConfig struct {
	Verifier     *auth.TokenVerifier
	TrustGateway bool
}

func RegisterRoutes(r *gin.Engine, c Controllers, authCfg AuthConfig) {
	r.GET("/health", c.Health.Health)

	authn := middleware.Authenticate(authCfg.Verifier, authCfg.TrustGateway)

	orders := r.Group("/orders")
	orders.Use(authn)
	orders.POST("", c.Orders.CreateOrder)
	orders.GET("/my-orders", c.Orders.GetMyOrders)
	orders.GET("/:id", c.Orders.GetOrderByID)
	orders.PATCH("/:id/cancel", c.Orders.CancelOrder)
	orders.GET("", middleware.AdminOnly(), c.Orders.GetAllOrders)
	orders.PATCH("/:id/status", middleware.AdminOnly(), c.Orders.UpdateOrderStatus)

	// Stripe webhook (no auth)
	r.POST("/payments/webhook", c.Payments.Webhook)

	payments := r.Group("/payments")
	payments.Use(authn)
	payments.POST("/create-intent", c.Payments.CreateIntent)
	payments.POST("/confirm", c.Payments.Confirm)
	payments.GET("/history", c.Payments.History)
	payments.POST("/:paymentId/refund", c.Payments.Refund)
}
