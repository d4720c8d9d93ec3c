package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mahdimonir/professionals-bd-sub001/internal/config"
	"github.com/mahdimonir/professionals-bd-sub001/internal/http/handlers"
	"github.com/mahdimonir/professionals-bd-sub001/internal/http/middleware"
	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
)

func SetupRouter(
	cfg *config.Config,
	tokens middleware.TokenParser,
	apiRateLimit gin.HandlerFunc,
	webhookRateLimit gin.HandlerFunc,
	healthHandler *handlers.HealthHandler,
	bookingHandler *handlers.BookingHandler,
	paymentHandler *handlers.PaymentHandler,
	disputeHandler *handlers.DisputeHandler,
	notificationHandler *handlers.NotificationHandler,
	wsHandler *handlers.WSHandler,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	// Уведомления шлюзов приходят без токена пользователя.
	webhooks := api.Group("/payments/webhook")
	webhooks.Use(webhookRateLimit)
	{
		webhooks.POST("/:method", paymentHandler.Webhook)
		webhooks.GET("/:method", paymentHandler.Webhook)
	}

	// Публичные маршруты
	api.GET("/ws", wsHandler.Handle)
	api.GET("/professionals/:id/slots", apiRateLimit, middleware.UUIDValidator("id"), bookingHandler.ListSlots)

	// Защищённые маршруты
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokens), apiRateLimit)
	{
		protected.POST("/bookings", bookingHandler.CreateBooking)
		protected.GET("/bookings/my", bookingHandler.ListMyBookings)
		protected.GET("/bookings/:id", middleware.UUIDValidator("id"), bookingHandler.GetBooking)
		protected.POST("/bookings/:id/cancel", middleware.UUIDValidator("id"), bookingHandler.CancelBooking)
		protected.PATCH("/bookings/:id/status", middleware.UUIDValidator("id"), bookingHandler.UpdateStatus)
		protected.PUT("/bookings/:id/reschedule", middleware.UUIDValidator("id"), bookingHandler.Reschedule)
		protected.GET("/bookings/:id/payments", middleware.UUIDValidator("id"), paymentHandler.ListBookingPayments)

		protected.POST("/payments/initiate", paymentHandler.Initiate)
		protected.GET("/payments/:id/invoice", middleware.UUIDValidator("id"), paymentHandler.DownloadInvoice)

		protected.POST("/disputes", disputeHandler.RaiseDispute)
		protected.GET("/disputes/my", disputeHandler.ListMyDisputes)
		protected.GET("/disputes/:id", middleware.UUIDValidator("id"), disputeHandler.GetDispute)

		protected.GET("/notifications", notificationHandler.ListNotifications)
		protected.GET("/notifications/unread/count", notificationHandler.CountUnread)
		protected.PUT("/notifications/read-all", notificationHandler.MarkAllAsRead)
		protected.PUT("/notifications/:id/read", middleware.UUIDValidator("id"), notificationHandler.MarkAsRead)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware(tokens), middleware.RequireRoles(models.RoleAdmin, models.RoleModerator))
	{
		admin.GET("/disputes", disputeHandler.ListForModeration)
		admin.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), disputeHandler.ResolveDispute)
	}

	return r
}
