// README: HTTP router registration and middleware wiring.
package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"foodcourt/internal/config"
	"foodcourt/internal/http/handlers"
	"foodcourt/internal/http/middleware"
	"foodcourt/internal/infra"
	"foodcourt/internal/modules/location"
	"foodcourt/internal/modules/order"
	"foodcourt/internal/notify"
)

type RouterDeps struct {
	Order    *order.Service
	Location *location.Service
	Registry *notify.Registry
	Verifier infra.TokenVerifier
	Config   *config.Config
	Logger   zerolog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	if !deps.Config.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logging(deps.Logger))
	r.Use(cors.Default())
	r.Use(middleware.RateLimit(deps.Config.HTTP.RateLimit))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	orderHandler := handlers.NewOrderHandler(deps.Order)
	courierHandler := handlers.NewCourierHandler(deps.Order)
	locationHandler := handlers.NewLocationHandler(deps.Location)
	paymentHandler := handlers.NewPaymentHandler(deps.Order)
	eventsHandler := handlers.NewEventsHandler(deps.Registry)

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.Verifier, deps.Config.IsDevelopment()))

	api.POST("/orders", orderHandler.Place)
	api.GET("/orders", orderHandler.List)
	api.GET("/orders/:id", orderHandler.Get)
	api.PATCH("/orders/:id/shops/:sid/status", middleware.RequireRole(middleware.RoleOwner), orderHandler.UpdateStatus)
	api.POST("/orders/:id/shops/:sid/cancel", orderHandler.Cancel)

	courier := api.Group("/courier", middleware.RequireRole(middleware.RoleCourier))
	courier.GET("/available", courierHandler.ListAvailable)
	courier.GET("/active", courierHandler.Active)
	courier.GET("/delivered", courierHandler.Delivered)
	courier.PUT("/location", locationHandler.Update)
	courier.DELETE("/location", locationHandler.Offline)

	api.POST("/orders/:id/shops/:sid/claim", middleware.RequireRole(middleware.RoleCourier), courierHandler.Claim)
	api.POST("/orders/:id/shops/:sid/verify-otp", middleware.RequireRole(middleware.RoleCourier), courierHandler.VerifyOTP)

	api.POST("/payments/callback", paymentHandler.Callback)
	api.GET("/events", eventsHandler.Stream)

	return r
}
