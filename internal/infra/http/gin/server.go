// Package ginserver is the HTTP edge: routing, request decoding and status
// mapping. All business decisions live behind the handlers' services.
package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"estancias/internal/infra/config"
	"estancias/internal/infra/obs"
)

type BookingHTTP interface {
	Quote(c *gin.Context)
	Create(c *gin.Context)
	Get(c *gin.Context)
	Checkout(c *gin.Context)
	Cancel(c *gin.Context)
	Remake(c *gin.Context)
	ChargeBalance(c *gin.Context)
}

type ChangeHTTP interface {
	Quote(c *gin.Context)
	Apply(c *gin.Context)
}

type WebhookHTTP interface {
	Gateway(c *gin.Context)
}

type Handlers struct {
	Booking BookingHTTP
	Change  ChangeHTTP
	Webhook WebhookHTTP
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Booking != nil {
		api.GET("/properties/:id/quote", h.Booking.Quote)
		api.POST("/bookings", h.Booking.Create)
		api.GET("/bookings/:id", h.Booking.Get)
		api.POST("/bookings/:id/checkout", h.Booking.Checkout)
		api.POST("/bookings/:id/cancel", h.Booking.Cancel)
		api.POST("/bookings/:id/remake", h.Booking.Remake)
		api.POST("/bookings/:id/balance/charge", h.Booking.ChargeBalance)
	}
	if h.Change != nil {
		api.GET("/bookings/:id/change/quote", h.Change.Quote)
		api.POST("/bookings/:id/change", h.Change.Apply)
	}
	if h.Webhook != nil {
		api.POST("/webhooks/gateway", h.Webhook.Gateway)
	}

	return &http.Server{Addr: cfg.HTTPAddr, Handler: router}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
