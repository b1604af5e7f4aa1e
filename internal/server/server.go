package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"storefront-backend/internal/config"
	"storefront-backend/internal/metrics"
	"storefront-backend/internal/usecase"
)

// Deps are the services the HTTP surface exposes.
type Deps struct {
	Orders     *usecase.OrderService
	Inventory  *usecase.InventoryService
	OTP        *usecase.OTPService
	Auth       *usecase.AuthService
	Carts      *usecase.CartService
	Categories *usecase.CategoryService
	Metrics    *metrics.Registry
	Logger     *zap.Logger
	// Ready reports whether backing stores answer; nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	cfg    config.Config
	deps   Deps
	log    *zap.Logger
	engine *gin.Engine
}

func New(cfg config.Config, deps Deps) *Server {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.engine.Use(otelgin.Middleware("storefront-backend"))
	s.engine.Use(requestID(), s.logger(), s.metrics(), cors())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	api := s.engine.Group("/api")
	{
		otp := api.Group("/otp")
		otp.POST("/generate", s.handleOTPGenerate)
		otp.POST("/verify", s.handleOTPVerify)
		otp.POST("/resend", s.handleOTPResend)

		auth := api.Group("/auth")
		auth.POST("/login", s.handleLogin)
		auth.POST("/register", s.handleRegister)

		api.GET("/products/:id/availability", s.handleAvailability)
	}

	authed := api.Group("", s.authenticate())
	{
		orders := authed.Group("/orders")
		orders.POST("", s.handlePlaceOrder)
		orders.GET("", s.handleListOrders)
		orders.GET("/:id", s.handleGetOrder)
		orders.POST("/:id/cancel", s.handleCancelOrder)

		cart := authed.Group("/cart")
		cart.GET("", s.handleListCart)
		cart.POST("/items", s.handleAddCartItem)
		cart.DELETE("/items/:productId", s.handleRemoveCartItem)

		authed.POST("/categories", s.handleCreateCategories)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(c.Request.Context()); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
