package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/api/handlers"
	"github.com/jafarshop/labconnect/internal/api/middleware"
	"github.com/jafarshop/labconnect/internal/config"
	"github.com/jafarshop/labconnect/internal/repository"
)

// Services are the application services exposed over HTTP
type Services struct {
	Operators   repository.OperatorRepository
	Credentials handlers.CredentialService
	Orders      handlers.OrderService
	Sync        handlers.SyncService
	Catalog     handlers.CatalogService
	Partner     handlers.StatsSource
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, svc Services, logger *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(logger))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API v1 routes, all operator-authenticated
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(svc.Operators, logger))
	{
		credentials := v1.Group("/credentials")
		{
			credentials.GET("", handlers.HandleCredentialState(svc.Credentials, logger))
			credentials.POST("/acquire", handlers.HandleAcquireCredential(svc.Credentials, logger))
			credentials.DELETE("", handlers.HandleRevokeCredentials(svc.Credentials, logger))
		}

		orders := v1.Group("/orders")
		{
			orders.POST("", handlers.HandleCreateOrder(svc.Orders, logger))
			orders.POST("/sync", handlers.HandleSyncAllOrders(svc.Sync, logger))
			orders.GET("/:id", handlers.HandleGetOrder(svc.Orders, logger))
			orders.POST("/:id/submit", handlers.HandleSubmitOrder(svc.Orders, logger))
			orders.POST("/:id/retry", handlers.HandleRetryOrder(svc.Orders, logger))
			orders.POST("/:id/sync", handlers.HandleSyncOrder(svc.Orders, svc.Sync, logger))
			orders.POST("/:id/cancel", handlers.HandleCancelOrder(svc.Orders, logger))
		}

		v1.GET("/products", handlers.HandleListProducts(svc.Catalog, logger))
		v1.POST("/products/check", handlers.HandleCheckProducts(svc.Catalog, logger))
		v1.GET("/partner/stats", handlers.HandlePartnerStats(svc.Partner))
	}

	return router
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
