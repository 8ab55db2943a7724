package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/internal/gateway"
	"github.com/jafarshop/labconnect/internal/service"
)

// CatalogService reads the partner product catalog
type CatalogService interface {
	Products(ctx context.Context, p domain.Principal, productType domain.ProductType) ([]domain.Product, error)
	CheckItems(ctx context.Context, p domain.Principal, items []service.ItemRequest) (map[domain.ProductType][]string, error)
}

// StatsSource reports breaker and queue state
type StatsSource interface {
	Stats() gateway.Stats
}

// CheckProductsRequest represents the catalog check payload
type CheckProductsRequest struct {
	Items []service.ItemRequest `json:"items" binding:"required,min=1,dive"`
}

// HandleListProducts handles GET /v1/products?type=TEST|PROFILE|OFFER
func HandleListProducts(catalog CatalogService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _, ok := principalFromContext(c)
		if !ok {
			return
		}

		productType := domain.ProductType(c.DefaultQuery("type", string(domain.ProductTypeTest)))
		products, err := catalog.Products(c.Request.Context(), p, productType)
		if err != nil {
			respondError(c, logger, "Failed to list partner products", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"count":    len(products),
			"products": products,
		})
	}
}

// HandleCheckProducts handles POST /v1/products/check
func HandleCheckProducts(catalog CatalogService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, _, ok := principalFromContext(c)
		if !ok {
			return
		}

		var req CheckProductsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, err)
			return
		}

		missing, err := catalog.CheckItems(c.Request.Context(), p, req.Items)
		if err != nil {
			respondError(c, logger, "Failed to check partner products", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"available": len(missing) == 0,
			"missing":   missing,
		})
	}
}

// HandlePartnerStats handles GET /v1/partner/stats
func HandlePartnerStats(stats StatsSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"stats":   stats.Stats(),
		})
	}
}
