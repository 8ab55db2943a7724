package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/internal/service"
	"github.com/jafarshop/labconnect/pkg/errors"
)

// OrderService is the order lifecycle used by the order handlers
type OrderService interface {
	CreateOrder(ctx context.Context, operatorID uuid.UUID, req service.CreateOrderRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	SubmitOrder(ctx context.Context, p domain.Principal, orderID uuid.UUID) (*service.SubmitResult, error)
	RetrySubmission(ctx context.Context, p domain.Principal, orderID uuid.UUID) (*service.SubmitResult, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
}

// SyncService reconciles partner order status
type SyncService interface {
	SyncOrderStatus(ctx context.Context, p domain.Principal, orderID uuid.UUID) (*service.SyncResult, error)
	SyncOperatorOrdersStatus(ctx context.Context, p domain.Principal, operatorID uuid.UUID) (*service.BatchSyncResult, error)
}

// OrderResponse represents the order response
type OrderResponse struct {
	ID                   string                      `json:"id"`
	OperatorID           string                      `json:"operator_id"`
	LocalStatus          domain.LocalStatus          `json:"local_status"`
	PartnerReference     *string                     `json:"partner_reference,omitempty"`
	PartnerStatus        *string                     `json:"partner_status,omitempty"`
	PartnerStatusHistory []domain.StatusHistoryEntry `json:"partner_status_history"`
	Customer             domain.Customer             `json:"customer"`
	Items                []domain.OrderItem          `json:"items"`
	Total                float64                     `json:"total"`
	LastError            *string                     `json:"last_error,omitempty"`
	RetryCount           int                         `json:"retry_count"`
	LastRetryAt          *string                     `json:"last_retry_at,omitempty"`
	LastSyncedAt         *string                     `json:"last_synced_at,omitempty"`
	CreatedAt            string                      `json:"created_at"`
	UpdatedAt            string                      `json:"updated_at"`
}

func newOrderResponse(order *domain.Order) OrderResponse {
	response := OrderResponse{
		ID:                   order.ID.String(),
		OperatorID:           order.OperatorID.String(),
		LocalStatus:          order.LocalStatus,
		PartnerReference:     order.PartnerReference,
		PartnerStatus:        order.PartnerStatus,
		PartnerStatusHistory: order.PartnerStatusHistory,
		Customer:             order.Customer,
		Items:                order.Items,
		Total:                order.Total,
		LastError:            order.LastError,
		RetryCount:           order.RetryCount,
		CreatedAt:            order.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            order.UpdatedAt.Format(time.RFC3339),
	}
	if response.PartnerStatusHistory == nil {
		response.PartnerStatusHistory = []domain.StatusHistoryEntry{}
	}
	if order.LastRetryAt != nil {
		at := order.LastRetryAt.Format(time.RFC3339)
		response.LastRetryAt = &at
	}
	if order.LastSyncedAt != nil {
		at := order.LastSyncedAt.Format(time.RFC3339)
		response.LastSyncedAt = &at
	}
	return response
}

// HandleCreateOrder handles POST /v1/orders
func HandleCreateOrder(orders OrderService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, operator, ok := principalFromContext(c)
		if !ok {
			return
		}

		var req service.CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, err)
			return
		}

		order, err := orders.CreateOrder(c.Request.Context(), operator.ID, req)
		if err != nil {
			respondError(c, logger, "Failed to create order", err)
			return
		}

		body := gin.H{
			"success": true,
			"order":   newOrderResponse(order),
		}
		if req.Submit {
			res, err := orders.SubmitOrder(c.Request.Context(), p, order.ID)
			if err != nil {
				logger.Error("Failed to submit new order", zap.String("order_id", order.ID.String()), zap.Error(err))
				body["submission"] = service.SubmitResult{
					OrderID: order.ID,
					Failure: &errors.Failure{Kind: errors.KindInternal, Message: "internal error"},
				}
			} else {
				body["submission"] = res
			}

			if current, err := orders.GetOrder(c.Request.Context(), order.ID); err != nil {
				logger.Error("Failed to reload submitted order", zap.String("order_id", order.ID.String()), zap.Error(err))
			} else {
				body["order"] = newOrderResponse(current)
			}
		}

		c.JSON(http.StatusCreated, body)
	}
}

// HandleGetOrder handles GET /v1/orders/:id
func HandleGetOrder(orders OrderService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, operator, ok := principalFromContext(c)
		if !ok {
			return
		}
		order, ok := loadOwnedOrder(c, orders, operator, logger)
		if !ok {
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"order":   newOrderResponse(order),
		})
	}
}

// HandleSubmitOrder handles POST /v1/orders/:id/submit
func HandleSubmitOrder(orders OrderService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, operator, ok := principalFromContext(c)
		if !ok {
			return
		}
		order, ok := loadOwnedOrder(c, orders, operator, logger)
		if !ok {
			return
		}

		res, err := orders.SubmitOrder(c.Request.Context(), p, order.ID)
		respondSubmit(c, logger, res, err)
	}
}

// HandleRetryOrder handles POST /v1/orders/:id/retry
func HandleRetryOrder(orders OrderService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, operator, ok := principalFromContext(c)
		if !ok {
			return
		}
		order, ok := loadOwnedOrder(c, orders, operator, logger)
		if !ok {
			return
		}

		res, err := orders.RetrySubmission(c.Request.Context(), p, order.ID)
		respondSubmit(c, logger, res, err)
	}
}

// HandleCancelOrder handles POST /v1/orders/:id/cancel
func HandleCancelOrder(orders OrderService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, operator, ok := principalFromContext(c)
		if !ok {
			return
		}
		order, ok := loadOwnedOrder(c, orders, operator, logger)
		if !ok {
			return
		}

		cancelled, err := orders.CancelOrder(c.Request.Context(), order.ID)
		if err != nil {
			respondError(c, logger, "Failed to cancel order", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"order":   newOrderResponse(cancelled),
		})
	}
}

// HandleSyncOrder handles POST /v1/orders/:id/sync
func HandleSyncOrder(orders OrderService, syncer SyncService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, operator, ok := principalFromContext(c)
		if !ok {
			return
		}
		order, ok := loadOwnedOrder(c, orders, operator, logger)
		if !ok {
			return
		}

		res, err := syncer.SyncOrderStatus(c.Request.Context(), p, order.ID)
		if err != nil {
			respondError(c, logger, "Failed to sync order", err)
			return
		}
		if !res.Success {
			c.JSON(errors.HTTPStatus(res.Failure.Kind), res)
			return
		}

		c.JSON(http.StatusOK, res)
	}
}

// HandleSyncAllOrders handles POST /v1/orders/sync for the calling operator's orders
func HandleSyncAllOrders(syncer SyncService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, operator, ok := principalFromContext(c)
		if !ok {
			return
		}

		// Operators reconcile only their own orders; the background loop covers the rest.
		res, err := syncer.SyncOperatorOrdersStatus(c.Request.Context(), p, operator.ID)
		if err != nil {
			respondError(c, logger, "Failed to sync orders", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"result":  res,
		})
	}
}

// loadOwnedOrder fetches the :id order and checks that the operator placed it
func loadOwnedOrder(c *gin.Context, orders OrderService, operator *domain.Operator, logger *zap.Logger) (*domain.Order, bool) {
	orderID, ok := parseOrderID(c)
	if !ok {
		return nil, false
	}

	order, err := orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, logger, "Failed to get order", err)
		return nil, false
	}

	if order.OperatorID != operator.ID {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   gin.H{"kind": "forbidden", "message": "access denied"},
		})
		return nil, false
	}

	return order, true
}

func respondSubmit(c *gin.Context, logger *zap.Logger, res *service.SubmitResult, err error) {
	if err != nil {
		respondError(c, logger, "Failed to submit order", err)
		return
	}
	if !res.Success {
		c.JSON(errors.HTTPStatus(res.Failure.Kind), res)
		return
	}
	c.JSON(http.StatusOK, res)
}
