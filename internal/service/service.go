package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/internal/events"
	"github.com/jafarshop/labconnect/internal/gateway"
	"github.com/jafarshop/labconnect/internal/partner"
)

// PartnerGateway runs authenticated partner calls for a principal
type PartnerGateway interface {
	Execute(ctx context.Context, p domain.Principal, call gateway.CallFunc) error
}

// PartnerClient is the subset of the partner API the services call
type PartnerClient interface {
	CreateOrder(ctx context.Context, apiKey string, req partner.CreateOrderRequest) (*partner.CreateOrderResponse, error)
	OrderStatus(ctx context.Context, apiKey, orderNo string) (*partner.OrderStatusResponse, error)
	Products(ctx context.Context, apiKey string, productType domain.ProductType) ([]domain.Product, error)
}

// publish delivers an event; failures are logged and never fail the caller
func publish(ctx context.Context, publisher events.Publisher, logger *zap.Logger, event domain.OrderEvent) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.Warn("Failed to publish order event",
			zap.String("event_type", event.EventType),
			zap.String("order_id", event.OrderID.String()),
			zap.Error(err),
		)
	}
}

// recovered converts a panic value into an error
func recovered(r interface{}) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
