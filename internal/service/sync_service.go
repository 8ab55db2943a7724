package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/internal/events"
	"github.com/jafarshop/labconnect/internal/partner"
	"github.com/jafarshop/labconnect/internal/repository"
	"github.com/jafarshop/labconnect/pkg/errors"
)

type syncService struct {
	repos     *repository.Repositories
	gateway   PartnerGateway
	client    PartnerClient
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewSyncService creates the order status reconciliation service
func NewSyncService(
	repos *repository.Repositories,
	gw PartnerGateway,
	client PartnerClient,
	publisher events.Publisher,
	logger *zap.Logger,
) *syncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &syncService{
		repos:     repos,
		gateway:   gw,
		client:    client,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// SyncOrderStatus pulls the partner status of one order and reconciles the local record.
// An unchanged status only refreshes last_synced_at; a changed one is appended to the history.
// A CANCELLED order keeps its local status whatever the partner reports.
func (s *syncService) SyncOrderStatus(ctx context.Context, p domain.Principal, orderID uuid.UUID) (*SyncResult, error) {
	order, err := s.repos.Order.GetByID(ctx, orderID)
	if err != nil {
		return failedSync(orderID, err)
	}

	if !order.IsSubmitted() {
		return &SyncResult{
			Success:      true,
			OrderID:      order.ID,
			LocalStatus:  order.LocalStatus,
			NotSubmitted: true,
		}, nil
	}

	var resp *partner.OrderStatusResponse
	err = s.gateway.Execute(ctx, p, func(ctx context.Context, credential string) error {
		var err error
		resp, err = s.client.OrderStatus(ctx, credential, *order.PartnerReference)
		return err
	})
	if err != nil {
		s.logger.Warn("Partner status sync failed",
			zap.String("order_id", order.ID.String()),
			zap.String("partner_reference", *order.PartnerReference),
			zap.Error(err),
		)
		return failedSync(orderID, err)
	}

	now := s.now()
	oldStatus := domain.NormalizePartnerStatus(order.CurrentPartnerStatus())
	newStatus := domain.NormalizePartnerStatus(resp.Status)
	if newStatus == "" {
		return failedSync(orderID, &errors.ErrPartnerRequest{
			Operation: "order-status",
			Err:       fmt.Errorf("empty status for %s", *order.PartnerReference),
		})
	}

	if oldStatus == newStatus {
		if err := s.repos.Order.TouchSynced(ctx, order.ID, now); err != nil {
			return nil, err
		}
		return &SyncResult{
			Success:     true,
			OrderID:     order.ID,
			OldStatus:   oldStatus,
			NewStatus:   newStatus,
			LocalStatus: order.LocalStatus,
		}, nil
	}

	if _, known := domain.MapPartnerStatus(newStatus); !known {
		s.logger.Warn("Unknown partner status, local status unchanged",
			zap.String("order_id", order.ID.String()),
			zap.String("partner_status", newStatus),
		)
	}

	localStatus := domain.DeriveLocalStatus(order.LocalStatus, newStatus)
	entry := domain.StatusHistoryEntry{
		Status:    newStatus,
		Timestamp: now,
		Note:      resp.Remarks,
	}
	if err := s.repos.Order.AppendPartnerStatus(ctx, order.ID, entry, localStatus); err != nil {
		return nil, err
	}

	s.logger.Info("Partner status changed",
		zap.String("order_id", order.ID.String()),
		zap.String("old_status", oldStatus),
		zap.String("new_status", newStatus),
		zap.String("local_status", string(localStatus)),
	)
	publish(ctx, s.publisher, s.logger, events.NewOrderEvent(order.ID, domain.EventOrderStatusChanged, map[string]interface{}{
		"old_status":   oldStatus,
		"new_status":   newStatus,
		"local_status": localStatus,
	}))

	return &SyncResult{
		Success:       true,
		OrderID:       order.ID,
		StatusChanged: true,
		OldStatus:     oldStatus,
		NewStatus:     newStatus,
		LocalStatus:   localStatus,
	}, nil
}

// SyncAllOrdersStatus reconciles every PENDING and CREATED order, oldest first, one at a time.
// A failing order is recorded in the result and does not stop the batch.
func (s *syncService) SyncAllOrdersStatus(ctx context.Context, p domain.Principal) (*BatchSyncResult, error) {
	orders, err := s.repos.Order.ListByLocalStatus(ctx, domain.NonTerminalSyncStatuses, 0)
	if err != nil {
		s.logger.Error("Failed to list orders for sync", zap.Error(err))
		return nil, err
	}
	return s.syncBatch(ctx, p, orders), nil
}

// SyncOperatorOrdersStatus is SyncAllOrdersStatus restricted to orders placed by operatorID
func (s *syncService) SyncOperatorOrdersStatus(ctx context.Context, p domain.Principal, operatorID uuid.UUID) (*BatchSyncResult, error) {
	orders, err := s.repos.Order.ListByLocalStatus(ctx, domain.NonTerminalSyncStatuses, 0)
	if err != nil {
		s.logger.Error("Failed to list orders for sync", zap.Error(err), zap.String("operator_id", operatorID.String()))
		return nil, err
	}

	owned := orders[:0]
	for _, order := range orders {
		if order.OperatorID == operatorID {
			owned = append(owned, order)
		}
	}
	return s.syncBatch(ctx, p, owned), nil
}

func (s *syncService) syncBatch(ctx context.Context, p domain.Principal, orders []*domain.Order) *BatchSyncResult {
	result := &BatchSyncResult{
		Total:  len(orders),
		Errors: []BatchSyncError{},
	}
	for _, order := range orders {
		res, err := s.syncOne(ctx, p, order.ID)
		switch {
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, BatchSyncError{
				OrderID: order.ID,
				Kind:    errors.KindOf(err),
				Message: err.Error(),
			})
		case !res.Success:
			result.Failed++
			result.Errors = append(result.Errors, BatchSyncError{
				OrderID: order.ID,
				Kind:    res.Failure.Kind,
				Message: res.Failure.Message,
			})
		default:
			result.Successful++
			if res.StatusChanged {
				result.StatusChanged++
			}
		}
	}

	s.logger.Info("Order status sync completed",
		zap.Int("total", result.Total),
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
		zap.Int("status_changed", result.StatusChanged),
	)
	return result
}

// syncOne isolates a single order's sync, including panics
func (s *syncService) syncOne(ctx context.Context, p domain.Principal, orderID uuid.UUID) (res *SyncResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Order sync panicked", zap.String("order_id", orderID.String()), zap.Any("panic", r))
			res, err = nil, recovered(r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.SyncOrderStatus(ctx, p, orderID)
}

func failedSync(orderID uuid.UUID, err error) (*SyncResult, error) {
	if !errors.IsExpected(err) {
		return nil, err
	}
	return &SyncResult{
		Success: false,
		OrderID: orderID,
		Failure: errors.NewFailure(err),
	}, nil
}
