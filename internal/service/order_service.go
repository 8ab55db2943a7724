package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/config"
	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/internal/events"
	"github.com/jafarshop/labconnect/internal/partner"
	"github.com/jafarshop/labconnect/internal/repository"
	"github.com/jafarshop/labconnect/pkg/errors"
)

type orderService struct {
	repos          *repository.Repositories
	gateway        PartnerGateway
	client         PartnerClient
	publisher      events.Publisher
	retryBaseDelay time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(
	repos *repository.Repositories,
	gw PartnerGateway,
	client PartnerClient,
	publisher events.Publisher,
	cfg config.SyncConfig,
	logger *zap.Logger,
) *orderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &orderService{
		repos:          repos,
		gateway:        gw,
		client:         client,
		publisher:      publisher,
		retryBaseDelay: cfg.RetryBaseDelay,
		logger:         logger,
		now:            time.Now,
	}
}

// CreateOrder stores a checkout order as PENDING. It does not call the partner.
func (s *orderService) CreateOrder(ctx context.Context, operatorID uuid.UUID, req CreateOrderRequest) (*domain.Order, error) {
	items := make([]domain.OrderItem, 0, len(req.Items))
	var total float64
	for _, item := range req.Items {
		productType := domain.ProductType(item.ProductType)
		if !productType.IsValid() {
			return nil, &errors.ErrValidation{
				Field:   "items.product_type",
				Message: fmt.Sprintf("invalid product type %q for %s", item.ProductType, item.ProductCode),
			}
		}
		items = append(items, domain.OrderItem{
			ProductCode: item.ProductCode,
			ProductType: productType,
			Name:        item.Name,
			Price:       item.Price,
		})
		total += item.Price
	}
	if req.Total > 0 {
		total = req.Total
	}

	order := &domain.Order{
		OperatorID:  operatorID,
		LocalStatus: domain.LocalStatusPending,
		Customer: domain.Customer{
			Name:    req.Customer.Name,
			Phone:   req.Customer.Phone,
			Email:   req.Customer.Email,
			Gender:  req.Customer.Gender,
			Age:     req.Customer.Age,
			Address: req.Customer.Address,
			Pincode: req.Customer.Pincode,
		},
		Items: items,
		Total: total,
	}
	if req.Customer.AppointmentAt != nil {
		order.Customer.AppointmentAt = *req.Customer.AppointmentAt
	}

	if err := s.repos.Order.Create(ctx, order); err != nil {
		return nil, err
	}

	publish(ctx, s.publisher, s.logger, events.NewOrderEvent(order.ID, domain.EventOrderCreated, map[string]interface{}{
		"operator_id": operatorID.String(),
		"total":       order.Total,
		"items":       len(order.Items),
	}))

	return order, nil
}

// GetOrder returns an order by id
func (s *orderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.repos.Order.GetByID(ctx, orderID)
}

// SubmitOrder creates the order at the partner using its id as the reference key. A submitted
// order is reported as already submitted without calling the partner again.
func (s *orderService) SubmitOrder(ctx context.Context, p domain.Principal, orderID uuid.UUID) (*SubmitResult, error) {
	order, err := s.repos.Order.GetByID(ctx, orderID)
	if err != nil {
		return failedSubmit(orderID, err)
	}

	if order.IsSubmitted() {
		return &SubmitResult{
			Success:          true,
			OrderID:          order.ID,
			PartnerReference: *order.PartnerReference,
			LocalStatus:      order.LocalStatus,
			RetryCount:       order.RetryCount,
			AlreadySubmitted: true,
		}, nil
	}

	if order.LocalStatus != domain.LocalStatusPending {
		return failedSubmit(orderID, &errors.ErrInvalidStateTransition{
			From: order.LocalStatus,
			To:   domain.LocalStatusCreated,
		})
	}

	return s.submit(ctx, p, order)
}

// RetrySubmission re-attempts partner creation of a FAILED order with the same reference key.
// The retry is counted whatever the outcome.
func (s *orderService) RetrySubmission(ctx context.Context, p domain.Principal, orderID uuid.UUID) (*SubmitResult, error) {
	order, err := s.repos.Order.GetByID(ctx, orderID)
	if err != nil {
		return failedSubmit(orderID, err)
	}

	if order.LocalStatus != domain.LocalStatusFailed || order.IsSubmitted() {
		return failedSubmit(orderID, &errors.ErrInvalidStateTransition{
			From: order.LocalStatus,
			To:   domain.LocalStatusCreated,
		})
	}

	if err := s.repos.Order.RecordRetryAttempt(ctx, order.ID, s.now()); err != nil {
		return nil, err
	}
	order.RetryCount++

	s.logger.Info("Retrying partner submission",
		zap.String("order_id", order.ID.String()),
		zap.Int("retry_count", order.RetryCount),
	)

	return s.submit(ctx, p, order)
}

// CancelOrder cancels an order locally. Cancellation is terminal and survives later syncs.
func (s *orderService) CancelOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.repos.Order.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !order.LocalStatus.CanTransitionTo(domain.LocalStatusCancelled) {
		return nil, &errors.ErrInvalidStateTransition{
			From: order.LocalStatus,
			To:   domain.LocalStatusCancelled,
		}
	}

	if err := s.repos.Order.UpdateLocalStatus(ctx, orderID, domain.LocalStatusCancelled); err != nil {
		return nil, err
	}
	s.completeRetryTask(ctx, orderID)

	publish(ctx, s.publisher, s.logger, events.NewOrderEvent(orderID, domain.EventOrderCancelled, map[string]interface{}{
		"from": order.LocalStatus,
	}))

	order.LocalStatus = domain.LocalStatusCancelled
	return order, nil
}

func (s *orderService) submit(ctx context.Context, p domain.Principal, order *domain.Order) (*SubmitResult, error) {
	req := partner.NewCreateOrderRequest(order)

	// A started call records its own success: the queue runs it to completion even when the
	// caller stops waiting, so the partner reference must not depend on the caller.
	var (
		partnerReference string
		recordErr        error
	)
	err := s.gateway.Execute(ctx, p, func(opCtx context.Context, credential string) error {
		resp, err := s.client.CreateOrder(opCtx, credential, req)
		if err != nil {
			return err
		}
		partnerReference = resp.OrderNo
		recordErr = s.recordSubmitted(opCtx, order, resp.OrderNo)
		return nil
	})
	if err != nil {
		return s.recordSubmissionFailed(context.WithoutCancel(ctx), order, err)
	}
	if recordErr != nil {
		return nil, recordErr
	}

	return &SubmitResult{
		Success:          true,
		OrderID:          order.ID,
		PartnerReference: partnerReference,
		LocalStatus:      domain.LocalStatusCreated,
		RetryCount:       order.RetryCount,
	}, nil
}

func (s *orderService) recordSubmitted(ctx context.Context, order *domain.Order, partnerReference string) error {
	if err := s.repos.Order.MarkSubmitted(ctx, order.ID, partnerReference, s.now()); err != nil {
		s.logger.Error("Failed to record partner submission",
			zap.String("order_id", order.ID.String()),
			zap.String("partner_reference", partnerReference),
			zap.Error(err),
		)
		return err
	}
	s.completeRetryTask(ctx, order.ID)

	s.logger.Info("Order submitted to partner",
		zap.String("order_id", order.ID.String()),
		zap.String("partner_reference", partnerReference),
	)
	publish(ctx, s.publisher, s.logger, events.NewOrderEvent(order.ID, domain.EventOrderSubmitted, map[string]interface{}{
		"partner_reference": partnerReference,
		"retry_count":       order.RetryCount,
	}))
	return nil
}

// recordSubmissionFailed marks the order FAILED and arms a retry. The repository ignores the
// mark once a partner reference is stored, so a call that succeeded after its caller gave up
// keeps its CREATED status; the stray retry task is closed by the scheduler.
func (s *orderService) recordSubmissionFailed(ctx context.Context, order *domain.Order, cause error) (*SubmitResult, error) {
	s.logger.Warn("Partner order submission failed",
		zap.String("order_id", order.ID.String()),
		zap.String("kind", string(errors.KindOf(cause))),
		zap.Error(cause),
	)

	now := s.now()
	if err := s.repos.Order.MarkSubmissionFailed(ctx, order.ID, cause.Error(), now); err != nil {
		return nil, err
	}
	s.scheduleRetry(ctx, order.ID, now, cause)

	publish(ctx, s.publisher, s.logger, events.NewOrderEvent(order.ID, domain.EventSubmissionFailed, map[string]interface{}{
		"kind":        errors.KindOf(cause),
		"error":       cause.Error(),
		"retry_count": order.RetryCount,
	}))

	return &SubmitResult{
		Success:     false,
		OrderID:     order.ID,
		LocalStatus: domain.LocalStatusFailed,
		RetryCount:  order.RetryCount,
		Failure:     errors.NewFailure(cause),
		cause:       cause,
	}, nil
}

// scheduleRetry persists a retry task unless one is already open for the order
func (s *orderService) scheduleRetry(ctx context.Context, orderID uuid.UUID, now time.Time, cause error) {
	reason := cause.Error()
	task := &domain.RetryTask{
		OrderID:   orderID,
		Status:    domain.RetryTaskStatusPending,
		DueAt:     now.Add(s.retryBaseDelay),
		LastError: &reason,
	}
	if err := s.repos.RetryTask.Create(ctx, task); err != nil {
		s.logger.Error("Failed to schedule submission retry", zap.String("order_id", orderID.String()), zap.Error(err))
	}
}

func (s *orderService) completeRetryTask(ctx context.Context, orderID uuid.UUID) {
	task, err := s.repos.RetryTask.GetOpenByOrderID(ctx, orderID)
	if err != nil {
		return
	}
	if err := s.repos.RetryTask.Complete(ctx, task.ID); err != nil {
		s.logger.Error("Failed to complete retry task", zap.String("order_id", orderID.String()), zap.Error(err))
	}
}

// failedSubmit turns expected errors into a result and passes infrastructure errors through
func failedSubmit(orderID uuid.UUID, err error) (*SubmitResult, error) {
	if !errors.IsExpected(err) {
		return nil, err
	}
	return &SubmitResult{
		Success: false,
		OrderID: orderID,
		Failure: errors.NewFailure(err),
		cause:   err,
	}, nil
}
