package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/pkg/errors"
)

// CreateOrderRequest represents the checkout payload
type CreateOrderRequest struct {
	Customer CustomerInfo  `json:"customer" binding:"required"`
	Items    []ItemRequest `json:"items" binding:"required,min=1,dive"`
	Total    float64       `json:"total" binding:"min=0"`
	// Submit sends the order to the partner right after it is stored
	Submit bool `json:"submit"`
}

type CustomerInfo struct {
	Name          string     `json:"name" binding:"required"`
	Phone         string     `json:"phone" binding:"required"`
	Email         string     `json:"email,omitempty"`
	Gender        string     `json:"gender,omitempty"`
	Age           int        `json:"age,omitempty" binding:"min=0"`
	Address       string     `json:"address" binding:"required"`
	Pincode       string     `json:"pincode" binding:"required"`
	AppointmentAt *time.Time `json:"appointment_at,omitempty"`
}

type ItemRequest struct {
	ProductCode string  `json:"product_code" binding:"required"`
	ProductType string  `json:"product_type" binding:"required"`
	Name        string  `json:"name"`
	Price       float64 `json:"price" binding:"min=0"`
}

// SubmitResult is the outcome of a partner order creation attempt
type SubmitResult struct {
	Success          bool               `json:"success"`
	OrderID          uuid.UUID          `json:"order_id"`
	PartnerReference string             `json:"partner_reference,omitempty"`
	LocalStatus      domain.LocalStatus `json:"local_status,omitempty"`
	RetryCount       int                `json:"retry_count"`
	AlreadySubmitted bool               `json:"already_submitted,omitempty"`
	Failure          *errors.Failure    `json:"error,omitempty"`

	cause error
}

// SyncResult is the outcome of one status reconciliation
type SyncResult struct {
	Success       bool               `json:"success"`
	OrderID       uuid.UUID          `json:"order_id"`
	StatusChanged bool               `json:"status_changed"`
	OldStatus     string             `json:"old_status,omitempty"`
	NewStatus     string             `json:"new_status,omitempty"`
	LocalStatus   domain.LocalStatus `json:"local_status,omitempty"`
	// NotSubmitted is set when the order has no partner reference yet; nothing was queried
	NotSubmitted bool            `json:"not_submitted,omitempty"`
	Failure      *errors.Failure `json:"error,omitempty"`
}

// BatchSyncResult aggregates a reconciliation pass over all non-terminal orders
type BatchSyncResult struct {
	Total         int              `json:"total"`
	Successful    int              `json:"successful"`
	Failed        int              `json:"failed"`
	StatusChanged int              `json:"status_changed"`
	Errors        []BatchSyncError `json:"errors"`
}

type BatchSyncError struct {
	OrderID uuid.UUID   `json:"order_id"`
	Kind    errors.Kind `json:"kind"`
	Message string      `json:"message"`
}
