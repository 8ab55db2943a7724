package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jafarshop/labconnect/internal/domain"
)

// ErrNotFound is returned when a resource does not exist
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrUnauthorized is returned when a caller cannot be authenticated
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	return fmt.Sprintf("unauthorized: %s", e.Message)
}

// ErrInvalidStateTransition is returned when an order cannot move between two local statuses
type ErrInvalidStateTransition struct {
	From domain.LocalStatus
	To   domain.LocalStatus
}

func (e *ErrInvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

// ErrPartnerUnavailable is returned while the partner circuit is open.
// The call was never sent; it may be retried after RetryAt.
type ErrPartnerUnavailable struct {
	RetryAt time.Time
}

func (e *ErrPartnerUnavailable) Error() string {
	if e.RetryAt.IsZero() {
		return "partner unavailable"
	}
	return fmt.Sprintf("partner unavailable, retry after %s", e.RetryAt.Format(time.RFC3339))
}

// ErrCredentialExpired is returned when a partner credential passed its session boundary
// and could not be replaced
type ErrCredentialExpired struct {
	OperatorID string
}

func (e *ErrCredentialExpired) Error() string {
	return fmt.Sprintf("partner credential expired for operator %s", e.OperatorID)
}

// ErrCredentialAcquisition is returned when partner login fails
type ErrCredentialAcquisition struct {
	OperatorID string
	Err        error
}

func (e *ErrCredentialAcquisition) Error() string {
	return fmt.Sprintf("failed to acquire partner credential for operator %s: %v", e.OperatorID, e.Err)
}

func (e *ErrCredentialAcquisition) Unwrap() error {
	return e.Err
}

// ErrPartnerRequest is returned when an individual partner call fails after admission
type ErrPartnerRequest struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *ErrPartnerRequest) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("partner %s failed: status %d: %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("partner %s failed: %v", e.Operation, e.Err)
}

func (e *ErrPartnerRequest) Unwrap() error {
	return e.Err
}

// ErrValidation is returned when caller input is rejected before any work is done
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Kind is a stable, caller-facing classification of an error
type Kind string

const (
	KindNone                    Kind = ""
	KindPartnerUnavailable      Kind = "partner_unavailable"
	KindCredentialExpired       Kind = "credential_expired"
	KindCredentialAcquisition   Kind = "credential_acquisition"
	KindPartnerRequest          Kind = "partner_request"
	KindNotFound                Kind = "not_found"
	KindInvalidStatusTransition Kind = "invalid_status_transition"
	KindUnauthorized            Kind = "unauthorized"
	KindValidation              Kind = "validation"
	KindTimeout                 Kind = "timeout"
	KindCanceled                Kind = "canceled"
	KindInternal                Kind = "internal"
)

// KindOf classifies err by walking its chain
func KindOf(err error) Kind {
	var (
		unavailable  *ErrPartnerUnavailable
		expired      *ErrCredentialExpired
		acquisition  *ErrCredentialAcquisition
		request      *ErrPartnerRequest
		notFound     *ErrNotFound
		transition   *ErrInvalidStateTransition
		unauthorized *ErrUnauthorized
		validation   *ErrValidation
	)

	switch {
	case err == nil:
		return KindNone

	// Breaker rejection during login is still an availability problem, not a credential one.
	case stderrors.As(err, &unavailable):
		return KindPartnerUnavailable

	case stderrors.As(err, &expired):
		return KindCredentialExpired

	case stderrors.As(err, &acquisition):
		return KindCredentialAcquisition

	case stderrors.As(err, &request):
		return KindPartnerRequest

	case stderrors.As(err, &notFound):
		return KindNotFound

	case stderrors.As(err, &transition):
		return KindInvalidStatusTransition

	case stderrors.As(err, &unauthorized):
		return KindUnauthorized

	case stderrors.As(err, &validation):
		return KindValidation

	case stderrors.Is(err, context.DeadlineExceeded):
		return KindTimeout

	case stderrors.Is(err, context.Canceled):
		return KindCanceled

	default:
		return KindInternal
	}
}

// IsExpected reports whether err belongs to the failure modes callers handle as results
// rather than as programming or infrastructure errors
func IsExpected(err error) bool {
	switch KindOf(err) {
	case KindNone, KindInternal, KindCanceled:
		return false
	default:
		return true
	}
}

// HTTPStatus maps an error kind to a response status
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNone:
		return http.StatusOK
	case KindPartnerUnavailable:
		return http.StatusServiceUnavailable
	case KindCredentialExpired, KindCredentialAcquisition:
		return http.StatusBadGateway
	case KindPartnerRequest:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidStatusTransition:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCanceled:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Failure is the error half of a caller-facing result
type Failure struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// NewFailure builds a Failure from err, or returns nil for a nil error
func NewFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	return &Failure{Kind: KindOf(err), Message: err.Error()}
}
