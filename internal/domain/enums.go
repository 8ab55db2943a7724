package domain

import "strings"

// LocalStatus represents the lifecycle status of an order on our side
type LocalStatus string

const (
	LocalStatusPending   LocalStatus = "PENDING"
	LocalStatusCreated   LocalStatus = "CREATED"
	LocalStatusFailed    LocalStatus = "FAILED"
	LocalStatusCancelled LocalStatus = "CANCELLED"
	LocalStatusCompleted LocalStatus = "COMPLETED"
)

// IsValid checks if the local status is valid
func (s LocalStatus) IsValid() bool {
	switch s {
	case LocalStatusPending,
		LocalStatusCreated,
		LocalStatusFailed,
		LocalStatusCancelled,
		LocalStatusCompleted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further reconciliation applies to the status
func (s LocalStatus) IsTerminal() bool {
	return s == LocalStatusCancelled || s == LocalStatusCompleted
}

// CanTransitionTo checks if a status transition is valid
func (s LocalStatus) CanTransitionTo(newStatus LocalStatus) bool {
	switch s {
	case LocalStatusPending:
		return newStatus == LocalStatusCreated ||
			newStatus == LocalStatusFailed ||
			newStatus == LocalStatusCancelled
	case LocalStatusFailed:
		// A failed submission may be retried, and the partner may also report FAILED for
		// an order that was created and later serviced unsuccessfully.
		return newStatus == LocalStatusCreated ||
			newStatus == LocalStatusCancelled
	case LocalStatusCreated:
		return newStatus == LocalStatusCompleted ||
			newStatus == LocalStatusFailed ||
			newStatus == LocalStatusCancelled
	case LocalStatusCancelled, LocalStatusCompleted:
		return false // Terminal states
	default:
		return false
	}
}

// NonTerminalSyncStatuses are the local statuses selected by a batch reconciliation
var NonTerminalSyncStatuses = []LocalStatus{LocalStatusPending, LocalStatusCreated}

// Partner status vocabulary as reported by the order-status endpoint
const (
	PartnerStatusYetToAssign = "YET TO ASSIGN"
	PartnerStatusAssigned    = "ASSIGNED"
	PartnerStatusAccepted    = "ACCEPTED"
	PartnerStatusServiced    = "SERVICED"
	PartnerStatusDone        = "DONE"
	PartnerStatusFailed      = "FAILED"
)

var partnerStatusMap = map[string]LocalStatus{
	PartnerStatusYetToAssign: LocalStatusCreated,
	PartnerStatusAssigned:    LocalStatusCreated,
	PartnerStatusAccepted:    LocalStatusCreated,
	PartnerStatusServiced:    LocalStatusCreated,
	PartnerStatusDone:        LocalStatusCompleted,
	PartnerStatusFailed:      LocalStatusFailed,
}

// NormalizePartnerStatus trims and upper-cases a raw partner status
func NormalizePartnerStatus(status string) string {
	return strings.ToUpper(strings.Join(strings.Fields(status), " "))
}

// MapPartnerStatus returns the local status derived from a partner status.
// ok is false for vocabulary we do not recognise; callers keep the current local status.
func MapPartnerStatus(partnerStatus string) (LocalStatus, bool) {
	status, ok := partnerStatusMap[NormalizePartnerStatus(partnerStatus)]
	return status, ok
}

// DeriveLocalStatus applies the partner status mapping to an order's current local status.
// CANCELLED is authoritative and is never overwritten.
func DeriveLocalStatus(current LocalStatus, partnerStatus string) LocalStatus {
	if current == LocalStatusCancelled {
		return current
	}
	mapped, ok := MapPartnerStatus(partnerStatus)
	if !ok {
		return current
	}
	return mapped
}

// ProductType discriminates the partner catalog product kinds
type ProductType string

const (
	ProductTypeTest    ProductType = "TEST"
	ProductTypeProfile ProductType = "PROFILE"
	ProductTypeOffer   ProductType = "OFFER"
)

// IsValid checks if the product type is valid
func (t ProductType) IsValid() bool {
	switch t {
	case ProductTypeTest, ProductTypeProfile, ProductTypeOffer:
		return true
	default:
		return false
	}
}

// RetryTaskStatus represents the state of a persisted submission retry
type RetryTaskStatus string

const (
	RetryTaskStatusPending   RetryTaskStatus = "PENDING"
	RetryTaskStatusDone      RetryTaskStatus = "DONE"
	RetryTaskStatusExhausted RetryTaskStatus = "EXHAUSTED"
)

// Order event types published for downstream consumers
const (
	EventOrderCreated       = "order.created"
	EventOrderSubmitted     = "order.submitted"
	EventSubmissionFailed   = "order.submission_failed"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderCancelled     = "order.cancelled"
)
