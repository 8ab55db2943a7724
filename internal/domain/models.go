package domain

import (
	"time"

	"github.com/google/uuid"
)

// Operator represents an internal principal allowed to drive partner calls
type Operator struct {
	ID         uuid.UUID
	Name       string
	APIKeyHash string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Order represents a lab order placed at checkout and mirrored at the partner
type Order struct {
	ID                   uuid.UUID
	OperatorID           uuid.UUID
	LocalStatus          LocalStatus
	PartnerReference     *string
	PartnerStatus        *string
	PartnerStatusHistory []StatusHistoryEntry // JSONB, append-only
	Customer             Customer             // JSONB
	Items                []OrderItem          // JSONB
	Total                float64
	LastError            *string
	RetryCount           int
	LastRetryAt          *time.Time
	LastSyncedAt         *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsSubmitted reports whether partner-side creation has succeeded
func (o *Order) IsSubmitted() bool {
	return o.PartnerReference != nil && *o.PartnerReference != ""
}

// CurrentPartnerStatus returns the last-known partner status or an empty string
func (o *Order) CurrentPartnerStatus() string {
	if o.PartnerStatus == nil {
		return ""
	}
	return *o.PartnerStatus
}

// StatusHistoryEntry is one entry of an order's partner status log
type StatusHistoryEntry struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// Customer holds the patient and collection details sent to the partner
type Customer struct {
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	Email         string    `json:"email,omitempty"`
	Gender        string    `json:"gender,omitempty"`
	Age           int       `json:"age,omitempty"`
	Address       string    `json:"address"`
	Pincode       string    `json:"pincode"`
	AppointmentAt time.Time `json:"appointment_at"`
}

// OrderItem is one partner product booked in an order
type OrderItem struct {
	ProductCode string      `json:"product_code"`
	ProductType ProductType `json:"product_type"`
	Name        string      `json:"name"`
	Price       float64     `json:"price"`
}

// CredentialSession represents one operator's authenticated relationship with the partner
type CredentialSession struct {
	ID              uuid.UUID
	OperatorID      string
	CredentialValue string
	AcquiredAt      time.Time
	ExpiresAt       time.Time
	SourceAddress   string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsExpired reports whether the session boundary has passed at now
func (s *CredentialSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// RetryTask is a persisted, due-time based submission retry
type RetryTask struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	Status    RetryTaskStatus
	Attempts  int
	DueAt     time.Time
	LastError *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderEvent represents an audit event for an order
type OrderEvent struct {
	ID        uuid.UUID              `json:"id"`
	OrderID   uuid.UUID              `json:"order_id"`
	EventType string                 `json:"event_type"`
	EventData map[string]interface{} `json:"event_data"`
	CreatedAt time.Time              `json:"created_at"`
}

// Product is a partner catalog entry resolved once by its Type discriminant.
// Exactly one of Test, Profile or Offer is set.
type Product struct {
	Type    ProductType     `json:"type"`
	Code    string          `json:"code"`
	Name    string          `json:"name"`
	Rate    float64         `json:"rate"`
	Test    *TestProduct    `json:"test,omitempty"`
	Profile *ProfileProduct `json:"profile,omitempty"`
	Offer   *OfferProduct   `json:"offer,omitempty"`
}

// TestProduct is a single lab test
type TestProduct struct {
	SampleType   string `json:"sampleType"`
	FastingHours int    `json:"fastingHours"`
}

// ProfileProduct is a bundle of tests
type ProfileProduct struct {
	TestCodes []string `json:"testCodes"`
	TestCount int      `json:"testCount"`
}

// OfferProduct is a promotional package
type OfferProduct struct {
	TestCodes  []string  `json:"testCodes"`
	OfferRate  float64   `json:"offerRate"`
	ValidUntil time.Time `json:"validUntil"`
}

// Principal identifies who a partner call is made for. Credentials are keyed by both fields.
type Principal struct {
	OperatorID    string
	SourceAddress string
}

// Key returns the credential session key for p
func (p Principal) Key() string {
	return p.OperatorID + "|" + p.SourceAddress
}
