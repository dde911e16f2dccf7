package models

import "time"

// Provider identifies the payment provider that issued a purchase.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
)

// PurchaseType distinguishes one-off purchases from subscriptions.
type PurchaseType string

const (
	PurchaseTypeOneOff       PurchaseType = "oneoff"
	PurchaseTypeSubscription PurchaseType = "subscription"
)

// ParsePurchaseType returns the PurchaseType for s, or false when s is not a
// known type.
func ParsePurchaseType(s string) (PurchaseType, bool) {
	switch PurchaseType(s) {
	case PurchaseTypeOneOff, PurchaseTypeSubscription:
		return PurchaseType(s), true
	}
	return "", false
}

// PurchaseStatus represents the lifecycle state of a purchase row.
type PurchaseStatus string

const (
	PurchaseStatusPaid     PurchaseStatus = "paid"
	PurchaseStatusActive   PurchaseStatus = "active"
	PurchaseStatusCanceled PurchaseStatus = "canceled"
	PurchaseStatusRefunded PurchaseStatus = "refunded"
)

// GrantingStatuses lists the statuses that give the buyer access to a product.
var GrantingStatuses = []PurchaseStatus{PurchaseStatusPaid, PurchaseStatusActive}

// GrantsAccess reports whether a purchase in this status grants access.
func (s PurchaseStatus) GrantsAccess() bool {
	return s == PurchaseStatusPaid || s == PurchaseStatusActive
}

// IsAbsorbing reports whether no further transition may leave this status.
func (s PurchaseStatus) IsAbsorbing() bool {
	return s == PurchaseStatusCanceled || s == PurchaseStatusRefunded
}

// transitions enumerates the allowed status changes. Same-status writes are
// handled separately as no-ops.
var transitions = map[PurchaseStatus][]PurchaseStatus{
	PurchaseStatusPaid:   {PurchaseStatusRefunded},
	PurchaseStatusActive: {PurchaseStatusCanceled, PurchaseStatusRefunded},
}

// CanTransition reports whether a purchase may move from one status to another.
func CanTransition(from, to PurchaseStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionSources returns every status that may move to the target status.
func TransitionSources(to PurchaseStatus) []PurchaseStatus {
	var sources []PurchaseStatus
	for _, from := range []PurchaseStatus{PurchaseStatusPaid, PurchaseStatusActive, PurchaseStatusCanceled, PurchaseStatusRefunded} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// InitialStatus returns the status a freshly recorded purchase starts in.
func InitialStatus(t PurchaseType) PurchaseStatus {
	if t == PurchaseTypeSubscription {
		return PurchaseStatusActive
	}
	return PurchaseStatusPaid
}

// Purchase is a ledger row. (Provider, ProviderReference) is its idempotency key.
type Purchase struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	ProductID         string         `json:"product_id"`
	Provider          Provider       `json:"provider"`
	ProviderReference string         `json:"provider_reference"`
	PaymentReference  *string        `json:"payment_reference,omitempty"`
	PurchaseType      PurchaseType   `json:"purchase_type"`
	AmountCents       int64          `json:"amount_cents"`
	Status            PurchaseStatus `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// StatusChange describes a requested status update on an existing purchase.
type StatusChange struct {
	Provider  Provider
	Reference string
	// OnlyType restricts the update to rows of this purchase type when set.
	OnlyType    PurchaseType
	To          PurchaseStatus
	AllowedFrom []PurchaseStatus
}

// TransitionResult reports what a status update found and did.
type TransitionResult struct {
	Found    bool
	Previous PurchaseStatus
	Applied  bool
}
