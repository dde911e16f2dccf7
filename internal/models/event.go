package models

import (
	"fmt"
	"time"
)

// EventKind is the closed set of ledger-relevant payment events.
type EventKind int

const (
	EventPurchaseCompleted EventKind = iota + 1
	EventSubscriptionRenewed
	EventSubscriptionCanceled
	EventRefunded
)

func (k EventKind) String() string {
	switch k {
	case EventPurchaseCompleted:
		return "purchase-completed"
	case EventSubscriptionRenewed:
		return "subscription-renewed"
	case EventSubscriptionCanceled:
		return "subscription-canceled"
	case EventRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// PurchaseEvent is the provider-independent form of one webhook notification.
// It lives only for the duration of a single delivery.
type PurchaseEvent struct {
	Kind              EventKind
	Provider          Provider
	ProviderReference string
	// PaymentReference is a secondary provider identifier (for example a Stripe
	// payment intent) that later refund events may reference instead.
	PaymentReference string
	UserID           string
	ProductID        string
	PurchaseType     PurchaseType
	AmountCents      int64
	OccurredAt       time.Time

	EventID   string
	EventType string
}
