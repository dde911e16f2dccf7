package normalize

import (
	"bytes"
	"encoding/json"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/PortNumber53/marketplace-backend/internal/models"
)

// Checkout session metadata keys written by the checkout handler.
const (
	MetadataProductID = "productId"
	MetadataUserID    = "userId"
	MetadataType      = "type"
)

type stripeKind int

const (
	stripeUnhandled stripeKind = iota
	stripeCheckoutCompleted
	stripeInvoicePaid
	stripeSubscriptionDeleted
	stripeChargeRefunded
)

func classifyStripe(t stripe.EventType) stripeKind {
	switch t {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return stripeCheckoutCompleted
	case stripe.EventTypeInvoicePaymentSucceeded, stripe.EventTypeInvoicePaid:
		return stripeInvoicePaid
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return stripeSubscriptionDeleted
	case stripe.EventTypeChargeRefunded:
		return stripeChargeRefunded
	default:
		return stripeUnhandled
	}
}

// Stripe normalizes a verified Stripe event body.
func Stripe(body []byte) (*models.PurchaseEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, malformed("", "decode event: %v", err)
	}
	eventType := string(event.Type)
	if event.Data == nil || len(event.Data.Raw) == 0 {
		if classifyStripe(event.Type) == stripeUnhandled {
			return nil, unhandled(eventType)
		}
		return nil, malformed(eventType, "event has no data object")
	}

	var (
		out *models.PurchaseEvent
		err error
	)
	switch classifyStripe(event.Type) {
	case stripeCheckoutCompleted:
		out, err = stripeCheckout(eventType, event.Data.Raw)
	case stripeInvoicePaid:
		out, err = stripeRenewal(eventType, event.Data.Raw)
	case stripeSubscriptionDeleted:
		out, err = stripeCancellation(eventType, event.Data.Raw)
	case stripeChargeRefunded:
		out, err = stripeRefund(eventType, event.Data.Raw)
	default:
		return nil, unhandled(eventType)
	}
	if err != nil {
		return nil, err
	}

	out.Provider = models.ProviderStripe
	out.EventID = event.ID
	out.EventType = eventType
	if event.Created > 0 {
		out.OccurredAt = time.Unix(event.Created, 0).UTC()
	}
	return out, nil
}

func stripeCheckout(eventType string, raw json.RawMessage) (*models.PurchaseEvent, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, malformed(eventType, "decode checkout session: %v", err)
	}

	switch session.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
	default:
		return nil, &SkipError{Reason: SkipNotPaid, EventType: eventType, Detail: "payment_status " + string(session.PaymentStatus)}
	}

	productID := session.Metadata[MetadataProductID]
	userID := session.Metadata[MetadataUserID]
	if productID == "" || userID == "" {
		return nil, malformed(eventType, "session %s missing product or user metadata", session.ID)
	}

	purchaseType := models.PurchaseTypeOneOff
	if raw := session.Metadata[MetadataType]; raw != "" {
		parsed, ok := models.ParsePurchaseType(raw)
		if !ok {
			return nil, malformed(eventType, "session %s has unknown purchase type %q", session.ID, raw)
		}
		purchaseType = parsed
	}

	reference := session.ID
	if purchaseType == models.PurchaseTypeSubscription && session.Subscription != nil && session.Subscription.ID != "" {
		reference = session.Subscription.ID
	}
	if reference == "" {
		return nil, malformed(eventType, "session has no id")
	}

	var paymentRef string
	if session.PaymentIntent != nil {
		paymentRef = session.PaymentIntent.ID
	}

	return &models.PurchaseEvent{
		Kind:              models.EventPurchaseCompleted,
		ProviderReference: reference,
		PaymentReference:  paymentRef,
		UserID:            userID,
		ProductID:         productID,
		PurchaseType:      purchaseType,
		AmountCents:       session.AmountTotal,
	}, nil
}

// stripeInvoice reads the subscription id from both the legacy top-level
// field and the newer parent.subscription_details location.
type stripeInvoice struct {
	ID           string               `json:"id"`
	AmountPaid   int64                `json:"amount_paid"`
	Subscription json.RawMessage      `json:"subscription"`
	Parent       *stripeInvoiceParent `json:"parent"`
}

type stripeInvoiceParent struct {
	SubscriptionDetails *struct {
		Subscription json.RawMessage `json:"subscription"`
	} `json:"subscription_details"`
}

func (inv stripeInvoice) subscriptionID() string {
	if id := expandableID(inv.Subscription); id != "" {
		return id
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return expandableID(inv.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// expandableID returns the id of a Stripe field that is either a bare id
// string or an expanded object.
func expandableID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return ""
		}
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	return obj.ID
}

func stripeRenewal(eventType string, raw json.RawMessage) (*models.PurchaseEvent, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return nil, malformed(eventType, "decode invoice: %v", err)
	}
	subID := invoice.subscriptionID()
	if subID == "" {
		// One-off invoices are covered by the checkout session.
		return nil, &SkipError{Reason: SkipUnhandled, EventType: eventType, Detail: "invoice " + invoice.ID + " has no subscription"}
	}
	return &models.PurchaseEvent{
		Kind:              models.EventSubscriptionRenewed,
		ProviderReference: subID,
		PurchaseType:      models.PurchaseTypeSubscription,
		AmountCents:       invoice.AmountPaid,
	}, nil
}

func stripeCancellation(eventType string, raw json.RawMessage) (*models.PurchaseEvent, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, malformed(eventType, "decode subscription: %v", err)
	}
	if sub.ID == "" {
		return nil, malformed(eventType, "subscription has no id")
	}
	return &models.PurchaseEvent{
		Kind:              models.EventSubscriptionCanceled,
		ProviderReference: sub.ID,
		PurchaseType:      models.PurchaseTypeSubscription,
		UserID:            sub.Metadata[MetadataUserID],
		ProductID:         sub.Metadata[MetadataProductID],
	}, nil
}

func stripeRefund(eventType string, raw json.RawMessage) (*models.PurchaseEvent, error) {
	var charge stripe.Charge
	if err := json.Unmarshal(raw, &charge); err != nil {
		return nil, malformed(eventType, "decode charge: %v", err)
	}
	if !charge.Refunded {
		return nil, &SkipError{Reason: SkipUnhandled, EventType: eventType, Detail: "partial refund on charge " + charge.ID}
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		return nil, malformed(eventType, "charge %s has no payment intent", charge.ID)
	}
	return &models.PurchaseEvent{
		Kind:              models.EventRefunded,
		ProviderReference: charge.PaymentIntent.ID,
		PaymentReference:  charge.PaymentIntent.ID,
		AmountCents:       charge.AmountRefunded,
	}, nil
}
