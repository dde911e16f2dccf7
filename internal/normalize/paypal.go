package normalize

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/PortNumber53/marketplace-backend/internal/models"
)

// PayPal webhook event types the ledger acts on.
const (
	PayPalSaleCompleted         = "PAYMENT.SALE.COMPLETED"
	PayPalCaptureCompleted      = "PAYMENT.CAPTURE.COMPLETED"
	PayPalSubscriptionActivated = "BILLING.SUBSCRIPTION.ACTIVATED"
	PayPalSubscriptionCancelled = "BILLING.SUBSCRIPTION.CANCELLED"
	PayPalSubscriptionExpired   = "BILLING.SUBSCRIPTION.EXPIRED"
	PayPalSaleRefunded          = "PAYMENT.SALE.REFUNDED"
	PayPalCaptureRefunded       = "PAYMENT.CAPTURE.REFUNDED"
)

type paypalEnvelope struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime string          `json:"create_time"`
	Resource   json.RawMessage `json:"resource"`
}

type paypalAmount struct {
	Total string `json:"total"`
	Value string `json:"value"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalLastPayment struct {
	Amount *paypalAmount `json:"amount"`
}

type paypalBillingInfo struct {
	LastPayment *paypalLastPayment `json:"last_payment"`
}

type paypalResource struct {
	ID                 string             `json:"id"`
	CustomID           string             `json:"custom_id"`
	Custom             string             `json:"custom"`
	BillingAgreementID string             `json:"billing_agreement_id"`
	SaleID             string             `json:"sale_id"`
	Amount             *paypalAmount      `json:"amount"`
	BillingInfo        *paypalBillingInfo `json:"billing_info"`
	Links              []paypalLink       `json:"links"`
}

func (r paypalResource) customID() string {
	if r.CustomID != "" {
		return r.CustomID
	}
	return r.Custom
}

// upLink returns the last path segment of the rel=up link, which on refund
// resources points at the refunded capture.
func (r paypalResource) upLink() string {
	for _, link := range r.Links {
		if link.Rel != "up" {
			continue
		}
		href := strings.TrimRight(link.Href, "/")
		if i := strings.LastIndex(href, "/"); i >= 0 {
			return href[i+1:]
		}
	}
	return ""
}

// PayPal normalizes a verified PayPal webhook body.
func PayPal(body []byte) (*models.PurchaseEvent, error) {
	var envelope paypalEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, malformed("", "decode event: %v", err)
	}
	eventType := envelope.EventType

	switch eventType {
	case PayPalSaleCompleted, PayPalCaptureCompleted, PayPalSubscriptionActivated,
		PayPalSubscriptionCancelled, PayPalSubscriptionExpired,
		PayPalSaleRefunded, PayPalCaptureRefunded:
	default:
		return nil, unhandled(eventType)
	}

	var resource paypalResource
	if len(envelope.Resource) == 0 {
		return nil, malformed(eventType, "event has no resource")
	}
	if err := json.Unmarshal(envelope.Resource, &resource); err != nil {
		return nil, malformed(eventType, "decode resource: %v", err)
	}

	var (
		out *models.PurchaseEvent
		err error
	)
	switch eventType {
	case PayPalSaleCompleted:
		out, err = paypalSale(eventType, resource)
	case PayPalCaptureCompleted:
		out, err = paypalCapture(eventType, resource)
	case PayPalSubscriptionActivated:
		out, err = paypalActivation(eventType, resource)
	case PayPalSubscriptionCancelled, PayPalSubscriptionExpired:
		out, err = paypalCancellation(eventType, resource)
	case PayPalSaleRefunded:
		out, err = paypalRefund(eventType, resource.SaleID)
	case PayPalCaptureRefunded:
		out, err = paypalRefund(eventType, resource.upLink())
	}
	if err != nil {
		return nil, err
	}

	out.Provider = models.ProviderPayPal
	out.EventID = envelope.ID
	out.EventType = eventType
	if ts, err := time.Parse(time.RFC3339, envelope.CreateTime); err == nil {
		out.OccurredAt = ts.UTC()
	}
	return out, nil
}

func paypalSale(eventType string, r paypalResource) (*models.PurchaseEvent, error) {
	if r.ID == "" {
		return nil, malformed(eventType, "sale has no id")
	}
	amount, err := paypalMinorUnits(r.Amount)
	if err != nil {
		return nil, malformed(eventType, "sale %s: %v", r.ID, err)
	}

	// Recurring sales belong to a subscription that was recorded on activation.
	if r.BillingAgreementID != "" {
		return &models.PurchaseEvent{
			Kind:              models.EventSubscriptionRenewed,
			ProviderReference: r.BillingAgreementID,
			PaymentReference:  r.ID,
			PurchaseType:      models.PurchaseTypeSubscription,
			AmountCents:       amount,
		}, nil
	}

	return paypalCompleted(eventType, r, amount)
}

func paypalCapture(eventType string, r paypalResource) (*models.PurchaseEvent, error) {
	if r.ID == "" {
		return nil, malformed(eventType, "capture has no id")
	}
	amount, err := paypalMinorUnits(r.Amount)
	if err != nil {
		return nil, malformed(eventType, "capture %s: %v", r.ID, err)
	}
	return paypalCompleted(eventType, r, amount)
}

func paypalCompleted(eventType string, r paypalResource, amount int64) (*models.PurchaseEvent, error) {
	custom, err := ParseCustomID(r.customID())
	if err != nil {
		return nil, malformed(eventType, "%v", err)
	}
	return &models.PurchaseEvent{
		Kind:              models.EventPurchaseCompleted,
		ProviderReference: r.ID,
		UserID:            custom.UserID,
		ProductID:         custom.ProductID,
		PurchaseType:      custom.PurchaseType,
		AmountCents:       amount,
	}, nil
}

func paypalActivation(eventType string, r paypalResource) (*models.PurchaseEvent, error) {
	if r.ID == "" {
		return nil, malformed(eventType, "subscription has no id")
	}
	custom, err := ParseCustomID(r.customID())
	if err != nil {
		return nil, malformed(eventType, "%v", err)
	}

	var amount int64
	if r.BillingInfo != nil && r.BillingInfo.LastPayment != nil {
		if parsed, err := paypalMinorUnits(r.BillingInfo.LastPayment.Amount); err == nil {
			amount = parsed
		}
	}

	return &models.PurchaseEvent{
		Kind:              models.EventPurchaseCompleted,
		ProviderReference: r.ID,
		UserID:            custom.UserID,
		ProductID:         custom.ProductID,
		PurchaseType:      models.PurchaseTypeSubscription,
		AmountCents:       amount,
	}, nil
}

func paypalCancellation(eventType string, r paypalResource) (*models.PurchaseEvent, error) {
	if r.ID == "" {
		return nil, malformed(eventType, "subscription has no id")
	}
	return &models.PurchaseEvent{
		Kind:              models.EventSubscriptionCanceled,
		ProviderReference: r.ID,
		PurchaseType:      models.PurchaseTypeSubscription,
	}, nil
}

func paypalRefund(eventType, reference string) (*models.PurchaseEvent, error) {
	if reference == "" {
		return nil, malformed(eventType, "refund does not reference a payment")
	}
	return &models.PurchaseEvent{
		Kind:              models.EventRefunded,
		ProviderReference: reference,
		PaymentReference:  reference,
	}, nil
}

func paypalMinorUnits(amount *paypalAmount) (int64, error) {
	if amount == nil {
		return 0, errMissingAmount
	}
	raw := amount.Total
	if raw == "" {
		raw = amount.Value
	}
	return MinorUnits(raw)
}
