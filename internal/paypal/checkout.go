package paypal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderParams describes a one-off PayPal order.
type OrderParams struct {
	AmountCents int64
	Currency    string
	Description string
	// CustomID is echoed back on captures and sales.
	CustomID  string
	ReturnURL string
	CancelURL string
}

type orderAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	Amount      orderAmount `json:"amount"`
	Description string      `json:"description,omitempty"`
	CustomID    string      `json:"custom_id"`
}

type applicationContext struct {
	ReturnURL string `json:"return_url"`
	CancelURL string `json:"cancel_url"`
}

type orderRequest struct {
	Intent             string             `json:"intent"`
	PurchaseUnits      []purchaseUnit     `json:"purchase_units"`
	ApplicationContext applicationContext `json:"application_context"`
}

type approvalResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []link `json:"links"`
}

// FormatAmount renders minor units as PayPal's decimal major-unit string.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// CreateOrder creates a CAPTURE order and returns the buyer approval URL.
func (c *Client) CreateOrder(ctx context.Context, params OrderParams) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	currency := params.Currency
	if currency == "" {
		currency = "USD"
	}

	req := orderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			Amount:      orderAmount{CurrencyCode: currency, Value: FormatAmount(params.AmountCents)},
			Description: params.Description,
			CustomID:    params.CustomID,
		}},
		ApplicationContext: applicationContext{ReturnURL: params.ReturnURL, CancelURL: params.CancelURL},
	}

	var resp approvalResponse
	if err := c.doJSON(ctx, "/v2/checkout/orders", req, &resp); err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	url := approveLink(resp.Links)
	if url == "" {
		return "", errors.New("create order: no approval url in response")
	}
	return url, nil
}

// CaptureResult is the outcome of capturing an approved order.
type CaptureResult struct {
	OrderID   string
	Status    string
	CaptureID string
}

type captureResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// CaptureOrder captures a buyer-approved order. The purchase itself is
// recorded when PayPal delivers PAYMENT.CAPTURE.COMPLETED.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("capture order: order id is required")
	}

	var resp captureResponse
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := c.doJSON(ctx, path, struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("capture order: %w", err)
	}

	result := &CaptureResult{OrderID: resp.ID, Status: resp.Status}
	if len(resp.PurchaseUnits) > 0 && len(resp.PurchaseUnits[0].Payments.Captures) > 0 {
		result.CaptureID = resp.PurchaseUnits[0].Payments.Captures[0].ID
	}
	return result, nil
}

// SubscriptionParams describes a PayPal billing subscription.
type SubscriptionParams struct {
	PlanID          string
	CustomID        string
	SubscriberEmail string
	ReturnURL       string
	CancelURL       string
}

type subscriber struct {
	EmailAddress string `json:"email_address,omitempty"`
}

type subscriptionRequest struct {
	PlanID             string             `json:"plan_id"`
	CustomID           string             `json:"custom_id"`
	Subscriber         *subscriber        `json:"subscriber,omitempty"`
	ApplicationContext applicationContext `json:"application_context"`
}

// CreateSubscription creates a billing subscription for an existing plan and
// returns the buyer approval URL.
func (c *Client) CreateSubscription(ctx context.Context, params SubscriptionParams) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if params.PlanID == "" {
		return "", errors.New("create subscription: plan id is required")
	}

	req := subscriptionRequest{
		PlanID:             params.PlanID,
		CustomID:           params.CustomID,
		ApplicationContext: applicationContext{ReturnURL: params.ReturnURL, CancelURL: params.CancelURL},
	}
	if params.SubscriberEmail != "" {
		req.Subscriber = &subscriber{EmailAddress: params.SubscriberEmail}
	}

	var resp approvalResponse
	if err := c.doJSON(ctx, "/v1/billing/subscriptions", req, &resp); err != nil {
		return "", fmt.Errorf("create subscription: %w", err)
	}
	url := approveLink(resp.Links)
	if url == "" {
		return "", errors.New("create subscription: no approval url in response")
	}
	return url, nil
}
