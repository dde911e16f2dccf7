package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	stripego "github.com/stripe/stripe-go/v82"

	"github.com/PortNumber53/marketplace-backend/internal/middleware"
	"github.com/PortNumber53/marketplace-backend/internal/models"
	"github.com/PortNumber53/marketplace-backend/internal/normalize"
	"github.com/PortNumber53/marketplace-backend/internal/paypal"
	stripeClient "github.com/PortNumber53/marketplace-backend/internal/stripe"
)

// ProductReader reads catalog products.
type ProductReader interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	GetProductBySlug(ctx context.Context, slug string) (*models.Product, error)
}

// StripeCheckout creates Stripe Checkout sessions.
type StripeCheckout interface {
	CreateCheckoutSession(ctx context.Context, params stripeClient.CheckoutParams) (*stripego.CheckoutSession, error)
}

// PayPalCheckout creates and captures PayPal orders and billing subscriptions.
type PayPalCheckout interface {
	CreateOrder(ctx context.Context, params paypal.OrderParams) (string, error)
	CaptureOrder(ctx context.Context, orderID string) (*paypal.CaptureResult, error)
	CreateSubscription(ctx context.Context, params paypal.SubscriptionParams) (string, error)
}

// CheckoutHandler starts provider checkouts for authenticated buyers.
type CheckoutHandler struct {
	Catalog ProductReader
	Stripe  StripeCheckout
	PayPal  PayPalCheckout
	AppURL  string
}

// NewCheckoutHandler creates a CheckoutHandler.
func NewCheckoutHandler(catalog ProductReader, stripe StripeCheckout, pp PayPalCheckout, appURL string) *CheckoutHandler {
	if appURL == "" {
		appURL = "http://localhost:3000"
	}
	return &CheckoutHandler{
		Catalog: catalog,
		Stripe:  stripe,
		PayPal:  pp,
		AppURL:  strings.TrimRight(appURL, "/"),
	}
}

type checkoutRequest struct {
	identity     middleware.Identity
	product      *models.Product
	purchaseType models.PurchaseType
}

// resolve authenticates the caller and loads the requested product. It writes
// the error response itself and returns false when the request cannot proceed.
func (h *CheckoutHandler) resolve(w http.ResponseWriter, r *http.Request, logger zerolog.Logger) (checkoutRequest, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return checkoutRequest{}, false
	}

	productID := strings.TrimSpace(r.URL.Query().Get("productId"))
	if productID == "" {
		writeError(w, http.StatusBadRequest, "Product ID required")
		return checkoutRequest{}, false
	}

	rawType := r.URL.Query().Get("type")
	if rawType == "" {
		rawType = string(models.PurchaseTypeOneOff)
	}
	purchaseType, ok := models.ParsePurchaseType(rawType)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown purchase type")
		return checkoutRequest{}, false
	}

	product, err := h.Catalog.GetProduct(r.Context(), productID)
	if err != nil {
		if errors.Is(err, models.ErrProductNotFound) {
			writeError(w, http.StatusNotFound, "Product not found")
			return checkoutRequest{}, false
		}
		logger.Error().Err(err).Str("product_id", productID).Msg("checkout product lookup failed")
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return checkoutRequest{}, false
	}

	return checkoutRequest{identity: id, product: product, purchaseType: purchaseType}, true
}

func (h *CheckoutHandler) returnURL(provider models.Provider) string {
	return fmt.Sprintf("%s/market/thanks?provider=%s", h.AppURL, provider)
}

func (h *CheckoutHandler) cancelURL() string {
	return h.AppURL + "/market/cancel"
}

// CreateStripe starts a Stripe Checkout session.
func (h *CheckoutHandler) CreateStripe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With().Str("component", "checkout").Str("provider", string(models.ProviderStripe)).Logger()

		req, ok := h.resolve(w, r, logger)
		if !ok {
			return
		}

		params := stripeClient.CheckoutParams{
			CustomerEmail: req.identity.Email,
			SuccessURL:    h.returnURL(models.ProviderStripe),
			CancelURL:     h.cancelURL(),
			Metadata: map[string]string{
				normalize.MetadataProductID: req.product.ID,
				normalize.MetadataUserID:    req.identity.UserID,
				normalize.MetadataType:      string(req.purchaseType),
			},
		}

		if req.purchaseType == models.PurchaseTypeSubscription {
			if req.product.Series == nil || req.product.Series.StripePriceID == nil || *req.product.Series.StripePriceID == "" {
				writeError(w, http.StatusBadRequest, "Stripe price ID not configured for this series")
				return
			}
			params.Mode = stripeClient.ModeSubscription
			params.PriceID = *req.product.Series.StripePriceID
		} else {
			params.Mode = stripeClient.ModePayment
			params.ProductName = req.product.Title
			params.UnitAmountCents = req.product.PriceCents
		}

		session, err := h.Stripe.CreateCheckoutSession(r.Context(), params)
		if err != nil {
			h.providerFailure(w, logger, req, err)
			return
		}

		logger.Info().Str("session_id", session.ID).Str("product_id", req.product.ID).Str("user_id", req.identity.UserID).Msg("checkout session created")
		writeJSON(w, http.StatusOK, map[string]string{"url": session.URL})
	}
}

// CreatePayPal starts a PayPal order, or a billing subscription when the
// series has a PayPal plan.
func (h *CheckoutHandler) CreatePayPal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With().Str("component", "checkout").Str("provider", string(models.ProviderPayPal)).Logger()

		req, ok := h.resolve(w, r, logger)
		if !ok {
			return
		}

		customID := normalize.CustomID{
			PurchaseType: req.purchaseType,
			ProductID:    req.product.ID,
			UserID:       req.identity.UserID,
		}.String()

		var (
			approveURL string
			err        error
		)
		switch {
		case req.purchaseType == models.PurchaseTypeSubscription && req.product.Series == nil:
			writeError(w, http.StatusBadRequest, "product is not a series")
			return
		case req.purchaseType == models.PurchaseTypeSubscription && req.product.Series.PayPalPlanID != nil && *req.product.Series.PayPalPlanID != "":
			approveURL, err = h.PayPal.CreateSubscription(r.Context(), paypal.SubscriptionParams{
				PlanID:          *req.product.Series.PayPalPlanID,
				CustomID:        customID,
				SubscriberEmail: req.identity.Email,
				ReturnURL:       h.returnURL(models.ProviderPayPal),
				CancelURL:       h.cancelURL(),
			})
		default:
			description := "Purchase: " + req.product.Title
			if req.purchaseType == models.PurchaseTypeSubscription {
				description = "Subscription: " + req.product.Title
			}
			approveURL, err = h.PayPal.CreateOrder(r.Context(), paypal.OrderParams{
				AmountCents: req.product.ExpectedPrice(req.purchaseType),
				Description: description,
				CustomID:    customID,
				ReturnURL:   h.returnURL(models.ProviderPayPal),
				CancelURL:   h.cancelURL(),
			})
		}
		if err != nil {
			h.providerFailure(w, logger, req, err)
			return
		}

		logger.Info().Str("product_id", req.product.ID).Str("user_id", req.identity.UserID).Msg("paypal checkout created")
		writeJSON(w, http.StatusOK, map[string]string{"url": approveURL})
	}
}

// CapturePayPal captures the order a buyer approved on PayPal. The return
// page calls it with the order id PayPal appended as `token`. Access is
// granted by the PAYMENT.CAPTURE.COMPLETED webhook, not by this call.
func (h *CheckoutHandler) CapturePayPal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With().Str("component", "checkout").Str("provider", string(models.ProviderPayPal)).Logger()

		id, ok := middleware.IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		orderID := strings.TrimSpace(r.URL.Query().Get("token"))
		if orderID == "" {
			writeError(w, http.StatusBadRequest, "Order token required")
			return
		}

		result, err := h.PayPal.CaptureOrder(r.Context(), orderID)
		if err != nil {
			var apiErr *paypal.APIError
			switch {
			case errors.Is(err, paypal.ErrNotConfigured):
				logger.Warn().Err(err).Msg("checkout provider not configured")
				writeError(w, http.StatusBadRequest, "payment provider not configured")
			case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity:
				logger.Warn().Err(err).Str("order_id", orderID).Str("user_id", id.UserID).Msg("paypal order not capturable")
				writeError(w, http.StatusConflict, "order cannot be captured")
			default:
				logger.Error().Err(err).Str("order_id", orderID).Msg("paypal capture failed")
				writeError(w, http.StatusBadGateway, "payment provider error")
			}
			return
		}

		logger.Info().Str("order_id", result.OrderID).Str("capture_id", result.CaptureID).Str("status", result.Status).Str("user_id", id.UserID).Msg("paypal order captured")
		writeJSON(w, http.StatusOK, map[string]string{"order_id": result.OrderID, "status": result.Status})
	}
}

func (h *CheckoutHandler) providerFailure(w http.ResponseWriter, logger zerolog.Logger, req checkoutRequest, err error) {
	if errors.Is(err, stripeClient.ErrNotConfigured) || errors.Is(err, paypal.ErrNotConfigured) {
		logger.Warn().Err(err).Msg("checkout provider not configured")
		writeError(w, http.StatusBadRequest, "payment provider not configured")
		return
	}
	logger.Error().Err(err).Str("product_id", req.product.ID).Msg("checkout provider call failed")
	writeError(w, http.StatusBadGateway, "payment provider error")
}
