package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/PortNumber53/marketplace-backend/internal/middleware"
	"github.com/PortNumber53/marketplace-backend/internal/models"
)

// CatalogBrowser reads the published catalog.
type CatalogBrowser interface {
	ProductReader
	ListPublishedProducts(ctx context.Context) ([]models.Product, error)
	ListSeriesItems(ctx context.Context, seriesID string) ([]models.SeriesItem, error)
}

// AccessChecker answers entitlement questions.
type AccessChecker interface {
	HasAccess(ctx context.Context, userID, productID string) (bool, error)
}

// DownloadSigner produces short-lived links to product files.
type DownloadSigner interface {
	PresignDownload(ctx context.Context, key string) (string, error)
}

// PurchaseLister lists a buyer's purchases.
type PurchaseLister interface {
	ListPurchasesByUser(ctx context.Context, userID string) ([]models.Purchase, error)
}

// MarketplaceHandler serves the buyer-facing read endpoints.
type MarketplaceHandler struct {
	Catalog   CatalogBrowser
	Access    AccessChecker
	Files     DownloadSigner
	Purchases PurchaseLister
}

// NewMarketplaceHandler creates a MarketplaceHandler. files may be nil when
// no download bucket is configured.
func NewMarketplaceHandler(catalog CatalogBrowser, access AccessChecker, files DownloadSigner, purchases PurchaseLister) *MarketplaceHandler {
	return &MarketplaceHandler{
		Catalog:   catalog,
		Access:    access,
		Files:     files,
		Purchases: purchases,
	}
}

// ListProducts returns the published catalog.
func (h *MarketplaceHandler) ListProducts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		products, err := h.Catalog.ListPublishedProducts(r.Context())
		if err != nil {
			log.Error().Err(err).Str("component", "catalog").Msg("list products failed")
			writeError(w, http.StatusInternalServerError, "failed to list products")
			return
		}
		if products == nil {
			products = []models.Product{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	}
}

type productPage struct {
	Product   *models.Product     `json:"product"`
	HasAccess bool                `json:"has_access"`
	Items     []models.SeriesItem `json:"items"`
}

// GetProduct returns a published product by slug. Series items are only
// included for callers holding the product.
func (h *MarketplaceHandler) GetProduct() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With().Str("component", "catalog").Logger()
		slug := chi.URLParam(r, "slug")

		product, err := h.Catalog.GetProductBySlug(r.Context(), slug)
		if err != nil {
			if errors.Is(err, models.ErrProductNotFound) {
				writeError(w, http.StatusNotFound, "Product not found")
				return
			}
			logger.Error().Err(err).Str("slug", slug).Msg("product lookup failed")
			writeError(w, http.StatusInternalServerError, "failed to load product")
			return
		}
		if !product.IsPublished {
			writeError(w, http.StatusNotFound, "Product not found")
			return
		}

		id, _ := middleware.IdentityFromContext(r.Context())
		ok, err := h.Access.HasAccess(r.Context(), id.UserID, product.ID)
		if err != nil {
			logger.Error().Err(err).Str("product_id", product.ID).Msg("product access check failed")
			writeError(w, http.StatusInternalServerError, "failed to check access")
			return
		}

		page := productPage{Product: product, HasAccess: ok, Items: []models.SeriesItem{}}
		if ok && product.IsSeries && product.Series != nil {
			items, err := h.Catalog.ListSeriesItems(r.Context(), product.Series.ID)
			if err != nil {
				logger.Error().Err(err).Str("series_id", product.Series.ID).Msg("list series items failed")
				writeError(w, http.StatusInternalServerError, "failed to load series items")
				return
			}
			if items != nil {
				page.Items = items
			}
		}
		writeJSON(w, http.StatusOK, page)
	}
}

// CheckAccess reports whether the caller holds the product in the URL.
func (h *MarketplaceHandler) CheckAccess() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := middleware.IdentityFromContext(r.Context())
		productID := chi.URLParam(r, "productID")

		ok, err := h.Access.HasAccess(r.Context(), id.UserID, productID)
		if err != nil {
			log.Error().Err(err).Str("component", "access").Str("product_id", productID).Msg("access check failed")
			writeError(w, http.StatusInternalServerError, "failed to check access")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"has_access": ok})
	}
}

// Download redirects an entitled caller to the product's file.
func (h *MarketplaceHandler) Download() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With().Str("component", "download").Logger()
		slug := chi.URLParam(r, "slug")

		product, err := h.Catalog.GetProductBySlug(r.Context(), slug)
		if err != nil {
			if errors.Is(err, models.ErrProductNotFound) {
				writeError(w, http.StatusNotFound, "Product not found")
				return
			}
			logger.Error().Err(err).Str("slug", slug).Msg("download product lookup failed")
			writeError(w, http.StatusInternalServerError, "failed to load product")
			return
		}
		if product.FilePath == nil || *product.FilePath == "" {
			writeError(w, http.StatusNotFound, "No file for this product")
			return
		}

		id, _ := middleware.IdentityFromContext(r.Context())
		ok, err := h.Access.HasAccess(r.Context(), id.UserID, product.ID)
		if err != nil {
			logger.Error().Err(err).Str("product_id", product.ID).Msg("download access check failed")
			writeError(w, http.StatusInternalServerError, "failed to check access")
			return
		}
		if !ok {
			writeError(w, http.StatusForbidden, "Access denied")
			return
		}

		if h.Files == nil {
			logger.Warn().Msg("download requested but no bucket is configured")
			writeError(w, http.StatusServiceUnavailable, "downloads not configured")
			return
		}
		url, err := h.Files.PresignDownload(r.Context(), *product.FilePath)
		if err != nil {
			logger.Error().Err(err).Str("product_id", product.ID).Msg("presign failed")
			writeError(w, http.StatusInternalServerError, "failed to prepare download")
			return
		}

		logger.Info().Str("product_id", product.ID).Str("user_id", id.UserID).Msg("download issued")
		http.Redirect(w, r, url, http.StatusFound)
	}
}

// ListPurchases returns the caller's purchase history.
func (h *MarketplaceHandler) ListPurchases() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		purchases, err := h.Purchases.ListPurchasesByUser(r.Context(), id.UserID)
		if err != nil {
			log.Error().Err(err).Str("component", "purchases").Str("user_id", id.UserID).Msg("list purchases failed")
			writeError(w, http.StatusInternalServerError, "failed to list purchases")
			return
		}
		if purchases == nil {
			purchases = []models.Purchase{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"purchases": purchases})
	}
}
