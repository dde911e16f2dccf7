package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/marketplace-backend/internal/access"
	"github.com/PortNumber53/marketplace-backend/internal/middleware"
	"github.com/PortNumber53/marketplace-backend/internal/models"
	"github.com/PortNumber53/marketplace-backend/internal/testutil"
)

type fakeSigner struct {
	key string
	err error
}

func (f *fakeSigner) PresignDownload(_ context.Context, key string) (string, error) {
	f.key = key
	return "https://files.example/" + key + "?sig=abc", f.err
}

func newMarketplaceRouter(t *testing.T, files DownloadSigner) (http.Handler, *testutil.MemoryStore) {
	t.Helper()
	store := testutil.NewMemoryStore(
		&models.Product{ID: "p1", Slug: "guide", PriceCents: 1900, FilePath: strPtr("ebooks/guide.pdf")},
		&models.Product{ID: "p4", Slug: "no-file", PriceCents: 100},
	)
	resolver, err := access.NewResolver(store)
	require.NoError(t, err)

	h := NewMarketplaceHandler(store, resolver, files, store)
	r := chi.NewRouter()
	r.Get("/access/{productID}", h.CheckAccess())
	r.Get("/download/{slug}", h.Download())
	r.Get("/purchases", h.ListPurchases())
	return r, store
}

func grant(t *testing.T, store *testutil.MemoryStore, userID, productID string) {
	t.Helper()
	_, err := store.InsertPurchase(context.Background(), &models.Purchase{
		UserID:            userID,
		ProductID:         productID,
		Provider:          models.ProviderStripe,
		ProviderReference: "cs_" + userID + productID,
		PurchaseType:      models.PurchaseTypeOneOff,
		AmountCents:       1900,
		Status:            models.PurchaseStatusPaid,
	})
	require.NoError(t, err)
}

func getAs(router http.Handler, userID, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if userID != "" {
		req = req.WithContext(middleware.WithIdentity(req.Context(), middleware.Identity{UserID: userID}))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCheckAccess(t *testing.T) {
	router, store := newMarketplaceRouter(t, &fakeSigner{})
	grant(t, store, "u1", "p1")

	rec := getAs(router, "u1", "/access/p1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["has_access"])

	rec = getAs(router, "", "/access/p1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["has_access"])

	store.Fail = errors.New("db down")
	rec = getAs(router, "u1", "/access/p1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDownloadRedirectsEntitledBuyer(t *testing.T) {
	signer := &fakeSigner{}
	router, store := newMarketplaceRouter(t, signer)
	grant(t, store, "u1", "p1")

	rec := getAs(router, "u1", "/download/guide")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://files.example/ebooks/guide.pdf?sig=abc", rec.Header().Get("Location"))
	assert.Equal(t, "ebooks/guide.pdf", signer.key)
}

func TestDownloadFailures(t *testing.T) {
	router, store := newMarketplaceRouter(t, &fakeSigner{})
	grant(t, store, "u1", "p4")

	assert.Equal(t, http.StatusForbidden, getAs(router, "u2", "/download/guide").Code)
	assert.Equal(t, http.StatusForbidden, getAs(router, "", "/download/guide").Code)
	assert.Equal(t, http.StatusNotFound, getAs(router, "u1", "/download/missing").Code)
	assert.Equal(t, http.StatusNotFound, getAs(router, "u1", "/download/no-file").Code)
}

func TestDownloadWithoutBucket(t *testing.T) {
	router, store := newMarketplaceRouter(t, nil)
	grant(t, store, "u1", "p1")
	assert.Equal(t, http.StatusServiceUnavailable, getAs(router, "u1", "/download/guide").Code)
}

func TestListPurchases(t *testing.T) {
	router, store := newMarketplaceRouter(t, &fakeSigner{})
	grant(t, store, "u1", "p1")
	grant(t, store, "u2", "p1")

	assert.Equal(t, http.StatusUnauthorized, getAs(router, "", "/purchases").Code)

	rec := getAs(router, "u1", "/purchases")
	require.Equal(t, http.StatusOK, rec.Code)
	purchases, ok := decodeBody(t, rec)["purchases"].([]any)
	require.True(t, ok)
	assert.Len(t, purchases, 1)

	rec = getAs(router, "u3", "/purchases")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"purchases":[]}`+"\n", rec.Body.String())
}

func newCatalogRouter(t *testing.T) (http.Handler, *testutil.MemoryStore) {
	t.Helper()
	store := testutil.NewMemoryStore(
		&models.Product{ID: "p1", Slug: "guide", Title: "Go Guide", PriceCents: 1900, IsPublished: true},
		&models.Product{ID: "p2", Slug: "letters", Title: "Letters", IsSeries: true, IsPublished: true,
			Series: &models.Series{ID: "s2", ProductID: "p2", PriceCents: 900}},
		&models.Product{ID: "p9", Slug: "draft", Title: "Draft"},
	)
	store.AddSeriesItems("s2",
		models.SeriesItem{ID: "i2", Title: "Issue 2", OrderIndex: 1},
		models.SeriesItem{ID: "i1", Title: "Issue 1", OrderIndex: 0},
	)
	resolver, err := access.NewResolver(store)
	require.NoError(t, err)

	h := NewMarketplaceHandler(store, resolver, nil, store)
	r := chi.NewRouter()
	r.Get("/products", h.ListProducts())
	r.Get("/products/{slug}", h.GetProduct())
	return r, store
}

func TestListProductsSkipsDrafts(t *testing.T) {
	router, _ := newCatalogRouter(t)

	rec := getAs(router, "", "/products")
	require.Equal(t, http.StatusOK, rec.Code)

	products := decodeBody(t, rec)["products"].([]any)
	require.Len(t, products, 2)
	assert.Equal(t, "guide", products[0].(map[string]any)["slug"])
	assert.Equal(t, "letters", products[1].(map[string]any)["slug"])
}

func TestProductPageGatesSeriesItems(t *testing.T) {
	router, store := newCatalogRouter(t)
	grant(t, store, "u1", "p2")

	rec := getAs(router, "u2", "/products/letters")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["has_access"])
	assert.Empty(t, body["items"])

	rec = getAs(router, "", "/products/letters")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["items"])

	rec = getAs(router, "u1", "/products/letters")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, true, body["has_access"])
	items := body["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "Issue 1", items[0].(map[string]any)["title"])
	assert.Equal(t, "Issue 2", items[1].(map[string]any)["title"])
}

func TestProductPageNotFound(t *testing.T) {
	router, _ := newCatalogRouter(t)

	assert.Equal(t, http.StatusNotFound, getAs(router, "u1", "/products/missing").Code)
	assert.Equal(t, http.StatusNotFound, getAs(router, "u1", "/products/draft").Code)
}

func TestProductPageCatalogFailure(t *testing.T) {
	router, store := newCatalogRouter(t)
	store.CatalogFail = errors.New("db down")

	assert.Equal(t, http.StatusInternalServerError, getAs(router, "u1", "/products/guide").Code)
	assert.Equal(t, http.StatusInternalServerError, getAs(router, "", "/products").Code)
}
