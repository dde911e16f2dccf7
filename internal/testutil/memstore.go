// Package testutil provides in-memory stand-ins for the Postgres store.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PortNumber53/marketplace-backend/internal/models"
)

// MemoryStore keeps purchases and products in memory with the same
// uniqueness rules as the purchases table.
type MemoryStore struct {
	mu        sync.Mutex
	purchases []*models.Purchase
	products  map[string]*models.Product
	items     map[string][]models.SeriesItem

	// Fail, when set, is returned from every purchase operation.
	Fail error
	// CatalogFail, when set, is returned from every catalog lookup.
	CatalogFail error
}

// NewMemoryStore returns a store seeded with products.
func NewMemoryStore(products ...*models.Product) *MemoryStore {
	m := &MemoryStore{
		products: make(map[string]*models.Product),
		items:    make(map[string][]models.SeriesItem),
	}
	for _, p := range products {
		m.AddProduct(p)
	}
	return m
}

// AddProduct stores or replaces a product.
func (m *MemoryStore) AddProduct(p *models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

// GetProduct implements ledger.Catalog.
func (m *MemoryStore) GetProduct(_ context.Context, id string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CatalogFail != nil {
		return nil, m.CatalogFail
	}
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrProductNotFound, id)
	}
	return p, nil
}

// GetProductBySlug returns the product with the given slug.
func (m *MemoryStore) GetProductBySlug(_ context.Context, slug string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CatalogFail != nil {
		return nil, m.CatalogFail
	}
	for _, p := range m.products {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: slug %s", models.ErrProductNotFound, slug)
}

// AddSeriesItems appends published items to a series.
func (m *MemoryStore) AddSeriesItems(seriesID string, items ...models.SeriesItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		item.SeriesID = seriesID
		m.items[seriesID] = append(m.items[seriesID], item)
	}
}

// ListPublishedProducts returns published products ordered by slug.
func (m *MemoryStore) ListPublishedProducts(_ context.Context) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CatalogFail != nil {
		return nil, m.CatalogFail
	}
	var out []models.Product
	for _, p := range m.products {
		if p.IsPublished {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// ListSeriesItems returns a series' items by order index.
func (m *MemoryStore) ListSeriesItems(_ context.Context, seriesID string) ([]models.SeriesItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CatalogFail != nil {
		return nil, m.CatalogFail
	}
	out := append([]models.SeriesItem(nil), m.items[seriesID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

// InsertPurchase implements ledger.PurchaseStore.
func (m *MemoryStore) InsertPurchase(_ context.Context, p *models.Purchase) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return false, m.Fail
	}
	for _, existing := range m.purchases {
		if existing.Provider != p.Provider {
			continue
		}
		if existing.ProviderReference == p.ProviderReference {
			return false, nil
		}
		if p.PaymentReference != nil && existing.PaymentReference != nil && *existing.PaymentReference == *p.PaymentReference {
			return false, nil
		}
	}

	row := *p
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	row.CreatedAt, row.UpdatedAt = now, now
	m.purchases = append(m.purchases, &row)
	p.ID = row.ID
	return true, nil
}

// TransitionStatus implements ledger.PurchaseStore.
func (m *MemoryStore) TransitionStatus(_ context.Context, change models.StatusChange) (models.TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return models.TransitionResult{}, m.Fail
	}

	for _, row := range m.purchases {
		if row.Provider != change.Provider {
			continue
		}
		if row.ProviderReference != change.Reference && (row.PaymentReference == nil || *row.PaymentReference != change.Reference) {
			continue
		}
		if change.OnlyType != "" && row.PurchaseType != change.OnlyType {
			continue
		}

		result := models.TransitionResult{Found: true, Previous: row.Status}
		for _, from := range change.AllowedFrom {
			if row.Status == from {
				row.Status = change.To
				row.UpdatedAt = time.Now().UTC()
				result.Applied = true
				break
			}
		}
		return result, nil
	}
	return models.TransitionResult{}, nil
}

// HasGrantingPurchase implements access.Store.
func (m *MemoryStore) HasGrantingPurchase(_ context.Context, userID, productID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return false, m.Fail
	}
	for _, row := range m.purchases {
		if row.UserID == userID && row.ProductID == productID && row.Status.GrantsAccess() {
			return true, nil
		}
	}
	return false, nil
}

// Purchases returns a snapshot of every stored row.
func (m *MemoryStore) Purchases() []models.Purchase {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Purchase, 0, len(m.purchases))
	for _, row := range m.purchases {
		out = append(out, *row)
	}
	return out
}

// Purchase returns the row for (provider, reference).
func (m *MemoryStore) Purchase(provider models.Provider, reference string) (models.Purchase, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.purchases {
		if row.Provider == provider && row.ProviderReference == reference {
			return *row, true
		}
	}
	return models.Purchase{}, false
}

// ListPurchasesByUser returns userID's rows, newest first.
func (m *MemoryStore) ListPurchasesByUser(_ context.Context, userID string) ([]models.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	var out []models.Purchase
	for i := len(m.purchases) - 1; i >= 0; i-- {
		if m.purchases[i].UserID == userID {
			out = append(out, *m.purchases[i])
		}
	}
	return out, nil
}
