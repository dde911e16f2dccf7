package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/PortNumber53/marketplace-backend/internal/models"
)

// ErrProductNotFound is returned when a product is not found
var ErrProductNotFound = models.ErrProductNotFound

// CatalogStore provides database operations for products and series
type CatalogStore struct {
	db *sql.DB
}

// NewCatalogStore creates a new CatalogStore instance
func NewCatalogStore(db *sql.DB) (*CatalogStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &CatalogStore{db: db}, nil
}

const productColumns = `
	p.id, p.slug, p.title, p.description, p.snippet, p.type, p.price_cents,
	p.is_series, p.file_path, p.is_published, p.created_at, p.updated_at,
	s.id, s.interval, s.price_cents, s.stripe_price_id, s.paypal_plan_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var (
		p             models.Product
		filePath      sql.NullString
		seriesID      sql.NullString
		interval      sql.NullString
		seriesPrice   sql.NullInt64
		stripePriceID sql.NullString
		paypalPlanID  sql.NullString
	)
	if err := row.Scan(
		&p.ID, &p.Slug, &p.Title, &p.Description, &p.Snippet, &p.Type, &p.PriceCents,
		&p.IsSeries, &filePath, &p.IsPublished, &p.CreatedAt, &p.UpdatedAt,
		&seriesID, &interval, &seriesPrice, &stripePriceID, &paypalPlanID,
	); err != nil {
		return nil, err
	}

	p.FilePath = nullStringPtr(filePath)
	if seriesID.Valid {
		p.Series = &models.Series{
			ID:            seriesID.String,
			ProductID:     p.ID,
			Interval:      interval.String,
			PriceCents:    seriesPrice.Int64,
			StripePriceID: nullStringPtr(stripePriceID),
			PayPalPlanID:  nullStringPtr(paypalPlanID),
		}
	}
	return &p, nil
}

// GetProduct returns a product with its series pricing, if any
func (s *CatalogStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	query := `SELECT` + productColumns + `
		FROM products p
		LEFT JOIN series s ON s.product_id = p.id
		WHERE p.id = $1
	`

	p, err := scanProduct(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("store: get product: %w", err)
	}
	return p, nil
}

// GetProductBySlug returns a product by its slug
func (s *CatalogStore) GetProductBySlug(ctx context.Context, slug string) (*models.Product, error) {
	query := `SELECT` + productColumns + `
		FROM products p
		LEFT JOIN series s ON s.product_id = p.id
		WHERE p.slug = $1
	`

	p, err := scanProduct(s.db.QueryRowContext(ctx, query, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("store: get product by slug: %w", err)
	}
	return p, nil
}

// ListPublishedProducts returns every published product, newest first
func (s *CatalogStore) ListPublishedProducts(ctx context.Context) ([]models.Product, error) {
	query := `SELECT` + productColumns + `
		FROM products p
		LEFT JOIN series s ON s.product_id = p.id
		WHERE p.is_published = TRUE
		ORDER BY p.created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan product: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list products: %w", err)
	}
	return products, nil
}

// ListSeriesItems returns the published items of a series in order
func (s *CatalogStore) ListSeriesItems(ctx context.Context, seriesID string) ([]models.SeriesItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, series_id, title, content, order_index, created_at
		FROM series_items
		WHERE series_id = $1 AND is_published = TRUE
		ORDER BY order_index ASC
	`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("store: list series items: %w", err)
	}
	defer rows.Close()

	var items []models.SeriesItem
	for rows.Next() {
		var item models.SeriesItem
		if err := rows.Scan(&item.ID, &item.SeriesID, &item.Title, &item.Content, &item.OrderIndex, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan series item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list series items: %w", err)
	}
	return items, nil
}

// UpsertIngestedProduct writes an ingested product, its series and series
// items in one transaction and returns the product id.
func (s *CatalogStore) UpsertIngestedProduct(ctx context.Context, payload models.IngestPayload) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: begin ingest: %w", err)
	}
	defer tx.Rollback()

	publish := true
	if payload.Publish != nil {
		publish = *payload.Publish
	}

	var productID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO products (slug, title, description, snippet, type, price_cents, is_series, is_published)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			snippet = EXCLUDED.snippet,
			type = EXCLUDED.type,
			price_cents = EXCLUDED.price_cents,
			is_series = EXCLUDED.is_series,
			is_published = EXCLUDED.is_published,
			updated_at = now()
		RETURNING id
	`,
		payload.Slug,
		payload.Title,
		payload.Description,
		payload.Snippet,
		payload.Type,
		payload.PriceCents,
		payload.IsSeries,
		publish,
	).Scan(&productID)
	if err != nil {
		return "", fmt.Errorf("store: upsert product: %w", err)
	}

	if payload.IsSeries && payload.Series != nil {
		series := payload.Series

		var seriesID string
		err = tx.QueryRowContext(ctx, `
			INSERT INTO series (product_id, interval, price_cents, stripe_price_id, paypal_plan_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (product_id) DO UPDATE SET
				interval = EXCLUDED.interval,
				price_cents = EXCLUDED.price_cents,
				stripe_price_id = EXCLUDED.stripe_price_id,
				paypal_plan_id = EXCLUDED.paypal_plan_id,
				updated_at = now()
			RETURNING id
		`,
			productID,
			series.Interval,
			series.PriceCents,
			series.StripePriceID,
			series.PayPalPlanID,
		).Scan(&seriesID)
		if err != nil {
			return "", fmt.Errorf("store: upsert series: %w", err)
		}

		for _, item := range series.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO series_items (series_id, title, content, order_index, is_published)
				VALUES ($1, $2, $3, $4, TRUE)
				ON CONFLICT (series_id, order_index) DO UPDATE SET
					title = EXCLUDED.title,
					content = EXCLUDED.content,
					updated_at = now()
			`, seriesID, item.Title, item.Content, item.OrderIndex); err != nil {
				return "", fmt.Errorf("store: upsert series item %d: %w", item.OrderIndex, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: commit ingest: %w", err)
	}
	return productID, nil
}
