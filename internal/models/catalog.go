package models

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrProductNotFound is returned by catalog lookups for unknown products.
var ErrProductNotFound = errors.New("product not found")

var validate = validator.New()

// Product is a marketplace catalog entry. It is owned by content ingestion and
// read by the ledger for authoritative pricing.
type Product struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Snippet     string    `json:"snippet"`
	Type        string    `json:"type"`
	PriceCents  int64     `json:"price_cents"`
	IsSeries    bool      `json:"is_series"`
	FilePath    *string   `json:"file_path,omitempty"`
	IsPublished bool      `json:"is_published"`
	Series      *Series   `json:"series,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Series holds recurring pricing for a product sold as a subscription.
type Series struct {
	ID            string  `json:"id"`
	ProductID     string  `json:"product_id"`
	Interval      string  `json:"interval"`
	PriceCents    int64   `json:"price_cents"`
	StripePriceID *string `json:"stripe_price_id,omitempty"`
	PayPalPlanID  *string `json:"paypal_plan_id,omitempty"`
}

// SeriesItem is one published installment of a series.
type SeriesItem struct {
	ID         string    `json:"id"`
	SeriesID   string    `json:"series_id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	OrderIndex int       `json:"order_index"`
	CreatedAt  time.Time `json:"created_at"`
}

// ExpectedPrice returns the authoritative price for a purchase of the given type.
func (p *Product) ExpectedPrice(t PurchaseType) int64 {
	if t == PurchaseTypeSubscription && p.Series != nil {
		return p.Series.PriceCents
	}
	return p.PriceCents
}

// IngestPayload is the body accepted by the content ingestion endpoint.
type IngestPayload struct {
	Slug        string        `json:"slug" validate:"required,max=200"`
	Title       string        `json:"title" validate:"required,max=300"`
	Description string        `json:"description"`
	Snippet     string        `json:"snippet"`
	Type        string        `json:"type" validate:"required,oneof=ebook newsletter template"`
	PriceCents  int64         `json:"price_cents" validate:"gte=0"`
	IsSeries    bool          `json:"is_series"`
	Series      *IngestSeries `json:"series"`
	Publish     *bool         `json:"publish"`
}

// IngestSeries carries the optional recurring pricing of an ingested product.
type IngestSeries struct {
	Interval      string             `json:"interval" validate:"required,oneof=month year"`
	PriceCents    int64              `json:"price_cents" validate:"gte=0"`
	StripePriceID *string            `json:"stripe_price_id"`
	PayPalPlanID  *string            `json:"paypal_plan_id"`
	Items         []IngestSeriesItem `json:"items" validate:"dive"`
}

// IngestSeriesItem is one published installment of a series.
type IngestSeriesItem struct {
	Title      string `json:"title" validate:"required"`
	Content    string `json:"content"`
	OrderIndex int    `json:"order_index" validate:"gte=0"`
}

// Validate checks the payload's field constraints.
func (p *IngestPayload) Validate() error {
	return validate.Struct(p)
}
