// Package ledger applies normalized payment events to the purchase ledger.
//
// Inserts are idempotent on (provider, provider_reference); status updates
// never leave an absorbing status (canceled, refunded).
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/PortNumber53/marketplace-backend/internal/models"
)

var (
	// ErrCatalogLookupFailed means the product behind a completed purchase could
	// not be read. The delivery must be retried.
	ErrCatalogLookupFailed = errors.New("ledger: catalog lookup failed")
	// ErrStorageFailure means the ledger could not be read or written.
	ErrStorageFailure = errors.New("ledger: storage failure")
	// ErrInvalidEvent means the event is missing fields the ledger needs.
	ErrInvalidEvent = errors.New("ledger: invalid event")
)

// priceTolerance is the rounding slack, in minor units, allowed between the
// charged amount and the catalog price.
const priceTolerance = 1

// Outcome describes what applying an event did.
type Outcome int

const (
	// Recorded means a new purchase row was inserted.
	Recorded Outcome = iota + 1
	// AlreadyRecorded means the purchase existed; the delivery was a duplicate.
	AlreadyRecorded
	// Updated means an existing row changed status.
	Updated
	// Unchanged means the row already had the requested status.
	Unchanged
	// Discarded means the row is in a status the event may not move it from.
	Discarded
	// NoMatch means no row matched the event's reference.
	NoMatch
)

func (o Outcome) String() string {
	switch o {
	case Recorded:
		return "recorded"
	case AlreadyRecorded:
		return "already-recorded"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	case Discarded:
		return "discarded"
	case NoMatch:
		return "no-match"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// PurchaseStore persists purchase rows.
type PurchaseStore interface {
	// InsertPurchase inserts p unless its (provider, provider_reference) exists.
	// It reports whether a row was inserted.
	InsertPurchase(ctx context.Context, p *models.Purchase) (bool, error)
	// TransitionStatus moves the matching row to change.To when its current
	// status is one of change.AllowedFrom.
	TransitionStatus(ctx context.Context, change models.StatusChange) (models.TransitionResult, error)
}

// Catalog reads authoritative product data.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
}

// Ledger applies events against a PurchaseStore.
type Ledger struct {
	store   PurchaseStore
	catalog Catalog
}

// New constructs a Ledger.
func New(store PurchaseStore, catalog Catalog) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger: purchase store is required")
	}
	if catalog == nil {
		return nil, errors.New("ledger: catalog is required")
	}
	return &Ledger{store: store, catalog: catalog}, nil
}

// Apply records ev. Duplicate deliveries resolve to AlreadyRecorded or
// Unchanged, never to an error.
func (l *Ledger) Apply(ctx context.Context, ev *models.PurchaseEvent) (Outcome, error) {
	if ev == nil || ev.ProviderReference == "" || ev.Provider == "" {
		return 0, fmt.Errorf("%w: missing provider reference", ErrInvalidEvent)
	}

	switch ev.Kind {
	case models.EventPurchaseCompleted:
		return l.recordPurchase(ctx, ev)
	case models.EventSubscriptionRenewed:
		return l.transition(ctx, ev, models.StatusChange{
			OnlyType: models.PurchaseTypeSubscription,
			To:       models.PurchaseStatusActive,
		})
	case models.EventSubscriptionCanceled:
		return l.transition(ctx, ev, models.StatusChange{
			OnlyType: models.PurchaseTypeSubscription,
			To:       models.PurchaseStatusCanceled,
		})
	case models.EventRefunded:
		return l.transition(ctx, ev, models.StatusChange{
			To: models.PurchaseStatusRefunded,
		})
	default:
		return 0, fmt.Errorf("%w: unknown kind %s", ErrInvalidEvent, ev.Kind)
	}
}

func (l *Ledger) recordPurchase(ctx context.Context, ev *models.PurchaseEvent) (Outcome, error) {
	if ev.UserID == "" || ev.ProductID == "" {
		return 0, fmt.Errorf("%w: purchase %s has no user or product", ErrInvalidEvent, ev.ProviderReference)
	}

	product, err := l.catalog.GetProduct(ctx, ev.ProductID)
	if err != nil {
		return 0, fmt.Errorf("%w: product %s: %v", ErrCatalogLookupFailed, ev.ProductID, err)
	}
	if product == nil {
		return 0, fmt.Errorf("%w: product %s not found", ErrCatalogLookupFailed, ev.ProductID)
	}

	purchaseType := ev.PurchaseType
	if purchaseType == "" {
		purchaseType = models.PurchaseTypeOneOff
	}

	if purchaseType == models.PurchaseTypeOneOff {
		expected := product.ExpectedPrice(purchaseType)
		if diff := ev.AmountCents - expected; diff > priceTolerance || diff < -priceTolerance {
			log.Warn().
				Str("component", "ledger").
				Str("audit", "pricing_integrity").
				Str("provider", string(ev.Provider)).
				Str("reference", ev.ProviderReference).
				Str("product_id", ev.ProductID).
				Int64("expected_cents", expected).
				Int64("actual_cents", ev.AmountCents).
				Msg("charged amount differs from catalog price; honoring purchase")
		}
	}

	purchase := &models.Purchase{
		UserID:            ev.UserID,
		ProductID:         ev.ProductID,
		Provider:          ev.Provider,
		ProviderReference: ev.ProviderReference,
		PurchaseType:      purchaseType,
		AmountCents:       ev.AmountCents,
		Status:            models.InitialStatus(purchaseType),
	}
	if ev.PaymentReference != "" {
		ref := ev.PaymentReference
		purchase.PaymentReference = &ref
	}

	inserted, err := l.store.InsertPurchase(ctx, purchase)
	if err != nil {
		return 0, fmt.Errorf("%w: insert %s/%s: %v", ErrStorageFailure, ev.Provider, ev.ProviderReference, err)
	}
	if !inserted {
		return AlreadyRecorded, nil
	}
	return Recorded, nil
}

func (l *Ledger) transition(ctx context.Context, ev *models.PurchaseEvent, change models.StatusChange) (Outcome, error) {
	change.Provider = ev.Provider
	change.Reference = ev.ProviderReference
	change.AllowedFrom = models.TransitionSources(change.To)

	result, err := l.store.TransitionStatus(ctx, change)
	if err != nil {
		return 0, fmt.Errorf("%w: transition %s/%s to %s: %v", ErrStorageFailure, ev.Provider, ev.ProviderReference, change.To, err)
	}

	switch {
	case !result.Found:
		return NoMatch, nil
	case result.Applied:
		return Updated, nil
	case result.Previous == change.To:
		return Unchanged, nil
	default:
		log.Info().
			Str("component", "ledger").
			Str("reference", ev.ProviderReference).
			Str("status", string(result.Previous)).
			Str("requested", string(change.To)).
			Msg("status change discarded")
		return Discarded, nil
	}
}
