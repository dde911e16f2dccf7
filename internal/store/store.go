package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/PortNumber53/marketplace-backend/internal/models"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// Store provides database-backed accessors for the purchase ledger.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

// InsertPurchase records a purchase unless one already exists for the same
// (provider, provider_reference) or (provider, payment_reference). It reports
// whether a row was written.
func (s *Store) InsertPurchase(ctx context.Context, p *models.Purchase) (bool, error) {
	query := `
INSERT INTO purchases (
	id, user_id, product_id, provider, provider_reference, payment_reference,
	purchase_type, amount_cents, status
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (provider, provider_reference) DO NOTHING
RETURNING created_at, updated_at
	`

	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}

	err := s.db.QueryRowContext(ctx, query,
		id,
		p.UserID,
		p.ProductID,
		string(p.Provider),
		p.ProviderReference,
		p.PaymentReference,
		string(p.PurchaseType),
		p.AmountCents,
		string(p.Status),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if isUniqueViolation(err) {
		// Same payment recorded under another reference.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: insert purchase: %w", err)
	}

	p.ID = id
	return true, nil
}

// TransitionStatus locks the purchase matching change and moves it to
// change.To when its current status is listed in change.AllowedFrom.
// The reference matches either provider_reference or payment_reference.
func (s *Store) TransitionStatus(ctx context.Context, change models.StatusChange) (models.TransitionResult, error) {
	var result models.TransitionResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("store: begin transition: %w", err)
	}
	defer tx.Rollback()

	query := `
SELECT id, status
FROM purchases
WHERE provider = $1
  AND (provider_reference = $2 OR payment_reference = $2)
  AND ($3 = '' OR purchase_type = $3)
ORDER BY (provider_reference = $2) DESC, created_at ASC
LIMIT 1
FOR UPDATE
	`

	var (
		id     string
		status string
	)
	err = tx.QueryRowContext(ctx, query, string(change.Provider), change.Reference, string(change.OnlyType)).Scan(&id, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("store: lock purchase: %w", err)
	}

	result.Found = true
	result.Previous = models.PurchaseStatus(status)

	allowed := false
	for _, from := range change.AllowedFrom {
		if result.Previous == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return result, nil
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE purchases
SET status = $1,
	updated_at = now()
WHERE id = $2
	`, string(change.To), id); err != nil {
		return result, fmt.Errorf("store: update purchase status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("store: commit transition: %w", err)
	}

	result.Applied = true
	return result, nil
}

// HasGrantingPurchase reports whether userID holds a purchase of productID in
// an access-granting status.
func (s *Store) HasGrantingPurchase(ctx context.Context, userID, productID string) (bool, error) {
	query := `
SELECT EXISTS (
	SELECT 1
	FROM purchases
	WHERE user_id = $1
	  AND product_id = $2
	  AND status = ANY($3)
)
	`

	statuses := make([]string, 0, len(models.GrantingStatuses))
	for _, st := range models.GrantingStatuses {
		statuses = append(statuses, string(st))
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, userID, productID, pq.Array(statuses)).Scan(&exists); err != nil {
		return false, fmt.Errorf("store: check access: %w", err)
	}
	return exists, nil
}

// ListPurchasesByUser returns every purchase owned by userID, newest first.
func (s *Store) ListPurchasesByUser(ctx context.Context, userID string) ([]models.Purchase, error) {
	query := `
SELECT
	id, user_id, product_id, provider, provider_reference, payment_reference,
	purchase_type, amount_cents, status, created_at, updated_at
FROM purchases
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT 200
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []models.Purchase
	for rows.Next() {
		var (
			p          models.Purchase
			paymentRef sql.NullString
		)
		if err := rows.Scan(
			&p.ID,
			&p.UserID,
			&p.ProductID,
			&p.Provider,
			&p.ProviderReference,
			&paymentRef,
			&p.PurchaseType,
			&p.AmountCents,
			&p.Status,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan purchase: %w", err)
		}
		p.PaymentReference = nullStringPtr(paymentRef)
		purchases = append(purchases, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate purchases: %w", err)
	}
	return purchases, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}
