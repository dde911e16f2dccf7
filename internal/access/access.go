// Package access answers whether a user currently holds a product.
package access

import (
	"context"
	"errors"
	"fmt"
)

// Store reports whether a purchase row in an access-granting status exists.
type Store interface {
	HasGrantingPurchase(ctx context.Context, userID, productID string) (bool, error)
}

// Resolver derives access from the purchase ledger on every call.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver.
func NewResolver(store Store) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("access: store is required")
	}
	return &Resolver{store: store}, nil
}

// HasAccess reports whether userID holds productID. Anonymous callers never
// do, and no lookup is made for them.
func (r *Resolver) HasAccess(ctx context.Context, userID, productID string) (bool, error) {
	if userID == "" || productID == "" {
		return false, nil
	}
	ok, err := r.store.HasGrantingPurchase(ctx, userID, productID)
	if err != nil {
		return false, fmt.Errorf("access: lookup %s/%s: %w", userID, productID, err)
	}
	return ok, nil
}
