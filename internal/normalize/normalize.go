// Package normalize maps provider webhook payloads onto models.PurchaseEvent.
//
// Normalizers are pure: they never touch storage and never fail a delivery
// for an event type the marketplace does not act on. Those come back as a
// *SkipError so the dispatcher can acknowledge them.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/PortNumber53/marketplace-backend/internal/models"
)

// Func normalizes one verified webhook body.
type Func func(body []byte) (*models.PurchaseEvent, error)

// SkipReason explains why an event produced no ledger work.
type SkipReason int

const (
	// SkipUnhandled covers event types the ledger does not act on.
	SkipUnhandled SkipReason = iota + 1
	// SkipMalformed covers handled event types with unusable correlation data.
	SkipMalformed
	// SkipNotPaid covers completed checkouts whose payment has not settled.
	SkipNotPaid
)

func (r SkipReason) String() string {
	switch r {
	case SkipUnhandled:
		return "unhandled"
	case SkipMalformed:
		return "malformed"
	case SkipNotPaid:
		return "not-paid"
	default:
		return fmt.Sprintf("SkipReason(%d)", int(r))
	}
}

// SkipError is returned instead of an event when a delivery should be
// acknowledged without touching the ledger.
type SkipError struct {
	Reason    SkipReason
	EventType string
	Detail    string
}

func (e *SkipError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("normalize: skip %s event %q", e.Reason, e.EventType)
	}
	return fmt.Sprintf("normalize: skip %s event %q: %s", e.Reason, e.EventType, e.Detail)
}

// AsSkip unwraps err into a *SkipError when it is one.
func AsSkip(err error) (*SkipError, bool) {
	var skip *SkipError
	if errors.As(err, &skip) {
		return skip, true
	}
	return nil, false
}

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

var errMissingAmount = errors.New("normalize: missing amount")

func unhandled(eventType string) error {
	return &SkipError{Reason: SkipUnhandled, EventType: eventType}
}

func malformed(eventType, format string, args ...any) error {
	return &SkipError{Reason: SkipMalformed, EventType: eventType, Detail: fmt.Sprintf(format, args...)}
}

// MinorUnits converts a decimal major-unit amount such as "19.00" into integer
// minor units, rounding half away from zero.
func MinorUnits(amount string) (int64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, errors.New("normalize: empty amount")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("normalize: parse amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("normalize: negative amount %q", amount)
	}
	minor := d.Shift(2).Round(0)
	if !minor.IsInteger() || minor.GreaterThan(maxMinorUnits) {
		return 0, fmt.Errorf("normalize: amount %q out of range", amount)
	}
	return minor.IntPart(), nil
}

// CustomID is the correlation triple carried in a provider's free-form
// custom identifier as "type:productId:userId".
type CustomID struct {
	PurchaseType models.PurchaseType
	ProductID    string
	UserID       string
}

// String encodes the triple in its wire form.
func (c CustomID) String() string {
	return string(c.PurchaseType) + ":" + c.ProductID + ":" + c.UserID
}

// ParseCustomID decodes "type:productId:userId". Every field must be present
// and the type must be a known purchase type.
func ParseCustomID(raw string) (CustomID, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return CustomID{}, fmt.Errorf("custom id %q has %d fields, want 3", raw, len(parts))
	}
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
		if parts[i] == "" {
			return CustomID{}, fmt.Errorf("custom id %q has an empty field", raw)
		}
	}
	purchaseType, ok := models.ParsePurchaseType(parts[0])
	if !ok {
		return CustomID{}, fmt.Errorf("custom id %q has unknown purchase type %q", raw, parts[0])
	}
	return CustomID{PurchaseType: purchaseType, ProductID: parts[1], UserID: parts[2]}, nil
}
