package ledger

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/marketplace-backend/internal/models"
	"github.com/PortNumber53/marketplace-backend/internal/testutil"
)

func newTestLedger(t *testing.T) (*Ledger, *testutil.MemoryStore) {
	t.Helper()
	store := testutil.NewMemoryStore(
		&models.Product{ID: "p1", Slug: "guide", PriceCents: 1900},
		&models.Product{ID: "p2", Slug: "letters", PriceCents: 0, IsSeries: true,
			Series: &models.Series{ID: "s2", ProductID: "p2", Interval: "month", PriceCents: 900}},
	)
	l, err := New(store, store)
	require.NoError(t, err)
	return l, store
}

func completed(provider models.Provider, ref, user, product string, pt models.PurchaseType, amount int64) *models.PurchaseEvent {
	return &models.PurchaseEvent{
		Kind:              models.EventPurchaseCompleted,
		Provider:          provider,
		ProviderReference: ref,
		UserID:            user,
		ProductID:         product,
		PurchaseType:      pt,
		AmountCents:       amount,
	}
}

func lifecycle(kind models.EventKind, provider models.Provider, ref string) *models.PurchaseEvent {
	return &models.PurchaseEvent{Kind: kind, Provider: provider, ProviderReference: ref}
}

func TestNewRequiresDependencies(t *testing.T) {
	store := testutil.NewMemoryStore()
	_, err := New(nil, store)
	assert.Error(t, err)
	_, err = New(store, nil)
	assert.Error(t, err)
}

func TestApplyCompletedIsIdempotent(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	ev := completed(models.ProviderStripe, "session_1", "u1", "p1", models.PurchaseTypeOneOff, 1900)

	outcome, err := l.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, Recorded, outcome)

	outcome, err = l.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, AlreadyRecorded, outcome)

	rows := store.Purchases()
	require.Len(t, rows, 1)
	assert.Equal(t, models.PurchaseStatusPaid, rows[0].Status)
	assert.Equal(t, int64(1900), rows[0].AmountCents)
}

func TestApplyConcurrentDuplicatesRecordOnce(t *testing.T) {
	l, store := newTestLedger(t)
	ev := completed(models.ProviderPayPal, "CAP-1", "u1", "p1", models.PurchaseTypeOneOff, 1900)

	const deliveries = 20
	outcomes := make([]Outcome, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := l.Apply(context.Background(), ev)
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	recorded := 0
	for _, o := range outcomes {
		if o == Recorded {
			recorded++
		} else {
			assert.Equal(t, AlreadyRecorded, o)
		}
	}
	assert.Equal(t, 1, recorded)
	assert.Len(t, store.Purchases(), 1)
}

func TestApplySubscriptionStartsActive(t *testing.T) {
	l, store := newTestLedger(t)
	outcome, err := l.Apply(context.Background(), completed(models.ProviderPayPal, "I-SUB1", "u2", "p2", models.PurchaseTypeSubscription, 0))
	require.NoError(t, err)
	assert.Equal(t, Recorded, outcome)

	row, ok := store.Purchase(models.ProviderPayPal, "I-SUB1")
	require.True(t, ok)
	assert.Equal(t, models.PurchaseStatusActive, row.Status)
	assert.Equal(t, models.PurchaseTypeSubscription, row.PurchaseType)
}

func TestApplyRefundIsAbsorbing(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	ev := completed(models.ProviderStripe, "session_1", "u1", "p1", models.PurchaseTypeOneOff, 1900)

	_, err := l.Apply(ctx, ev)
	require.NoError(t, err)

	outcome, err := l.Apply(ctx, lifecycle(models.EventRefunded, models.ProviderStripe, "session_1"))
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)

	// A late redelivery of the original purchase must not resurrect it.
	outcome, err = l.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, AlreadyRecorded, outcome)

	outcome, err = l.Apply(ctx, lifecycle(models.EventRefunded, models.ProviderStripe, "session_1"))
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)

	row, _ := store.Purchase(models.ProviderStripe, "session_1")
	assert.Equal(t, models.PurchaseStatusRefunded, row.Status)
}

func TestApplyRefundMatchesPaymentReference(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	ev := completed(models.ProviderStripe, "session_1", "u1", "p1", models.PurchaseTypeOneOff, 1900)
	ev.PaymentReference = "pi_1"

	_, err := l.Apply(ctx, ev)
	require.NoError(t, err)

	outcome, err := l.Apply(ctx, &models.PurchaseEvent{
		Kind: models.EventRefunded, Provider: models.ProviderStripe,
		ProviderReference: "pi_1", PaymentReference: "pi_1",
	})
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)

	row, _ := store.Purchase(models.ProviderStripe, "session_1")
	assert.Equal(t, models.PurchaseStatusRefunded, row.Status)
}

func TestApplySubscriptionLifecycle(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Apply(ctx, completed(models.ProviderStripe, "sub_9", "u2", "p2", models.PurchaseTypeSubscription, 900))
	require.NoError(t, err)

	outcome, err := l.Apply(ctx, lifecycle(models.EventSubscriptionRenewed, models.ProviderStripe, "sub_9"))
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)

	outcome, err = l.Apply(ctx, lifecycle(models.EventSubscriptionCanceled, models.ProviderStripe, "sub_9"))
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)

	// A renewal arriving after cancellation is stale.
	outcome, err = l.Apply(ctx, lifecycle(models.EventSubscriptionRenewed, models.ProviderStripe, "sub_9"))
	require.NoError(t, err)
	assert.Equal(t, Discarded, outcome)

	row, _ := store.Purchase(models.ProviderStripe, "sub_9")
	assert.Equal(t, models.PurchaseStatusCanceled, row.Status)
}

func TestApplyCancelIgnoresOneOffRows(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Apply(ctx, completed(models.ProviderPayPal, "SALE-1", "u1", "p1", models.PurchaseTypeOneOff, 1900))
	require.NoError(t, err)

	outcome, err := l.Apply(ctx, lifecycle(models.EventSubscriptionCanceled, models.ProviderPayPal, "SALE-1"))
	require.NoError(t, err)
	assert.Equal(t, NoMatch, outcome)

	row, _ := store.Purchase(models.ProviderPayPal, "SALE-1")
	assert.Equal(t, models.PurchaseStatusPaid, row.Status)
}

func TestApplyLifecycleWithoutRowIsNoMatch(t *testing.T) {
	l, _ := newTestLedger(t)
	for _, kind := range []models.EventKind{models.EventSubscriptionCanceled, models.EventRefunded, models.EventSubscriptionRenewed} {
		outcome, err := l.Apply(context.Background(), lifecycle(kind, models.ProviderStripe, "missing"))
		require.NoError(t, err)
		assert.Equal(t, NoMatch, outcome, kind.String())
	}
}

func TestApplyPricingMismatchIsHonoredAndLogged(t *testing.T) {
	var buf bytes.Buffer
	previous := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = previous })

	l, store := newTestLedger(t)
	outcome, err := l.Apply(context.Background(), completed(models.ProviderStripe, "session_cheap", "u1", "p1", models.PurchaseTypeOneOff, 100))
	require.NoError(t, err)
	assert.Equal(t, Recorded, outcome)
	assert.Len(t, store.Purchases(), 1)

	out := buf.String()
	assert.Contains(t, out, `"audit":"pricing_integrity"`)
	assert.Contains(t, out, `"reference":"session_cheap"`)
	assert.Contains(t, out, `"expected_cents":1900`)
	assert.Contains(t, out, `"actual_cents":100`)
}

func TestApplyPricingWithinToleranceIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	previous := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = previous })

	l, _ := newTestLedger(t)
	_, err := l.Apply(context.Background(), completed(models.ProviderPayPal, "CAP-2", "u1", "p1", models.PurchaseTypeOneOff, 1901))
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "pricing_integrity")
}

func TestApplyCatalogLookupFailure(t *testing.T) {
	l, store := newTestLedger(t)

	_, err := l.Apply(context.Background(), completed(models.ProviderStripe, "session_x", "u1", "gone", models.PurchaseTypeOneOff, 1900))
	require.ErrorIs(t, err, ErrCatalogLookupFailed)

	store.CatalogFail = errors.New("connection reset")
	_, err = l.Apply(context.Background(), completed(models.ProviderStripe, "session_y", "u1", "p1", models.PurchaseTypeOneOff, 1900))
	require.ErrorIs(t, err, ErrCatalogLookupFailed)
	assert.Empty(t, store.Purchases())
}

func TestApplyStorageFailure(t *testing.T) {
	l, store := newTestLedger(t)
	store.Fail = errors.New("database is down")

	_, err := l.Apply(context.Background(), completed(models.ProviderStripe, "session_1", "u1", "p1", models.PurchaseTypeOneOff, 1900))
	require.ErrorIs(t, err, ErrStorageFailure)

	_, err = l.Apply(context.Background(), lifecycle(models.EventRefunded, models.ProviderStripe, "session_1"))
	require.ErrorIs(t, err, ErrStorageFailure)
}

func TestApplyRejectsIncompleteEvents(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Apply(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = l.Apply(context.Background(), completed(models.ProviderStripe, "", "u1", "p1", models.PurchaseTypeOneOff, 1900))
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = l.Apply(context.Background(), completed(models.ProviderStripe, "session_z", "", "p1", models.PurchaseTypeOneOff, 1900))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}
