package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/marketplace-backend/internal/models"
)

func TestStripeCheckoutOneOff(t *testing.T) {
	ev, err := Stripe([]byte(`{
		"id": "evt_1", "object": "event", "type": "checkout.session.completed", "created": 1700000000,
		"data": {"object": {
			"id": "session_1", "object": "checkout.session", "mode": "payment",
			"payment_status": "paid", "amount_total": 1900, "payment_intent": "pi_1",
			"metadata": {"productId": "p1", "userId": "u1", "type": "oneoff"}
		}}
	}`))
	require.NoError(t, err)

	assert.Equal(t, models.EventPurchaseCompleted, ev.Kind)
	assert.Equal(t, models.ProviderStripe, ev.Provider)
	assert.Equal(t, "session_1", ev.ProviderReference)
	assert.Equal(t, "pi_1", ev.PaymentReference)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, "p1", ev.ProductID)
	assert.Equal(t, models.PurchaseTypeOneOff, ev.PurchaseType)
	assert.Equal(t, int64(1900), ev.AmountCents)
	assert.Equal(t, "evt_1", ev.EventID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), ev.OccurredAt)
}

func TestStripeCheckoutDefaultsToOneOff(t *testing.T) {
	ev, err := Stripe([]byte(`{"id": "evt_2", "type": "checkout.session.completed",
		"data": {"object": {"id": "cs_2", "payment_status": "paid", "amount_total": 500,
			"metadata": {"productId": "p1", "userId": "u1"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseTypeOneOff, ev.PurchaseType)
	assert.Empty(t, ev.PaymentReference)
}

func TestStripeSubscriptionCheckoutUsesSubscriptionID(t *testing.T) {
	ev, err := Stripe([]byte(`{"id": "evt_3", "type": "checkout.session.completed",
		"data": {"object": {"id": "cs_3", "mode": "subscription", "payment_status": "paid",
			"amount_total": 900, "subscription": "sub_9",
			"metadata": {"productId": "p2", "userId": "u2", "type": "subscription"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, "sub_9", ev.ProviderReference)
	assert.Equal(t, models.PurchaseTypeSubscription, ev.PurchaseType)
}

func TestStripeCheckoutSkips(t *testing.T) {
	unpaid := `{"id": "evt", "type": "checkout.session.completed",
		"data": {"object": {"id": "cs", "payment_status": "unpaid", "metadata": {"productId": "p1", "userId": "u1"}}}}`
	_, err := Stripe([]byte(unpaid))
	requireSkip(t, err, SkipNotPaid)

	noMetadata := `{"id": "evt", "type": "checkout.session.completed",
		"data": {"object": {"id": "cs", "payment_status": "paid", "metadata": {"productId": "p1"}}}}`
	_, err = Stripe([]byte(noMetadata))
	requireSkip(t, err, SkipMalformed)

	badType := `{"id": "evt", "type": "checkout.session.completed",
		"data": {"object": {"id": "cs", "payment_status": "paid", "metadata": {"productId": "p1", "userId": "u1", "type": "lifetime"}}}}`
	_, err = Stripe([]byte(badType))
	requireSkip(t, err, SkipMalformed)
}

func TestStripeInvoiceRenewal(t *testing.T) {
	legacy := `{"id": "evt", "type": "invoice.payment_succeeded",
		"data": {"object": {"id": "in_1", "amount_paid": 900, "subscription": "sub_9"}}}`
	ev, err := Stripe([]byte(legacy))
	require.NoError(t, err)
	assert.Equal(t, models.EventSubscriptionRenewed, ev.Kind)
	assert.Equal(t, "sub_9", ev.ProviderReference)

	expanded := `{"id": "evt", "type": "invoice.paid",
		"data": {"object": {"id": "in_2", "subscription": {"id": "sub_8", "object": "subscription"}}}}`
	ev, err = Stripe([]byte(expanded))
	require.NoError(t, err)
	assert.Equal(t, "sub_8", ev.ProviderReference)

	parent := `{"id": "evt", "type": "invoice.payment_succeeded",
		"data": {"object": {"id": "in_3", "parent": {"subscription_details": {"subscription": "sub_7"}}}}}`
	ev, err = Stripe([]byte(parent))
	require.NoError(t, err)
	assert.Equal(t, "sub_7", ev.ProviderReference)

	oneOff := `{"id": "evt", "type": "invoice.payment_succeeded", "data": {"object": {"id": "in_4"}}}`
	_, err = Stripe([]byte(oneOff))
	requireSkip(t, err, SkipUnhandled)
}

func TestStripeSubscriptionDeleted(t *testing.T) {
	ev, err := Stripe([]byte(`{"id": "evt", "type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_9", "object": "subscription", "status": "canceled"}}}`))
	require.NoError(t, err)
	assert.Equal(t, models.EventSubscriptionCanceled, ev.Kind)
	assert.Equal(t, "sub_9", ev.ProviderReference)
	assert.Equal(t, models.PurchaseTypeSubscription, ev.PurchaseType)
}

func TestStripeChargeRefunded(t *testing.T) {
	ev, err := Stripe([]byte(`{"id": "evt", "type": "charge.refunded",
		"data": {"object": {"id": "ch_1", "object": "charge", "refunded": true, "amount_refunded": 1900, "payment_intent": "pi_1"}}}`))
	require.NoError(t, err)
	assert.Equal(t, models.EventRefunded, ev.Kind)
	assert.Equal(t, "pi_1", ev.ProviderReference)
	assert.Equal(t, "pi_1", ev.PaymentReference)

	_, err = Stripe([]byte(`{"id": "evt", "type": "charge.refunded",
		"data": {"object": {"id": "ch_1", "refunded": false, "amount_refunded": 100, "payment_intent": "pi_1"}}}`))
	requireSkip(t, err, SkipUnhandled)

	_, err = Stripe([]byte(`{"id": "evt", "type": "charge.refunded",
		"data": {"object": {"id": "ch_1", "refunded": true}}}`))
	requireSkip(t, err, SkipMalformed)
}

func TestStripeUnhandledAndInvalid(t *testing.T) {
	_, err := Stripe([]byte(`{"id": "evt", "type": "customer.created", "data": {"object": {"id": "cus_1"}}}`))
	skip := requireSkip(t, err, SkipUnhandled)
	assert.Equal(t, "customer.created", skip.EventType)

	_, err = Stripe([]byte(`{not json`))
	requireSkip(t, err, SkipMalformed)
}
