package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/contrax-app/contrax/backend/internal/apperr"
	"github.com/contrax-app/contrax/backend/internal/metrics"
	"github.com/contrax-app/contrax/backend/internal/plans"
	"github.com/contrax-app/contrax/backend/internal/realtime"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func requirePaidPlan(t *testing.T, ledger *plans.Ledger, userID string, plan plans.Plan) {
	t.Helper()
	record, err := ledger.Get(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, plan, record.Plan)
	require.Equal(t, int64(0), record.MonthlyUsage)
	require.True(t, record.SubscriptionActive)
}

func TestStripeCompletedCheckoutActivatesPlan(t *testing.T) {
	fixture := newPaymentsFixture(t, nil)
	ctx := context.Background()
	payload := stripeCheckoutPayload("evt_1", "checkout.session.completed", "u1", "standard")

	outcome, err := fixture.reconciler.HandleStripe(ctx, payload, signStripePayload(t, payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	requirePaidPlan(t, fixture.ledger, "u1", plans.PlanStandard)

	published := fixture.publisher.snapshot()
	require.Len(t, published, 1)
	require.Equal(t, realtime.EventPlanActivated, published[0].EventType)
	require.Equal(t, "u1", published[0].UserID)
	require.Equal(t, "standard", published[0].Plan)
}

func TestStripeRedeliveryIsDuplicate(t *testing.T) {
	fixture := newPaymentsFixture(t, NewMemoryDeduper(16, time.Hour))
	ctx := context.Background()
	payload := stripeCheckoutPayload("evt_1", "checkout.session.completed", "u1", "basic")
	header := signStripePayload(t, payload, testWebhookSecret, time.Now())

	first, err := fixture.reconciler.HandleStripe(ctx, payload, header)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, first)

	_, err = fixture.ledger.IncrementUsage(ctx, nil, "u1")
	require.NoError(t, err)

	second, err := fixture.reconciler.HandleStripe(ctx, payload, header)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, second)

	record, err := fixture.ledger.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), record.MonthlyUsage, "a redelivered event must not reset usage again")
	require.Equal(t, float64(1), testutil.ToFloat64(
		fixture.metrics.PaymentNotificationsTotal.WithLabelValues(string(ProviderStripe), metrics.OutcomeDuplicate)))
}

func TestStripeInvalidSignatureChangesNothing(t *testing.T) {
	fixture := newPaymentsFixture(t, nil)
	ctx := context.Background()
	payload := stripeCheckoutPayload("evt_1", "checkout.session.completed", "u1", "standard")

	cases := map[string]string{
		"wrong secret": signStripePayload(t, payload, "whsec_other", time.Now()),
		"missing":      "",
		"stale":        signStripePayload(t, payload, testWebhookSecret, time.Now().Add(-time.Hour)),
	}
	for name, header := range cases {
		_, err := fixture.reconciler.HandleStripe(ctx, payload, header)
		require.True(t, apperr.Is(err, apperr.KindSignatureInvalid), name)
	}

	_, err := fixture.ledger.Get(ctx, "u1")
	require.True(t, apperr.Is(err, apperr.KindNotFound))
	require.Empty(t, fixture.publisher.snapshot())
}

func TestStripeOtherEventTypesAreIgnored(t *testing.T) {
	fixture := newPaymentsFixture(t, nil)
	payload := stripeCheckoutPayload("evt_2", "invoice.paid", "u1", "standard")

	outcome, err := fixture.reconciler.HandleStripe(context.Background(), payload, signStripePayload(t, payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, outcome)
	_, err = fixture.ledger.Get(context.Background(), "u1")
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestStripeCheckoutWithoutMetadataIsIgnored(t *testing.T) {
	fixture := newPaymentsFixture(t, nil)
	payloads := [][]byte{
		stripeCheckoutPayload("evt_3", "checkout.session.completed", "", "standard"),
		stripeCheckoutPayload("evt_4", "checkout.session.completed", "u1", ""),
		stripeCheckoutPayload("evt_5", "checkout.session.completed", "u1", "platinum"),
	}
	for _, payload := range payloads {
		outcome, err := fixture.reconciler.HandleStripe(context.Background(), payload, signStripePayload(t, payload, testWebhookSecret, time.Now()))
		require.NoError(t, err)
		require.Equal(t, OutcomeIgnored, outcome)
	}
	_, err := fixture.ledger.Get(context.Background(), "u1")
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestMercadoPagoApprovedPaymentActivatesPlan(t *testing.T) {
	fixture := newPaymentsFixture(t, nil)
	fixture.fetcher.payments[991] = &payment.Response{
		ID:       991,
		Status:   "approved",
		Metadata: map[string]any{"user_id": "u2", "plano": "basic"},
	}

	outcome, err := fixture.reconciler.HandleMercadoPago(context.Background(),
		[]byte(`{"type":"payment","action":"payment.updated","data":{"id":"991"}}`))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	requirePaidPlan(t, fixture.ledger, "u2", plans.PlanBasic)
	require.Len(t, fixture.publisher.snapshot(), 1)
}

func TestMercadoPagoAcceptsNumericIDAndCamelCaseMetadata(t *testing.T) {
	fixture := newPaymentsFixture(t, nil)
	fixture.fetcher.payments[42] = &payment.Response{
		ID:       42,
		Status:   "approved",
		Metadata: map[string]any{"userId": "u2", "plano": "standard"},
	}

	outcome, err := fixture.reconciler.HandleMercadoPago(context.Background(), []byte(`{"data":{"id":42}}`))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	requirePaidPlan(t, fixture.ledger, "u2", plans.PlanStandard)
}

func TestMercadoPagoPendingPaymentIsIgnored(t *testing.T) {
	fixture := newPaymentsFixture(t, nil)
	fixture.fetcher.payments[7] = &payment.Response{
		ID:       7,
		Status:   "pending",
		Metadata: map[string]any{"user_id": "u2", "plano": "basic"},
	}

	outcome, err := fixture.reconciler.HandleMercadoPago(context.Background(), []byte(`{"type":"payment","data":{"id":"7"}}`))
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, outcome)
	_, err = fixture.ledger.Get(context.Background(), "u2")
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestMercadoPagoNotificationsWithoutPaymentAreAcknowledged(t *testing.T) {
	fixture := newPaymentsFixture(t, nil)
	bodies := []string{
		`{}`,
		`{"type":"payment"}`,
		`{"type":"plan","data":{"id":"5"}}`,
		`{"type":"payment","data":{"id":null}}`,
	}
	for _, body := range bodies {
		outcome, err := fixture.reconciler.HandleMercadoPago(context.Background(), []byte(body))
		require.NoError(t, err, body)
		require.Equal(t, OutcomeIgnored, outcome, body)
	}
	require.Equal(t, 0, fixture.fetcher.callCount())
}

func TestMercadoPagoMalformedBodyIsValidationError(t *testing.T) {
	fixture := newPaymentsFixture(t, nil)
	for _, body := range []string{`not json`, `{"data":{"id":"abc"}}`, ``} {
		_, err := fixture.reconciler.HandleMercadoPago(context.Background(), []byte(body))
		require.True(t, apperr.Is(err, apperr.KindValidation), body)
	}
}

func TestMercadoPagoFetchFailureIsUpstream(t *testing.T) {
	fixture := newPaymentsFixture(t, nil)
	fixture.fetcher.err = errors.New("connection reset")

	_, err := fixture.reconciler.HandleMercadoPago(context.Background(), []byte(`{"type":"payment","data":{"id":"1"}}`))
	require.True(t, apperr.Is(err, apperr.KindUpstream))
}

func TestMercadoPagoRedeliverySkipsFetch(t *testing.T) {
	fixture := newPaymentsFixture(t, NewMemoryDeduper(16, time.Hour))
	fixture.fetcher.payments[8] = &payment.Response{
		ID:       8,
		Status:   "approved",
		Metadata: map[string]any{"user_id": "u2", "plano": "basic"},
	}
	body := []byte(`{"type":"payment","data":{"id":"8"}}`)

	first, err := fixture.reconciler.HandleMercadoPago(context.Background(), body)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, first)
	second, err := fixture.reconciler.HandleMercadoPago(context.Background(), body)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, second)
	require.Equal(t, 1, fixture.fetcher.callCount())
}

func TestConcurrentDeliveriesConverge(t *testing.T) {
	fixture := newPaymentsFixture(t, nil)
	fixture.fetcher.payments[9] = &payment.Response{
		ID:       9,
		Status:   "approved",
		Metadata: map[string]any{"user_id": "u3", "plano": "standard"},
	}
	stripePayload := stripeCheckoutPayload("evt_9", "checkout.session.completed", "u3", "standard")
	header := signStripePayload(t, stripePayload, testWebhookSecret, time.Now())

	var waitGroup sync.WaitGroup
	errs := make(chan error, 10)
	for index := 0; index < 5; index++ {
		waitGroup.Add(2)
		go func() {
			defer waitGroup.Done()
			_, err := fixture.reconciler.HandleStripe(context.Background(), stripePayload, header)
			errs <- err
		}()
		go func() {
			defer waitGroup.Done()
			_, err := fixture.reconciler.HandleMercadoPago(context.Background(), []byte(`{"type":"payment","data":{"id":9}}`))
			errs <- err
		}()
	}
	waitGroup.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	requirePaidPlan(t, fixture.ledger, "u3", plans.PlanStandard)
}
