package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/contrax-app/contrax/backend/internal/metrics"
	"github.com/contrax-app/contrax/backend/internal/plans"
	"github.com/contrax-app/contrax/backend/internal/realtime"
	sqlite "github.com/glebarez/sqlite"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test_secret"

type fakeSessionCreator struct {
	mu     sync.Mutex
	params []*stripe.CheckoutSessionParams
	err    error
}

func (f *fakeSessionCreator) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

type fakePreferenceCreator struct {
	mu       sync.Mutex
	requests []preference.Request
	err      error
}

func (f *fakePreferenceCreator) Create(_ context.Context, request preference.Request) (*preference.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request)
	if f.err != nil {
		return nil, f.err
	}
	return &preference.Response{ID: "pref-1", InitPoint: "https://mercadopago.test/init/pref-1"}, nil
}

type fakePaymentFetcher struct {
	mu       sync.Mutex
	payments map[int]*payment.Response
	calls    int
	err      error
}

func (f *fakePaymentFetcher) Get(_ context.Context, id int) (*payment.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	response, ok := f.payments[id]
	if !ok {
		return nil, errors.New("payment not found")
	}
	return response, nil
}

func (f *fakePaymentFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type capturePublisher struct {
	mu       sync.Mutex
	messages []realtime.Message
}

func (p *capturePublisher) Publish(message realtime.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
}

func (p *capturePublisher) snapshot() []realtime.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.Message(nil), p.messages...)
}

type paymentsFixture struct {
	ledger      *plans.Ledger
	sessions    *fakeSessionCreator
	preferences *fakePreferenceCreator
	fetcher     *fakePaymentFetcher
	publisher   *capturePublisher
	metrics     *metrics.Metrics
	stripe      *StripeGateway
	mercadoPago *MercadoPagoGateway
	reconciler  *Reconciler
	initiator   *Initiator
}

func newPaymentsFixture(t *testing.T, deduper Deduper) paymentsFixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&plans.Record{}))

	now := time.Date(2026, time.April, 5, 12, 0, 0, 0, time.UTC)
	ledger, err := plans.NewLedger(plans.LedgerConfig{Database: db, Clock: func() time.Time { return now }, Logger: zap.NewNop()})
	require.NoError(t, err)

	fixture := paymentsFixture{
		ledger:      ledger,
		sessions:    &fakeSessionCreator{},
		preferences: &fakePreferenceCreator{},
		fetcher:     &fakePaymentFetcher{payments: map[int]*payment.Response{}},
		publisher:   &capturePublisher{},
		metrics:     metrics.New(nil),
	}
	fixture.stripe, err = NewStripeGateway(StripeConfig{
		Sessions:      fixture.sessions,
		WebhookSecret: testWebhookSecret,
		PriceIDs:      map[plans.Plan]string{plans.PlanBasic: "price_basic", plans.PlanStandard: "price_standard"},
		SuccessURL:    "contrax://success",
		CancelURL:     "contrax://cancel",
		Timeout:       time.Second,
	})
	require.NoError(t, err)
	fixture.mercadoPago, err = NewMercadoPagoGateway(MercadoPagoConfig{
		Preferences:       fixture.preferences,
		Payments:          fixture.fetcher,
		Prices:            map[plans.Plan]float64{plans.PlanBasic: 25, plans.PlanStandard: 75},
		DefaultPayerEmail: "teste@teste.com",
		SuccessURL:        "contrax://success",
		FailureURL:        "contrax://cancel",
		Timeout:           time.Second,
	})
	require.NoError(t, err)
	fixture.reconciler, err = NewReconciler(ReconcilerConfig{
		Ledger:      ledger,
		Stripe:      fixture.stripe,
		MercadoPago: fixture.mercadoPago,
		Deduper:     deduper,
		Publisher:   fixture.publisher,
		Metrics:     fixture.metrics,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	fixture.initiator, err = NewInitiator(InitiatorConfig{
		Stripe:      fixture.stripe,
		MercadoPago: fixture.mercadoPago,
		Metrics:     fixture.metrics,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	return fixture
}

func signStripePayload(t *testing.T, payload []byte, secret string, at time.Time) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	})
	require.NotEmpty(t, signed.Header)
	return signed.Header
}

func stripeCheckoutPayload(eventID, eventType, userID, plan string) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "api_version": %q,
  "type": %q,
  "data": {
    "object": {
      "id": "cs_test_1",
      "object": "checkout.session",
      "client_reference_id": %q,
      "metadata": {"userId": %q, "plano": %q}
    }
  }
}`, eventID, stripe.APIVersion, eventType, userID, userID, plan))
}
