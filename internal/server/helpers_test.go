package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/contrax-app/contrax/backend/internal/contracts"
	"github.com/contrax-app/contrax/backend/internal/database"
	"github.com/contrax-app/contrax/backend/internal/metrics"
	"github.com/contrax-app/contrax/backend/internal/payments"
	"github.com/contrax-app/contrax/backend/internal/plans"
	"github.com/contrax-app/contrax/backend/internal/realtime"
	"github.com/contrax-app/contrax/backend/internal/render"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_server_test"

type stubSessions struct{}

func (stubSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{ID: "cs_server_1", URL: "https://checkout.stripe.test/" + params.Metadata["plano"]}, nil
}

type stubPreferences struct{}

func (stubPreferences) Create(_ context.Context, request preference.Request) (*preference.Response, error) {
	return &preference.Response{ID: "pref-server", InitPoint: "https://mercadopago.test/" + request.Items[0].Title}, nil
}

type stubPayments struct {
	payments map[int]*payment.Response
}

func (s stubPayments) Get(_ context.Context, id int) (*payment.Response, error) {
	response, ok := s.payments[id]
	if !ok {
		return nil, errors.New("upstream unavailable")
	}
	return response, nil
}

type testApp struct {
	handler    http.Handler
	ledger     *plans.Ledger
	dispatcher *realtime.Dispatcher
	metrics    *metrics.Metrics
}

type testAppOptions struct {
	health   func(ctx context.Context) error
	payments map[int]*payment.Response
}

func newTestApp(t *testing.T, options testAppOptions) testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db, zap.NewNop()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	appMetrics := metrics.New(nil)
	dispatcher := realtime.NewDispatcher()
	ledger, err := plans.NewLedger(plans.LedgerConfig{Database: db, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("failed to build ledger: %v", err)
	}
	contractService, err := contracts.NewService(contracts.ServiceConfig{
		Database:   db,
		Ledger:     ledger,
		IDProvider: contracts.NewUUIDProvider(),
		Publisher:  dispatcher,
		Metrics:    appMetrics,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build contract service: %v", err)
	}

	stripeGateway, err := payments.NewStripeGateway(payments.StripeConfig{
		Sessions:      stubSessions{},
		WebhookSecret: testWebhookSecret,
		PriceIDs:      map[plans.Plan]string{plans.PlanBasic: "price_basic", plans.PlanStandard: "price_standard"},
		SuccessURL:    "contrax://success",
		CancelURL:     "contrax://cancel",
	})
	if err != nil {
		t.Fatalf("failed to build stripe gateway: %v", err)
	}
	fetched := options.payments
	if fetched == nil {
		fetched = map[int]*payment.Response{}
	}
	mercadoPagoGateway, err := payments.NewMercadoPagoGateway(payments.MercadoPagoConfig{
		Preferences: stubPreferences{},
		Payments:    stubPayments{payments: fetched},
		Prices:      map[plans.Plan]float64{plans.PlanBasic: 25, plans.PlanStandard: 75},
	})
	if err != nil {
		t.Fatalf("failed to build mercado pago gateway: %v", err)
	}
	initiator, err := payments.NewInitiator(payments.InitiatorConfig{Stripe: stripeGateway, MercadoPago: mercadoPagoGateway, Metrics: appMetrics})
	if err != nil {
		t.Fatalf("failed to build initiator: %v", err)
	}
	reconciler, err := payments.NewReconciler(payments.ReconcilerConfig{
		Ledger:      ledger,
		Stripe:      stripeGateway,
		MercadoPago: mercadoPagoGateway,
		Publisher:   dispatcher,
		Metrics:     appMetrics,
	})
	if err != nil {
		t.Fatalf("failed to build reconciler: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Contracts:         contractService,
		Profiles:          ledger,
		Checkout:          initiator,
		Reconciler:        reconciler,
		Renderer:          render.NewRenderer(render.Config{Compress: false}),
		Realtime:          dispatcher,
		Metrics:           appMetrics,
		HealthCheck:       options.health,
		HeartbeatInterval: time.Hour,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return testApp{handler: handler, ledger: ledger, dispatcher: dispatcher, metrics: appMetrics}
}

func (a testApp) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch value := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(value)
	case string:
		reader = bytes.NewReader([]byte(value))
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	a.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeJSON[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var decoded T
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

func signedStripeCheckout(t *testing.T, eventID, userID, plan string) ([]byte, string) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{"id":%q,"object":"event","api_version":%q,"type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","metadata":{"userId":%q,"plano":%q}}}}`,
		eventID, stripe.APIVersion, userID, plan))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return payload, signed.Header
}
