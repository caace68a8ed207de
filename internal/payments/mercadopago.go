package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/contrax-app/contrax/backend/internal/apperr"
	"github.com/contrax-app/contrax/backend/internal/plans"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
)

const (
	opMercadoPagoCheckout = "payments.mercadopago.checkout"
	opMercadoPagoWebhook  = "payments.mercadopago.webhook"
	opMercadoPagoFetch    = "payments.mercadopago.fetch_payment"

	mercadoPagoTypePayment    = "payment"
	mercadoPagoStatusApproved = "approved"
	mercadoPagoAutoReturn     = "approved"
	defaultCurrency           = "BRL"
)

var (
	errMissingPreferenceCreator = errors.New("mercado pago preference client is required")
	errMissingPaymentFetcher    = errors.New("mercado pago payment client is required")
	errMissingPrice             = errors.New("mercado pago price is not configured")
)

// PreferenceCreator is satisfied by preference.Client of the Mercado Pago SDK.
type PreferenceCreator interface {
	Create(ctx context.Context, request preference.Request) (*preference.Response, error)
}

// PaymentFetcher is satisfied by payment.Client of the Mercado Pago SDK.
type PaymentFetcher interface {
	Get(ctx context.Context, id int) (*payment.Response, error)
}

type MercadoPagoConfig struct {
	Preferences       PreferenceCreator
	Payments          PaymentFetcher
	Prices            map[plans.Plan]float64
	Currency          string
	DefaultPayerEmail string
	SuccessURL        string
	FailureURL        string
	Timeout           time.Duration
}

// MercadoPagoGateway adapts the preference-checkout provider.
type MercadoPagoGateway struct {
	preferences       PreferenceCreator
	payments          PaymentFetcher
	prices            map[plans.Plan]float64
	currency          string
	defaultPayerEmail string
	successURL        string
	failureURL        string
	timeout           time.Duration
}

func NewMercadoPagoGateway(cfg MercadoPagoConfig) (*MercadoPagoGateway, error) {
	if cfg.Preferences == nil {
		return nil, apperr.Internal(opMercadoPagoCheckout, "missing_preference_client", errMissingPreferenceCreator)
	}
	if cfg.Payments == nil {
		return nil, apperr.Internal(opMercadoPagoFetch, "missing_payment_client", errMissingPaymentFetcher)
	}
	currency := strings.TrimSpace(cfg.Currency)
	if currency == "" {
		currency = defaultCurrency
	}
	prices := make(map[plans.Plan]float64, len(cfg.Prices))
	for plan, price := range cfg.Prices {
		prices[plan] = price
	}
	return &MercadoPagoGateway{
		preferences:       cfg.Preferences,
		payments:          cfg.Payments,
		prices:            prices,
		currency:          currency,
		defaultPayerEmail: cfg.DefaultPayerEmail,
		successURL:        cfg.SuccessURL,
		failureURL:        cfg.FailureURL,
		timeout:           cfg.Timeout,
	}, nil
}

// CreateCheckout creates a single-item preference carrying userId and plano as metadata.
func (g *MercadoPagoGateway) CreateCheckout(ctx context.Context, userID string, plan plans.Plan, payerEmail string) (CheckoutSession, error) {
	price, ok := g.prices[plan]
	if !ok || price <= 0 {
		return CheckoutSession{}, apperr.Internal(opMercadoPagoCheckout, "missing_price", errMissingPrice)
	}
	email := strings.TrimSpace(payerEmail)
	if email == "" {
		email = g.defaultPayerEmail
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	request := preference.Request{
		Items: []preference.ItemRequest{
			{
				Title:      "Plano " + titleCase(plan.String()),
				Quantity:   1,
				CurrencyID: g.currency,
				UnitPrice:  price,
			},
		},
		Metadata: map[string]any{
			MetadataUserID: userID,
			MetadataPlan:   plan.String(),
		},
		ExternalReference: userID,
		BackURLs: &preference.BackURLsRequest{
			Success: g.successURL,
			Failure: g.failureURL,
		},
		AutoReturn: mercadoPagoAutoReturn,
	}
	if email != "" {
		request.Payer = &preference.PayerRequest{Email: email}
	}

	response, err := g.preferences.Create(ctx, request)
	if err != nil {
		return CheckoutSession{}, apperr.Upstream(opMercadoPagoCheckout, "preference_create_failed", err)
	}
	if response == nil || response.InitPoint == "" {
		return CheckoutSession{}, apperr.Upstream(opMercadoPagoCheckout, "malformed_preference", errors.New("preference without init point"))
	}
	return CheckoutSession{ID: response.ID, URL: response.InitPoint}, nil
}

// MercadoPagoNotification is the decoded webhook body.
type MercadoPagoNotification struct {
	Type      string
	Action    string
	PaymentID int
	HasData   bool
}

// Actionable reports whether the notification references a payment to fetch.
// Notifications without a type predate typed delivery and are treated as payments.
func (n MercadoPagoNotification) Actionable() bool {
	if !n.HasData {
		return false
	}
	return n.Type == "" || n.Type == mercadoPagoTypePayment
}

type mercadoPagoNotificationBody struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   *struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// DecodeMercadoPagoNotification decodes the webhook body. data.id may be a string or a number.
func DecodeMercadoPagoNotification(body []byte) (MercadoPagoNotification, error) {
	var decoded mercadoPagoNotificationBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		return MercadoPagoNotification{}, apperr.New(apperr.KindValidation, opMercadoPagoWebhook, "malformed_body", "notificação inválida", err)
	}
	notification := MercadoPagoNotification{
		Type:   strings.TrimSpace(decoded.Type),
		Action: strings.TrimSpace(decoded.Action),
	}
	if decoded.Data == nil || len(bytes.TrimSpace(decoded.Data.ID)) == 0 || string(bytes.TrimSpace(decoded.Data.ID)) == "null" {
		return notification, nil
	}
	id, err := parseFlexibleID(decoded.Data.ID)
	if err != nil {
		return MercadoPagoNotification{}, apperr.New(apperr.KindValidation, opMercadoPagoWebhook, "invalid_payment_id", "identificador de pagamento inválido", err)
	}
	notification.PaymentID = id
	notification.HasData = true
	return notification, nil
}

func parseFlexibleID(raw json.RawMessage) (int, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strconv.Atoi(strings.TrimSpace(text))
	}
	var number json.Number
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&number); err != nil {
		return 0, err
	}
	value, err := number.Int64()
	if err != nil {
		return 0, err
	}
	return int(value), nil
}

// MercadoPagoPayment is the fetched payment reduced to what reconciliation needs.
type MercadoPagoPayment struct {
	ID       int
	Status   string
	Metadata map[string]any
}

// Approved reports whether the payment settled.
func (p MercadoPagoPayment) Approved() bool {
	return p.Status == mercadoPagoStatusApproved
}

// Activation converts an approved payment into the provider-neutral event.
func (p MercadoPagoPayment) Activation() (Activation, bool) {
	return activationFromMetadata(ProviderMercadoPago, strconv.Itoa(p.ID), func(key string) string {
		value, ok := p.Metadata[key]
		if !ok || value == nil {
			return ""
		}
		if text, isText := value.(string); isText {
			return text
		}
		return fmt.Sprint(value)
	})
}

// FetchPayment loads the payment referenced by a notification.
func (g *MercadoPagoGateway) FetchPayment(ctx context.Context, paymentID int) (MercadoPagoPayment, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	response, err := g.payments.Get(ctx, paymentID)
	if err != nil {
		return MercadoPagoPayment{}, apperr.Upstream(opMercadoPagoFetch, "payment_fetch_failed", err)
	}
	if response == nil {
		return MercadoPagoPayment{}, apperr.Upstream(opMercadoPagoFetch, "malformed_payment", errors.New("empty payment response"))
	}
	id := response.ID
	if id == 0 {
		id = paymentID
	}
	return MercadoPagoPayment{ID: id, Status: response.Status, Metadata: response.Metadata}, nil
}

func (g *MercadoPagoGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

func titleCase(value string) string {
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + value[1:]
}
