package payments

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/contrax-app/contrax/backend/internal/apperr"
	"github.com/contrax-app/contrax/backend/internal/plans"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	opStripeCheckout = "payments.stripe.checkout"
	opStripeWebhook  = "payments.stripe.webhook"

	stripeEventCheckoutCompleted = "checkout.session.completed"
)

var (
	errMissingSessionCreator = errors.New("stripe session creator is required")
	errMissingWebhookSecret  = errors.New("stripe webhook secret is required")
	errMissingPriceID        = errors.New("stripe price id is not configured")
)

// StripeSessionCreator is satisfied by the checkout/session client of stripe-go.
type StripeSessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type StripeConfig struct {
	Sessions      StripeSessionCreator
	WebhookSecret string
	PriceIDs      map[plans.Plan]string
	SuccessURL    string
	CancelURL     string
	Timeout       time.Duration
	// Tolerance bounds the accepted signature age; zero uses the library default.
	Tolerance time.Duration
}

// StripeGateway adapts the subscription-checkout provider.
type StripeGateway struct {
	sessions      StripeSessionCreator
	webhookSecret string
	priceIDs      map[plans.Plan]string
	successURL    string
	cancelURL     string
	timeout       time.Duration
	tolerance     time.Duration
}

func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.Sessions == nil {
		return nil, apperr.Internal(opStripeCheckout, "missing_session_creator", errMissingSessionCreator)
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, apperr.Internal(opStripeWebhook, "missing_webhook_secret", errMissingWebhookSecret)
	}
	priceIDs := make(map[plans.Plan]string, len(cfg.PriceIDs))
	for plan, priceID := range cfg.PriceIDs {
		priceIDs[plan] = priceID
	}
	return &StripeGateway{
		sessions:      cfg.Sessions,
		webhookSecret: cfg.WebhookSecret,
		priceIDs:      priceIDs,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		timeout:       cfg.Timeout,
		tolerance:     cfg.Tolerance,
	}, nil
}

// CreateCheckout opens a subscription session carrying userId and plano as metadata.
func (g *StripeGateway) CreateCheckout(ctx context.Context, userID string, plan plans.Plan) (CheckoutSession, error) {
	priceID := g.priceIDs[plan]
	if priceID == "" {
		return CheckoutSession{}, apperr.Internal(opStripeCheckout, "missing_price_id", errMissingPriceID)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	metadata := map[string]string{
		MetadataUserID: userID,
		MetadataPlan:   plan.String(),
	}
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(userID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}

	session, err := g.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, apperr.Upstream(opStripeCheckout, "session_create_failed", err)
	}
	if session == nil || session.URL == "" {
		return CheckoutSession{}, apperr.Upstream(opStripeCheckout, "malformed_session", errors.New("session without url"))
	}
	return CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// StripeEvent is a verified notification. Completed is set only for completed checkouts.
type StripeEvent struct {
	ID        string
	Type      string
	Completed *StripeCheckoutCompleted
}

// StripeCheckoutCompleted carries the metadata echoed by a completed checkout.
type StripeCheckoutCompleted struct {
	SessionID         string
	ClientReferenceID string
	Metadata          map[string]string
}

// ParseEvent verifies the signature header and decodes the event.
// Any verification or decoding failure is reported as signature_invalid or validation and changes nothing.
func (g *StripeGateway) ParseEvent(payload []byte, signatureHeader string) (StripeEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                g.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return StripeEvent{}, apperr.SignatureInvalid(opStripeWebhook, err)
	}

	parsed := StripeEvent{ID: event.ID, Type: string(event.Type)}
	if parsed.Type != stripeEventCheckoutCompleted {
		return parsed, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return StripeEvent{}, apperr.Validation(opStripeWebhook, "missing_event_object", "evento sem objeto de sessão")
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return StripeEvent{}, apperr.New(apperr.KindValidation, opStripeWebhook, "malformed_session", "sessão de checkout inválida", err)
	}
	parsed.Completed = &StripeCheckoutCompleted{
		SessionID:         session.ID,
		ClientReferenceID: session.ClientReferenceID,
		Metadata:          session.Metadata,
	}
	return parsed, nil
}

// Activation converts a completed checkout into the provider-neutral event.
// The client reference stands in for a missing userId.
func (c StripeCheckoutCompleted) Activation(eventID string) (Activation, bool) {
	return activationFromMetadata(ProviderStripe, eventID, func(key string) string {
		value := c.Metadata[key]
		if value == "" && key == MetadataUserID {
			return c.ClientReferenceID
		}
		return value
	})
}
