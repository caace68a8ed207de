package payments

import (
	"context"
	"errors"

	"github.com/contrax-app/contrax/backend/internal/apperr"
	"github.com/contrax-app/contrax/backend/internal/metrics"
	"go.uber.org/zap"
)

const (
	opInitiatorNew = "payments.initiator.new"

	outcomeCreated   = "created"
	planLabelInvalid = "invalid"
)

var errMissingGateway = errors.New("payment gateway is required")

type InitiatorConfig struct {
	Stripe      *StripeGateway
	MercadoPago *MercadoPagoGateway
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Initiator validates plan selections and opens checkouts at either provider.
type Initiator struct {
	stripe      *StripeGateway
	mercadoPago *MercadoPagoGateway
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewInitiator(cfg InitiatorConfig) (*Initiator, error) {
	if cfg.Stripe == nil || cfg.MercadoPago == nil {
		return nil, apperr.Internal(opInitiatorNew, "missing_gateway", errMissingGateway)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Initiator{
		stripe:      cfg.Stripe,
		mercadoPago: cfg.MercadoPago,
		metrics:     cfg.Metrics,
		logger:      logger,
	}, nil
}

// StartStripe opens a subscription checkout session.
func (i *Initiator) StartStripe(ctx context.Context, request CheckoutRequest) (CheckoutSession, error) {
	userID, plan, err := validateCheckout(opStripeCheckout, request)
	if err != nil {
		i.metrics.ObserveCheckout(string(ProviderStripe), planLabelInvalid, metrics.OutcomeRejected)
		return CheckoutSession{}, err
	}
	session, err := i.stripe.CreateCheckout(ctx, userID, plan)
	if err != nil {
		i.logFailure(ProviderStripe, userID, plan.String(), err)
		i.metrics.ObserveCheckout(string(ProviderStripe), plan.String(), metrics.OutcomeFailed)
		return CheckoutSession{}, err
	}
	i.metrics.ObserveCheckout(string(ProviderStripe), plan.String(), outcomeCreated)
	i.logger.Info("checkout session created",
		zap.String("provider", string(ProviderStripe)),
		zap.String("user_id", userID),
		zap.String("plan", plan.String()),
		zap.String("session_id", session.ID))
	return session, nil
}

// StartMercadoPago creates a checkout preference.
func (i *Initiator) StartMercadoPago(ctx context.Context, request CheckoutRequest) (CheckoutSession, error) {
	userID, plan, err := validateCheckout(opMercadoPagoCheckout, request)
	if err != nil {
		i.metrics.ObserveCheckout(string(ProviderMercadoPago), planLabelInvalid, metrics.OutcomeRejected)
		return CheckoutSession{}, err
	}
	session, err := i.mercadoPago.CreateCheckout(ctx, userID, plan, request.PayerEmail)
	if err != nil {
		i.logFailure(ProviderMercadoPago, userID, plan.String(), err)
		i.metrics.ObserveCheckout(string(ProviderMercadoPago), plan.String(), metrics.OutcomeFailed)
		return CheckoutSession{}, err
	}
	i.metrics.ObserveCheckout(string(ProviderMercadoPago), plan.String(), outcomeCreated)
	i.logger.Info("checkout preference created",
		zap.String("provider", string(ProviderMercadoPago)),
		zap.String("user_id", userID),
		zap.String("plan", plan.String()),
		zap.String("preference_id", session.ID))
	return session, nil
}

func (i *Initiator) logFailure(provider Provider, userID, plan string, err error) {
	reason := string(apperr.KindOf(err))
	if appErr, ok := apperr.As(err); ok {
		reason = appErr.Code
	}
	i.logger.Error("checkout failed",
		zap.String("operation", "payments.checkout"),
		zap.String("reason", reason),
		zap.String("provider", string(provider)),
		zap.String("user_id", userID),
		zap.String("plan", plan),
		zap.Error(err))
}
