package payments

import (
	"context"
	"errors"
	"strconv"

	"github.com/contrax-app/contrax/backend/internal/apperr"
	"github.com/contrax-app/contrax/backend/internal/metrics"
	"github.com/contrax-app/contrax/backend/internal/realtime"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	opReconcilerNew = "payments.reconciler.new"
	opApply         = "payments.apply_activation"
)

var errMissingActivator = errors.New("plan activator is required")

// Outcome reports what a notification did to the ledger.
type Outcome string

const (
	OutcomeApplied   Outcome = metrics.OutcomeApplied
	OutcomeIgnored   Outcome = metrics.OutcomeIgnored
	OutcomeDuplicate Outcome = metrics.OutcomeDuplicate
)

type ReconcilerConfig struct {
	Ledger      PlanActivator
	Stripe      *StripeGateway
	MercadoPago *MercadoPagoGateway
	Deduper     Deduper
	Publisher   realtime.Publisher
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Reconciler converges both providers' notifications onto the plan ledger.
type Reconciler struct {
	ledger      PlanActivator
	stripe      *StripeGateway
	mercadoPago *MercadoPagoGateway
	deduper     Deduper
	publisher   realtime.Publisher
	metrics     *metrics.Metrics
	logger      *zap.Logger
	fetches     singleflight.Group
}

func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Ledger == nil {
		return nil, apperr.Internal(opReconcilerNew, "missing_ledger", errMissingActivator)
	}
	if cfg.Stripe == nil || cfg.MercadoPago == nil {
		return nil, apperr.Internal(opReconcilerNew, "missing_gateway", errMissingGateway)
	}
	deduper := cfg.Deduper
	if deduper == nil {
		deduper = NewMemoryDeduper(0, 0)
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		ledger:      cfg.Ledger,
		stripe:      cfg.Stripe,
		mercadoPago: cfg.MercadoPago,
		deduper:     deduper,
		publisher:   publisher,
		metrics:     cfg.Metrics,
		logger:      logger,
	}, nil
}

// HandleStripe verifies and applies a subscription-checkout notification.
// Unverifiable or malformed payloads fail closed without touching the ledger.
func (r *Reconciler) HandleStripe(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	event, err := r.stripe.ParseEvent(payload, signatureHeader)
	if err != nil {
		r.logger.Warn("stripe notification rejected",
			zap.String("operation", opStripeWebhook),
			zap.String("reason", string(apperr.KindOf(err))),
			zap.Error(err))
		r.metrics.ObservePaymentNotification(string(ProviderStripe), metrics.OutcomeRejected)
		return "", err
	}
	if event.Completed == nil {
		r.logger.Debug("stripe notification ignored",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type))
		return r.finish(ProviderStripe, OutcomeIgnored), nil
	}
	activation, ok := event.Completed.Activation(event.ID)
	if !ok {
		r.logger.Warn("stripe checkout without usable metadata",
			zap.String("event_id", event.ID),
			zap.String("session_id", event.Completed.SessionID))
		return r.finish(ProviderStripe, OutcomeIgnored), nil
	}
	return r.apply(ctx, activation)
}

// HandleMercadoPago applies a preference-checkout notification.
// The provider signs nothing, so the payment is always re-read from the provider before acting.
func (r *Reconciler) HandleMercadoPago(ctx context.Context, body []byte) (Outcome, error) {
	notification, err := DecodeMercadoPagoNotification(body)
	if err != nil {
		r.logger.Warn("mercado pago notification rejected",
			zap.String("operation", opMercadoPagoWebhook),
			zap.Error(err))
		r.metrics.ObservePaymentNotification(string(ProviderMercadoPago), metrics.OutcomeRejected)
		return "", err
	}
	if !notification.Actionable() {
		r.logger.Debug("mercado pago notification ignored",
			zap.String("type", notification.Type),
			zap.String("action", notification.Action))
		return r.finish(ProviderMercadoPago, OutcomeIgnored), nil
	}

	key := strconv.Itoa(notification.PaymentID)
	if seen, err := r.deduper.Seen(ctx, string(ProviderMercadoPago)+":"+key); err != nil {
		r.logDedupeFailure(ProviderMercadoPago, key, err)
	} else if seen {
		return r.finish(ProviderMercadoPago, OutcomeDuplicate), nil
	}

	result, err, _ := r.fetches.Do(key, func() (any, error) {
		return r.mercadoPago.FetchPayment(ctx, notification.PaymentID)
	})
	if err != nil {
		r.logger.Error("mercado pago payment fetch failed",
			zap.String("operation", opMercadoPagoFetch),
			zap.String("reason", "payment_fetch_failed"),
			zap.Int("payment_id", notification.PaymentID),
			zap.Error(err))
		r.metrics.ObservePaymentNotification(string(ProviderMercadoPago), metrics.OutcomeFailed)
		return "", err
	}
	fetched := result.(MercadoPagoPayment)
	if !fetched.Approved() {
		r.logger.Info("mercado pago payment not approved",
			zap.Int("payment_id", fetched.ID),
			zap.String("status", fetched.Status))
		return r.finish(ProviderMercadoPago, OutcomeIgnored), nil
	}
	activation, ok := fetched.Activation()
	if !ok {
		r.logger.Warn("mercado pago payment without usable metadata", zap.Int("payment_id", fetched.ID))
		return r.finish(ProviderMercadoPago, OutcomeIgnored), nil
	}
	return r.apply(ctx, activation)
}

func (r *Reconciler) apply(ctx context.Context, activation Activation) (Outcome, error) {
	key := activation.DedupeKey()
	if seen, err := r.deduper.Seen(ctx, key); err != nil {
		r.logDedupeFailure(activation.Provider, key, err)
	} else if seen {
		r.logger.Debug("duplicate payment notification", zap.String("event_id", key))
		return r.finish(activation.Provider, OutcomeDuplicate), nil
	}

	record, err := r.ledger.UpsertPlan(ctx, activation.UserID, activation.Plan)
	if err != nil {
		r.logger.Error("plan activation failed",
			zap.String("operation", opApply),
			zap.String("reason", "upsert_failed"),
			zap.String("provider", string(activation.Provider)),
			zap.String("user_id", activation.UserID),
			zap.Error(err))
		r.metrics.ObservePaymentNotification(string(activation.Provider), metrics.OutcomeFailed)
		return "", err
	}
	if err := r.deduper.Mark(ctx, key); err != nil {
		r.logDedupeFailure(activation.Provider, key, err)
	}

	r.logger.Info("plan activated",
		zap.String("provider", string(activation.Provider)),
		zap.String("event_id", activation.EventID),
		zap.String("user_id", activation.UserID),
		zap.String("plan", activation.Plan.String()))
	r.publisher.Publish(realtime.Message{
		UserID:    record.UserID,
		EventType: realtime.EventPlanActivated,
		Plan:      record.Plan.String(),
	})
	return r.finish(activation.Provider, OutcomeApplied), nil
}

func (r *Reconciler) finish(provider Provider, outcome Outcome) Outcome {
	r.metrics.ObservePaymentNotification(string(provider), string(outcome))
	return outcome
}

func (r *Reconciler) logDedupeFailure(provider Provider, key string, err error) {
	r.logger.Warn("webhook dedupe unavailable",
		zap.String("operation", opApply),
		zap.String("reason", "dedupe_failed"),
		zap.String("provider", string(provider)),
		zap.String("event_id", key),
		zap.Error(err))
}
