// Package payments starts provider checkouts and reconciles provider notifications onto the plan ledger.
package payments

import (
	"context"
	"strings"

	"github.com/contrax-app/contrax/backend/internal/apperr"
	"github.com/contrax-app/contrax/backend/internal/plans"
)

// Provider identifies a payment provider.
type Provider string

const (
	ProviderStripe      Provider = "stripe"
	ProviderMercadoPago Provider = "mercadopago"
)

// Metadata keys echoed back by the providers. Mercado Pago rewrites keys to snake_case.
const (
	MetadataUserID      = "userId"
	MetadataUserIDSnake = "user_id"
	MetadataPlan        = "plano"
)

// Activation is the provider-neutral "subscription activated" event.
type Activation struct {
	Provider Provider
	EventID  string
	UserID   string
	Plan     plans.Plan
}

// DedupeKey identifies the delivery across retries.
func (a Activation) DedupeKey() string {
	return string(a.Provider) + ":" + a.EventID
}

// CheckoutRequest is the client's plan selection.
type CheckoutRequest struct {
	UserID     string
	Plan       string
	PayerEmail string
}

// CheckoutSession is what the client needs to continue at the provider.
type CheckoutSession struct {
	ID  string
	URL string
}

// PlanActivator applies activations to the ledger.
type PlanActivator interface {
	UpsertPlan(ctx context.Context, userID string, plan plans.Plan) (plans.Record, error)
}

func validateCheckout(operation string, request CheckoutRequest) (string, plans.Plan, error) {
	plan, err := plans.ParsePlan(request.Plan)
	if err != nil || !plan.Purchasable() {
		return "", "", apperr.New(apperr.KindValidation, operation, "invalid_plan", "Plano inválido", err)
	}
	userID := strings.TrimSpace(request.UserID)
	if userID == "" {
		return "", "", apperr.Validation(operation, "missing_user_id", "userId é obrigatório")
	}
	return userID, plan, nil
}

// activationFromMetadata extracts the correlation pair from provider metadata.
// ok is false when either value is missing or the plan is unknown.
func activationFromMetadata(provider Provider, eventID string, lookup func(key string) string) (Activation, bool) {
	userID := strings.TrimSpace(lookup(MetadataUserID))
	if userID == "" {
		userID = strings.TrimSpace(lookup(MetadataUserIDSnake))
	}
	rawPlan := lookup(MetadataPlan)
	if userID == "" || strings.TrimSpace(rawPlan) == "" {
		return Activation{}, false
	}
	plan, err := plans.ParsePlan(rawPlan)
	if err != nil {
		return Activation{}, false
	}
	return Activation{Provider: provider, EventID: eventID, UserID: userID, Plan: plan}, true
}
