// Package metrics registers the prometheus collectors exported by the API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the counters.
const (
	OutcomeApplied   = "applied"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Metrics holds the collectors for payment reconciliation, quota and contract lifecycle.
type Metrics struct {
	registry *prometheus.Registry

	PaymentNotificationsTotal *prometheus.CounterVec
	CheckoutSessionsTotal     *prometheus.CounterVec
	QuotaRejectionsTotal      *prometheus.CounterVec
	ContractTransitionsTotal  *prometheus.CounterVec
	HTTPRequestsTotal         *prometheus.CounterVec
}

// New creates and registers every collector on registry. A nil registry gets a private one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		PaymentNotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contrax_payment_notifications_total",
				Help: "Payment provider notifications by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		CheckoutSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contrax_checkout_sessions_total",
				Help: "Checkout sessions started by provider, plan and outcome",
			},
			[]string{"provider", "plan", "outcome"},
		),
		QuotaRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contrax_quota_rejections_total",
				Help: "Contract creations rejected for exceeding the monthly quota",
			},
			[]string{"plan"},
		),
		ContractTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contrax_contract_transitions_total",
				Help: "Contract lifecycle operations by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contrax_http_requests_total",
				Help: "HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
	}
	registry.MustRegister(
		m.PaymentNotificationsTotal,
		m.CheckoutSessionsTotal,
		m.QuotaRejectionsTotal,
		m.ContractTransitionsTotal,
		m.HTTPRequestsTotal,
	)
	return m
}

// NewWithRuntimeCollectors adds the go runtime and process collectors.
func NewWithRuntimeCollectors() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(registry)
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObservePaymentNotification(provider, outcome string) {
	if m == nil {
		return
	}
	m.PaymentNotificationsTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveCheckout(provider, plan, outcome string) {
	if m == nil {
		return
	}
	m.CheckoutSessionsTotal.WithLabelValues(provider, plan, outcome).Inc()
}

func (m *Metrics) ObserveQuotaRejection(plan string) {
	if m == nil {
		return
	}
	m.QuotaRejectionsTotal.WithLabelValues(plan).Inc()
}

func (m *Metrics) ObserveContractTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.ContractTransitionsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveHTTPRequest(route, method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
}
