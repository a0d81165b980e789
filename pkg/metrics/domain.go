package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DomainMetrics counts the business transitions of the checkout pipeline.
// A nil *DomainMetrics is valid and records nothing.
type DomainMetrics struct {
	ordersPlaced        prometheus.Counter
	checkoutFailures    *prometheus.CounterVec
	paymentTransitions  *prometheus.CounterVec
	gatewayCalls        *prometheus.HistogramVec
	webhookOutcomes     *prometheus.CounterVec
	shipmentTransitions *prometheus.CounterVec
	campaignRedemptions *prometheus.CounterVec
}

// NewDomainMetrics registers the domain collectors on reg.
func NewDomainMetrics(reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		return &DomainMetrics{}
	}
	m := &DomainMetrics{
		ordersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_orders_placed_total",
			Help: "Orders created by checkout.",
		}),
		checkoutFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_checkout_failures_total",
			Help: "Checkout attempts rejected, by error code.",
		}, []string{"code"}),
		paymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_payment_transitions_total",
			Help: "Applied payment intent transitions.",
		}, []string{"from", "to", "source"}),
		gatewayCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketplace_gateway_call_seconds",
			Help:    "Latency of payment gateway calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation", "outcome"}),
		webhookOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_webhook_events_total",
			Help: "Webhook deliveries by provider and outcome.",
		}, []string{"provider", "outcome"}),
		shipmentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_shipment_transitions_total",
			Help: "Applied shipment transitions.",
		}, []string{"to"}),
		campaignRedemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_campaign_redemptions_total",
			Help: "Campaign usages recorded at checkout, by campaign type.",
		}, []string{"type"}),
	}
	reg.MustRegister(
		m.ordersPlaced,
		m.checkoutFailures,
		m.paymentTransitions,
		m.gatewayCalls,
		m.webhookOutcomes,
		m.shipmentTransitions,
		m.campaignRedemptions,
	)
	return m
}

func (m *DomainMetrics) OrderPlaced() {
	if m == nil || m.ordersPlaced == nil {
		return
	}
	m.ordersPlaced.Inc()
}

func (m *DomainMetrics) CheckoutFailed(code string) {
	if m == nil || m.checkoutFailures == nil {
		return
	}
	m.checkoutFailures.WithLabelValues(normalizeLabel(code)).Inc()
}

func (m *DomainMetrics) PaymentTransition(from, to, source string) {
	if m == nil || m.paymentTransitions == nil {
		return
	}
	m.paymentTransitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to), normalizeLabel(source)).Inc()
}

// ObserveGatewayCall records one gateway round trip. outcome is "ok", "error" or "timeout".
func (m *DomainMetrics) ObserveGatewayCall(provider, operation, outcome string, took time.Duration) {
	if m == nil || m.gatewayCalls == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation), normalizeLabel(outcome)).Observe(took.Seconds())
}

func (m *DomainMetrics) WebhookOutcome(provider, outcome string) {
	if m == nil || m.webhookOutcomes == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

func (m *DomainMetrics) ShipmentTransition(to string) {
	if m == nil || m.shipmentTransitions == nil {
		return
	}
	m.shipmentTransitions.WithLabelValues(normalizeLabel(to)).Inc()
}

func (m *DomainMetrics) CampaignRedeemed(campaignType string) {
	if m == nil || m.campaignRedemptions == nil {
		return
	}
	m.campaignRedemptions.WithLabelValues(normalizeLabel(campaignType)).Inc()
}
