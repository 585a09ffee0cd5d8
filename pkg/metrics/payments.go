package metrics

import "github.com/prometheus/client_golang/prometheus"

// PaymentMetrics counts settlement outcomes by path (client confirm vs webhook).
type PaymentMetrics struct {
	settlements *prometheus.CounterVec
	webhooks    *prometheus.CounterVec
}

// NewPaymentMetrics registers payment counters on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_settlements_total",
		Help: "Order settlements by outcome and source.",
	}, []string{"outcome", "source"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_total",
		Help: "Processed gateway webhook events by result.",
	}, []string{"result"})
	reg.MustRegister(settlements, webhooks)
	return &PaymentMetrics{settlements: settlements, webhooks: webhooks}
}

// IncSettlement records a settlement attempt outcome.
func (p *PaymentMetrics) IncSettlement(outcome, source string) {
	if p == nil || p.settlements == nil {
		return
	}
	p.settlements.WithLabelValues(normalizeLabel(outcome), normalizeLabel(source)).Inc()
}

// IncWebhook records a webhook processing result.
func (p *PaymentMetrics) IncWebhook(result string) {
	if p == nil || p.webhooks == nil {
		return
	}
	p.webhooks.WithLabelValues(normalizeLabel(result)).Inc()
}
