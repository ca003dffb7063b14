package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DomainMetrics tracks the marketplace counters the on-call dashboards watch.
type DomainMetrics struct {
	ordersCreated      *prometheus.CounterVec
	checkoutFailures   *prometheus.CounterVec
	orderTransitions   *prometheus.CounterVec
	refunds            *prometheus.CounterVec
	walletRejections   prometheus.Counter
	outboxPublished    prometheus.Counter
	outboxDeadLettered prometheus.Counter
}

// NewDomainMetrics registers the marketplace metrics on the provided registerer.
func NewDomainMetrics(reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		return &DomainMetrics{}
	}
	ordersCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Vendor orders created at checkout.",
	}, []string{"payment_method"})
	checkoutFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_vendor_failures_total",
		Help: "Per-vendor order creation failures during checkout.",
	}, []string{"reason"})
	orderTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Order lifecycle transitions by target status.",
	}, []string{"to_status"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_total",
		Help: "Refunds recorded by target.",
	}, []string{"target"})
	walletRejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallet_debit_rejections_total",
		Help: "Wallet debits rejected for insufficient balance.",
	})
	outboxPublished := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbox_events_published_total",
		Help: "Outbox events successfully published.",
	})
	outboxDeadLettered := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbox_events_dead_lettered_total",
		Help: "Outbox events moved to the dead letter table.",
	})
	reg.MustRegister(
		ordersCreated,
		checkoutFailures,
		orderTransitions,
		refunds,
		walletRejections,
		outboxPublished,
		outboxDeadLettered,
	)
	return &DomainMetrics{
		ordersCreated:      ordersCreated,
		checkoutFailures:   checkoutFailures,
		orderTransitions:   orderTransitions,
		refunds:            refunds,
		walletRejections:   walletRejections,
		outboxPublished:    outboxPublished,
		outboxDeadLettered: outboxDeadLettered,
	}
}

// IncOrdersCreated counts one created order for the payment method.
func (m *DomainMetrics) IncOrdersCreated(paymentMethod string) {
	if m == nil || m.ordersCreated == nil {
		return
	}
	m.ordersCreated.WithLabelValues(normalizeLabel(paymentMethod)).Inc()
}

// IncCheckoutFailure counts one vendor slice that failed during checkout.
func (m *DomainMetrics) IncCheckoutFailure(reason string) {
	if m == nil || m.checkoutFailures == nil {
		return
	}
	m.checkoutFailures.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncOrderTransition counts one lifecycle transition.
func (m *DomainMetrics) IncOrderTransition(toStatus string) {
	if m == nil || m.orderTransitions == nil {
		return
	}
	m.orderTransitions.WithLabelValues(normalizeLabel(toStatus)).Inc()
}

// IncRefund counts one recorded refund by target.
func (m *DomainMetrics) IncRefund(target string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(target)).Inc()
}

// IncWalletRejection counts one insufficient-balance debit rejection.
func (m *DomainMetrics) IncWalletRejection() {
	if m == nil || m.walletRejections == nil {
		return
	}
	m.walletRejections.Inc()
}

// IncOutboxPublished counts one published outbox event.
func (m *DomainMetrics) IncOutboxPublished() {
	if m == nil || m.outboxPublished == nil {
		return
	}
	m.outboxPublished.Inc()
}

// IncOutboxDeadLettered counts one event moved to the DLQ.
func (m *DomainMetrics) IncOutboxDeadLettered() {
	if m == nil || m.outboxDeadLettered == nil {
		return
	}
	m.outboxDeadLettered.Inc()
}
