package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics holds the service's prometheus instruments.
type Metrics struct {
	ordersCreated   prometheus.Counter
	capturesTotal   *prometheus.CounterVec
	admissionDenied prometheus.Counter
	usageDebits     prometheus.Counter
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "creditgate",
			Name:      "orders_created_total",
			Help:      "Payment orders created at the gateway.",
		}),
		capturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditgate",
			Name:      "captures_total",
			Help:      "Capture attempts by outcome.",
		}, []string{"outcome"}),
		admissionDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "creditgate",
			Name:      "admission_denied_total",
			Help:      "Order creations rejected by the admission controller.",
		}),
		usageDebits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "creditgate",
			Name:      "usage_debits_total",
			Help:      "Successful usage debits.",
		}),
	}

	for _, collector := range []prometheus.Collector{
		m.ordersCreated,
		m.capturesTotal,
		m.admissionDenied,
		m.usageDebits,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

func (m *Metrics) RecordCapture(outcome string) {
	m.capturesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordAdmissionDenied() {
	m.admissionDenied.Inc()
}

func (m *Metrics) RecordUsageDebit() {
	m.usageDebits.Inc()
}

func newDefault() (*Metrics, error) {
	return New(prometheus.DefaultRegisterer)
}

// Module registers service metrics with the default registry.
var Module = fx.Module("metrics",
	fx.Provide(newDefault),
)
