package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics implements feed.Observer and order.Observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	feedEvents     *prometheus.CounterVec
	feedConnected  prometheus.Gauge
	feedReconnects prometheus.Counter
	referencePrice prometheus.Gauge
	priceTicks     prometheus.Counter
	submissions    *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		feedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_total",
			Help:      "Daemon feed events by topic and decode result",
		}, []string{"topic", "result"}),

		feedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_connected",
			Help:      "1 while the daemon event stream is open",
		}),

		feedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_total",
			Help:      "Daemon event stream reconnect attempts",
		}),

		referencePrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reference_price",
			Help:      "Latest mark price from the reference feed",
		}),

		priceTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_ticks_total",
			Help:      "Reference price updates received",
		}),

		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_submissions_total",
			Help:      "Order submissions by outcome",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.feedEvents,
		m.feedConnected,
		m.feedReconnects,
		m.referencePrice,
		m.priceTicks,
		m.submissions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventApplied(topic string) {
	m.feedEvents.WithLabelValues(topic, "applied").Inc()
}

func (m *Metrics) EventRejected(topic string) {
	m.feedEvents.WithLabelValues(topic, "rejected").Inc()
}

func (m *Metrics) ConnectionChanged(connected bool) {
	if connected {
		m.feedConnected.Set(1)
	} else {
		m.feedConnected.Set(0)
	}
}

func (m *Metrics) Reconnecting() {
	m.feedReconnects.Inc()
}

func (m *Metrics) PriceTick(price decimal.Decimal) {
	m.priceTicks.Inc()
	m.referencePrice.Set(price.InexactFloat64())
}

func (m *Metrics) SubmissionFinished(result string) {
	m.submissions.WithLabelValues(result).Inc()
}
