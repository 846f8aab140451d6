package metrics

import "github.com/prometheus/client_golang/prometheus"

// IngressMetrics exposes counters/histograms for webhook ingress.
type IngressMetrics struct {
	receiveLatency    prometheus.Histogram
	signatureFailures *prometheus.CounterVec
	eventsTotal       *prometheus.CounterVec
}

func NewIngressMetrics(reg prometheus.Registerer) *IngressMetrics {
	m := &IngressMetrics{
		receiveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "converse",
			Subsystem: "webhook",
			Name:      "receive_latency_seconds",
			Help:      "Latency of webhook receipt up to durable storage",
			Buckets:   prometheus.DefBuckets,
		}),
		signatureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "converse",
			Subsystem: "webhook",
			Name:      "signature_failures_total",
			Help:      "Webhook deliveries whose signature did not verify",
		}, []string{"rejected"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "converse",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Normalized event units by type and outcome",
		}, []string{"event_type", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.receiveLatency, m.signatureFailures, m.eventsTotal)
	return m
}

func (m *IngressMetrics) ObserveReceive(seconds float64) {
	if m == nil {
		return
	}
	m.receiveLatency.Observe(seconds)
}

func (m *IngressMetrics) ObserveSignatureFailure(rejected bool) {
	if m == nil {
		return
	}
	label := "false"
	if rejected {
		label = "true"
	}
	m.signatureFailures.WithLabelValues(label).Inc()
}

func (m *IngressMetrics) ObserveEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// DispatchMetrics exposes counters for outbound message dispatch.
type DispatchMetrics struct {
	outboundTotal *prometheus.CounterVec
	retriesTotal  prometheus.Counter
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "converse",
			Subsystem: "dispatch",
			Name:      "outbound_total",
			Help:      "Outbound sends by terminal outcome",
		}, []string{"outcome"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "converse",
			Subsystem: "dispatch",
			Name:      "retries_total",
			Help:      "Outbound send retries scheduled",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.outboundTotal, m.retriesTotal)
	return m
}

func (m *DispatchMetrics) ObserveOutbound(outcome string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(outcome).Inc()
}

func (m *DispatchMetrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}
