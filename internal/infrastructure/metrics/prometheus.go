package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"emojivote/internal/ports"
)

const namespace = "emojivote"

type Prometheus struct {
	gatherer prometheus.Gatherer

	eventsHandled  *prometheus.CounterVec
	eventsDropped  *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	gatewayCalls   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	openProposals  prometheus.Gauge
}

var _ ports.Metrics = (*Prometheus)(nil)

// NewPrometheus registers the collectors on a fresh registry that also carries
// the Go runtime and process collectors.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newPrometheus(registry, registry)
}

func newPrometheus(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Prometheus {
	factory := promauto.With(registerer)

	return &Prometheus{
		gatherer: gatherer,
		eventsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_handled_total",
			Help:      "Inbound events processed by the worker pool",
		}, []string{"kind", "outcome"}),
		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Inbound events rejected because the queue was full",
		}, []string{"kind"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposal_transitions_total",
			Help:      "Proposal state transitions by target state",
		}, []string{"state"}),
		gatewayCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_calls_total",
			Help:      "Calls to the external emoji directory",
		}, []string{"method", "outcome"}),
		gatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "directory_call_seconds",
			Help:      "Latency of calls to the external emoji directory",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		openProposals: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_proposals",
			Help:      "Proposals in state new seen by the last sweep",
		}),
	}
}

func (p *Prometheus) EventHandled(kind string, outcome string) {
	p.eventsHandled.WithLabelValues(kind, outcome).Inc()
}

func (p *Prometheus) EventDropped(kind string) {
	p.eventsDropped.WithLabelValues(kind).Inc()
}

func (p *Prometheus) ProposalTransitioned(to string) {
	p.transitions.WithLabelValues(to).Inc()
}

func (p *Prometheus) GatewayCall(method string, outcome string, elapsed time.Duration) {
	p.gatewayCalls.WithLabelValues(method, outcome).Inc()
	p.gatewayLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (p *Prometheus) OpenProposals(count int) {
	p.openProposals.Set(float64(count))
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}
