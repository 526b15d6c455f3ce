// Package metrics exposes gateway instrumentation as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wukong-iot/wkpf-gateway/internal/transport"
)

// namespace prefixes every metric name.
const namespace = "wkpf"

// Gateway holds the gateway's collectors. It implements gateway.Metrics
// and the bridge sinks' publish hooks.
type Gateway struct {
	Requests         *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	Pending          prometheus.Gauge
	Updates          *prometheus.CounterVec
	DatagramsDropped *prometheus.CounterVec
	Published        *prometheus.CounterVec
	PublishErrors    *prometheus.CounterVec
}

// NewGateway creates the gateway collectors.
func NewGateway() *Gateway {
	return &Gateway{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "requests",
				Name:      "total",
				Help:      "Requests sent to nodes by kind and result (ok, rejected, timeout, error)",
			},
			[]string{"kind", "result"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "requests",
				Name:      "duration_seconds",
				Help:      "Time from send to response or timeout",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"kind"},
		),

		Pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "requests",
				Name:      "pending",
				Help:      "Requests awaiting a response",
			},
		),

		Updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "updates",
				Name:      "total",
				Help:      "PROPERTY_UPDATE datagrams by result (accepted, duplicate)",
			},
			[]string{"result"},
		),

		DatagramsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "datagrams",
				Name:      "dropped_total",
				Help:      "Inbound datagrams dropped by reason",
			},
			[]string{"reason"},
		),

		Published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "published_total",
				Help:      "Updates forwarded to outbound sinks",
			},
			[]string{"sink"},
		),

		PublishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "errors_total",
				Help:      "Failed forwards to outbound sinks",
			},
			[]string{"sink"},
		),
	}
}

// Collectors returns every collector for registration.
func (g *Gateway) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		g.Requests, g.RequestDuration, g.Pending, g.Updates,
		g.DatagramsDropped, g.Published, g.PublishErrors,
	}
}

// RequestCompleted records one request attempt.
func (g *Gateway) RequestCompleted(kind, result string, elapsed time.Duration) {
	g.Requests.WithLabelValues(kind, result).Inc()
	g.RequestDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// PendingChanged sets the pending request gauge.
func (g *Gateway) PendingChanged(n int) {
	g.Pending.Set(float64(n))
}

// UpdateReceived counts an inbound PROPERTY_UPDATE.
func (g *Gateway) UpdateReceived(duplicate bool) {
	result := "accepted"
	if duplicate {
		result = "duplicate"
	}
	g.Updates.WithLabelValues(result).Inc()
}

// DatagramDropped counts a dropped inbound datagram.
func (g *Gateway) DatagramDropped(reason string) {
	g.DatagramsDropped.WithLabelValues(reason).Inc()
}

// RecordPublish counts a forward to sink.
func (g *Gateway) RecordPublish(sink string, err error) {
	if err != nil {
		g.PublishErrors.WithLabelValues(sink).Inc()
		return
	}
	g.Published.WithLabelValues(sink).Inc()
}

// Registry owns the Prometheus registry served on /metrics.
type Registry struct {
	registry *prometheus.Registry
	Gateway  *Gateway
}

// NewRegistry creates a registry with the gateway collectors and the Go
// runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		Gateway:  NewGateway(),
	}
	r.registry.MustRegister(r.Gateway.Collectors()...)
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// StatsSource is anything reporting transport counters.
type StatsSource interface {
	Stats() transport.Stats
}

// RegisterTransport exposes a transport's counters under the given name.
func (r *Registry) RegisterTransport(name string, src StatsSource) error {
	labels := prometheus.Labels{"transport": name}
	counter := func(metric, help string, read func(transport.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "transport",
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(read(src.Stats())) })
	}

	for _, c := range []prometheus.Collector{
		counter("datagrams_tx_total", "Datagrams sent", func(s transport.Stats) uint64 { return s.DatagramsTx }),
		counter("datagrams_rx_total", "Datagrams received", func(s transport.Stats) uint64 { return s.DatagramsRx }),
		counter("datagrams_dropped_total", "Datagrams dropped by the transport", func(s transport.Stats) uint64 { return s.DatagramsDropped }),
		counter("errors_total", "Transport I/O errors", func(s transport.Stats) uint64 { return s.ErrorsTotal }),
	} {
		if err := r.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Prometheus returns the underlying registry.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

// Handler returns the /metrics HTTP handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
