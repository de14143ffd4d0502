package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Accept outcomes.
const (
	AcceptWon      = "won"
	AcceptConflict = "conflict"
	AcceptNotFound = "not_found"
	AcceptError    = "error"
)

// Delivery outcomes.
const (
	Delivered = "delivered"
	Dropped   = "dropped"
)

// Recorder receives the counters the store and notifier emit.
type Recorder interface {
	ProblemCreated(category string)
	AcceptResult(result string)
	Delivery(result string)
	ConnectionOpened()
	ConnectionClosed()
	SubscriptionAdded()
	SubscriptionRemoved()
}

// Nop discards everything.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) ProblemCreated(string) {}
func (Nop) AcceptResult(string)   {}
func (Nop) Delivery(string)       {}
func (Nop) ConnectionOpened()     {}
func (Nop) ConnectionClosed()     {}
func (Nop) SubscriptionAdded()    {}
func (Nop) SubscriptionRemoved()  {}

// Prometheus is a Recorder backed by a private registry.
type Prometheus struct {
	reg *prometheus.Registry

	problemsCreated *prometheus.CounterVec
	accepts         *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	connections     prometheus.Gauge
	subscriptions   prometheus.Gauge
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus registers the collectors under namespace (default "ezywork").
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "ezywork"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Prometheus{
		reg: reg,
		problemsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "problems",
			Name:      "created_total",
			Help:      "Problems created, by category.",
		}, []string{"category"}),
		accepts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "problems",
			Name:      "accept_total",
			Help:      "Accept attempts by outcome.",
		}, []string{"result"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "deliveries_total",
			Help:      "Per-connection event deliveries by outcome.",
		}, []string{"result"}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "connections",
			Help:      "Live worker connections.",
		}),
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "subscriptions",
			Help:      "Connection-to-channel subscriptions.",
		}),
	}
}

func (p *Prometheus) ProblemCreated(category string) {
	p.problemsCreated.WithLabelValues(category).Inc()
}

func (p *Prometheus) AcceptResult(result string) { p.accepts.WithLabelValues(result).Inc() }
func (p *Prometheus) Delivery(result string)     { p.deliveries.WithLabelValues(result).Inc() }
func (p *Prometheus) ConnectionOpened()          { p.connections.Inc() }
func (p *Prometheus) ConnectionClosed()          { p.connections.Dec() }
func (p *Prometheus) SubscriptionAdded()         { p.subscriptions.Inc() }
func (p *Prometheus) SubscriptionRemoved()       { p.subscriptions.Dec() }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

// Registry exposes the underlying registry for tests.
func (p *Prometheus) Registry() *prometheus.Registry { return p.reg }
