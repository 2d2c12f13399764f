// Package metrics exposes Prometheus counters/gauges for the connector,
// mirroring the field set of the teacher's fabric.HubMetrics (messages
// routed/failed, peers connected) but backed by the real
// github.com/prometheus/client_golang client instead of hand-rolled atomics,
// and registered against a dedicated registry so an embedding application's
// own default registry isn't polluted.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Registry *prometheus.Registry

	FragmentsDispatched prometheus.Counter
	SessionsActive      prometheus.Gauge
	ReplyTimeouts       prometheus.Counter
	ConnectAttempts     prometheus.Counter
	LivenessUp          prometheus.Gauge
}

func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		FragmentsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fragments_dispatched_total",
			Help: "Total inbound fragments dispatched.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Sessions currently owned by this library instance.",
		}),
		ReplyTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reply_timeouts_total",
			Help: "Outstanding operation replies that exceeded their deadline.",
		}),
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connect_attempts_total",
			Help: "Connect/failover controller attempts across all engine channels.",
		}),
		LivenessUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "liveness_up",
			Help: "1 if the active engine connection is considered alive, 0 otherwise.",
		}),
	}
	reg.MustRegister(m.FragmentsDispatched, m.SessionsActive, m.ReplyTimeouts, m.ConnectAttempts, m.LivenessUp)
	return m
}
