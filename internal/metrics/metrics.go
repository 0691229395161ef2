// Package metrics exposes Prometheus counters and gauges for a tpmd port
// instance: attach/detach counts, hard-reset counts, the current explicit
// contract state and state-transition activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PortMetrics collects the metrics for a single registered port.
type PortMetrics struct {
	registry *prometheus.Registry

	attaches       prometheus.Counter
	detaches       prometheus.Counter
	hardResets     *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	explicitContract prometheus.Gauge
	powerRole      *prometheus.GaugeVec
}

// New creates a PortMetrics registered under the given port label, in its
// own registry so multiple ports can be mounted at distinct /metrics paths
// without collector name collisions.
func New(portLabel string) *PortMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"port": portLabel}

	pm := &PortMetrics{
		registry: registry,
		attaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "tpm",
			Name:        "attach_total",
			Help:        "Total number of Type-C attach events observed.",
			ConstLabels: constLabels,
		}),
		detaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "tpm",
			Name:        "detach_total",
			Help:        "Total number of Type-C detach events observed.",
			ConstLabels: constLabels,
		}),
		hardResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "tpm",
			Name:        "hard_reset_total",
			Help:        "Total number of hard resets, by initiator (local, remote).",
			ConstLabels: constLabels,
		}, []string{"initiator"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "tpm",
			Name:        "state_transition_total",
			Help:        "Total number of port state machine transitions, by destination state.",
			ConstLabels: constLabels,
		}, []string{"state"}),
		explicitContract: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "tpm",
			Name:        "explicit_contract",
			Help:        "1 if the port currently has an explicit PD power contract, 0 otherwise.",
			ConstLabels: constLabels,
		}),
		powerRole: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "tpm",
			Name:        "power_role",
			Help:        "1 for the power role currently held by this port, by role (source, sink).",
			ConstLabels: constLabels,
		}, []string{"role"}),
	}

	registry.MustRegister(
		pm.attaches,
		pm.detaches,
		pm.hardResets,
		pm.transitions,
		pm.explicitContract,
		pm.powerRole,
	)
	return pm
}

// Registry returns the Prometheus registry this instance's collectors are
// registered under, for mounting under promhttp.HandlerFor.
func (pm *PortMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// Attach records an attach event.
func (pm *PortMetrics) Attach() {
	pm.attaches.Inc()
}

// Detach records a detach event.
func (pm *PortMetrics) Detach() {
	pm.detaches.Inc()
}

// HardReset records a hard reset, local or remote-initiated.
func (pm *PortMetrics) HardReset(local bool) {
	if local {
		pm.hardResets.WithLabelValues("local").Inc()
		return
	}
	pm.hardResets.WithLabelValues("remote").Inc()
}

// Transition records a state machine transition into state.
func (pm *PortMetrics) Transition(state string) {
	pm.transitions.WithLabelValues(state).Inc()
}

// SetExplicitContract records whether the port currently has an explicit
// power contract.
func (pm *PortMetrics) SetExplicitContract(on bool) {
	if on {
		pm.explicitContract.Set(1)
	} else {
		pm.explicitContract.Set(0)
	}
}

// SetPowerRole records which power role (source or sink) the port currently
// holds.
func (pm *PortMetrics) SetPowerRole(source bool) {
	if source {
		pm.powerRole.WithLabelValues("source").Set(1)
		pm.powerRole.WithLabelValues("sink").Set(0)
	} else {
		pm.powerRole.WithLabelValues("source").Set(0)
		pm.powerRole.WithLabelValues("sink").Set(1)
	}
}
