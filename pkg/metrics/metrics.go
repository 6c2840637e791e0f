// Package metrics exposes Prometheus collectors for group lifecycle,
// binding and fault handling.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tsgd"

// Result labels
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	groupsOpened   prometheus.Counter
	groupsReleased prometheus.Counter
	groupsInUse    prometheus.Gauge
	binds          *prometheus.CounterVec
	unbinds        *prometheus.CounterVec
	aborts         *prometheus.CounterVec
	preemptFails   prometheus.Counter
	methodBufs     *prometheus.CounterVec
	recoveries     prometheus.Counter
}

// New creates collectors registered on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		groupsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tsg", Name: "opened_total",
			Help: "Groups opened.",
		}),
		groupsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tsg", Name: "released_total",
			Help: "Groups whose last reference was dropped.",
		}),
		groupsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tsg", Name: "in_use",
			Help: "Group slots currently in use.",
		}),
		binds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "binds_total",
			Help: "Channel bind attempts by result.",
		}, []string{"result"}),
		unbinds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "unbinds_total",
			Help: "Channel unbind attempts by result.",
		}, []string{"result"}),
		aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tsg", Name: "aborts_total",
			Help: "Group aborts by result.",
		}, []string{"result"}),
		preemptFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tsg", Name: "preempt_failures_total",
			Help: "Preemptions that failed or timed out.",
		}),
		methodBufs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tsg", Name: "method_buffer_allocs_total",
			Help: "Engine method buffer allocations by result.",
		}, []string{"result"}),
		recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "runlist", Name: "recoveries_total",
			Help: "Runlist fault recoveries.",
		}),
	}

	reg.MustRegister(
		m.groupsOpened, m.groupsReleased, m.groupsInUse,
		m.binds, m.unbinds, m.aborts,
		m.preemptFails, m.methodBufs, m.recoveries,
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// GroupOpened records a successful open
func (m *Metrics) GroupOpened() {
	if m == nil {
		return
	}
	m.groupsOpened.Inc()
	m.groupsInUse.Inc()
}

// GroupReleased records a group teardown
func (m *Metrics) GroupReleased() {
	if m == nil {
		return
	}
	m.groupsReleased.Inc()
	m.groupsInUse.Dec()
}

// Bind records a bind attempt
func (m *Metrics) Bind(err error) {
	if m == nil {
		return
	}
	m.binds.WithLabelValues(result(err)).Inc()
}

// Unbind records an unbind attempt
func (m *Metrics) Unbind(err error) {
	if m == nil {
		return
	}
	m.unbinds.WithLabelValues(result(err)).Inc()
}

// Abort records an abort
func (m *Metrics) Abort(err error) {
	if m == nil {
		return
	}
	m.aborts.WithLabelValues(result(err)).Inc()
}

// PreemptFailed records a failed preemption
func (m *Metrics) PreemptFailed() {
	if m == nil {
		return
	}
	m.preemptFails.Inc()
}

// MethodBufferAlloc records a method buffer set allocation
func (m *Metrics) MethodBufferAlloc(err error) {
	if m == nil {
		return
	}
	m.methodBufs.WithLabelValues(result(err)).Inc()
}

// RunlistRecovered records a runlist recovery pass
func (m *Metrics) RunlistRecovered() {
	if m == nil {
		return
	}
	m.recoveries.Inc()
}
