// Package metrics exposes the scheduler's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle results.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Expression kinds.
const (
	ExprRequirement = "requirement"
	ExprRank        = "rank"
)

var (
	// Cycle metrics
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantix_sched_cycles_total",
			Help: "Total number of scheduling cycles by result",
		},
		[]string{"result"},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quantix_sched_cycle_duration_seconds",
			Help:    "Duration of a scheduling cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LastCycleTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantix_sched_last_cycle_timestamp_seconds",
			Help: "Unix time of the last completed scheduling cycle",
		},
	)

	// Snapshot metrics
	Hosts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantix_sched_hosts",
			Help: "Number of schedulable hosts in the last cycle",
		},
	)

	PendingVMs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantix_sched_pending_vms",
			Help: "Number of pending VMs in the last cycle",
		},
	)

	// Placement metrics
	VMsDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quantix_sched_vms_dispatched_total",
			Help: "Total number of VMs dispatched to a host",
		},
	)

	VMsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantix_sched_vms_rejected_total",
			Help: "Total number of VMs left pending by reason",
		},
		[]string{"reason"},
	)

	DispatchErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quantix_sched_dispatch_errors_total",
			Help: "Total number of dispatch commands refused or failed by the store",
		},
	)

	ExpressionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantix_sched_expression_errors_total",
			Help: "Total number of requirement or rank expressions that failed to evaluate",
		},
		[]string{"kind"},
	)

	// Leader metrics
	IsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantix_sched_is_leader",
			Help: "Whether this instance runs scheduling cycles (1 = leader, 0 = follower)",
		},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(LastCycleTimestamp)
	prometheus.MustRegister(Hosts)
	prometheus.MustRegister(PendingVMs)
	prometheus.MustRegister(VMsDispatched)
	prometheus.MustRegister(VMsRejected)
	prometheus.MustRegister(DispatchErrors)
	prometheus.MustRegister(ExpressionErrors)
	prometheus.MustRegister(IsLeader)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetLeader records the leadership state.
func SetLeader(leader bool) {
	if leader {
		IsLeader.Set(1)
		return
	}
	IsLeader.Set(0)
}

// ObserveCycle records a finished cycle.
func ObserveCycle(result string, started time.Time, duration time.Duration) {
	CyclesTotal.WithLabelValues(result).Inc()
	CycleDuration.Observe(duration.Seconds())
	LastCycleTimestamp.Set(float64(started.Add(duration).Unix()))
}
