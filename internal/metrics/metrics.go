package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register and
// every helper no-ops until registration succeeds.
var (
	regOK atomic.Bool

	workerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flockd",
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Number of successful worker starts.",
		}, []string{"id"},
	)
	workerStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flockd",
			Subsystem: "worker",
			Name:      "stops_total",
			Help:      "Number of worker stops (graceful or kill).",
		}, []string{"id"},
	)
	workerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flockd",
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Number of worker restarts.",
		}, []string{"id"},
	)
	workersRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flockd",
			Subsystem: "pool",
			Name:      "workers_running",
			Help:      "Current number of active workers.",
		},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flockd",
			Subsystem: "pool",
			Name:      "queue_depth",
			Help:      "Last observed task queue depth.",
		},
	)
	scaleDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flockd",
			Subsystem: "scaler",
			Name:      "decisions_total",
			Help:      "Scale decisions by direction (up, down, none).",
		}, []string{"direction"},
	)
	workerCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flockd",
			Subsystem: "worker",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage per worker.",
		}, []string{"id"},
	)
	workerMem = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flockd",
			Subsystem: "worker",
			Name:      "mem_percent",
			Help:      "Memory usage percentage per worker.",
		}, []string{"id"},
	)
	requestOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flockd",
			Subsystem: "conn",
			Name:      "requests_total",
			Help:      "Outbound requests by outcome (ok, cached, deduped, rate_limited, failed).",
		}, []string{"outcome"},
	)
	requestRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flockd",
			Subsystem: "conn",
			Name:      "retries_total",
			Help:      "Outbound request retry attempts.",
		},
	)
	failovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flockd",
			Subsystem: "conn",
			Name:      "failovers_total",
			Help:      "Requests that fell over to a secondary endpoint.",
		},
	)
)

// Register registers all collectors with r. Safe to call multiple times.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		workerStarts, workerStops, workerRestarts, workersRunning, queueDepth,
		scaleDecisions, workerCPU, workerMem, requestOutcomes, requestRetries, failovers,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the DefaultGatherer; the caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart(id string) {
	if regOK.Load() {
		workerStarts.WithLabelValues(id).Inc()
	}
}
func IncStop(id string) {
	if regOK.Load() {
		workerStops.WithLabelValues(id).Inc()
	}
}
func IncRestart(id string) {
	if regOK.Load() {
		workerRestarts.WithLabelValues(id).Inc()
	}
}
func SetWorkersRunning(n int) {
	if regOK.Load() {
		workersRunning.Set(float64(n))
	}
}
func SetQueueDepth(n int) {
	if regOK.Load() {
		queueDepth.Set(float64(n))
	}
}
func IncScaleDecision(direction string) {
	if regOK.Load() {
		scaleDecisions.WithLabelValues(direction).Inc()
	}
}
func SetWorkerUsage(id string, cpu, mem float64) {
	if regOK.Load() {
		workerCPU.WithLabelValues(id).Set(cpu)
		workerMem.WithLabelValues(id).Set(mem)
	}
}
func DropWorkerUsage(id string) {
	if regOK.Load() {
		workerCPU.DeleteLabelValues(id)
		workerMem.DeleteLabelValues(id)
	}
}
func IncRequest(outcome string) {
	if regOK.Load() {
		requestOutcomes.WithLabelValues(outcome).Inc()
	}
}
func IncRetry() {
	if regOK.Load() {
		requestRetries.Inc()
	}
}
func IncFailover() {
	if regOK.Load() {
		failovers.Inc()
	}
}
