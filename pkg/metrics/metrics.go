// Package metrics defines the Prometheus metrics exposed by the beacon-chain
// analytics backend: Processor/Module lifecycle and cadence, SlotProcessor
// throughput and lag per network/phase, and object-store/warehouse/state-store
// operation latency. Adapted from warren's pkg/metrics, whose cluster/Raft
// gauges had no home in this domain.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Module lifecycle metrics (pkg/module's Module/Processor contract).
	ProcessorsRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lab_processors_running",
			Help: "1 while a processor is started and 0 after it stops, by module and processor name; the processor=\"count\" series holds each running module's processor count",
		},
		[]string{"module", "processor"},
	)

	PeriodicCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lab_periodic_cycles_total",
			Help: "Total number of completed PeriodicSpec.Process calls, by processor and outcome",
		},
		[]string{"processor", "outcome"},
	)

	PeriodicCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lab_periodic_cycle_duration_seconds",
			Help:    "Time taken by a single PeriodicSpec.Process call in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"processor"},
	)

	// SlotProcessor (C8) metrics, by network and phase (head/middle/backlog).
	SlotsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lab_slots_processed_total",
			Help: "Total number of slots processed, by network, phase, and outcome",
		},
		[]string{"network", "phase", "outcome"},
	)

	SlotProcessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lab_slot_process_duration_seconds",
			Help:    "Time taken to process a single slot in seconds, by network and phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"network", "phase"},
	)

	SlotProcessorLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lab_slot_processor_lag_slots",
			Help: "Slots between the slot being processed and the phase's target slot (head target for middle, backlog target for backlog), by network and phase",
		},
		[]string{"network", "phase"},
	)

	// Object store (C1) metrics.
	ObjectStorePutDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lab_objectstore_put_duration_seconds",
			Help:    "Time taken by an object store put, by outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	ObjectStoreRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lab_objectstore_retries_total",
			Help: "Total number of object store operations retried after a transient failure",
		},
	)

	// Warehouse (ClickHouse) query metrics.
	WarehouseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lab_warehouse_query_duration_seconds",
			Help:    "Time taken by a warehouse query in seconds, by outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	WarehouseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lab_warehouse_queries_total",
			Help: "Total number of warehouse queries issued, by outcome",
		},
		[]string{"outcome"},
	)

	// State store (C2) metrics.
	StateStoreFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lab_statestore_flush_duration_seconds",
			Help:    "Time taken to flush a module's state to the object store",
			Buckets: prometheus.DefBuckets,
		},
	)

	StateStoreFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lab_statestore_flushes_total",
			Help: "Total number of state store flushes, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(ProcessorsRunning)
	prometheus.MustRegister(PeriodicCyclesTotal)
	prometheus.MustRegister(PeriodicCycleDuration)
	prometheus.MustRegister(SlotsProcessedTotal)
	prometheus.MustRegister(SlotProcessDuration)
	prometheus.MustRegister(SlotProcessorLag)
	prometheus.MustRegister(ObjectStorePutDuration)
	prometheus.MustRegister(ObjectStoreRetriesTotal)
	prometheus.MustRegister(WarehouseQueryDuration)
	prometheus.MustRegister(WarehouseQueriesTotal)
	prometheus.MustRegister(StateStoreFlushDuration)
	prometheus.MustRegister(StateStoreFlushesTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
