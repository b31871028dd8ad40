package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	InstancesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benchroom_instances_created_total",
			Help: "Total number of instance creation attempts by result.",
		},
		[]string{"result"},
	)

	InstanceCreateDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "benchroom_instance_create_duration_seconds",
			Help:    "Duration of instance creation in seconds, including clone and container start.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"result"},
	)

	InstancesDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benchroom_instances_deleted_total",
			Help: "Total number of instance deletions by container removal outcome.",
		},
		[]string{"container_removed"},
	)

	InstancesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "benchroom_instances_active",
			Help: "Number of instances recorded in the ledger.",
		},
	)

	InspectFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "benchroom_sandbox_inspect_failures_total",
			Help: "Total number of failed sandbox inspections.",
		},
	)

	TimersStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benchroom_timers_started_total",
			Help: "Total number of timers started by type.",
		},
		[]string{"timer_type"},
	)

	TimersPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "benchroom_timers_pruned_total",
			Help: "Total number of expired timers pruned.",
		},
	)

	PhaseTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benchroom_phase_transitions_total",
			Help: "Total number of interview phase transitions by target phase.",
		},
		[]string{"phase"},
	)

	ModelTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benchroom_model_turns_total",
			Help: "Total number of model turns by phase and status.",
		},
		[]string{"phase", "status"},
	)
)

var registerOnce sync.Once

// Register registers all custom benchroom metrics with the default
// Prometheus registry. Repeated calls are no-ops.
func Register() {
	registerOnce.Do(register)
}

func register() {
	prometheus.MustRegister(
		InstancesCreatedTotal,
		InstanceCreateDurationSeconds,
		InstancesDeletedTotal,
		InstancesActive,
		InspectFailuresTotal,
		TimersStartedTotal,
		TimersPrunedTotal,
		PhaseTransitionsTotal,
		ModelTurnsTotal,
	)
}
