// Package metrics holds the prometheus collectors shared by the bridge.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TelemetryLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carryout_telemetry_lines_total",
		Help: "Telemetry lines read from the controller, by parsed kind.",
	}, []string{"kind"})

	ConvergenceWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carryout_convergence_wait_seconds",
		Help:    "Time from an axis move command until the controller reports the target angle.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"axis", "result"})

	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rotctld_commands_total",
		Help: "rotctld commands received, by command letter.",
	}, []string{"command"})

	Moves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rotctld_moves_total",
		Help: "Set-position requests, by result.",
	}, []string{"result"})
)

// ObserveWait records a finished convergence wait.
func ObserveWait(axis string, err error, start time.Time) {
	result := "converged"
	if err != nil {
		result = "error"
	}
	ConvergenceWait.WithLabelValues(axis, result).Observe(time.Since(start).Seconds())
}
