// Package metrics exposes the solver engine's Prometheus instrumentation.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "solver_engine"

var timeBuckets = []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

type metrics struct {
	timeLimit     prometheus.Histogram
	remainingTime prometheus.Histogram
	solveRequests prometheus.Counter
	solveErrors   *prometheus.CounterVec
	solutions     prometheus.Counter
}

var (
	once sync.Once
	m    *metrics
)

func get() *metrics {
	once.Do(func() {
		m = &metrics{
			timeLimit: prometheus.NewHistogram(prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      "time_limit_seconds",
				Help:      "The amount of time this solver engine has for solving.",
				Buckets:   timeBuckets,
			}),
			remainingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      "remaining_time_seconds",
				Help:      "The amount of time this solver engine has left when it finished solving.",
				Buckets:   timeBuckets,
			}),
			solveRequests: prometheus.NewCounter(prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "solve_requests_total",
				Help:      "Total number of requests that got sent to the DEX API.",
			}),
			solveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "solve_errors_total",
				Help:      "Errors that occurred during solving.",
			}, []string{"reason"}),
			solutions: prometheus.NewCounter(prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "solutions_total",
				Help:      "The number of solutions that were found.",
			}),
		}
		prometheus.MustRegister(
			m.timeLimit,
			m.remainingTime,
			m.solveRequests,
			m.solveErrors,
			m.solutions,
		)
	})
	return m
}

// Solve records the time budget available for solving an auction.
func Solve(deadline time.Duration) {
	get().timeLimit.Observe(deadline.Seconds())
}

// Solved records the time remaining once solving finished, and the
// number of solutions produced.
func Solved(remaining time.Duration, numSolutions int) {
	get().remainingTime.Observe(remaining.Seconds())
	get().solutions.Add(float64(numSolutions))
}

// SolveError increments the error counter for the given reason.
func SolveError(reason string) {
	get().solveErrors.WithLabelValues(reason).Inc()
}

// RequestSent increments the counter of requests sent to a DEX API.
func RequestSent() {
	get().solveRequests.Inc()
}
