// Package metrics exposes run statistics as prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ohowland/cgc_acopf/internal/pkg/report"
)

const namespace = "acopf"

// Collector records finished runs.
type Collector struct {
	reg        *prometheus.Registry
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	solveTime  *prometheus.HistogramVec
	totalTime  *prometheus.HistogramVec
	iterations prometheus.Histogram
	variables  *prometheus.GaugeVec
	rows       *prometheus.GaugeVec
	objective  *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by model type and solver status.",
		}, []string{"model", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Runs aborted before a solver status was reached, by stage.",
		}, []string{"stage"}),
		solveTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solve_seconds",
			Help:      "Time spent in the solver.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"model"}),
		totalTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_seconds",
			Help:      "Time from loading the case to the solved model.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"model"}),
		iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solver_iterations",
			Help:      "Interior point iterations per run.",
			Buckets:   prometheus.LinearBuckets(0, 10, 16),
		}),
		variables: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_variables",
			Help:      "Variables of the last model built for a case.",
		}, []string{"case", "model"}),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_rows",
			Help:      "Constraint rows of the last model built for a case.",
		}, []string{"case", "model"}),
		objective: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "objective",
			Help:      "Unscaled generation cost of the last run of a case.",
		}, []string{"case", "model"}),
	}
	c.reg.MustRegister(c.runs, c.failures, c.solveTime, c.totalTime, c.iterations,
		c.variables, c.rows, c.objective)
	return c
}

// Registry the collectors live on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

// Observe records a finished run.
func (c *Collector) Observe(s report.Summary) {
	c.runs.WithLabelValues(s.Model, s.Status).Inc()
	c.solveTime.WithLabelValues(s.Model).Observe(s.SolveTime.Seconds())
	c.totalTime.WithLabelValues(s.Model).Observe(s.TotalTime.Seconds())
	c.iterations.Observe(float64(s.Iterations))
	c.variables.WithLabelValues(s.Case, s.Model).Set(float64(s.Variables))
	c.rows.WithLabelValues(s.Case, s.Model).Set(float64(s.Rows))
	c.objective.WithLabelValues(s.Case, s.Model).Set(s.Objective)
}

// Fail records a run aborted at stage.
func (c *Collector) Fail(stage string) {
	c.failures.WithLabelValues(stage).Inc()
}

// Handler serves the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
