package migration

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors of the planner and the executor. A nil *Metrics
// records nothing.
type Metrics struct {
	plans          *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	planDuration   *prometheus.HistogramVec
	submissions    *prometheus.CounterVec
	throttleBudget prometheus.Gauge
}

// NewMetrics creates and registers the collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		plans: registerMetric(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmmigrate_plans_total",
				Help: "Number of planning passes by policy and outcome",
			},
			[]string{"policy", "outcome"},
		)),
		decisions: registerMetric(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmmigrate_decisions_total",
				Help: "Number of migration decisions planned by policy",
			},
			[]string{"policy"},
		)),
		planDuration: registerMetric(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vmmigrate_plan_duration_seconds",
				Help:    "Time spent planning migrations",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"policy"},
		)),
		submissions: registerMetric(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmmigrate_job_submissions_total",
				Help: "Number of migration job submissions by outcome",
			},
			[]string{"outcome"},
		)),
		throttleBudget: registerMetric(reg, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vmmigrate_throttle_budget",
				Help: "Migrations allowed by the throttle in the last pass, -1 when unlimited",
			},
		)),
	}
}

// registerMetric registers c, reusing an already registered collector of the same name.
func registerMetric[P prometheus.Collector](reg prometheus.Registerer, c P) P {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(P); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) observePlan(policy PolicyID, outcome string, decisions int, seconds float64) {
	if m == nil {
		return
	}
	m.plans.WithLabelValues(string(policy), outcome).Inc()
	m.decisions.WithLabelValues(string(policy)).Add(float64(decisions))
	m.planDuration.WithLabelValues(string(policy)).Observe(seconds)
}

func (m *Metrics) observeBudget(budget int) {
	if m == nil {
		return
	}
	m.throttleBudget.Set(float64(budget))
}

func (m *Metrics) observeSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}
