package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	corepipeline "github.com/artpar/quickops/internal/core/pipeline"
)

// Run outcomes counted by Metrics.
const (
	OutcomeSuccess = "success"
	OutcomeGated   = "gated"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
	OutcomeInvalid = "invalid"
)

// Metrics records pipeline runs. A nil *Metrics records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

// NewMetrics creates the pipeline collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quickops",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quickops",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.stageDuration)
	}
	return m
}

func (m *Metrics) observeRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeStage(stage corepipeline.Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

// outcomeOf classifies a finished run.
func outcomeOf(res corepipeline.Result, err error) string {
	switch {
	case err == nil && res.Succeeded():
		return OutcomeSuccess
	case err == nil:
		return OutcomeGated
	case corepipeline.IsValidation(err):
		return OutcomeInvalid
	case corepipeline.IsTimeout(err):
		return OutcomeTimeout
	default:
		return OutcomeFailed
	}
}
