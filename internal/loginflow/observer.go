package loginflow

import (
	"time"

	"github.com/dropDatabas3/fedlogin/internal/metrics"
)

// Observer is notified of flow progress. Implementations must be cheap and
// must not block.
type Observer interface {
	Transition(provider string, from, to Step)
	Outcome(provider string, outcome Outcome)
	Provisioned(provider, mode string)
	StepDone(provider string, step Step, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) Transition(string, Step, Step)        {}
func (nopObserver) Outcome(string, Outcome)              {}
func (nopObserver) Provisioned(string, string)           {}
func (nopObserver) StepDone(string, Step, time.Duration) {}

// MetricsObserver records flow progress in the Prometheus collectors of
// package metrics.
type MetricsObserver struct{}

func (MetricsObserver) Transition(provider string, from, to Step) {
	metrics.FlowTransitions.WithLabelValues(provider, string(from), string(to)).Inc()
}

func (MetricsObserver) Outcome(provider string, outcome Outcome) {
	metrics.FlowOutcomes.WithLabelValues(provider, string(outcome)).Inc()
}

func (MetricsObserver) Provisioned(provider, mode string) {
	metrics.AccountsProvisioned.WithLabelValues(provider, mode).Inc()
}

func (MetricsObserver) StepDone(provider string, step Step, d time.Duration) {
	metrics.StepDuration.WithLabelValues(provider, string(step)).Observe(float64(d.Milliseconds()))
}
