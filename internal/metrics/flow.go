package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Login flow metrics. They live in a standalone package so the flow and the
// HTTP host can both use them without importing each other.

var (
	FlowTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fedlogin_flow_transitions_total",
		Help: "Transiciones de estado del login federado",
	}, []string{"provider", "from", "to"})

	FlowOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fedlogin_flow_outcomes_total",
		Help: "Resultado de cada request procesado por el driver (redirect, prompt, success, abandon, error)",
	}, []string{"provider", "outcome"})

	AccountsProvisioned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fedlogin_accounts_provisioned_total",
		Help: "Cuentas creadas por el flujo, por modo (silent, password)",
	}, []string{"provider", "mode"})

	StepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fedlogin_step_duration_ms",
		Help:    "Latencia de cada paso en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"provider", "step"})
)

// Register registers the flow metrics on the given registry (or default if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{FlowTransitions, FlowOutcomes, AccountsProvisioned, StepDuration} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
