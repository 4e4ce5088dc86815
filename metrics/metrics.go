// Package metrics exposes Prometheus instrumentation for the paymaster
// engine, wired in through the engine's lifecycle hooks.
package metrics

import (
	"errors"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"

	paymaster "github.com/StartaleGroup/scs-aa-paymasters"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	Validations       *prometheus.CounterVec
	Settlements       *prometheus.CounterVec
	SettleDuration    prometheus.Histogram
	OracleRejections  prometheus.Counter
	PremiumsCollected prometheus.Counter
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paymaster_validations_total",
			Help: "Validation decisions by mode and outcome (accepted, denied, rejected).",
		}, []string{"mode", "outcome"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paymaster_settlements_total",
			Help: "Settlements by mode and outcome (settled, failed).",
		}, []string{"mode", "outcome"}),
		SettleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "paymaster_settle_duration_seconds",
			Help:    "Wall time of settle calls.",
			Buckets: prometheus.DefBuckets,
		}),
		OracleRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paymaster_oracle_rejections_total",
			Help: "Settlements or validations rejected for stale or invalid oracle data.",
		}),
		PremiumsCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paymaster_premiums_collected_total",
			Help: "Sum of markup premiums credited to the fee collector, in wei.",
		}),
	}
	reg.MustRegister(m.Validations, m.Settlements, m.SettleDuration, m.OracleRejections, m.PremiumsCollected)
	return m
}

// Instrument attaches the collectors to a Paymaster via lifecycle hooks.
func (m *Metrics) Instrument(p *paymaster.Paymaster) {
	p.OnAfterValidate(func(hctx paymaster.ValidateResultContext) error {
		outcome := "accepted"
		if !hctx.Result.Accepted {
			outcome = "denied"
		}
		m.Validations.WithLabelValues(hctx.Mode.String(), outcome).Inc()
		return nil
	})
	p.OnValidateFailure(func(hctx paymaster.ValidateFailureContext) {
		m.Validations.WithLabelValues(hctx.Mode.String(), "rejected").Inc()
	})
	p.OnAfterSettle(func(hctx paymaster.SettleResultContext) error {
		m.Settlements.WithLabelValues(hctx.Mode.String(), "settled").Inc()
		m.SettleDuration.Observe(hctx.Duration.Seconds())
		if hctx.Result.Premium != nil {
			premium, _ := new(big.Float).SetInt(hctx.Result.Premium).Float64()
			m.PremiumsCollected.Add(premium)
		}
		return nil
	})
	p.OnSettleFailure(func(hctx paymaster.SettleFailureContext) {
		m.Settlements.WithLabelValues(hctx.Mode.String(), "failed").Inc()
		m.SettleDuration.Observe(hctx.Duration.Seconds())
		if errors.Is(hctx.Error, paymaster.ErrPriceStale) || errors.Is(hctx.Error, paymaster.ErrRoundRegression) || errors.Is(hctx.Error, paymaster.ErrPriceInvalid) {
			m.OracleRejections.Inc()
		}
	})
}
