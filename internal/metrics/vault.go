package metrics

import (
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/utils"
	"github.com/prometheus/client_golang/prometheus"
)

type VaultMetrics struct {
	triggers        *prometheus.CounterVec
	borrowerActions *prometheus.CounterVec
	sagaOutcomes    *prometheus.CounterVec
	sagaIterations  prometheus.Histogram
	externalCalls   *prometheus.CounterVec
	compensations   *prometheus.CounterVec
	triggerDuration *prometheus.HistogramVec
	loan            prometheus.Gauge
	lockedColl      prometheus.Gauge
}

var (
	vaultOnce     sync.Once
	vaultRegistry *VaultMetrics
)

func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cdpvault_triggers_total",
				Help: "Count of vault triggers by name and result.",
			}, []string{"trigger", "result"}),
			borrowerActions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cdpvault_borrower_actions_total",
				Help: "Decisions returned by the LTV planner.",
			}, []string{"action"}),
			sagaOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cdpvault_saga_outcomes_total",
				Help: "Terminal outcomes of repayment sagas.",
			}, []string{"outcome"}),
			sagaIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "cdpvault_saga_iterations",
				Help:    "Redemption attempts used by finished repayment sagas.",
				Buckets: prometheus.LinearBuckets(0, 1, 10),
			}),
			externalCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cdpvault_external_calls_total",
				Help: "External calls issued to collaborators by kind and result.",
			}, []string{"kind", "result"}),
			compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cdpvault_compensations_total",
				Help: "Compensating calls run after a failed unit of work.",
			}, []string{"kind", "result"}),
			triggerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "cdpvault_trigger_duration_seconds",
				Help:    "Wall time of a trigger's unit of work.",
				Buckets: prometheus.DefBuckets,
			}, []string{"trigger"}),
			loan: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "cdpvault_loan_amount",
				Help: "Outstanding stable loan, in whole stable units.",
			}),
			lockedColl: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "cdpvault_locked_collateral",
				Help: "Collateral locked with the lender, in whole collateral units.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.triggers,
			vaultRegistry.borrowerActions,
			vaultRegistry.sagaOutcomes,
			vaultRegistry.sagaIterations,
			vaultRegistry.externalCalls,
			vaultRegistry.compensations,
			vaultRegistry.triggerDuration,
			vaultRegistry.loan,
			vaultRegistry.lockedColl,
		)
	})
	return vaultRegistry
}

func (m *VaultMetrics) ObserveTrigger(trigger string, err error, took time.Duration) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(trigger, result(err)).Inc()
	m.triggerDuration.WithLabelValues(trigger).Observe(took.Seconds())
}

func (m *VaultMetrics) ObserveBorrowerAction(action string) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	m.borrowerActions.WithLabelValues(action).Inc()
}

// ObserveSaga records a finished saga. partial is true when the iteration bound ended it early.
func (m *VaultMetrics) ObserveSaga(iterations uint8, partial bool) {
	if m == nil {
		return
	}
	outcome := "repaid"
	if partial {
		outcome = "partial"
	}
	m.sagaOutcomes.WithLabelValues(outcome).Inc()
	m.sagaIterations.Observe(float64(iterations))
}

func (m *VaultMetrics) ObserveSagaFailure() {
	if m == nil {
		return
	}
	m.sagaOutcomes.WithLabelValues("failed").Inc()
}

func (m *VaultMetrics) ObserveExternalCall(kind string, err error) {
	if m == nil {
		return
	}
	m.externalCalls.WithLabelValues(kind, result(err)).Inc()
}

func (m *VaultMetrics) ObserveCompensation(kind string, err error) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(kind, result(err)).Inc()
}

// SetPosition publishes the loan and locked collateral, scaled down by their denom exponents.
func (m *VaultMetrics) SetPosition(loan sdkmath.Int, stableExponent int, locked sdkmath.Int, collateralExponent int) {
	if m == nil {
		return
	}
	if v, err := utils.SDKIntToFloat64(loan, stableExponent); err == nil {
		m.loan.Set(v)
	}
	if v, err := utils.SDKIntToFloat64(locked, collateralExponent); err == nil {
		m.lockedColl.Set(v)
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
