// Package metrics exposes the Prometheus collectors for the ledger, the chat
// front end, and the background workers.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"housefees/internal/core"
)

// Outcome label values.
const (
	OutcomeOK     = "ok"
	OutcomeError  = "error"
	OutcomeDenied = "denied"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	PaymentsRecorded *prometheus.CounterVec
	AmountCollected  prometheus.Counter
	PersistFailures  prometheus.Counter
	Resets           prometheus.Counter
	Backups          *prometheus.CounterVec
	Restores         *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	MirrorSyncs      *prometheus.CounterVec
	ChatRequests     *prometheus.CounterVec
	ChatDuration     *prometheus.HistogramVec
	RateLimited      prometheus.Counter
	LedgerUnits      prometheus.Gauge
	LedgerCollected  prometheus.Gauge
	LedgerFullyPaid  prometheus.Gauge
}

// New registers the collectors with reg. Tests pass their own
// prometheus.NewRegistry(); cmd passes prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PaymentsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "housefees_payments_recorded_total",
			Help: "Payments applied to the ledger, by denomination",
		}, []string{"amount"}),
		AmountCollected: f.NewCounter(prometheus.CounterOpts{
			Name: "housefees_amount_collected_iqd_total",
			Help: "Sum of recorded payments in IQD since process start",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "housefees_persist_failures_total",
			Help: "Mutations that were applied in memory but could not be persisted",
		}),
		Resets: f.NewCounter(prometheus.CounterOpts{
			Name: "housefees_resets_total",
			Help: "Billing cycle resets",
		}),
		Backups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "housefees_backups_total",
			Help: "Backups captured and delivered, by outcome",
		}, []string{"outcome"}),
		Restores: f.NewCounterVec(prometheus.CounterOpts{
			Name: "housefees_restores_total",
			Help: "Snapshot restore attempts, by outcome",
		}, []string{"outcome"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "housefees_events_published_total",
			Help: "Ledger events published to the broker, by outcome",
		}, []string{"outcome"}),
		MirrorSyncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "housefees_mirror_syncs_total",
			Help: "Spreadsheet mirror syncs, by outcome",
		}, []string{"outcome"}),
		ChatRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "housefees_chat_requests_total",
			Help: "Chat requests handled, by kind and outcome",
		}, []string{"kind", "outcome"}),
		ChatDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "housefees_chat_request_duration_seconds",
			Help:    "Time spent handling a chat request",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"kind"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "housefees_chat_rate_limited_total",
			Help: "Chat requests dropped by the per-caller rate limit",
		}),
		LedgerUnits: f.NewGauge(prometheus.GaugeOpts{
			Name: "housefees_ledger_units",
			Help: "Units in the ledger",
		}),
		LedgerCollected: f.NewGauge(prometheus.GaugeOpts{
			Name: "housefees_ledger_collected_iqd",
			Help: "Total collected in the current billing cycle",
		}),
		LedgerFullyPaid: f.NewGauge(prometheus.GaugeOpts{
			Name: "housefees_ledger_fully_paid_units",
			Help: "Units that reached the monthly fee in the current billing cycle",
		}),
	}
}

// ObservePayment records one applied payment.
func (m *Metrics) ObservePayment(amount int64) {
	if m == nil {
		return
	}
	m.PaymentsRecorded.WithLabelValues(strconv.FormatInt(amount, 10)).Inc()
	m.AmountCollected.Add(float64(amount))
}

func (m *Metrics) IncPersistFailure() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) IncReset() {
	if m == nil {
		return
	}
	m.Resets.Inc()
}

func (m *Metrics) ObserveBackup(err error) {
	if m == nil {
		return
	}
	m.Backups.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) ObserveRestore(err error) {
	if m == nil {
		return
	}
	m.Restores.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) ObservePublish(err error) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) ObserveMirrorSync(err error) {
	if m == nil {
		return
	}
	m.MirrorSyncs.WithLabelValues(outcome(err)).Inc()
}

// ObserveChat records a handled chat request. Call with time.Now() taken at
// the start of handling.
func (m *Metrics) ObserveChat(kind, result string, start time.Time) {
	if m == nil {
		return
	}
	m.ChatRequests.WithLabelValues(kind, result).Inc()
	m.ChatDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// SetLedger publishes the aggregate ledger view as gauges.
func (m *Metrics) SetLedger(st core.Stats) {
	if m == nil {
		return
	}
	m.LedgerUnits.Set(float64(st.Units))
	m.LedgerCollected.Set(float64(st.TotalCollected))
	m.LedgerFullyPaid.Set(float64(st.FullyPaid))
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
