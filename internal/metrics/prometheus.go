package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	logx "wakebot/pkg/logx"
)

// PrometheusSink implements Sink with client_golang collectors.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	reconcilePasses   *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	rowsSeen          prometheus.Counter
	rowsRejected      prometheus.Counter
	ledgerSize        prometheus.Gauge

	jobsScheduled *prometheus.CounterVec
	jobsFired     prometheus.Counter
	jobsAbandoned prometheus.Counter
	jobsPending   prometheus.Gauge
	tasksTotal    *prometheus.CounterVec
	taskDuration  prometheus.Histogram

	sendsTotal   *prometheus.CounterVec
	sendDuration *prometheus.HistogramVec
}

func NewPrometheusSink(reg prometheus.Registerer, log logx.Logger) *PrometheusSink {
	s := &PrometheusSink{
		reconcilePasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wakebot_reconcile_passes_total",
			Help: "Reconciliation passes by result.",
		}, []string{"result"}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wakebot_reconcile_duration_seconds",
			Help:    "Duration of reconciliation passes in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		rowsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wakebot_reconcile_rows_total",
			Help: "Data rows examined across passes.",
		}),
		rowsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wakebot_reconcile_rows_rejected_total",
			Help: "Rows rejected by validation.",
		}),
		ledgerSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wakebot_ledger_entries",
			Help: "Rows recorded as scheduled.",
		}),
		jobsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wakebot_jobs_scheduled_total",
			Help: "One-time jobs added to the timer engine, by kind.",
		}, []string{"kind"}),
		jobsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wakebot_jobs_fired_total",
			Help: "One-time jobs whose timer fired.",
		}),
		jobsAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wakebot_jobs_abandoned_total",
			Help: "Jobs dropped at shutdown before running.",
		}),
		jobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wakebot_jobs_pending",
			Help: "One-time jobs waiting for their fire time.",
		}),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wakebot_tasks_total",
			Help: "Executed job actions by result.",
		}, []string{"result"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wakebot_task_duration_seconds",
			Help:    "Job action duration in seconds, including per-recipient retries.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		sendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wakebot_sends_total",
			Help: "Per-recipient deliveries by channel and outcome.",
		}, []string{"channel", "outcome"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wakebot_send_attempt_duration_seconds",
			Help:    "Latency of a single delivery attempt in seconds (excludes backoff).",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"wakebot_reconcile_passes_total":        s.reconcilePasses,
		"wakebot_reconcile_duration_seconds":    s.reconcileDuration,
		"wakebot_reconcile_rows_total":          s.rowsSeen,
		"wakebot_reconcile_rows_rejected_total": s.rowsRejected,
		"wakebot_ledger_entries":                s.ledgerSize,
		"wakebot_jobs_scheduled_total":          s.jobsScheduled,
		"wakebot_jobs_fired_total":              s.jobsFired,
		"wakebot_jobs_abandoned_total":          s.jobsAbandoned,
		"wakebot_jobs_pending":                  s.jobsPending,
		"wakebot_tasks_total":                   s.tasksTotal,
		"wakebot_task_duration_seconds":         s.taskDuration,
		"wakebot_sends_total":                   s.sendsTotal,
		"wakebot_send_attempt_duration_seconds": s.sendDuration,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn("metrics: register failed", logx.String("metric", name), logx.Err(err))
		}
	}
	return s
}

func (s *PrometheusSink) ReconcileCompleted(d time.Duration, rows, scheduled, rejected int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.reconcilePasses.WithLabelValues(result).Inc()
	s.reconcileDuration.Observe(d.Seconds())
	s.rowsSeen.Add(float64(rows))
	s.rowsRejected.Add(float64(rejected))
}

func (s *PrometheusSink) LedgerSize(n int) { s.ledgerSize.Set(float64(n)) }

func (s *PrometheusSink) JobScheduled(kind string) { s.jobsScheduled.WithLabelValues(kind).Inc() }
func (s *PrometheusSink) JobFired()                { s.jobsFired.Inc() }
func (s *PrometheusSink) JobsAbandoned(n int)      { s.jobsAbandoned.Add(float64(n)) }
func (s *PrometheusSink) JobsPending(n int)        { s.jobsPending.Set(float64(n)) }

func (s *PrometheusSink) TaskCompleted(d time.Duration, failed bool) {
	result := "ok"
	if failed {
		result = "error"
	}
	s.tasksTotal.WithLabelValues(result).Inc()
	s.taskDuration.Observe(d.Seconds())
}

func (s *PrometheusSink) SendOutcome(channel, outcome string) {
	s.sendsTotal.WithLabelValues(channel, outcome).Inc()
}

func (s *PrometheusSink) SendAttempt(channel string, d time.Duration) {
	s.sendDuration.WithLabelValues(channel).Observe(d.Seconds())
}

var _ Sink = (*PrometheusSink)(nil)
