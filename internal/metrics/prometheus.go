package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "outreach/pkg/logx"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	cyclesTotal   *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	queueLength   prometheus.Gauge

	attemptsTotal *prometheus.CounterVec
	outcomesTotal *prometheus.CounterVec
	denialsTotal  *prometheus.CounterVec

	notifierDrops prometheus.Counter
}

func NewPrometheusSink(reg prometheus.Registerer, log logx.Logger) *PrometheusSink {
	s := &PrometheusSink{
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_cycles_total",
			Help: "Delivery cycles by result (ok, error, skipped).",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outreach_cycle_duration_seconds",
			Help:    "Wall time of one discovery+delivery cycle, including pacing waits.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outreach_queue_length",
			Help: "Eligible tasks produced by the last cycle.",
		}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_delivery_attempts_total",
			Help: "Send invocations by result (ok, transient, terminal, skipped).",
		}, []string{"result"}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_delivery_outcomes_total",
			Help: "Recorded task outcomes.",
		}, []string{"outcome"}),
		denialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_gate_denials_total",
			Help: "Rate gate denials by decision.",
		}, []string{"decision"}),
		notifierDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreach_notifier_dropped_total",
			Help: "Reports dropped because the notifier queue was full.",
		}),
	}
	for _, c := range []prometheus.Collector{
		s.cyclesTotal, s.cycleDuration, s.queueLength,
		s.attemptsTotal, s.outcomesTotal, s.denialsTotal, s.notifierDrops,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn("metrics: register failed", logx.Err(err))
		}
	}
	return s
}

func (s *PrometheusSink) CycleCompleted(result string, d time.Duration) {
	s.cyclesTotal.WithLabelValues(result).Inc()
	s.cycleDuration.Observe(d.Seconds())
}

func (s *PrometheusSink) QueueBuilt(n int) { s.queueLength.Set(float64(n)) }

func (s *PrometheusSink) DeliveryAttempt(result string) {
	s.attemptsTotal.WithLabelValues(result).Inc()
}

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.outcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) GateDenied(decision string) {
	s.denialsTotal.WithLabelValues(decision).Inc()
}

func (s *PrometheusSink) NotifierDropped() { s.notifierDrops.Inc() }
