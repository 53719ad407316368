package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink with client_golang collectors.
// Registration failures are logged and the collector keeps working unregistered.
type PrometheusSink struct {
	triggersTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	executionLatency prometheus.Histogram
	deliveriesTotal  *prometheus.CounterVec
	sealedAppends    prometheus.Counter
	sweepsTotal      prometheus.Counter
	sweepErrorsTotal prometheus.Counter
	sweepTimedOut    prometheus.Counter
	sweepDuration    prometheus.Histogram
	updateJobsTotal  *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		triggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execplane_triggers_total",
			Help: "Trigger requests by outcome.",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execplane_execution_transitions_total",
			Help: "Applied execution transitions by target status.",
		}, []string{"to"}),
		executionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "execplane_execution_duration_seconds",
			Help:    "Time from creation to terminal state.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execplane_transport_deliveries_total",
			Help: "Commands handed to the transport by kind and outcome.",
		}, []string{"kind", "outcome"}),
		sealedAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execplane_output_sealed_appends_total",
			Help: "Output appends rejected because the buffer was sealed.",
		}),
		sweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execplane_sweeper_runs_total",
			Help: "Timeout sweep cycles.",
		}),
		sweepErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execplane_sweeper_errors_total",
			Help: "Timeout sweep cycles that failed.",
		}),
		sweepTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execplane_sweeper_timed_out_total",
			Help: "Executions moved to TIMED_OUT by the sweeper.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "execplane_sweeper_duration_seconds",
			Help:    "Duration of each sweep cycle.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		updateJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execplane_client_update_jobs_total",
			Help: "Client update jobs by resulting status.",
		}, []string{"status"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"execplane_triggers_total":              s.triggersTotal,
		"execplane_execution_transitions_total": s.transitionsTotal,
		"execplane_execution_duration_seconds":  s.executionLatency,
		"execplane_transport_deliveries_total":  s.deliveriesTotal,
		"execplane_output_sealed_appends_total": s.sealedAppends,
		"execplane_sweeper_runs_total":          s.sweepsTotal,
		"execplane_sweeper_errors_total":        s.sweepErrorsTotal,
		"execplane_sweeper_timed_out_total":     s.sweepTimedOut,
		"execplane_sweeper_duration_seconds":    s.sweepDuration,
		"execplane_client_update_jobs_total":    s.updateJobsTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Printf("metrics: failed to register %s: %v", name, err)
		}
	}
	return s
}

func (s *PrometheusSink) TriggerOutcome(outcome string) {
	s.triggersTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) ExecutionTransition(to string) {
	s.transitionsTotal.WithLabelValues(to).Inc()
}

func (s *PrometheusSink) ExecutionLatencyObserve(latency time.Duration) {
	s.executionLatency.Observe(latency.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(kind, outcome string) {
	s.deliveriesTotal.WithLabelValues(kind, outcome).Inc()
}

func (s *PrometheusSink) SealedAppendRejected() {
	s.sealedAppends.Inc()
}

func (s *PrometheusSink) SweepCompleted(duration time.Duration, timedOut int, err error) {
	s.sweepsTotal.Inc()
	s.sweepDuration.Observe(duration.Seconds())
	s.sweepTimedOut.Add(float64(timedOut))
	if err != nil {
		s.sweepErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) UpdateJobOutcome(status string) {
	s.updateJobsTotal.WithLabelValues(status).Inc()
}
