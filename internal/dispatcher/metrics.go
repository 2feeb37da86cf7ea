// Metrics exports the dispatcher's live counters the way a
// collaborator dashboard (out of scope) could scrape: per-host gauges
// mirroring FSA's active_transfers/error_counter plus the AFD-wide
// no_of_transfers ProcessState counter.
package dispatcher

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the dispatcher updates: the
// per-host gauges as it scans hosts and the job counters as it reaps
// completions. NoOfTransfers is registered but the dispatcher never
// sets it, so it stays at 0.
type Metrics struct {
	NoOfTransfers   prometheus.Gauge
	ActiveTransfers *prometheus.GaugeVec
	ErrorCounter    *prometheus.GaugeVec
	JobsCompleted   *prometheus.CounterVec
	JobsFailed      *prometheus.CounterVec
}

// NewMetrics registers a fresh set of collectors on reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across repeated registrations.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NoOfTransfers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "afd",
			Name:      "no_of_transfers",
			Help:      "Current value of the AFD-wide no_of_transfers counter.",
		}),
		ActiveTransfers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "afd",
			Name:      "host_active_transfers",
			Help:      "Current active_transfers per host.",
		}, []string{"host"}),
		ErrorCounter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "afd",
			Name:      "host_error_counter",
			Help:      "Current error_counter per host.",
		}, []string{"host"}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "afd",
			Name:      "jobs_completed_total",
			Help:      "Transfers that exited successfully, by host.",
		}, []string{"host"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "afd",
			Name:      "jobs_failed_total",
			Help:      "Transfers that exited with a non-zero code, by host.",
		}, []string{"host"}),
	}
	reg.MustRegister(m.NoOfTransfers, m.ActiveTransfers, m.ErrorCounter, m.JobsCompleted, m.JobsFailed)
	return m
}

// observeHost updates the per-host gauges from a live FSA host record.
func (m *Metrics) observeHost(alias string, activeTransfers, errorCounter int32) {
	if m == nil {
		return
	}
	m.ActiveTransfers.WithLabelValues(alias).Set(float64(activeTransfers))
	m.ErrorCounter.WithLabelValues(alias).Set(float64(errorCounter))
}

func (m *Metrics) observeProcessState(noOfTransfers int32) {
	if m == nil {
		return
	}
	m.NoOfTransfers.Set(float64(noOfTransfers))
}

func (m *Metrics) recordCompletion(hostAlias string, faulty bool) {
	if m == nil {
		return
	}
	if faulty {
		m.JobsFailed.WithLabelValues(hostAlias).Inc()
	} else {
		m.JobsCompleted.WithLabelValues(hostAlias).Inc()
	}
}
