package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ChecksTotal      *prometheus.CounterVec
	FailOpenTotal    prometheus.Counter
	StoreErrorsTotal *prometheus.CounterVec
	CheckDuration    prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		ChecksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aura_ratelimit_checks_total",
			Help: "Total quota checks by outcome and client kind",
		}, []string{"reason", "client"}),
		FailOpenTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aura_ratelimit_fail_open_total",
			Help: "Total requests admitted without enforcement because the counter store was unreachable",
		}),
		StoreErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aura_ratelimit_store_errors_total",
			Help: "Total soft failures talking to backing stores",
		}, []string{"store"}),
		CheckDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aura_ratelimit_check_duration_seconds",
			Help:    "Latency of quota checks",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
	}
}

func (m *Metrics) RecordCheck(reason, client string) {
	m.ChecksTotal.WithLabelValues(reason, client).Inc()
}

func (m *Metrics) RecordFailOpen() {
	m.FailOpenTotal.Inc()
}

func (m *Metrics) RecordStoreError(store string) {
	m.StoreErrorsTotal.WithLabelValues(store).Inc()
}
