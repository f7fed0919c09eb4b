package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing, which keeps handler tests quiet.
type Metrics struct {
	UploadsTotal       *prometheus.CounterVec
	RuleHitsExtracted  prometheus.Counter
	ProcessingDuration prometheus.Histogram
	ContentEntries     prometheus.Gauge
}

// NewMetrics registers the service collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "insights_uploads_total",
			Help: "Archive uploads by result.",
		}, []string{"result"}),
		RuleHitsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Name: "insights_rule_hits_extracted_total",
			Help: "Rule hits extracted from processed archives.",
		}),
		ProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "insights_archive_processing_seconds",
			Help:    "Wall-clock duration of archive processing.",
			Buckets: prometheus.DefBuckets,
		}),
		ContentEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "insights_content_entries",
			Help: "Rule content entries loaded into the in-memory index.",
		}),
	}
}

func (m *Metrics) observeUpload(result string, hits int, seconds float64) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(result).Inc()
	if hits > 0 {
		m.RuleHitsExtracted.Add(float64(hits))
	}
	m.ProcessingDuration.Observe(seconds)
}

// SetContentEntries records the loaded content index size.
func (m *Metrics) SetContentEntries(n int) {
	if m == nil {
		return
	}
	m.ContentEntries.Set(float64(n))
}
