package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the crawl engine
type Metrics struct {
	PagesScanned    prometheus.Counter
	PDFsFound       prometheus.Counter
	PDFsDownloaded  prometheus.Counter
	DocumentsTotal  *prometheus.CounterVec // by triage status
	ErrorsTotal     *prometheus.CounterVec // by category
	ActiveSessions  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec // by final status
	SessionDuration prometheus.Histogram
}

// New registers all metrics with reg and returns the holder. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PagesScanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "policycrawl_pages_scanned_total",
			Help: "Total number of pages fetched during scan phases.",
		}),
		PDFsFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "policycrawl_pdfs_found_total",
			Help: "Total number of candidate PDF URLs discovered.",
		}),
		PDFsDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "policycrawl_pdfs_downloaded_total",
			Help: "Total number of PDF files downloaded.",
		}),
		DocumentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policycrawl_documents_total",
			Help: "Documents created, labelled by triage status.",
		}, []string{"status"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policycrawl_errors_total",
			Help: "Errors encountered while crawling, labelled by category.",
		}, []string{"category"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "policycrawl_active_sessions",
			Help: "Number of crawl sessions currently running.",
		}),
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policycrawl_sessions_total",
			Help: "Finished crawl sessions, labelled by final status.",
		}, []string{"status"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "policycrawl_session_duration_seconds",
			Help:    "Wall-clock duration of finished crawl sessions.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}
}
