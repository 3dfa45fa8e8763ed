package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type collectors struct {
	oaiRequests         *prometheus.CounterVec
	oaiRequestDuration  *prometheus.HistogramVec
	oaiErrors           *prometheus.CounterVec
	tokensIssued        prometheus.Counter
	recordsServed       *prometheus.CounterVec
	apiLatency          *prometheus.HistogramVec
	maintenanceRuns     *prometheus.CounterVec
	maintenanceDuration *prometheus.HistogramVec
	maintenanceLastRun  *prometheus.GaugeVec
	indexRecords        prometheus.Gauge
	indexSets           prometheus.Gauge
}

func newCollectors(namespace string) *collectors {
	buckets := prometheus.DefBuckets
	indexBuckets := []float64{
		1, 5, 15, 30, 60, // seconds
		120, 300, 600, // minutes
		1800, 3600,
	}

	return &collectors{
		oaiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oai_requests_total",
				Help:      "OAI-PMH requests by verb and outcome",
			},
			[]string{"verb", "result"},
		),
		oaiRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "oai_request_duration_seconds",
				Help:      "Time spent building OAI-PMH responses",
				Buckets:   buckets,
			},
			[]string{"verb"},
		),
		oaiErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oai_errors_total",
				Help:      "OAI-PMH protocol errors returned to harvesters",
			},
			[]string{"code"},
		),
		tokensIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oai_resumption_tokens_issued_total",
				Help:      "Resumption tokens handed out for partial lists",
			},
		),
		recordsServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oai_records_served_total",
				Help:      "Records or headers written to responses",
			},
			[]string{"verb"},
		),
		apiLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_latency_seconds",
				Help:      "API endpoint latency",
				Buckets:   buckets,
			},
			[]string{"method", "path", "status"},
		),
		maintenanceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_runs_total",
				Help:      "Maintenance job executions",
			},
			[]string{"job", "result"},
		),
		maintenanceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "maintenance_duration_seconds",
				Help:      "Maintenance job duration",
				Buckets:   indexBuckets,
			},
			[]string{"job"},
		),
		maintenanceLastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "maintenance_last_success_timestamp",
				Help:      "Timestamp of the last successful maintenance run (seconds since epoch)",
			},
			[]string{"job"},
		),
		indexRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "oai_index_records",
				Help:      "Records exposed after the last index rebuild",
			},
		),
		indexSets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "oai_index_sets",
				Help:      "Sets exposed after the last index rebuild",
			},
		),
	}
}

func (c *collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.oaiRequests,
		c.oaiRequestDuration,
		c.oaiErrors,
		c.tokensIssued,
		c.recordsServed,
		c.apiLatency,
		c.maintenanceRuns,
		c.maintenanceDuration,
		c.maintenanceLastRun,
		c.indexRecords,
		c.indexSets,
	}
}

// observeDuration records a duration in seconds on the supplied histogram observer.
func observeDuration(observer prometheus.Observer, d time.Duration) {
	if observer == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	observer.Observe(d.Seconds())
}
