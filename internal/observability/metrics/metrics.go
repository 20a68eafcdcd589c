package metrics

import (
	"database/sql"
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "firewatch_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	readingsTotal  prometheus.Counter
	purgedReadings prometheus.Counter

	batchTotal     *prometheus.CounterVec
	batchLatency   *prometheus.HistogramVec
	batchProcessed prometheus.Counter

	calculationFailures prometheus.Counter

	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec

	incidentEventsTotal *prometheus.CounterVec
	alarmEventsTotal    *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		readingsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_ingested_total",
				Help: "Total readings accepted for processing",
			},
		)
		purgedReadings = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_purged_total",
				Help: "Total readings removed by retention purge",
			},
		)

		batchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "analysis_batch_total",
				Help: "Total analysis batch runs by result",
			},
			[]string{"result"},
		)
		batchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "analysis_batch_latency_seconds",
				Help:    "Analysis batch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		batchProcessed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "analysis_readings_processed_total",
				Help: "Total readings scored by analysis batches",
			},
		)

		calculationFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "analysis_calculation_failures_total",
				Help: "Total readings whose hazard score could not be computed",
			},
		)

		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total report exports by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		incidentEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "incident_events_total",
				Help: "Total incident lifecycle events by type",
			},
			[]string{"event"},
		)
		alarmEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_events_total",
				Help: "Total alarm lifecycle events by severity and type",
			},
			[]string{"severity", "event"},
		)

		prometheus.MustRegister(
			ingestRequests,
			readingsTotal,
			purgedReadings,
			batchTotal,
			batchLatency,
			batchProcessed,
			calculationFailures,
			reportExportTotal,
			reportExportLatency,
			incidentEventsTotal,
			alarmEventsTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncIngest increments ingest request counters.
func IncIngest(result string) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
}

// AddReadingsIngested increments the accepted readings counter by count.
func AddReadingsIngested(count int) {
	if count <= 0 {
		return
	}
	if readingsTotal != nil {
		readingsTotal.Add(float64(count))
	}
}

// AddPurgedReadings increments the purged readings counter by count.
func AddPurgedReadings(count int64) {
	if count <= 0 {
		return
	}
	if purgedReadings != nil {
		purgedReadings.Add(float64(count))
	}
}

// ObserveBatch records one analysis batch run.
func ObserveBatch(result string, seconds float64, processed int) {
	if result == "" {
		result = resultSuccess
	}
	if batchTotal != nil {
		batchTotal.WithLabelValues(result).Inc()
	}
	if batchLatency != nil {
		batchLatency.WithLabelValues(result).Observe(seconds)
	}
	if processed > 0 && batchProcessed != nil {
		batchProcessed.Add(float64(processed))
	}
}

// IncCalculationFailure counts readings that could not be scored.
func IncCalculationFailure() {
	if calculationFailures != nil {
		calculationFailures.Inc()
	}
}

// ObserveReportExport records report export latency and result.
func ObserveReportExport(format, result string, seconds float64) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format, result).Observe(seconds)
	}
}

// IncIncidentEvent increments incident lifecycle counters.
func IncIncidentEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if incidentEventsTotal != nil {
		incidentEventsTotal.WithLabelValues(event).Inc()
	}
}

// IncAlarmEvent increments alarm lifecycle counters.
func IncAlarmEvent(severity, event string) {
	if severity == "" {
		severity = "unknown"
	}
	if event == "" {
		event = "unknown"
	}
	if alarmEventsTotal != nil {
		alarmEventsTotal.WithLabelValues(severity, event).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
