package monitoring

import (
	"strings"
	"time"
)

// Request outcomes used as the result label of oai_requests_total.
const (
	ResultSuccess       = "success"
	ResultProtocolError = "protocol_error"
	ResultInternalError = "internal_error"
)

// RecordOAIRequest counts a handled OAI-PMH request.
func RecordOAIRequest(verb, result string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	verb = verbLabel(verb)
	result = normalizeLabel(result)
	module.metrics.oaiRequests.WithLabelValues(verb, result).Inc()
	observeDuration(module.metrics.oaiRequestDuration.WithLabelValues(verb), duration)
	module.stats.verbEntry(verb).record(result, duration)
}

// RecordOAIError counts one protocol error code returned to a harvester.
func RecordOAIError(code string) {
	module := ensureModule()
	if module == nil {
		return
	}
	code = strings.TrimSpace(code)
	if code == "" {
		code = "unknown"
	}
	module.metrics.oaiErrors.WithLabelValues(code).Inc()
	module.stats.recordError(code)
}

// RecordTokenIssued counts a freshly issued resumption token.
func RecordTokenIssued() {
	module := ensureModule()
	if module == nil {
		return
	}
	module.metrics.tokensIssued.Inc()
	module.stats.tokensIssued.Add(1)
}

// RecordRecordsServed adds n records or headers written for verb.
func RecordRecordsServed(verb string, n int) {
	module := ensureModule()
	if module == nil || n <= 0 {
		return
	}
	module.metrics.recordsServed.WithLabelValues(verbLabel(verb)).Add(float64(n))
	module.stats.recordsServed.Add(uint64(n))
}

// SetIndexSize publishes the record and set counts of the current index.
func SetIndexSize(records, sets int64) {
	module := ensureModule()
	if module == nil {
		return
	}
	if records < 0 {
		records = 0
	}
	if sets < 0 {
		sets = 0
	}
	module.metrics.indexRecords.Set(float64(records))
	module.metrics.indexSets.Set(float64(sets))
	module.stats.indexRecords.Store(records)
	module.stats.indexSets.Store(sets)
}

// ObserveAPILatency captures the HTTP request latency for the supplied route.
func ObserveAPILatency(method, path, status string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}
	path = sanitizePath(path)
	if path == "" {
		path = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	module.metrics.apiLatency.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordMaintenanceRun records the completion of a maintenance job.
func RecordMaintenanceRun(job, result, message string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	jobID := normalizeLabel(job)
	result = normalizeLabel(result)
	module.metrics.maintenanceRuns.WithLabelValues(jobID, result).Inc()
	observeDuration(module.metrics.maintenanceDuration.WithLabelValues(jobID), duration)
	if result == ResultSuccess {
		module.metrics.maintenanceLastRun.WithLabelValues(jobID).Set(float64(time.Now().Unix()))
	}
	stats := module.stats.maintenanceEntry(jobID)
	stats.record(result, strings.TrimSpace(message), duration)
}

// verbLabel keeps the verb's case (OAI verbs are case sensitive) but bounds
// the label set: anything unexpected is reported as "invalid".
func verbLabel(verb string) string {
	switch verb = strings.TrimSpace(verb); verb {
	case "Identify", "GetRecord", "ListIdentifiers", "ListMetadataFormats", "ListRecords", "ListSets":
		return verb
	case "":
		return "unknown"
	}
	return "invalid"
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}

func sanitizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "/" {
		return "root"
	}
	return normalizePath(path)
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	path = strings.ReplaceAll(path, " ", "_")
	if path == "" {
		return "root"
	}
	return path
}
