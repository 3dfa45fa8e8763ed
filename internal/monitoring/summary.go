package monitoring

import "time"

// Summary surfaces aggregated monitoring data for operators.
type Summary struct {
	GeneratedAt   time.Time          `json:"generated_at"`
	Verbs         []VerbSummary      `json:"verbs"`
	Errors        map[string]uint64  `json:"errors"`
	TokensIssued  uint64             `json:"tokens_issued"`
	RecordsServed uint64             `json:"records_served"`
	Index         IndexSummary       `json:"index"`
	Maintenance   MaintenanceSummary `json:"maintenance"`
}

type VerbSummary struct {
	Verb                  string    `json:"verb"`
	Success               uint64    `json:"success"`
	ProtocolErrors        uint64    `json:"protocol_errors"`
	InternalErrors        uint64    `json:"internal_errors"`
	AverageLatencySeconds float64   `json:"average_latency_seconds"`
	LastRequestAt         time.Time `json:"last_request_at"`
}

type IndexSummary struct {
	Records int64 `json:"records"`
	Sets    int64 `json:"sets"`
}

type MaintenanceSummary struct {
	Jobs []MaintenanceJobSummary `json:"jobs"`
}

type MaintenanceJobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	ConsecutiveSuccess  uint64        `json:"consecutive_success"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	TotalRuns           uint64        `json:"total_runs"`
}

// Snapshot returns a point-in-time summary from the current module when configured.
func Snapshot() Summary {
	if module := ensureModule(); module != nil && module.stats != nil {
		return module.stats.summary()
	}
	return Summary{GeneratedAt: time.Now()}
}
