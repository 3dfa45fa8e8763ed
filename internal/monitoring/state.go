package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type statStore struct {
	verbs  sync.Map // string -> *verbStats
	errors sync.Map // string -> *atomic.Uint64

	tokensIssued  atomic.Uint64
	recordsServed atomic.Uint64
	indexRecords  atomic.Int64
	indexSets     atomic.Int64

	maintenance sync.Map // string -> *maintenanceStats
}

func newStatStore() *statStore {
	return &statStore{}
}

func (s *statStore) summary() Summary {
	verbs := []VerbSummary{}
	s.verbs.Range(func(key, value any) bool {
		verbs = append(verbs, value.(*verbStats).snapshot(key.(string)))
		return true
	})
	sort.Slice(verbs, func(i, j int) bool { return verbs[i].Verb < verbs[j].Verb })

	errors := map[string]uint64{}
	s.errors.Range(func(key, value any) bool {
		errors[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})

	jobs := []MaintenanceJobSummary{}
	s.maintenance.Range(func(key, value any) bool {
		jobs = append(jobs, value.(*maintenanceStats).snapshot(key.(string)))
		return true
	})
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Job < jobs[j].Job })

	return Summary{
		GeneratedAt:   time.Now(),
		Verbs:         verbs,
		Errors:        errors,
		TokensIssued:  s.tokensIssued.Load(),
		RecordsServed: s.recordsServed.Load(),
		Index: IndexSummary{
			Records: s.indexRecords.Load(),
			Sets:    s.indexSets.Load(),
		},
		Maintenance: MaintenanceSummary{Jobs: jobs},
	}
}

func (s *statStore) verbEntry(verb string) *verbStats {
	value, ok := s.verbs.Load(verb)
	if ok {
		return value.(*verbStats)
	}
	actual, _ := s.verbs.LoadOrStore(verb, &verbStats{})
	return actual.(*verbStats)
}

func (s *statStore) recordError(code string) {
	value, ok := s.errors.Load(code)
	if !ok {
		value, _ = s.errors.LoadOrStore(code, &atomic.Uint64{})
	}
	value.(*atomic.Uint64).Add(1)
}

func (s *statStore) maintenanceEntry(job string) *maintenanceStats {
	value, ok := s.maintenance.Load(job)
	if ok {
		return value.(*maintenanceStats)
	}
	stats := &maintenanceStats{}
	actual, _ := s.maintenance.LoadOrStore(job, stats)
	return actual.(*maintenanceStats)
}

type verbStats struct {
	success        atomic.Uint64
	protocolErrors atomic.Uint64
	internalErrors atomic.Uint64
	totalLatencyNs atomic.Uint64
	lastRequest    atomic.Int64
}

func (v *verbStats) record(result string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	switch result {
	case ResultSuccess:
		v.success.Add(1)
	case ResultProtocolError:
		v.protocolErrors.Add(1)
	default:
		v.internalErrors.Add(1)
	}
	v.totalLatencyNs.Add(uint64(duration))
	v.lastRequest.Store(time.Now().UnixNano())
}

func (v *verbStats) snapshot(verb string) VerbSummary {
	success := v.success.Load()
	protocolErrors := v.protocolErrors.Load()
	internalErrors := v.internalErrors.Load()
	total := success + protocolErrors + internalErrors

	var avg float64
	if total > 0 {
		avg = float64(v.totalLatencyNs.Load()) / float64(total) / float64(time.Second)
	}

	return VerbSummary{
		Verb:                  verb,
		Success:               success,
		ProtocolErrors:        protocolErrors,
		InternalErrors:        internalErrors,
		AverageLatencySeconds: avg,
		LastRequestAt:         time.Unix(0, v.lastRequest.Load()),
	}
}

type maintenanceStats struct {
	lastStatus           atomic.Value // string
	lastError            atomic.Value // string
	lastRun              atomic.Int64 // unix nano
	lastDuration         atomic.Int64 // nanoseconds
	consecutiveFailures  atomic.Uint64
	totalRuns            atomic.Uint64
	lastSuccessfulRun    atomic.Int64
	consecutiveSuccesses atomic.Uint64
}

func (m *maintenanceStats) snapshot(job string) MaintenanceJobSummary {
	status, _ := m.lastStatus.Load().(string)
	errMsg, _ := m.lastError.Load().(string)

	return MaintenanceJobSummary{
		Job:                 job,
		LastStatus:          status,
		LastRunAt:           time.Unix(0, m.lastRun.Load()),
		LastDuration:        time.Duration(m.lastDuration.Load()),
		LastError:           errMsg,
		ConsecutiveFailures: m.consecutiveFailures.Load(),
		ConsecutiveSuccess:  m.consecutiveSuccesses.Load(),
		LastSuccessAt:       time.Unix(0, m.lastSuccessfulRun.Load()),
		TotalRuns:           m.totalRuns.Load(),
	}
}

func (m *maintenanceStats) record(result, message string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	now := time.Now()
	m.lastStatus.Store(result)
	m.lastError.Store(message)
	m.lastRun.Store(now.UnixNano())
	m.lastDuration.Store(int64(duration))
	m.totalRuns.Add(1)

	switch result {
	case ResultSuccess:
		m.consecutiveFailures.Store(0)
		m.consecutiveSuccesses.Add(1)
		m.lastSuccessfulRun.Store(now.UnixNano())
	default:
		m.consecutiveFailures.Add(1)
		m.consecutiveSuccesses.Store(0)
	}
}
