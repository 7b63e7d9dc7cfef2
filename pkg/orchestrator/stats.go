package orchestrator

import (
	"sync"
	"time"

	"github.com/maestroproj/maestro/pkg/models"
)

// StatsCollector aggregates request counters for the /stats endpoint.
type StatsCollector struct {
	started time.Time

	mu        sync.Mutex
	total     int64
	succeeded int64
	failed    int64
	avgMS     float64
	byMethod  map[models.SelectionMethod]int64
	byError   map[models.ErrorKind]int64
	denials   map[string]int64
}

// NewStatsCollector creates an empty collector anchored at now.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		started:  time.Now(),
		byMethod: make(map[models.SelectionMethod]int64),
		byError:  make(map[models.ErrorKind]int64),
		denials:  make(map[string]int64),
	}
}

// Observe folds one finished request into the counters.
func (s *StatsCollector) Observe(result *Result, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	if result.Success {
		s.succeeded++
	} else {
		s.failed++
		if result.ErrorKind != "" {
			s.byError[result.ErrorKind]++
		}
	}
	s.byMethod[result.Method]++
	if result.DeniedBy != "" {
		s.denials[result.DeniedBy]++
	}
	s.avgMS += (float64(elapsed.Milliseconds()) - s.avgMS) / float64(s.total)
}

// Snapshot is the JSON shape served by /stats.
type Snapshot struct {
	UptimeSeconds    int64            `json:"uptime_seconds"`
	TotalRequests    int64            `json:"total_requests"`
	Succeeded        int64            `json:"succeeded"`
	Failed           int64            `json:"failed"`
	AvgLatencyMS     float64          `json:"avg_latency_ms"`
	ByMethod         map[string]int64 `json:"requests_by_method"`
	ByErrorKind      map[string]int64 `json:"failures_by_kind"`
	EvaluatorDenials map[string]int64 `json:"evaluator_denials"`
}

// Snapshot returns a copy of the current counters.
func (s *StatsCollector) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		UptimeSeconds:    int64(time.Since(s.started).Seconds()),
		TotalRequests:    s.total,
		Succeeded:        s.succeeded,
		Failed:           s.failed,
		AvgLatencyMS:     s.avgMS,
		ByMethod:         make(map[string]int64, len(s.byMethod)),
		ByErrorKind:      make(map[string]int64, len(s.byError)),
		EvaluatorDenials: make(map[string]int64, len(s.denials)),
	}
	for method, n := range s.byMethod {
		snap.ByMethod[string(method)] = n
	}
	for kind, n := range s.byError {
		snap.ByErrorKind[string(kind)] = n
	}
	for evaluator, n := range s.denials {
		snap.EvaluatorDenials[evaluator] = n
	}
	return snap
}
