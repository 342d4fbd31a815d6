package orchestrator

import (
	"sync"
	"time"
)

// Health status constants.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// Success-rate thresholds for the derived health status.
const (
	degradedBelow  = 0.9
	unhealthyBelow = 0.5
)

// healthSampleCap bounds the response-time ring buffer.
const healthSampleCap = 50

// HealthStatus is a point-in-time snapshot of an agent's health counters.
type HealthStatus struct {
	AgentID         string        `json:"agent_id"`
	Status          string        `json:"status"`
	SuccessCount    int           `json:"success_count"`
	ErrorCount      int           `json:"error_count"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	LastCheck       time.Time     `json:"last_check"`
}

// healthTracker accumulates per-agent success/error counts and keeps a
// bounded ring buffer of recent response times.
type healthTracker struct {
	mu           sync.Mutex
	agentID      string
	successCount int
	errorCount   int
	samples      [healthSampleCap]time.Duration
	sampleLen    int
	sampleNext   int
	lastCheck    time.Time
}

func newHealthTracker(agentID string) *healthTracker {
	return &healthTracker{agentID: agentID}
}

// RecordSuccess counts a successful invocation and its duration.
func (t *healthTracker) RecordSuccess(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successCount++
	t.samples[t.sampleNext] = d
	t.sampleNext = (t.sampleNext + 1) % healthSampleCap
	if t.sampleLen < healthSampleCap {
		t.sampleLen++
	}
	t.lastCheck = time.Now()
}

// RecordFailure counts a failed invocation.
func (t *healthTracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorCount++
	t.lastCheck = time.Now()
}

// Snapshot derives the current HealthStatus. With zero observations the
// agent is reported healthy with a 100% success rate.
func (t *healthTracker) Snapshot() HealthStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	rate := 1.0
	if total := t.successCount + t.errorCount; total > 0 {
		rate = float64(t.successCount) / float64(total)
	}

	status := HealthHealthy
	switch {
	case rate < unhealthyBelow:
		status = HealthUnhealthy
	case rate < degradedBelow:
		status = HealthDegraded
	}

	var avg time.Duration
	if t.sampleLen > 0 {
		var sum time.Duration
		for i := 0; i < t.sampleLen; i++ {
			sum += t.samples[i]
		}
		avg = sum / time.Duration(t.sampleLen)
	}

	return HealthStatus{
		AgentID:         t.agentID,
		Status:          status,
		SuccessCount:    t.successCount,
		ErrorCount:      t.errorCount,
		SuccessRate:     rate,
		AvgResponseTime: avg,
		LastCheck:       t.lastCheck,
	}
}
