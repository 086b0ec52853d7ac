package monitor

import (
	"sync"
	"time"
)

// CycleMonitor tracks sync cycle health and failures.
type CycleMonitor struct {
	mu                sync.RWMutex
	staleAfter        time.Duration
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// NewCycleMonitor creates a cycle monitor. staleAfter is how long the service
// may go without a successful cycle before it is reported unhealthy; it
// should be a few multiples of the sync interval.
func NewCycleMonitor(staleAfter time.Duration) *CycleMonitor {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &CycleMonitor{staleAfter: staleAfter}
}

// RecordSuccess records a successful sync cycle.
func (cm *CycleMonitor) RecordSuccess() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastSuccess = time.Now()
	cm.lastAttempt = time.Now()
	cm.consecutiveErrors = 0
	cm.lastError = ""
}

// RecordFailure records a failed sync cycle.
func (cm *CycleMonitor) RecordFailure(err error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastAttempt = time.Now()
	cm.consecutiveErrors++
	if err != nil {
		cm.lastError = err.Error()
	}
}

// IsHealthy returns true if syncing is working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - No success within the staleness window
//   - More than 3 consecutive failures
func (cm *CycleMonitor) IsHealthy() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.healthyLocked()
}

// CycleStatus is the sync-health portion of the health endpoint.
type CycleStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current sync health for health checks.
func (cm *CycleMonitor) Status() CycleStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	status := CycleStatus{
		Healthy: cm.healthyLocked(),
	}

	if !cm.lastSuccess.IsZero() {
		status.LastSuccess = cm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(cm.lastSuccess).String()
	}

	if !cm.lastAttempt.IsZero() {
		status.LastAttempt = cm.lastAttempt.Format(time.RFC3339)
	}

	if cm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = cm.consecutiveErrors
		status.LastError = cm.lastError
	}

	return status
}

func (cm *CycleMonitor) healthyLocked() bool {
	if cm.lastSuccess.IsZero() {
		return false
	}
	if time.Since(cm.lastSuccess) > cm.staleAfter {
		return false
	}
	return cm.consecutiveErrors <= 3
}
