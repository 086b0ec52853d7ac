package monitor

import (
	"errors"
	"testing"
	"time"
)

func TestCycleMonitor_NeverSucceededIsUnhealthy(t *testing.T) {
	cm := NewCycleMonitor(time.Minute)
	if cm.IsHealthy() {
		t.Error("monitor should be unhealthy before any success")
	}
}

func TestCycleMonitor_SuccessMakesHealthy(t *testing.T) {
	cm := NewCycleMonitor(time.Minute)
	cm.RecordSuccess()
	if !cm.IsHealthy() {
		t.Error("monitor should be healthy after a success")
	}
}

func TestCycleMonitor_ConsecutiveFailures(t *testing.T) {
	cm := NewCycleMonitor(time.Hour)
	cm.RecordSuccess()

	for i := 0; i < 3; i++ {
		cm.RecordFailure(errors.New("historian down"))
	}
	if !cm.IsHealthy() {
		t.Error("3 failures within the staleness window should still be healthy")
	}

	cm.RecordFailure(errors.New("historian down"))
	if cm.IsHealthy() {
		t.Error("4 consecutive failures should be unhealthy")
	}

	cm.RecordSuccess()
	if !cm.IsHealthy() {
		t.Error("a success should reset the failure streak")
	}
}

func TestCycleMonitor_Status(t *testing.T) {
	cm := NewCycleMonitor(time.Minute)
	cm.RecordSuccess()
	cm.RecordFailure(errors.New("timeout"))

	status := cm.Status()
	if !status.Healthy {
		t.Error("one failure after a recent success should report healthy")
	}
	if status.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", status.ConsecutiveErrors)
	}
	if status.LastError != "timeout" {
		t.Errorf("LastError = %q", status.LastError)
	}
	if status.LastSuccess == "" || status.LastAttempt == "" {
		t.Error("timestamps should be populated")
	}
}
