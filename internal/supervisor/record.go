package supervisor

import "time"

// WorkerStatus is the lifecycle state of a managed worker.
type WorkerStatus string

const (
	StatusStarting WorkerStatus = "starting"
	StatusRunning  WorkerStatus = "running"
	StatusDraining WorkerStatus = "draining"
	StatusStopped  WorkerStatus = "stopped"
	StatusFailed   WorkerStatus = "failed"
)

// Active reports whether the status counts against the pool capacity.
func (s WorkerStatus) Active() bool {
	switch s {
	case StatusStarting, StatusRunning, StatusDraining:
		return true
	}
	return false
}

// WorkerRecord is the registry entry for one worker. Identity comes from the
// registry, never from process-table parsing; the health monitor writes only
// the health fields.
type WorkerRecord struct {
	ID              string       `json:"id"`
	PID             int          `json:"pid"`
	Status          WorkerStatus `json:"status"`
	CPUPercent      float64      `json:"cpu_percent"`
	MemPercent      float64      `json:"mem_percent"`
	StartedAt       time.Time    `json:"started_at"`
	LastHealthCheck time.Time    `json:"last_health_check"`
}
