//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import "time"

// Heartbeat component labels.
const (
	// ComponentWorker marks heartbeats from worker slots.
	ComponentWorker = "worker"
	// ComponentScheduler marks the scheduler's liveness row.
	ComponentScheduler = "scheduler"
)

// WorkerHeartbeat is the liveness record a worker or scheduler upserts on a
// fixed cadence. A row older than three heartbeat intervals counts as dead.
type WorkerHeartbeat struct {
	WorkerID  string    `json:"worker_id"  db:"worker_id"`
	Component string    `json:"component"  db:"component"`
	LastSeen  time.Time `json:"last_seen"  db:"last_seen"`
	Processed int       `json:"processed"  db:"processed"`
	PID       int       `json:"pid"        db:"pid"`
	Hostname  string    `json:"hostname"   db:"hostname"`
}
