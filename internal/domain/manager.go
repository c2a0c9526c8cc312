package domain

import "time"

// ManagerStatus is the liveness state of a compute manager.
type ManagerStatus string

const (
	ManagerActive   ManagerStatus = "active"
	ManagerInactive ManagerStatus = "inactive"
)

// ComputeManager is a live (or formerly live) worker pool, keyed by a
// cluster-host-uuid name (spec.md §3).
type ComputeManager struct {
	ID       int64
	Name     string
	Cluster  string
	Hostname string
	Username string
	UUID     string
	Tags     []string // ordered; "*" means "any work"
	Programs RequiredPrograms
	Status   ManagerStatus

	Claimed       int64
	Successes     int64
	Failures      int64
	Rejected      int64
	Returned      int64
	TotalCPUHours float64

	ActiveTasks  int
	ActiveCores  int
	ActiveMemory float64

	CreatedOn  time.Time
	ModifiedOn time.Time
}

// ManagerLog is one heartbeat snapshot appended to a manager's history
// (spec.md §3: "each heartbeat additionally appends a ManagerLog row").
type ManagerLog struct {
	ID            int64
	ManagerID     int64
	Timestamp     time.Time
	Claimed       int64
	Successes     int64
	Failures      int64
	Rejected      int64
	ActiveTasks   int
	ActiveCores   int
	ActiveMemory  float64
	TotalCPUHours float64
}

// HeartbeatStats is the subset of ManagerLog a manager reports on heartbeat.
type HeartbeatStats struct {
	ActiveTasks   int
	ActiveCores   int
	ActiveMemory  float64
	TotalCPUHours float64
}
