package domain

import "time"

// RequiredPrograms maps a lower-cased program name to a required version, or
// nil/"" when any version is acceptable.
//
// spec.md §9 Open Questions flags that the source handles required_programs
// as both a version-map and a plain name set; this implementation settles on
// the version-map (name -> version|""), since the DB check constraint in
// spec.md §6 is phrased over the JSON map form and a bare set can be modeled
// as a map of empty strings without losing anything.
type RequiredPrograms map[string]string

// Contains reports whether have (a manager's advertised programs) satisfies
// want (a task's required programs): every key in want must be present in
// have, and when want specifies a non-empty version it must match exactly.
func (want RequiredPrograms) Contains(have RequiredPrograms) bool {
	for name, version := range want {
		haveVersion, ok := have[name]
		if !ok {
			return false
		}
		if version != "" && haveVersion != version {
			return false
		}
	}
	return true
}

// Task ties a waiting/running record to the execution spec a manager needs
// to run it. A Task exists iff its record's status is waiting or running
// (invariant 1 of spec.md §3).
type Task struct {
	ID               int64
	RecordID         int64
	Spec             []byte // msgpack/JSON-encoded RecordTask payload
	ComputeTag       string
	RequiredPrograms RequiredPrograms
	Priority         Priority
	CreatedOn        time.Time
	ManagerName      string
}

// RecordTask is the wire shape a manager receives from /compute/v1/tasks/claim
// (spec.md §6). Function/Args/Kwargs are opaque to the server.
type RecordTask struct {
	ID               int64             `json:"id"`
	RecordID         int64             `json:"record_id"`
	Function         string            `json:"function"`
	Args             []interface{}     `json:"args"`
	Kwargs           map[string]interface{} `json:"kwargs"`
	ComputeTag       string            `json:"compute_tag"`
	RequiredPrograms RequiredPrograms  `json:"required_programs"`
}
