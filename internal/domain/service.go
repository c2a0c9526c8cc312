package domain

import "time"

// ServiceDependency is one currently-pending or completed child of a
// service record (spec.md §3's "ordered list of dependency rows").
type ServiceDependency struct {
	ChildRecordID int64
	Key           string
	Position      int
	Extras        map[string]interface{}
}

// ServiceQueueEntry is the persisted row driving one service record's
// iteration (spec.md §3 "Service state").
//
// State is opaque JSON to the engine; per spec.md §9's design note it must
// always be replaced wholesale (never mutated in place) so change detection
// at the storage layer is trivial — the Go equivalent of the source's
// flag_modified call.
type ServiceQueueEntry struct {
	ID           int64
	ProcedureID  int64
	ComputeTag   string
	Priority     Priority
	State        map[string]interface{}
	Dependencies []ServiceDependency
	CreatedOn    time.Time
	ModifiedOn   time.Time
}

// WithState returns a copy of the entry carrying a freshly-constructed state
// map, making "always replace, never mutate" the natural way to call it.
func (e ServiceQueueEntry) WithState(state map[string]interface{}) ServiceQueueEntry {
	e.State = state
	return e
}
