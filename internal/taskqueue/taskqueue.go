// Package taskqueue creates the task_queue row that makes a newly inserted
// record claimable, in the same transaction as the record insert itself
// (spec.md §4.E: "if the record is newly inserted the task is created
// atomically in the same transaction").
package taskqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

// CreateForRecord marshals function/args/kwargs into a task_queue spec
// payload and inserts the row, scoped to the caller's transaction so a
// record and its task are created or rolled back together. Returns the
// task id.
func CreateForRecord(ctx context.Context, tx *sql.Tx, store *postgres.Store, recordID int64, function string, args []interface{}, kwargs map[string]interface{}, computeTag string, programs domain.RequiredPrograms, priority domain.Priority) (int64, error) {
	if args == nil {
		args = []interface{}{}
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	spec, err := json.Marshal(domain.RecordTask{
		RecordID:         recordID,
		Function:         function,
		Args:             args,
		Kwargs:           kwargs,
		ComputeTag:       computeTag,
		RequiredPrograms: programs,
	})
	if err != nil {
		return 0, fmt.Errorf("encode task spec for record %d: %w", recordID, err)
	}

	id, err := store.CreateTask(ctx, tx, domain.Task{
		RecordID:         recordID,
		Spec:             spec,
		ComputeTag:       computeTag,
		RequiredPrograms: programs,
		Priority:         priority,
	})
	if err != nil {
		return 0, fmt.Errorf("create task for record %d: %w", recordID, err)
	}
	return id, nil
}

// CreateSinglepointTask is CreateForRecord specialized for the "compute"
// function signature singlepoint records use (spec.md §4.E/§6).
func CreateSinglepointTask(ctx context.Context, tx *sql.Tx, store *postgres.Store, recordID int64, computeTag string, programs domain.RequiredPrograms, priority domain.Priority) (int64, error) {
	return CreateForRecord(ctx, tx, store, recordID, "compute", []interface{}{recordID}, nil, computeTag, programs, priority)
}

// CreateProcedureTask is CreateForRecord specialized for the
// "compute_procedure" function signature optimization records use.
func CreateProcedureTask(ctx context.Context, tx *sql.Tx, store *postgres.Store, recordID int64, computeTag string, programs domain.RequiredPrograms, priority domain.Priority) (int64, error) {
	return CreateForRecord(ctx, tx, store, recordID, "compute_procedure", []interface{}{recordID}, nil, computeTag, programs, priority)
}
