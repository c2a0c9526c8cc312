package server

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage"
)

// ResetRequest selects which records to requeue and which of their current
// statuses are eligible, mirroring the original reset_tasks's
// reset_running/reset_error flags (spec.md §7).
type ResetRequest struct {
	RecordIDs    []int64
	ResetRunning bool
	ResetError   bool
}

// ResetResult reports how many of the requested records were actually
// requeued; ids whose current status isn't eligible are skipped, not
// errored.
type ResetResult struct {
	Reset int
}

// Reset flips each eligible record back to waiting and gives it a fresh
// task_queue row, leaving compute_history untouched (spec.md §7, §8
// property 7: "resetting a record from error to waiting creates a new
// task; the old compute_history row survives").
func (s *Server) Reset(ctx context.Context, req ResetRequest) (ResetResult, error) {
	var out ResetResult
	err := storage.WithTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		for _, id := range req.RecordIDs {
			rec, err := s.store.GetBaseRecord(ctx, tx, id, true)
			if err != nil {
				return err
			}

			eligible := (req.ResetError && rec.Status == domain.StatusError) ||
				(req.ResetRunning && rec.Status == domain.StatusRunning)
			if !eligible {
				continue
			}

			task, err := s.store.GetTaskByRecord(ctx, tx, id)
			if err != nil {
				return fmt.Errorf("load task for record %d: %w", id, err)
			}
			if err := s.store.DeleteTask(ctx, tx, id); err != nil {
				return fmt.Errorf("delete stale task for record %d: %w", id, err)
			}
			if _, err := s.store.CreateTask(ctx, tx, domain.Task{
				RecordID:         id,
				Spec:             task.Spec,
				ComputeTag:       task.ComputeTag,
				RequiredPrograms: task.RequiredPrograms,
				Priority:         task.Priority,
			}); err != nil {
				return fmt.Errorf("create fresh task for record %d: %w", id, err)
			}
			if err := s.store.SetStatus(ctx, tx, id, rec.Status, domain.StatusWaiting, ""); err != nil {
				return fmt.Errorf("reset record %d to waiting: %w", id, err)
			}
			out.Reset++
		}
		return nil
	})
	return out, err
}
