// Package claimengine implements the task-claiming critical section a
// compute manager drives via POST /compute/v1/tasks/claim (spec.md §4.G).
package claimengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/metrics"
	"github.com/MolSSI/QCFractal-sub005/internal/platform/logging"
	"github.com/MolSSI/QCFractal-sub005/internal/storage"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

// Engine runs the claim critical section against a Postgres-backed store.
type Engine struct {
	db    *sql.DB
	store *postgres.Store
	log   *logging.Logger
}

// New constructs a claim engine.
func New(db *sql.DB, store *postgres.Store, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.NewDefault("claimengine")
	}
	return &Engine{db: db, store: store, log: log}
}

// Claim runs the manager's named tags in order, filling up to limit tasks
// while enforcing program containment (spec.md §4.G, invariant 2 and 3).
func (e *Engine) Claim(ctx context.Context, managerName string, limit int) ([]domain.RecordTask, error) {
	var out []domain.RecordTask

	err := storage.WithTx(ctx, e.db, func(ctx context.Context, tx *sql.Tx) error {
		mgr, err := e.store.GetManager(ctx, tx, managerName, true)
		if err != nil {
			if svcErr, ok := apierrors.As(err); ok && svcErr.Code == apierrors.CodeMissingData {
				return apierrors.ComputeManager(fmt.Sprintf("manager %q not registered", managerName), true)
			}
			return err
		}
		if mgr.Status != domain.ManagerActive {
			return apierrors.ComputeManager(fmt.Sprintf("manager %q is not active", managerName), true)
		}

		foundSoFar := 0
		for _, tag := range mgr.Tags {
			remaining := limit - foundSoFar
			if remaining <= 0 {
				break
			}

			candidates, err := e.store.ClaimCandidates(ctx, tx, []string{tag}, remaining, mgr.Programs)
			if err != nil {
				return fmt.Errorf("select claim candidates for tag %q: %w", tag, err)
			}

			for _, task := range candidates {
				if err := e.store.SetStatus(ctx, tx, task.RecordID, domain.StatusWaiting, domain.StatusRunning, managerName); err != nil {
					return fmt.Errorf("transition record %d to running: %w", task.RecordID, err)
				}
				if err := e.store.AssignTask(ctx, tx, task.ID, managerName); err != nil {
					return fmt.Errorf("assign task %d: %w", task.ID, err)
				}

				var payload domain.RecordTask
				if len(task.Spec) > 0 {
					if err := decodeSpec(task.Spec, &payload); err != nil {
						return fmt.Errorf("decode task %d spec: %w", task.ID, err)
					}
				}
				payload.ID = task.ID
				payload.RecordID = task.RecordID
				payload.ComputeTag = task.ComputeTag
				payload.RequiredPrograms = task.RequiredPrograms
				out = append(out, payload)
				foundSoFar++
			}
		}

		if foundSoFar > 0 {
			stats := domain.HeartbeatStats{ActiveTasks: mgr.ActiveTasks + foundSoFar, ActiveCores: mgr.ActiveCores, ActiveMemory: mgr.ActiveMemory}
			if err := e.store.Heartbeat(ctx, tx, managerName, stats, int64(foundSoFar), 0, 0, 0); err != nil {
				return fmt.Errorf("bump claimed counter: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordClaims(len(out))
	e.log.WithField("manager", managerName).WithField("claimed", len(out)).Info("tasks claimed")
	return out, nil
}

// decodeSpec unmarshals a task's stored spec payload into a RecordTask's
// function/args/kwargs fields (spec.md §6's RecordTask shape).
func decodeSpec(spec []byte, out *domain.RecordTask) error {
	return json.Unmarshal(spec, out)
}
