// Package managerregistry implements activation, heartbeat, and liveness
// bookkeeping for compute managers (spec.md §4.F).
package managerregistry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/platform/logging"
	"github.com/MolSSI/QCFractal-sub005/internal/storage"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

// Registry owns the compute_manager lifecycle: activate, heartbeat,
// deactivate, and the stale-manager sweep the periodic runner drives.
type Registry struct {
	db    *sql.DB
	store *postgres.Store
	log   *logging.Logger

	// HeartbeatTimeout is how long a manager may go without a heartbeat
	// before the sweep considers it dead (spec.md §4.F/§4.J).
	HeartbeatTimeout time.Duration
}

// New constructs a manager registry over an already-migrated database.
func New(db *sql.DB, store *postgres.Store, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.NewDefault("managerregistry")
	}
	return &Registry{db: db, store: store, log: log, HeartbeatTimeout: 2 * time.Minute}
}

// Activate registers a new live manager (spec.md §4.F: "the first thing a
// manager does on startup").
func (r *Registry) Activate(ctx context.Context, m domain.ComputeManager) (domain.ComputeManager, error) {
	var id int64
	err := storage.WithTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		id, err = r.store.ActivateManager(ctx, tx, m)
		return err
	})
	if err != nil {
		return domain.ComputeManager{}, fmt.Errorf("activate manager %s: %w", m.Name, err)
	}
	m.ID = id
	m.Status = domain.ManagerActive
	r.log.WithField("manager", m.Name).Info("manager activated")
	return m, nil
}

// Heartbeat applies one liveness report and its running-total deltas,
// appending a ManagerLog row (spec.md §3, §4.F).
func (r *Registry) Heartbeat(ctx context.Context, name string, stats domain.HeartbeatStats, claimedDelta, successesDelta, failuresDelta, rejectedDelta int64) error {
	err := storage.WithTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		return r.store.Heartbeat(ctx, tx, name, stats, claimedDelta, successesDelta, failuresDelta, rejectedDelta)
	})
	if err != nil {
		return fmt.Errorf("heartbeat manager %s: %w", name, err)
	}
	return nil
}

// Get loads a manager by name for read-only inspection.
func (r *Registry) Get(ctx context.Context, name string) (domain.ComputeManager, error) {
	var m domain.ComputeManager
	err := storage.WithReadTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		m, err = r.store.GetManager(ctx, tx, name, false)
		return err
	})
	return m, err
}

// Deactivate transitions a manager to inactive, releases every task still
// assigned to it back to the claimable pool, and transitions each task's
// owning record from running back to waiting with manager_name cleared
// (spec.md §4.F(cont.): "all records in status=running previously claimed
// by one of them are transitioned back to waiting; manager_name is
// cleared", invariant 3).
func (r *Registry) Deactivate(ctx context.Context, name string) (int, error) {
	var released int
	err := storage.WithTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := r.store.DeactivateManager(ctx, tx, name); err != nil {
			return err
		}
		tasks, err := r.store.TasksForManager(ctx, tx, name)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if err := r.store.ReleaseTask(ctx, tx, task.ID); err != nil {
				return err
			}
			if err := r.store.SetStatus(ctx, tx, task.RecordID, domain.StatusRunning, domain.StatusWaiting, ""); err != nil {
				return err
			}
		}
		released = len(tasks)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("deactivate manager %s: %w", name, err)
	}
	r.log.WithField("manager", name).WithField("released_tasks", released).Info("manager deactivated")
	return released, nil
}

// SweepStale deactivates every manager that has gone silent longer than
// HeartbeatTimeout, returning their names (spec.md §4.J's
// manager_heartbeat_check periodic job).
func (r *Registry) SweepStale(ctx context.Context) ([]string, error) {
	var stale []string
	err := storage.WithReadTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		stale, err = r.store.StaleManagers(ctx, tx, int(r.HeartbeatTimeout.Seconds()))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list stale managers: %w", err)
	}

	for _, name := range stale {
		if _, err := r.Deactivate(ctx, name); err != nil {
			r.log.WithError(err).WithField("manager", name).Error("failed to deactivate stale manager")
		}
	}
	return stale, nil
}
