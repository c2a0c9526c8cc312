// Package serviceengine drives the iterate() contract for service records
// (spec.md §4.I): torsion drives, grid optimizations, reactions, many-body
// expansions, and nudged-elastic-band pathways. Services are picked up by
// the Periodic Runner (spec.md §4.J), never claimed directly by managers.
package serviceengine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/notify"
	"github.com/MolSSI/QCFractal-sub005/internal/platform/logging"
	"github.com/MolSSI/QCFractal-sub005/internal/storage"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

// Engine runs one iterate() pass per due service record.
type Engine struct {
	db       *sql.DB
	store    *postgres.Store
	notifier *notify.Registry
	log      *logging.Logger
}

// New constructs a service engine.
func New(db *sql.DB, store *postgres.Store, notifier *notify.Registry, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.NewDefault("serviceengine")
	}
	return &Engine{db: db, store: store, notifier: notifier, log: log}
}

// IterateDue runs one tick over up to limit due services (the
// service_tick periodic job of spec.md §4.J), returning how many it
// attempted.
func (e *Engine) IterateDue(ctx context.Context, limit int) (int, error) {
	var ids []int64
	err := storage.WithReadTx(ctx, e.db, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		ids, err = e.store.ListDueServices(ctx, tx, limit)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list due services: %w", err)
	}

	for _, id := range ids {
		if err := e.Iterate(ctx, id); err != nil {
			e.log.WithError(err).WithField("service_queue_id", id).Error("service iteration failed")
		}
	}
	return len(ids), nil
}

// Iterate runs one iterate() pass for a single service_queue row (spec.md
// §4.I).
func (e *Engine) Iterate(ctx context.Context, serviceQueueID int64) error {
	var notifyRecordID int64
	var notifyStatus domain.RecordStatus

	err := storage.WithTx(ctx, e.db, func(ctx context.Context, tx *sql.Tx) error {
		entry, err := e.store.GetServiceQueueEntry(ctx, tx, serviceQueueID, true)
		if err != nil {
			return err
		}
		rec, err := e.store.GetBaseRecord(ctx, tx, entry.ProcedureID, true)
		if err != nil {
			return err
		}
		if rec.Status != domain.StatusWaiting && rec.Status != domain.StatusRunning {
			return nil
		}
		if rec.Status == domain.StatusWaiting {
			if err := e.store.SetStatus(ctx, tx, rec.ID, domain.StatusWaiting, domain.StatusRunning, ""); err != nil {
				return err
			}
			rec.Status = domain.StatusRunning
		}

		children, err := loadChildren(ctx, tx, e.store, entry.Dependencies)
		if err != nil {
			return err
		}

		if failed, ok := firstErrored(children); ok {
			if _, err := e.store.AppendHistory(ctx, tx, domain.ComputeHistoryRow{
				RecordID: rec.ID,
				Status:   domain.StatusError,
				Provenance: map[string]interface{}{
					"note":          "dependency failed",
					"dependency":    failed.Key,
					"dependency_id": failed.RecordID,
				},
			}); err != nil {
				return err
			}
			if err := e.store.SetStatus(ctx, tx, rec.ID, domain.StatusRunning, domain.StatusError, ""); err != nil {
				return err
			}
			if err := e.store.DeleteServiceQueueEntry(ctx, tx, entry.ID); err != nil {
				return err
			}
			notifyRecordID, notifyStatus = rec.ID, domain.StatusError
			return nil
		}

		step := e.stepFor(rec.RecordType)
		if step == nil {
			return fmt.Errorf("record type %q is not a service", rec.RecordType)
		}
		done, err := step(ctx, tx, e.store, rec, entry, children)
		if err != nil {
			return err
		}
		if done {
			if err := e.store.DeleteServiceQueueEntry(ctx, tx, entry.ID); err != nil {
				return err
			}
			notifyRecordID, notifyStatus = rec.ID, domain.StatusComplete
		}
		return nil
	})
	if err != nil {
		return err
	}
	if notifyRecordID != 0 && e.notifier != nil {
		e.notifier.Notify(notifyRecordID, notifyStatus)
	}
	return nil
}

// stepFunc runs one record-type's algorithm for a single tick. It returns
// done=true once the service's final aggregates have been written and the
// record transitioned to complete.
type stepFunc func(ctx context.Context, tx *sql.Tx, store *postgres.Store, rec domain.BaseRecord, entry domain.ServiceQueueEntry, children map[string]childInfo) (done bool, err error)

func (e *Engine) stepFor(rt domain.RecordType) stepFunc {
	switch rt {
	case domain.RecordTorsiondrive:
		return stepTorsiondrive
	case domain.RecordGridoptimization:
		return stepGridoptimization
	case domain.RecordReaction:
		return stepReaction
	case domain.RecordManybody:
		return stepManybody
	case domain.RecordNEB:
		return stepNEB
	default:
		return nil
	}
}
