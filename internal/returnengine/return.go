// Package returnengine implements update_completed, the manager-facing
// task-return critical section (spec.md §4.H).
package returnengine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/metrics"
	"github.com/MolSSI/QCFractal-sub005/internal/notify"
	"github.com/MolSSI/QCFractal-sub005/internal/outputstore"
	"github.com/MolSSI/QCFractal-sub005/internal/platform/logging"
	"github.com/MolSSI/QCFractal-sub005/internal/storage"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

// RejectedTask names one task_id the return engine refused, and why.
type RejectedTask struct {
	ID     int64
	Reason string
}

// Outcome is the wire shape POST /compute/v1/tasks/return hands back
// (spec.md §6).
type Outcome struct {
	AcceptedIDs      []int64
	RejectedInfo     []RejectedTask
	ErrorDescription string
}

// Engine runs the per-task return critical section against a Postgres-
// backed store, firing completion notifications as records change status.
type Engine struct {
	db       *sql.DB
	store    *postgres.Store
	notifier *notify.Registry
	log      *logging.Logger
}

// New constructs a return engine.
func New(db *sql.DB, store *postgres.Store, notifier *notify.Registry, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.NewDefault("returnengine")
	}
	return &Engine{db: db, store: store, notifier: notifier, log: log}
}

// UpdateCompleted processes every task_id -> result pair the manager
// reports, each inside its own savepoint so one bad result can't undo
// another task's applied result or the manager row lock (spec.md §4.H).
func (e *Engine) UpdateCompleted(ctx context.Context, managerName string, results map[int64]domain.TaskResult) (Outcome, error) {
	var out Outcome
	type changed struct {
		recordID int64
		status   domain.RecordStatus
	}
	var changes []changed

	var successes, failures, rejected int64

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

		i := 0
		for taskID, result := range results {
			i++
			var recordID int64
			var newStatus domain.RecordStatus

			spErr := storage.WithSavepoint(ctx, tx, fmt.Sprintf("task_return_%d", i), func(ctx context.Context, tx *sql.Tx) error {
				rid, status, err := e.applyOne(ctx, tx, managerName, taskID, result)
				recordID, newStatus = rid, status
				return err
			})
			if spErr != nil {
				reason := spErr.Error()
				out.RejectedInfo = append(out.RejectedInfo, RejectedTask{ID: taskID, Reason: reason})
				rejected++
				e.log.WithField("task_id", taskID).WithError(spErr).Warn("task return rejected")
				continue
			}

			out.AcceptedIDs = append(out.AcceptedIDs, taskID)
			if newStatus == domain.StatusComplete {
				successes++
			} else {
				failures++
			}
			changes = append(changes, changed{recordID: recordID, status: newStatus})
		}

		stats := domain.HeartbeatStats{ActiveTasks: mgr.ActiveTasks - len(out.AcceptedIDs) - int(rejected), ActiveCores: mgr.ActiveCores, ActiveMemory: mgr.ActiveMemory}
		if stats.ActiveTasks < 0 {
			stats.ActiveTasks = 0
		}
		return e.store.Heartbeat(ctx, tx, managerName, stats, 0, successes, failures, rejected)
	})
	if err != nil {
		return Outcome{}, err
	}

	for _, c := range changes {
		if e.notifier != nil {
			e.notifier.Notify(c.recordID, c.status)
		}
		status := "complete"
		if c.status != domain.StatusComplete {
			status = "error"
		}
		metrics.RecordTaskReturn(status)
	}
	for range out.RejectedInfo {
		metrics.RecordTaskReturn("rejected")
	}

	return out, nil
}

// applyOne runs steps 2-4 of spec.md §4.H for a single task, returning the
// affected record id and its resulting status.
func (e *Engine) applyOne(ctx context.Context, tx *sql.Tx, managerName string, taskID int64, result domain.TaskResult) (int64, domain.RecordStatus, error) {
	task, err := e.store.GetTask(ctx, tx, taskID, true)
	if err != nil {
		return 0, "", err
	}

	rec, err := e.store.GetBaseRecord(ctx, tx, task.RecordID, true)
	if err != nil {
		return 0, "", err
	}
	if rec.Status != domain.StatusRunning {
		return 0, "", apierrors.UserReportable(fmt.Sprintf("record %d is not running", rec.ID))
	}
	if rec.ManagerName != managerName {
		return 0, "", apierrors.ComputeManager(fmt.Sprintf("record %d is owned by %q, not %q", rec.ID, rec.ManagerName, managerName), false)
	}

	if result.Status != domain.ResultSuccess {
		if err := e.recordFailure(ctx, tx, rec, result); err != nil {
			return 0, "", err
		}
		return rec.ID, domain.StatusError, nil
	}

	if err := e.recordSuccess(ctx, tx, rec, task, result); err != nil {
		failResult := domain.TaskResult{
			Status:       domain.ResultFailure,
			ErrorType:    "internal_fractal_error",
			ErrorMessage: err.Error(),
		}
		if failErr := e.recordFailure(ctx, tx, rec, failResult); failErr != nil {
			return 0, "", fmt.Errorf("completion failed (%v) and failure fallback also failed: %w", err, failErr)
		}
		return rec.ID, domain.StatusError, nil
	}
	return rec.ID, domain.StatusComplete, nil
}

// recordFailure persists a FailedOperation: compressed outputs, a history
// row, and the record transitioned to error (spec.md §4.H step 4).
func (e *Engine) recordFailure(ctx context.Context, tx *sql.Tx, rec domain.BaseRecord, result domain.TaskResult) error {
	stdoutID, stderrID, errID, err := e.storeOutputs(ctx, tx, result.Stdout, result.Stderr, []byte(result.ErrorMessage+"\n"+result.Traceback))
	if err != nil {
		return err
	}
	if err := e.store.SetOutputs(ctx, tx, rec.ID, stdoutID, stderrID, errID); err != nil {
		return err
	}
	if _, err := e.store.AppendHistory(ctx, tx, domain.ComputeHistoryRow{
		RecordID:    rec.ID,
		Status:      domain.StatusError,
		ManagerName: rec.ManagerName,
		OutputIDs:   map[string]int64{"stdout": stdoutID, "stderr": stderrID, "error": errID},
	}); err != nil {
		return err
	}
	if err := e.store.SetStatus(ctx, tx, rec.ID, domain.StatusRunning, domain.StatusError, rec.ManagerName); err != nil {
		return err
	}
	return nil
}

// recordSuccess dispatches to the record-type-specific completion handler,
// then appends history, flips the record to complete, and deletes its task
// (spec.md §4.H step 4, §4.I.specialized).
func (e *Engine) recordSuccess(ctx context.Context, tx *sql.Tx, rec domain.BaseRecord, task domain.Task, result domain.TaskResult) error {
	var err error
	switch rec.RecordType {
	case domain.RecordSinglepoint:
		err = e.completeSinglepoint(ctx, tx, rec.ID, result)
	case domain.RecordOptimization:
		err = e.completeOptimization(ctx, tx, rec.ID, result)
	default:
		err = fmt.Errorf("record type %q does not accept a direct task return", rec.RecordType)
	}
	if err != nil {
		return err
	}

	stdoutID, stderrID, _, err := e.storeOutputs(ctx, tx, result.Stdout, result.Stderr, nil)
	if err != nil {
		return err
	}
	if err := e.store.SetOutputs(ctx, tx, rec.ID, stdoutID, stderrID, 0); err != nil {
		return err
	}
	if _, err := e.store.AppendHistory(ctx, tx, domain.ComputeHistoryRow{
		RecordID:    rec.ID,
		Status:      domain.StatusComplete,
		ManagerName: rec.ManagerName,
		OutputIDs:   map[string]int64{"stdout": stdoutID, "stderr": stderrID},
	}); err != nil {
		return err
	}
	if err := e.store.SetStatus(ctx, tx, rec.ID, domain.StatusRunning, domain.StatusComplete, rec.ManagerName); err != nil {
		return err
	}
	return e.store.DeleteTask(ctx, tx, rec.ID)
}

func (e *Engine) storeOutputs(ctx context.Context, tx *sql.Tx, stdout, stderr, errOut []byte) (stdoutID, stderrID, errID int64, err error) {
	put := func(kind string, raw []byte) (int64, error) {
		if len(raw) == 0 {
			return 0, nil
		}
		entry, err := outputstore.Compress(kind, raw, outputstore.CompressionZstd, 0)
		if err != nil {
			return 0, fmt.Errorf("compress %s: %w", kind, err)
		}
		return e.store.PutOutput(ctx, tx, entry)
	}

	if stdoutID, err = put("stdout", stdout); err != nil {
		return
	}
	if stderrID, err = put("stderr", stderr); err != nil {
		return
	}
	if errID, err = put("error", errOut); err != nil {
		return
	}
	return
}

// completeSinglepoint validates the manager's result against the record's
// requested specification and molecule, then writes the final answer
// (spec.md §4.H specialized completion).
func (e *Engine) completeSinglepoint(ctx context.Context, tx *sql.Tx, recordID int64, result domain.TaskResult) error {
	if result.Singlepoint == nil {
		return fmt.Errorf("success result missing singlepoint payload")
	}
	res := result.Singlepoint

	rec, err := e.store.GetSinglepoint(ctx, tx, recordID)
	if err != nil {
		return err
	}
	if res.MoleculeID != 0 && res.MoleculeID != rec.MoleculeID {
		return fmt.Errorf("result molecule %d does not match record molecule %d", res.MoleculeID, rec.MoleculeID)
	}
	if res.Program != "" && res.Program != rec.Spec.Program {
		return fmt.Errorf("result program %q does not match record program %q", res.Program, rec.Spec.Program)
	}
	if res.Driver != "" && res.Driver != rec.Spec.Driver {
		return fmt.Errorf("result driver %q does not match record driver %q", res.Driver, rec.Spec.Driver)
	}
	if res.Method != "" && res.Method != rec.Spec.Method {
		return fmt.Errorf("result method %q does not match record method %q", res.Method, rec.Spec.Method)
	}
	if res.Basis != "" && res.Basis != rec.Spec.Basis {
		return fmt.Errorf("result basis %q does not match record basis %q", res.Basis, rec.Spec.Basis)
	}

	var waveID int64
	if len(res.Wavefunction) > 0 {
		entry, err := outputstore.Compress("wavefunction", res.Wavefunction, outputstore.CompressionZstd, 0)
		if err != nil {
			return fmt.Errorf("compress wavefunction: %w", err)
		}
		waveID, err = e.store.PutOutput(ctx, tx, entry)
		if err != nil {
			return err
		}
		if rec.WavefunctionID != 0 {
			if err := e.store.DeleteOutput(ctx, tx, rec.WavefunctionID); err != nil {
				return err
			}
		}
	}

	return e.store.CompleteSinglepoint(ctx, tx, recordID, res.ReturnResult, res.Properties, waveID)
}

// completeOptimization additionally dedups the final molecule and every
// trajectory step's molecule, materializes each step as a deduplicated
// singlepoint record via the standard insert path, and records the energy
// trace (spec.md §4.H specialized completion, optimization addendum).
func (e *Engine) completeOptimization(ctx context.Context, tx *sql.Tx, recordID int64, result domain.TaskResult) error {
	if result.Optimization == nil {
		return fmt.Errorf("success result missing optimization payload")
	}
	res := result.Optimization

	opt, err := e.store.GetOptimization(ctx, tx, recordID)
	if err != nil {
		return err
	}

	finalIDs, _, err := e.store.InsertMolecules(ctx, tx, []domain.Molecule{res.FinalMolecule}, storage.DefaultBatchSize)
	if err != nil {
		return fmt.Errorf("insert final molecule: %w", err)
	}
	finalMoleculeID := finalIDs[0]

	var energies []float64
	for _, step := range res.Trajectory {
		molIDs, _, err := e.store.InsertMolecules(ctx, tx, []domain.Molecule{step.Molecule}, storage.DefaultBatchSize)
		if err != nil {
			return fmt.Errorf("insert trajectory molecule: %w", err)
		}
		moleculeID := molIDs[0]

		spID, found, err := e.store.FindSinglepoint(ctx, tx, opt.Spec.QCSpec, moleculeID)
		if err != nil {
			return err
		}
		if !found {
			spID, err = e.store.CreateSinglepoint(ctx, tx, domain.SinglepointRecord{
				BaseRecord: domain.BaseRecord{
					Status:     domain.StatusComplete,
					Owner:      opt.Owner,
					Provenance: res.Provenance,
				},
				Spec:       opt.Spec.QCSpec,
				MoleculeID: moleculeID,
				Properties: step.Properties,
			})
			if err != nil {
				return fmt.Errorf("create trajectory singlepoint: %w", err)
			}
		}
		if err := e.store.AppendTrajectoryStep(ctx, tx, recordID, spID, step.Energy); err != nil {
			return err
		}
		energies = append(energies, step.Energy)
	}

	return e.store.CompleteOptimization(ctx, tx, recordID, finalMoleculeID, energies)
}
