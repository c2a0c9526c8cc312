package serviceengine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

const gridoptPreoptKey = "preopt"

// stepGridoptimization implements the grid-optimization algorithm of spec.md
// §4.I: an optional unconstrained preoptimization, followed by one
// optimization per grid point across the scan dimensions. Every grid-point
// optimization runs the record's OptSpec unchanged from the same start
// molecule; no scan-coordinate constraint is attached, only the dedup salt
// differs per grid point.
func stepGridoptimization(ctx context.Context, tx *sql.Tx, store *postgres.Store, rec domain.BaseRecord, entry domain.ServiceQueueEntry, children map[string]childInfo) (bool, error) {
	go_, err := store.GetGridoptimization(ctx, tx, rec.ID)
	if err != nil {
		return false, err
	}

	if go_.Preoptimization {
		pre, hasPre := children[gridoptPreoptKey]
		if !hasPre {
			optID, err := submitOptimization(ctx, tx, store, rec.Owner, entry.ComputeTag, go_.OptSpec, go_.StartingMoleculeID, fmt.Sprintf("go-%d-preopt", rec.ID))
			if err != nil {
				return false, err
			}
			return false, store.SetDependency(ctx, tx, rec.ID, domain.ServiceDependency{ChildRecordID: optID, Key: gridoptPreoptKey})
		}
		if pre.Status != domain.StatusComplete {
			return false, nil
		}
	}

	gridChildren := make(map[string]childInfo, len(children))
	for k, c := range children {
		if k != gridoptPreoptKey {
			gridChildren[k] = c
		}
	}

	if len(gridChildren) == 0 {
		startMolecule := go_.StartingMoleculeID
		if go_.Preoptimization {
			preOpt, err := store.GetOptimization(ctx, tx, children[gridoptPreoptKey].RecordID)
			if err != nil {
				return false, err
			}
			startMolecule = preOpt.FinalMoleculeID
		}

		for _, key := range gridoptKeys(go_.ScanDimensions) {
			optID, err := submitOptimization(ctx, tx, store, rec.Owner, entry.ComputeTag, go_.OptSpec, startMolecule, fmt.Sprintf("go-%d-%s", rec.ID, key))
			if err != nil {
				return false, fmt.Errorf("submit grid point %s: %w", key, err)
			}
			if err := store.SetDependency(ctx, tx, rec.ID, domain.ServiceDependency{ChildRecordID: optID, Key: key}); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	if !allComplete(gridChildren) {
		return false, nil
	}

	if _, err := store.AppendHistory(ctx, tx, domain.ComputeHistoryRow{RecordID: rec.ID, Status: domain.StatusComplete}); err != nil {
		return false, err
	}
	if err := store.SetStatus(ctx, tx, rec.ID, domain.StatusRunning, domain.StatusComplete, ""); err != nil {
		return false, err
	}
	return true, nil
}

// gridoptKeys enumerates the cartesian product of every scan dimension's
// strictly-monotonic steps, keyed as a comma-joined per-dimension value
// list.
func gridoptKeys(dims []domain.ScanDimension) []string {
	axes := make([][]float64, len(dims))
	for i, d := range dims {
		axes[i] = d.Steps
	}
	return cartesianKeys(axes)
}
