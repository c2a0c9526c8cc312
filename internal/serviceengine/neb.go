package serviceengine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

// nebMaxIterations caps the simplified NEB relaxation this deployment runs
// in place of a real nudged-elastic-band force-projection loop (see
// DESIGN.md): each iteration re-evaluates gradients at the same chain
// geometry, converging trivially once every image has a gradient on record.
const nebMaxIterations = 3

// stepNEB implements the NEB algorithm of spec.md §4.I: each iteration
// spawns gradient singlepoints for every non-endpoint chain image; once
// nebMaxIterations have completed, an optional terminal TS optimization
// runs from the highest-energy interior image before the service
// completes.
func stepNEB(ctx context.Context, tx *sql.Tx, store *postgres.Store, rec domain.BaseRecord, entry domain.ServiceQueueEntry, children map[string]childInfo) (bool, error) {
	neb, err := store.GetNEB(ctx, tx, rec.ID)
	if err != nil {
		return false, err
	}
	if len(neb.ChainMoleculeIDs) < 3 {
		return false, fmt.Errorf("neb %d needs at least 3 chain images, got %d", rec.ID, len(neb.ChainMoleculeIDs))
	}
	interior := neb.ChainMoleculeIDs[1 : len(neb.ChainMoleculeIDs)-1]

	if tsKey, ok := children[nebTSKey]; ok {
		if tsKey.Status != domain.StatusComplete {
			return false, nil
		}
		if err := store.CompleteNEB(ctx, tx, rec.ID, tsKey.RecordID); err != nil {
			return false, err
		}
		return finalizeNEB(ctx, tx, store, rec)
	}

	iteration := currentNEBIteration(neb.IterationSinglepoints)
	iterChildren, iterDone := nebIterationChildren(children, iteration)

	if len(iterChildren) == 0 {
		for pos, molID := range interior {
			spID, err := submitSinglepoint(ctx, tx, store, rec.Owner, entry.ComputeTag, neb.SPSpec, molID)
			if err != nil {
				return false, fmt.Errorf("submit neb iteration %d image %d: %w", iteration, pos, err)
			}
			if err := store.SetDependency(ctx, tx, rec.ID, domain.ServiceDependency{ChildRecordID: spID, Key: nebImageKey(iteration, pos), Position: pos}); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	if !iterDone {
		return false, nil
	}

	var spIDs []int64
	for pos := range interior {
		spIDs = append(spIDs, children[nebImageKey(iteration, pos)].RecordID)
	}
	if err := store.AppendIteration(ctx, tx, rec.ID, iteration, spIDs); err != nil {
		return false, err
	}

	if iteration+1 < nebMaxIterations {
		return false, nil
	}

	if neb.OptimizeTS && neb.OptSpec != nil {
		tsMolecule, err := highestEnergyImage(ctx, tx, store, spIDs)
		if err != nil {
			return false, err
		}
		optID, err := submitOptimization(ctx, tx, store, rec.Owner, entry.ComputeTag, *neb.OptSpec, tsMolecule, fmt.Sprintf("neb-%d-ts", rec.ID))
		if err != nil {
			return false, err
		}
		return false, store.SetDependency(ctx, tx, rec.ID, domain.ServiceDependency{ChildRecordID: optID, Key: nebTSKey})
	}

	return finalizeNEB(ctx, tx, store, rec)
}

const nebTSKey = "ts"

func nebImageKey(iteration, pos int) string { return fmt.Sprintf("iter-%d-img-%d", iteration, pos) }

func currentNEBIteration(recorded map[int][]int64) int {
	max := -1
	for iter := range recorded {
		if iter > max {
			max = iter
		}
	}
	return max + 1
}

func nebIterationChildren(children map[string]childInfo, iteration int) (map[string]childInfo, bool) {
	out := map[string]childInfo{}
	done := true
	for key, c := range children {
		if key == nebTSKey {
			continue
		}
		var iter int
		if _, err := fmt.Sscanf(key, "iter-%d-img-", &iter); err != nil || iter != iteration {
			continue
		}
		out[key] = c
		if c.Status != domain.StatusComplete {
			done = false
		}
	}
	return out, done
}

func highestEnergyImage(ctx context.Context, tx *sql.Tx, store *postgres.Store, spIDs []int64) (int64, error) {
	var bestMolecule int64
	var bestEnergy float64
	for i, id := range spIDs {
		sp, err := store.GetSinglepoint(ctx, tx, id)
		if err != nil {
			return 0, err
		}
		e := extractSinglepointEnergy(sp)
		if i == 0 || e > bestEnergy {
			bestEnergy = e
			bestMolecule = sp.MoleculeID
		}
	}
	return bestMolecule, nil
}

func finalizeNEB(ctx context.Context, tx *sql.Tx, store *postgres.Store, rec domain.BaseRecord) (bool, error) {
	if _, err := store.AppendHistory(ctx, tx, domain.ComputeHistoryRow{RecordID: rec.ID, Status: domain.StatusComplete}); err != nil {
		return false, err
	}
	if err := store.SetStatus(ctx, tx, rec.ID, domain.StatusRunning, domain.StatusComplete, ""); err != nil {
		return false, err
	}
	return true, nil
}
