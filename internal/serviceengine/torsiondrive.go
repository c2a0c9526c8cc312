package serviceengine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

// stepTorsiondrive implements the torsion-drive algorithm of spec.md §4.I:
// a fixed dihedral grid is enumerated once (in place of delegating to the
// external torsiondrive optimizer state machine, which this deployment does
// not vendor — see DESIGN.md), each grid point becomes one optimization of
// the first initial molecule with the record's OptSpec unchanged (no
// dihedral constraint is attached; only the dedup salt differs per grid
// point), and the service completes once every grid point converges.
func stepTorsiondrive(ctx context.Context, tx *sql.Tx, store *postgres.Store, rec domain.BaseRecord, entry domain.ServiceQueueEntry, children map[string]childInfo) (bool, error) {
	td, err := store.GetTorsiondrive(ctx, tx, rec.ID)
	if err != nil {
		return false, err
	}
	if len(td.InitialMoleculeIDs) == 0 {
		return false, fmt.Errorf("torsiondrive %d has no initial molecule", rec.ID)
	}
	startMolecule := td.InitialMoleculeIDs[0]

	if len(children) == 0 {
		for _, key := range gridKeys(td.DihedralRanges, td.GridSpacing) {
			optID, err := submitOptimization(ctx, tx, store, rec.Owner, entry.ComputeTag, td.OptSpec, startMolecule, fmt.Sprintf("td-%d-%s", rec.ID, key))
			if err != nil {
				return false, fmt.Errorf("submit grid point %s: %w", key, err)
			}
			if err := store.SetDependency(ctx, tx, rec.ID, domain.ServiceDependency{ChildRecordID: optID, Key: key}); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	if !allComplete(children) {
		return false, nil
	}

	gridOpts := make(map[string]int64, len(children))
	finalEnergies := make(map[string]float64, len(children))
	minimumPositions := make(map[string][]float64, len(children))
	for key, c := range children {
		opt, err := store.GetOptimization(ctx, tx, c.RecordID)
		if err != nil {
			return false, err
		}
		gridOpts[key] = c.RecordID
		finalEnergies[key] = lastEnergy(opt.Energies)
		minimumPositions[key] = parseGridKey(key)
	}

	if err := store.UpdateTorsiondriveState(ctx, tx, rec.ID, gridOpts, minimumPositions, finalEnergies); err != nil {
		return false, err
	}
	if _, err := store.AppendHistory(ctx, tx, domain.ComputeHistoryRow{RecordID: rec.ID, Status: domain.StatusComplete}); err != nil {
		return false, err
	}
	if err := store.SetStatus(ctx, tx, rec.ID, domain.StatusRunning, domain.StatusComplete, ""); err != nil {
		return false, err
	}
	return true, nil
}

// gridKeys enumerates every grid point of a torsiondrive scan as a
// cartesian product of each dihedral's [min,max] range stepped by its grid
// spacing, keyed as a comma-joined angle list (e.g. "-60,60").
func gridKeys(ranges [][2]float64, spacing []float64) []string {
	axes := make([][]float64, len(ranges))
	for i, r := range ranges {
		step := 15.0
		if i < len(spacing) && spacing[i] > 0 {
			step = spacing[i]
		}
		for v := r[0]; v <= r[1]+1e-9; v += step {
			axes[i] = append(axes[i], v)
		}
	}
	return cartesianKeys(axes)
}

func cartesianKeys(axes [][]float64) []string {
	if len(axes) == 0 {
		return nil
	}
	combos := [][]float64{{}}
	for _, axis := range axes {
		var next [][]float64
		for _, combo := range combos {
			for _, v := range axis {
				extended := append(append([]float64{}, combo...), v)
				next = append(next, extended)
			}
		}
		combos = next
	}
	keys := make([]string, len(combos))
	for i, combo := range combos {
		parts := make([]string, len(combo))
		for j, v := range combo {
			parts[j] = fmt.Sprintf("%g", v)
		}
		keys[i] = strings.Join(parts, ",")
	}
	return keys
}

func parseGridKey(key string) []float64 {
	parts := strings.Split(key, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		var v float64
		if _, err := fmt.Sscanf(p, "%g", &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}
