package serviceengine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

// stepReaction implements the reaction algorithm of spec.md §4.I: each
// stoichiometric component runs an optimization (if an OptSpec is given)
// followed by a singlepoint on the optimized geometry, or a singlepoint
// directly on its starting molecule otherwise. The total energy is the
// coefficient-weighted sum of component energies.
func stepReaction(ctx context.Context, tx *sql.Tx, store *postgres.Store, rec domain.BaseRecord, entry domain.ServiceQueueEntry, children map[string]childInfo) (bool, error) {
	react, err := store.GetReaction(ctx, tx, rec.ID)
	if err != nil {
		return false, err
	}

	if len(children) == 0 {
		for pos, comp := range react.Components {
			if react.OptSpec != nil {
				optID, err := submitOptimization(ctx, tx, store, rec.Owner, entry.ComputeTag, *react.OptSpec, comp.MoleculeID, fmt.Sprintf("rxn-%d-%d", rec.ID, pos))
				if err != nil {
					return false, err
				}
				if err := store.SetDependency(ctx, tx, rec.ID, domain.ServiceDependency{ChildRecordID: optID, Key: optKey(pos)}); err != nil {
					return false, err
				}
				continue
			}
			spec := domain.QCSpecification{}
			if react.QCSpec != nil {
				spec = *react.QCSpec
			}
			spID, err := submitSinglepoint(ctx, tx, store, rec.Owner, entry.ComputeTag, spec, comp.MoleculeID)
			if err != nil {
				return false, err
			}
			if err := store.SetDependency(ctx, tx, rec.ID, domain.ServiceDependency{ChildRecordID: spID, Key: spKey(pos)}); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	allDone := true
	for pos := range react.Components {
		ok, err := advanceReactionComponent(ctx, tx, store, rec, entry, react, pos, children)
		if err != nil {
			return false, err
		}
		if !ok {
			allDone = false
		}
	}
	if !allDone {
		return false, nil
	}

	var total float64
	for pos, comp := range react.Components {
		sp, err := store.GetSinglepoint(ctx, tx, children[spKey(pos)].RecordID)
		if err != nil {
			return false, err
		}
		total += comp.Coefficient * extractSinglepointEnergy(sp)

		var optID int64
		if c, ok := children[optKey(pos)]; ok {
			optID = c.RecordID
		}
		if err := store.SetComponentResult(ctx, tx, rec.ID, pos, children[spKey(pos)].RecordID, optID); err != nil {
			return false, err
		}
	}

	if err := store.CompleteReaction(ctx, tx, rec.ID, total); err != nil {
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

// advanceReactionComponent reports whether component pos's singlepoint leg
// is complete, submitting it (once its optional optimization leg finishes)
// if it hasn't been yet.
func advanceReactionComponent(ctx context.Context, tx *sql.Tx, store *postgres.Store, rec domain.BaseRecord, entry domain.ServiceQueueEntry, react domain.ReactionRecord, pos int, children map[string]childInfo) (bool, error) {
	if sp, ok := children[spKey(pos)]; ok {
		return sp.Status == domain.StatusComplete, nil
	}

	moleculeID := react.Components[pos].MoleculeID
	if opt, ok := children[optKey(pos)]; ok {
		if opt.Status != domain.StatusComplete {
			return false, nil
		}
		optRec, err := store.GetOptimization(ctx, tx, opt.RecordID)
		if err != nil {
			return false, err
		}
		moleculeID = optRec.FinalMoleculeID
	}

	spec := domain.QCSpecification{}
	if react.QCSpec != nil {
		spec = *react.QCSpec
	}
	spID, err := submitSinglepoint(ctx, tx, store, rec.Owner, entry.ComputeTag, spec, moleculeID)
	if err != nil {
		return false, err
	}
	if err := store.SetDependency(ctx, tx, rec.ID, domain.ServiceDependency{ChildRecordID: spID, Key: spKey(pos)}); err != nil {
		return false, err
	}
	return false, nil
}

func optKey(pos int) string { return fmt.Sprintf("opt-%d", pos) }
func spKey(pos int) string  { return fmt.Sprintf("sp-%d", pos) }
