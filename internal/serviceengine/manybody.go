package serviceengine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

// stepManybody implements the many-body expansion algorithm of spec.md
// §4.I: each pre-enumerated fragment-subset cluster becomes one
// singlepoint child, real or ghost-basis per BSSE correction, and the
// final properties are the per-cluster energy decomposition once every
// cluster completes.
func stepManybody(ctx context.Context, tx *sql.Tx, store *postgres.Store, rec domain.BaseRecord, entry domain.ServiceQueueEntry, children map[string]childInfo) (bool, error) {
	mb, err := store.GetManybody(ctx, tx, rec.ID)
	if err != nil {
		return false, err
	}
	full, err := loadMolecule(ctx, tx, store, mb.StartingMoleculeID)
	if err != nil {
		return false, err
	}

	if len(children) == 0 {
		for _, c := range mb.Clusters {
			clusterMolecule := buildClusterMolecule(full, c.Fragments, c.BasisKind == "ghost")
			spID, err := submitSinglepointMolecule(ctx, tx, store, rec.Owner, entry.ComputeTag, mb.QCSpec, clusterMolecule)
			if err != nil {
				return false, fmt.Errorf("submit cluster %s: %w", c.ClusterKey, err)
			}
			if err := store.SetClusterResult(ctx, tx, rec.ID, c.ClusterKey, spID); err != nil {
				return false, err
			}
			if err := store.SetDependency(ctx, tx, rec.ID, domain.ServiceDependency{ChildRecordID: spID, Key: c.ClusterKey}); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	if !allComplete(children) {
		return false, nil
	}

	properties := map[string]interface{}{}
	var total float64
	perCluster := map[string]float64{}
	for key, c := range children {
		sp, err := store.GetSinglepoint(ctx, tx, c.RecordID)
		if err != nil {
			return false, err
		}
		e := extractSinglepointEnergy(sp)
		perCluster[key] = e
		total += e
	}
	properties["cluster_energies"] = perCluster
	properties["total_energy"] = total

	if err := store.CompleteManybody(ctx, tx, rec.ID, properties); err != nil {
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

func loadMolecule(ctx context.Context, tx *sql.Tx, store *postgres.Store, id int64) (domain.Molecule, error) {
	mols, err := store.GetMolecules(ctx, tx, []int64{id}, false)
	if err != nil {
		return domain.Molecule{}, err
	}
	return mols[0], nil
}

// buildClusterMolecule restricts full to the atoms in the chosen fragment
// subset. When ghost is true (counterpoise correction), every other
// fragment's atoms are retained as ghost centers (symbol prefixed "@",
// contributing basis functions but no charge) rather than removed, the
// standard many-body BSSE convention.
func buildClusterMolecule(full domain.Molecule, fragmentIdx []int, ghost bool) domain.Molecule {
	chosen := make(map[int]bool, len(fragmentIdx))
	for _, f := range fragmentIdx {
		chosen[f] = true
	}

	out := domain.Molecule{
		MolecularCharge:       full.MolecularCharge,
		MolecularMultiplicity: full.MolecularMultiplicity,
		Identifiers:           full.Identifiers,
	}
	for fragIdx, atoms := range full.Fragments {
		inCluster := chosen[fragIdx]
		if !inCluster && !ghost {
			continue
		}
		for _, atomIdx := range atoms {
			if atomIdx < 0 || atomIdx >= len(full.Symbols) {
				continue
			}
			symbol := full.Symbols[atomIdx]
			if !inCluster {
				symbol = "@" + symbol
			}
			out.Symbols = append(out.Symbols, symbol)
			out.Geometry = append(out.Geometry, full.Geometry[3*atomIdx], full.Geometry[3*atomIdx+1], full.Geometry[3*atomIdx+2])
		}
	}
	return out
}

func submitSinglepointMolecule(ctx context.Context, tx *sql.Tx, store *postgres.Store, owner, computeTag string, spec domain.QCSpecification, mol domain.Molecule) (int64, error) {
	ids, _, err := store.InsertMolecules(ctx, tx, []domain.Molecule{mol}, 1)
	if err != nil {
		return 0, fmt.Errorf("insert cluster molecule: %w", err)
	}
	return submitSinglepoint(ctx, tx, store, owner, computeTag, spec, ids[0])
}
