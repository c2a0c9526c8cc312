package serviceengine

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

// marshalRecordTask encodes the opaque task spec a manager decodes back
// into a RecordTask (spec.md §6): the server never interprets function,
// args, or kwargs beyond storing them.
func marshalRecordTask(recordID int64, function string) ([]byte, error) {
	return json.Marshal(domain.RecordTask{
		RecordID: recordID,
		Function: function,
		Args:     []interface{}{recordID},
		Kwargs:   map[string]interface{}{},
	})
}

// childInfo is one resolved dependency: its logical key, the child record
// it points at, and that child's current status.
type childInfo struct {
	Key      string
	RecordID int64
	Status   domain.RecordStatus
}

// loadChildren resolves a service's dependency rows against their owning
// records' current status (spec.md §4.I: "collect completed children").
func loadChildren(ctx context.Context, tx *sql.Tx, store *postgres.Store, deps []domain.ServiceDependency) (map[string]childInfo, error) {
	out := make(map[string]childInfo, len(deps))
	for _, d := range deps {
		rec, err := store.GetBaseRecord(ctx, tx, d.ChildRecordID, false)
		if err != nil {
			return nil, fmt.Errorf("load dependency %s (record %d): %w", d.Key, d.ChildRecordID, err)
		}
		out[d.Key] = childInfo{Key: d.Key, RecordID: d.ChildRecordID, Status: rec.Status}
	}
	return out, nil
}

// firstErrored reports the key of the first dependency whose record ended
// up in error, in deterministic key order.
func firstErrored(children map[string]childInfo) (childInfo, bool) {
	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if children[k].Status == domain.StatusError {
			return children[k], true
		}
	}
	return childInfo{}, false
}

// allComplete reports whether every dependency's record has reached
// complete.
func allComplete(children map[string]childInfo) bool {
	for _, c := range children {
		if c.Status != domain.StatusComplete {
			return false
		}
	}
	return true
}

// hashIndex derives a deterministic dedup key for a service-spawned child
// from its defining pieces, mirroring Molecule.Hash's "canonicalize, then
// sha256" pattern (spec.md §3 invariant 4).
func hashIndex(parts ...interface{}) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%v|", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// submitOptimization creates (or finds, by dedup hash) an optimization
// record plus its task, returning its id. Used by every service that
// spawns optimization children (spec.md §4.I: "submit child records+tasks
// via the standard insert path").
func submitOptimization(ctx context.Context, tx *sql.Tx, store *postgres.Store, owner, computeTag string, spec domain.OptimizationSpecification, moleculeID int64, salt string) (int64, error) {
	spec = spec.Normalize()
	hash := hashIndex("optimization", spec, moleculeID, salt)
	if id, found, err := store.FindOptimization(ctx, tx, hash); err != nil {
		return 0, err
	} else if found {
		return id, nil
	}

	id, err := store.CreateOptimization(ctx, tx, domain.OptimizationRecord{
		BaseRecord:        domain.BaseRecord{Owner: owner},
		HashIndex:         hash,
		Spec:              spec,
		InitialMoleculeID: moleculeID,
	})
	if err != nil {
		return 0, fmt.Errorf("create optimization child: %w", err)
	}
	if err := createComputeTask(ctx, tx, store, id, "compute_procedure", computeTag, domain.RequiredPrograms{spec.Program: ""}); err != nil {
		return 0, err
	}
	return id, nil
}

// submitSinglepoint creates (or finds, by dedup) a singlepoint record plus
// its task, returning its id.
func submitSinglepoint(ctx context.Context, tx *sql.Tx, store *postgres.Store, owner, computeTag string, spec domain.QCSpecification, moleculeID int64) (int64, error) {
	spec = spec.Normalize()
	if id, found, err := store.FindSinglepoint(ctx, tx, spec, moleculeID); err != nil {
		return 0, err
	} else if found {
		return id, nil
	}

	id, err := store.CreateSinglepoint(ctx, tx, domain.SinglepointRecord{
		BaseRecord: domain.BaseRecord{Owner: owner},
		Spec:       spec,
		MoleculeID: moleculeID,
	})
	if err != nil {
		return 0, fmt.Errorf("create singlepoint child: %w", err)
	}
	if err := createComputeTask(ctx, tx, store, id, "compute", computeTag, domain.RequiredPrograms{spec.Program: ""}); err != nil {
		return 0, err
	}
	return id, nil
}

func createComputeTask(ctx context.Context, tx *sql.Tx, store *postgres.Store, recordID int64, function, computeTag string, programs domain.RequiredPrograms) error {
	spec, err := marshalRecordTask(recordID, function)
	if err != nil {
		return err
	}
	_, err = store.CreateTask(ctx, tx, domain.Task{
		RecordID:         recordID,
		Spec:             spec,
		ComputeTag:       computeTag,
		RequiredPrograms: programs,
		Priority:         domain.PriorityNormal,
	})
	return err
}

// extractSinglepointEnergy pulls a scalar energy out of a singlepoint's return_result,
// falling back to its properties map (the two shapes a "energy" driver
// result can take, per spec.md §3/§6).
func extractSinglepointEnergy(r domain.SinglepointRecord) float64 {
	if f, ok := r.ReturnResult.(float64); ok {
		return f
	}
	if r.Properties != nil {
		if f, ok := r.Properties["current energy"].(float64); ok {
			return f
		}
		if f, ok := r.Properties["return_energy"].(float64); ok {
			return f
		}
	}
	return 0
}

func lastEnergy(energies []float64) float64 {
	if len(energies) == 0 {
		return 0
	}
	return energies[len(energies)-1]
}
