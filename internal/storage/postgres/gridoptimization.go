package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

// CreateGridoptimization inserts a base_record plus its
// gridoptimization_record row, keyed on HashIndex for dedup.
func (s *Store) CreateGridoptimization(ctx context.Context, tx *sql.Tx, r domain.GridoptimizationRecord) (int64, error) {
	r.BaseRecord.RecordType = domain.RecordGridoptimization
	if r.BaseRecord.Status == "" {
		r.BaseRecord.Status = domain.StatusWaiting
	}
	id, err := s.CreateBaseRecord(ctx, tx, r.BaseRecord)
	if err != nil {
		return 0, err
	}

	optSpec, _ := json.Marshal(r.OptSpec.Normalize())
	scanDims, _ := json.Marshal(r.ScanDimensions)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO gridoptimization_record (id, hash_index, opt_spec, starting_molecule_id, scan_dimensions, preoptimization)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, r.HashIndex, optSpec, r.StartingMoleculeID, scanDims, r.Preoptimization)
	if err != nil {
		return 0, err
	}
	for key, optID := range r.Optimizations {
		if err := s.SetDependency(ctx, tx, id, domain.ServiceDependency{ChildRecordID: optID, Key: key}); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// FindGridoptimization looks up a gridoptimization record by its dedup hash.
func (s *Store) FindGridoptimization(ctx context.Context, tx *sql.Tx, hashIndex string) (int64, bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM gridoptimization_record WHERE hash_index = $1`, hashIndex).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	return id, err == nil, err
}

// GetGridoptimization loads a gridoptimization record and its per-grid-point
// optimization map.
func (s *Store) GetGridoptimization(ctx context.Context, tx *sql.Tx, id int64) (domain.GridoptimizationRecord, error) {
	base, err := s.GetBaseRecord(ctx, tx, id, false)
	if err != nil {
		return domain.GridoptimizationRecord{}, err
	}
	var r domain.GridoptimizationRecord
	r.BaseRecord = base

	var optSpec, scanDims []byte
	err = tx.QueryRowContext(ctx, `
		SELECT hash_index, opt_spec, starting_molecule_id, scan_dimensions, preoptimization
		FROM gridoptimization_record WHERE id = $1
	`, id).Scan(&r.HashIndex, &optSpec, &r.StartingMoleculeID, &scanDims, &r.Preoptimization)
	if err == sql.ErrNoRows {
		return domain.GridoptimizationRecord{}, apierrors.MissingData("gridoptimization_record", fmt.Sprint(id))
	}
	if err != nil {
		return domain.GridoptimizationRecord{}, err
	}
	_ = json.Unmarshal(optSpec, &r.OptSpec)
	_ = json.Unmarshal(scanDims, &r.ScanDimensions)

	deps, err := s.ListDependencies(ctx, tx, id)
	if err != nil {
		return domain.GridoptimizationRecord{}, err
	}
	r.Optimizations = make(map[string]int64, len(deps))
	for _, d := range deps {
		r.Optimizations[d.Key] = d.ChildRecordID
	}
	return r, nil
}
