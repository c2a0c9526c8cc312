package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

// CreateNEB inserts a base_record plus its neb_record and chain-molecule
// rows (spec.md §4.I's nudged-elastic-band pathway).
func (s *Store) CreateNEB(ctx context.Context, tx *sql.Tx, r domain.NEBRecord) (int64, error) {
	r.BaseRecord.RecordType = domain.RecordNEB
	if r.BaseRecord.Status == "" {
		r.BaseRecord.Status = domain.StatusWaiting
	}
	id, err := s.CreateBaseRecord(ctx, tx, r.BaseRecord)
	if err != nil {
		return 0, err
	}

	spSpec, _ := json.Marshal(r.SPSpec.Normalize())
	var optSpec interface{}
	if r.OptSpec != nil {
		norm := r.OptSpec.Normalize()
		optSpec = mustMarshal(norm)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO neb_record (id, sp_spec, opt_spec, optimize_ts, ts_optimization_id) VALUES ($1, $2, $3, $4, $5)
	`, id, spSpec, optSpec, r.OptimizeTS, nullID(r.TSOptimizationID))
	if err != nil {
		return 0, err
	}
	for pos, molID := range r.ChainMoleculeIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO neb_chain_molecule (neb_id, position, molecule_id) VALUES ($1, $2, $3)
		`, id, pos, molID); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// GetNEB loads a NEB record and its image chain.
func (s *Store) GetNEB(ctx context.Context, tx *sql.Tx, id int64) (domain.NEBRecord, error) {
	base, err := s.GetBaseRecord(ctx, tx, id, false)
	if err != nil {
		return domain.NEBRecord{}, err
	}
	var r domain.NEBRecord
	r.BaseRecord = base

	var spSpec, optSpec []byte
	var tsOptID sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT sp_spec, opt_spec, optimize_ts, ts_optimization_id FROM neb_record WHERE id = $1
	`, id).Scan(&spSpec, &optSpec, &r.OptimizeTS, &tsOptID)
	if err == sql.ErrNoRows {
		return domain.NEBRecord{}, apierrors.MissingData("neb_record", fmt.Sprint(id))
	}
	if err != nil {
		return domain.NEBRecord{}, err
	}
	_ = json.Unmarshal(spSpec, &r.SPSpec)
	if len(optSpec) > 0 {
		var spec domain.OptimizationSpecification
		_ = json.Unmarshal(optSpec, &spec)
		r.OptSpec = &spec
	}
	r.TSOptimizationID = tsOptID.Int64

	rows, err := tx.QueryContext(ctx, `SELECT molecule_id FROM neb_chain_molecule WHERE neb_id = $1 ORDER BY position`, id)
	if err != nil {
		return domain.NEBRecord{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var molID int64
		if err := rows.Scan(&molID); err != nil {
			return domain.NEBRecord{}, err
		}
		r.ChainMoleculeIDs = append(r.ChainMoleculeIDs, molID)
	}
	if err := rows.Err(); err != nil {
		return domain.NEBRecord{}, err
	}

	iterRows, err := tx.QueryContext(ctx, `
		SELECT iteration, singlepoint_id FROM neb_iteration_singlepoint WHERE neb_id = $1 ORDER BY iteration, position
	`, id)
	if err != nil {
		return domain.NEBRecord{}, err
	}
	defer iterRows.Close()
	r.IterationSinglepoints = map[int][]int64{}
	for iterRows.Next() {
		var iteration int
		var spID int64
		if err := iterRows.Scan(&iteration, &spID); err != nil {
			return domain.NEBRecord{}, err
		}
		r.IterationSinglepoints[iteration] = append(r.IterationSinglepoints[iteration], spID)
	}
	return r, iterRows.Err()
}

// AppendIteration records one NEB iteration's ordered non-endpoint
// singlepoint calculations.
func (s *Store) AppendIteration(ctx context.Context, tx *sql.Tx, nebID int64, iteration int, singlepointIDs []int64) error {
	for pos, spID := range singlepointIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO neb_iteration_singlepoint (neb_id, iteration, position, singlepoint_id) VALUES ($1, $2, $3, $4)
		`, nebID, iteration, pos, spID); err != nil {
			return err
		}
	}
	return nil
}

// CompleteNEB records the final transition-state optimization id.
func (s *Store) CompleteNEB(ctx context.Context, tx *sql.Tx, id, tsOptimizationID int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE neb_record SET ts_optimization_id = $2 WHERE id = $1`, id, tsOptimizationID)
	return err
}
