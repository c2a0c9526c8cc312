package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

// CreateOptimization inserts a base_record plus its optimization_record row,
// keyed on HashIndex for dedup (invariant 4 of spec.md §3).
func (s *Store) CreateOptimization(ctx context.Context, tx *sql.Tx, r domain.OptimizationRecord) (int64, error) {
	spec := r.Spec.Normalize()
	r.BaseRecord.RecordType = domain.RecordOptimization
	if r.BaseRecord.Status == "" {
		r.BaseRecord.Status = domain.StatusWaiting
	}
	id, err := s.CreateBaseRecord(ctx, tx, r.BaseRecord)
	if err != nil {
		return 0, err
	}

	keywords, _ := json.Marshal(nonNilMap(spec.Keywords))
	energies, _ := json.Marshal(r.Energies)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO optimization_record
			(id, hash_index, program, qc_program, qc_driver, qc_method, qc_basis, qc_keywords_id, opt_keywords, initial_molecule_id, final_molecule_id, energies)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, id, r.HashIndex, spec.Program, spec.QCSpec.Program, string(spec.QCSpec.Driver), spec.QCSpec.Method,
		nullBasis(spec.QCSpec.Basis), nullID(spec.QCSpec.KeywordsID), keywords, r.InitialMoleculeID, nullID(r.FinalMoleculeID), energies)
	if err != nil {
		return 0, err
	}
	if len(r.TrajectoryIDs) > 0 {
		if err := s.setOptimizationTrajectory(ctx, tx, id, r.TrajectoryIDs); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (s *Store) setOptimizationTrajectory(ctx context.Context, tx *sql.Tx, optID int64, spIDs []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM optimization_trajectory WHERE optimization_id = $1`, optID); err != nil {
		return err
	}
	for pos, spID := range spIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO optimization_trajectory (optimization_id, position, singlepoint_id) VALUES ($1, $2, $3)
		`, optID, pos, spID); err != nil {
			return err
		}
	}
	return nil
}

// FindOptimization looks up an optimization record by its dedup hash.
func (s *Store) FindOptimization(ctx context.Context, tx *sql.Tx, hashIndex string) (int64, bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM optimization_record WHERE hash_index = $1`, hashIndex).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	return id, err == nil, err
}

// GetOptimization loads an optimization record and its ordered trajectory.
func (s *Store) GetOptimization(ctx context.Context, tx *sql.Tx, id int64) (domain.OptimizationRecord, error) {
	base, err := s.GetBaseRecord(ctx, tx, id, false)
	if err != nil {
		return domain.OptimizationRecord{}, err
	}
	var r domain.OptimizationRecord
	r.BaseRecord = base

	var qcDriver, qcBasis sql.NullString
	var qcKeywordsID, finalMolID sql.NullInt64
	var keywords, energies []byte
	err = tx.QueryRowContext(ctx, `
		SELECT hash_index, program, qc_program, qc_driver, qc_method, qc_basis, qc_keywords_id, opt_keywords, initial_molecule_id, final_molecule_id, energies
		FROM optimization_record WHERE id = $1
	`, id).Scan(&r.HashIndex, &r.Spec.Program, &r.Spec.QCSpec.Program, &qcDriver, &r.Spec.QCSpec.Method, &qcBasis,
		&qcKeywordsID, &keywords, &r.InitialMoleculeID, &finalMolID, &energies)
	if err == sql.ErrNoRows {
		return domain.OptimizationRecord{}, apierrors.MissingData("optimization_record", fmt.Sprint(id))
	}
	if err != nil {
		return domain.OptimizationRecord{}, err
	}
	r.Spec.QCSpec.Driver = domain.Driver(qcDriver.String)
	r.Spec.QCSpec.Basis = qcBasis.String
	r.Spec.QCSpec.KeywordsID = qcKeywordsID.Int64
	r.FinalMoleculeID = finalMolID.Int64
	_ = json.Unmarshal(keywords, &r.Spec.Keywords)
	_ = json.Unmarshal(energies, &r.Energies)

	rows, err := tx.QueryContext(ctx, `
		SELECT singlepoint_id FROM optimization_trajectory WHERE optimization_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return domain.OptimizationRecord{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var spID int64
		if err := rows.Scan(&spID); err != nil {
			return domain.OptimizationRecord{}, err
		}
		r.TrajectoryIDs = append(r.TrajectoryIDs, spID)
	}
	return r, rows.Err()
}

// AppendTrajectoryStep appends one singlepoint gradient and its energy to an
// in-progress optimization (the per-iteration write the Return Engine makes
// while a manager streams optimization steps, spec.md §4.H).
func (s *Store) AppendTrajectoryStep(ctx context.Context, tx *sql.Tx, optID, singlepointID int64, energy float64) error {
	var pos int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM optimization_trajectory WHERE optimization_id = $1`, optID).Scan(&pos)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO optimization_trajectory (optimization_id, position, singlepoint_id) VALUES ($1, $2, $3)
	`, optID, pos, singlepointID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE optimization_record SET energies = energies || $2::jsonb WHERE id = $1
	`, optID, mustMarshal([]float64{energy}))
	return err
}

func mustMarshal(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

// CompleteOptimization records the converged final molecule and full energy
// trace (spec.md §4.H).
func (s *Store) CompleteOptimization(ctx context.Context, tx *sql.Tx, id, finalMoleculeID int64, energies []float64) error {
	energyJSON, _ := json.Marshal(energies)
	_, err := tx.ExecContext(ctx, `
		UPDATE optimization_record SET final_molecule_id = $2, energies = $3 WHERE id = $1
	`, id, finalMoleculeID, energyJSON)
	return err
}
