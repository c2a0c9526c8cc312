package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

// CreateTorsiondrive inserts a base_record plus its torsiondrive_record and
// initial-molecule join rows, keyed on HashIndex for dedup.
func (s *Store) CreateTorsiondrive(ctx context.Context, tx *sql.Tx, r domain.TorsiondriveRecord) (int64, error) {
	r.BaseRecord.RecordType = domain.RecordTorsiondrive
	if r.BaseRecord.Status == "" {
		r.BaseRecord.Status = domain.StatusWaiting
	}
	id, err := s.CreateBaseRecord(ctx, tx, r.BaseRecord)
	if err != nil {
		return 0, err
	}

	optSpec, _ := json.Marshal(r.OptSpec.Normalize())
	dihedrals, _ := json.Marshal(r.Dihedrals)
	gridSpacing, _ := json.Marshal(r.GridSpacing)
	dihedralRanges, _ := json.Marshal(r.DihedralRanges)
	minPos, _ := json.Marshal(nonNilStringVecMap(r.MinimumPositions))
	finalEnergies, _ := json.Marshal(nonNilFloatMap(r.FinalEnergies))

	_, err = tx.ExecContext(ctx, `
		INSERT INTO torsiondrive_record
			(id, hash_index, opt_spec, dihedrals, grid_spacing, dihedral_ranges, energy_decrease_thresh, energy_upper_limit, minimum_positions, final_energies)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, id, r.HashIndex, optSpec, dihedrals, gridSpacing, dihedralRanges, nullFloat(r.EnergyDecreaseThresh), nullFloat(r.EnergyUpperLimit), minPos, finalEnergies)
	if err != nil {
		return 0, err
	}
	for _, molID := range r.InitialMoleculeIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO torsiondrive_initial_molecule (torsiondrive_id, molecule_id) VALUES ($1, $2) ON CONFLICT DO NOTHING
		`, id, molID); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func nullFloat(f float64) interface{} {
	if f == 0 {
		return nil
	}
	return f
}

func nonNilStringVecMap(m map[string][]float64) map[string][]float64 {
	if m == nil {
		return map[string][]float64{}
	}
	return m
}

func nonNilFloatMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

// FindTorsiondrive looks up a torsiondrive record by its dedup hash.
func (s *Store) FindTorsiondrive(ctx context.Context, tx *sql.Tx, hashIndex string) (int64, bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM torsiondrive_record WHERE hash_index = $1`, hashIndex).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	return id, err == nil, err
}

// GetTorsiondrive loads a torsiondrive record and its initial molecule set.
func (s *Store) GetTorsiondrive(ctx context.Context, tx *sql.Tx, id int64) (domain.TorsiondriveRecord, error) {
	base, err := s.GetBaseRecord(ctx, tx, id, false)
	if err != nil {
		return domain.TorsiondriveRecord{}, err
	}
	var r domain.TorsiondriveRecord
	r.BaseRecord = base

	var optSpec, dihedrals, gridSpacing, dihedralRanges, minPos, finalEnergies []byte
	var decreaseThresh, upperLimit sql.NullFloat64
	err = tx.QueryRowContext(ctx, `
		SELECT hash_index, opt_spec, dihedrals, grid_spacing, dihedral_ranges, energy_decrease_thresh, energy_upper_limit, minimum_positions, final_energies
		FROM torsiondrive_record WHERE id = $1
	`, id).Scan(&r.HashIndex, &optSpec, &dihedrals, &gridSpacing, &dihedralRanges, &decreaseThresh, &upperLimit, &minPos, &finalEnergies)
	if err == sql.ErrNoRows {
		return domain.TorsiondriveRecord{}, apierrors.MissingData("torsiondrive_record", fmt.Sprint(id))
	}
	if err != nil {
		return domain.TorsiondriveRecord{}, err
	}
	_ = json.Unmarshal(optSpec, &r.OptSpec)
	_ = json.Unmarshal(dihedrals, &r.Dihedrals)
	_ = json.Unmarshal(gridSpacing, &r.GridSpacing)
	_ = json.Unmarshal(dihedralRanges, &r.DihedralRanges)
	_ = json.Unmarshal(minPos, &r.MinimumPositions)
	_ = json.Unmarshal(finalEnergies, &r.FinalEnergies)
	r.EnergyDecreaseThresh = decreaseThresh.Float64
	r.EnergyUpperLimit = upperLimit.Float64

	rows, err := tx.QueryContext(ctx, `SELECT molecule_id FROM torsiondrive_initial_molecule WHERE torsiondrive_id = $1`, id)
	if err != nil {
		return domain.TorsiondriveRecord{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var molID int64
		if err := rows.Scan(&molID); err != nil {
			return domain.TorsiondriveRecord{}, err
		}
		r.InitialMoleculeIDs = append(r.InitialMoleculeIDs, molID)
	}
	return r, rows.Err()
}

// UpdateTorsiondriveState persists the torsiondrive state machine's grid
// optimization map, minimum positions, and final energies after an
// iteration (spec.md §4.I).
func (s *Store) UpdateTorsiondriveState(ctx context.Context, tx *sql.Tx, id int64, gridOptimizations map[string]int64, minimumPositions map[string][]float64, finalEnergies map[string]float64) error {
	minPos, _ := json.Marshal(nonNilStringVecMap(minimumPositions))
	finalE, _ := json.Marshal(nonNilFloatMap(finalEnergies))
	_, err := tx.ExecContext(ctx, `
		UPDATE torsiondrive_record SET minimum_positions = $2, final_energies = $3 WHERE id = $1
	`, id, minPos, finalE)
	if err != nil {
		return err
	}
	for key, optID := range gridOptimizations {
		dep := domain.ServiceDependency{ChildRecordID: optID, Key: key}
		if err := s.SetDependency(ctx, tx, id, dep); err != nil {
			return err
		}
	}
	return nil
}
