package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

// nullBasis turns an empty basis string into SQL NULL, per QCSpecification's
// storage-boundary normalization (spec.md §3).
func nullBasis(basis string) interface{} {
	if basis == "" {
		return nil
	}
	return basis
}

func nullID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

// CreateSinglepoint inserts a base_record plus its singlepoint_record row,
// returning the new record id. Callers are expected to have already checked
// for a dedup hit via FindSinglepoint.
func (s *Store) CreateSinglepoint(ctx context.Context, tx *sql.Tx, r domain.SinglepointRecord) (int64, error) {
	spec := r.Spec.Normalize()
	r.BaseRecord.RecordType = domain.RecordSinglepoint
	if r.BaseRecord.Status == "" {
		r.BaseRecord.Status = domain.StatusWaiting
	}
	id, err := s.CreateBaseRecord(ctx, tx, r.BaseRecord)
	if err != nil {
		return 0, err
	}

	protocols, _ := json.Marshal(spec.Protocols)
	properties, _ := json.Marshal(nonNilMap(r.Properties))
	_, err = tx.ExecContext(ctx, `
		INSERT INTO singlepoint_record (id, program, driver, method, basis, keywords_id, molecule_id, protocols, return_result, properties, wavefunction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, id, spec.Program, string(spec.Driver), spec.Method, nullBasis(spec.Basis), nullID(spec.KeywordsID), r.MoleculeID, protocols, marshalOrNull(r.ReturnResult), properties, nullID(r.WavefunctionID))
	if err != nil {
		return 0, err
	}
	return id, nil
}

func marshalOrNull(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// FindSinglepoint implements the singlepoint dedup lookup on
// (program, driver, method, basis, keywords_id, molecule_id) (invariant 4).
func (s *Store) FindSinglepoint(ctx context.Context, tx *sql.Tx, spec domain.QCSpecification, moleculeID int64) (int64, bool, error) {
	spec = spec.Normalize()
	var id int64
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM singlepoint_record
		WHERE program = $1 AND driver = $2 AND method = $3 AND COALESCE(basis,'') = COALESCE($4,'')
		  AND COALESCE(keywords_id,0) = COALESCE($5,0) AND molecule_id = $6
	`, spec.Program, string(spec.Driver), spec.Method, nullBasis(spec.Basis), nullID(spec.KeywordsID), moleculeID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// GetSinglepoint loads a singlepoint record by id.
func (s *Store) GetSinglepoint(ctx context.Context, tx *sql.Tx, id int64) (domain.SinglepointRecord, error) {
	base, err := s.GetBaseRecord(ctx, tx, id, false)
	if err != nil {
		return domain.SinglepointRecord{}, err
	}

	var r domain.SinglepointRecord
	r.BaseRecord = base

	var driver, basis sql.NullString
	var keywordsID, waveID sql.NullInt64
	var protocols, result, properties []byte
	err = tx.QueryRowContext(ctx, `
		SELECT program, driver, method, basis, keywords_id, molecule_id, protocols, return_result, properties, wavefunction_id
		FROM singlepoint_record WHERE id = $1
	`, id).Scan(&r.Spec.Program, &driver, &r.Spec.Method, &basis, &keywordsID, &r.MoleculeID, &protocols, &result, &properties, &waveID)
	if err == sql.ErrNoRows {
		return domain.SinglepointRecord{}, apierrors.MissingData("singlepoint_record", fmt.Sprint(id))
	}
	if err != nil {
		return domain.SinglepointRecord{}, err
	}
	r.Spec.Driver = domain.Driver(driver.String)
	r.Spec.Basis = basis.String
	r.Spec.KeywordsID = keywordsID.Int64
	r.WavefunctionID = waveID.Int64
	_ = json.Unmarshal(protocols, &r.Spec.Protocols)
	_ = json.Unmarshal(properties, &r.Properties)
	if len(result) > 0 {
		_ = json.Unmarshal(result, &r.ReturnResult)
	}
	return r, nil
}

// CompleteSinglepoint writes the final result, properties, and optional
// wavefunction output, called from the return engine (spec.md §4.H).
func (s *Store) CompleteSinglepoint(ctx context.Context, tx *sql.Tx, id int64, result interface{}, properties map[string]interface{}, wavefunctionID int64) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal return_result: %w", err)
	}
	propsJSON, _ := json.Marshal(nonNilMap(properties))
	_, err = tx.ExecContext(ctx, `
		UPDATE singlepoint_record SET return_result = $2, properties = $3, wavefunction_id = $4 WHERE id = $1
	`, id, resultJSON, propsJSON, nullID(wavefunctionID))
	return err
}
