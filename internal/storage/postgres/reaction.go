package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

// CreateReaction inserts a base_record plus its reaction_record and
// component rows. Reactions have no hash-based dedup (spec.md §3: the
// component list is arbitrary-length and order-sensitive, so the source
// treats every reaction as distinct).
func (s *Store) CreateReaction(ctx context.Context, tx *sql.Tx, r domain.ReactionRecord) (int64, error) {
	r.BaseRecord.RecordType = domain.RecordReaction
	if r.BaseRecord.Status == "" {
		r.BaseRecord.Status = domain.StatusWaiting
	}
	id, err := s.CreateBaseRecord(ctx, tx, r.BaseRecord)
	if err != nil {
		return 0, err
	}

	var qcSpec, optSpec interface{}
	if r.QCSpec != nil {
		norm := r.QCSpec.Normalize()
		qcSpec = mustMarshal(norm)
	}
	if r.OptSpec != nil {
		norm := r.OptSpec.Normalize()
		optSpec = mustMarshal(norm)
	}
	var totalEnergy interface{}
	if r.TotalEnergy != nil {
		totalEnergy = *r.TotalEnergy
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reaction_record (id, qc_spec, opt_spec, total_energy) VALUES ($1, $2, $3, $4)
	`, id, qcSpec, optSpec, totalEnergy)
	if err != nil {
		return 0, err
	}

	for pos, c := range r.Components {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reaction_component (reaction_id, position, coefficient, molecule_id, singlepoint_id, optimization_id)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, pos, c.Coefficient, c.MoleculeID, nullID(c.SinglepointID), nullID(c.OptimizationID)); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// GetReaction loads a reaction record and its ordered components.
func (s *Store) GetReaction(ctx context.Context, tx *sql.Tx, id int64) (domain.ReactionRecord, error) {
	base, err := s.GetBaseRecord(ctx, tx, id, false)
	if err != nil {
		return domain.ReactionRecord{}, err
	}
	var r domain.ReactionRecord
	r.BaseRecord = base

	var qcSpec, optSpec []byte
	var totalEnergy sql.NullFloat64
	err = tx.QueryRowContext(ctx, `
		SELECT qc_spec, opt_spec, total_energy FROM reaction_record WHERE id = $1
	`, id).Scan(&qcSpec, &optSpec, &totalEnergy)
	if err == sql.ErrNoRows {
		return domain.ReactionRecord{}, apierrors.MissingData("reaction_record", fmt.Sprint(id))
	}
	if err != nil {
		return domain.ReactionRecord{}, err
	}
	if len(qcSpec) > 0 {
		var spec domain.QCSpecification
		_ = json.Unmarshal(qcSpec, &spec)
		r.QCSpec = &spec
	}
	if len(optSpec) > 0 {
		var spec domain.OptimizationSpecification
		_ = json.Unmarshal(optSpec, &spec)
		r.OptSpec = &spec
	}
	if totalEnergy.Valid {
		r.TotalEnergy = &totalEnergy.Float64
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT coefficient, molecule_id, COALESCE(singlepoint_id,0), COALESCE(optimization_id,0)
		FROM reaction_component WHERE reaction_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return domain.ReactionRecord{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.ReactionComponent
		if err := rows.Scan(&c.Coefficient, &c.MoleculeID, &c.SinglepointID, &c.OptimizationID); err != nil {
			return domain.ReactionRecord{}, err
		}
		r.Components = append(r.Components, c)
	}
	return r, rows.Err()
}

// SetComponentResult attaches a computed singlepoint or optimization id to
// one reaction component, called as each component finishes (spec.md §4.I).
func (s *Store) SetComponentResult(ctx context.Context, tx *sql.Tx, reactionID int64, position int, singlepointID, optimizationID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE reaction_component SET singlepoint_id = $3, optimization_id = $4 WHERE reaction_id = $1 AND position = $2
	`, reactionID, position, nullID(singlepointID), nullID(optimizationID))
	return err
}

// CompleteReaction writes the final weighted-sum total energy.
func (s *Store) CompleteReaction(ctx context.Context, tx *sql.Tx, id int64, totalEnergy float64) error {
	_, err := tx.ExecContext(ctx, `UPDATE reaction_record SET total_energy = $2 WHERE id = $1`, id, totalEnergy)
	return err
}
