package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

// CreateManybody inserts a base_record plus its manybody_record and cluster
// rows (spec.md §4.I's many-body expansion).
func (s *Store) CreateManybody(ctx context.Context, tx *sql.Tx, r domain.ManybodyRecord) (int64, error) {
	spec := r.QCSpec.Normalize()
	r.BaseRecord.RecordType = domain.RecordManybody
	if r.BaseRecord.Status == "" {
		r.BaseRecord.Status = domain.StatusWaiting
	}
	id, err := s.CreateBaseRecord(ctx, tx, r.BaseRecord)
	if err != nil {
		return 0, err
	}

	qcSpec, _ := json.Marshal(spec)
	properties, _ := json.Marshal(nonNilMap(r.Properties))
	bsse := r.BSSECorrection
	if bsse == "" {
		bsse = domain.BSSENone
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO manybody_record (id, qc_spec, starting_molecule_id, max_nbody, bsse_correction, properties) VALUES ($1, $2, $3, $4, $5, $6)
	`, id, qcSpec, r.StartingMoleculeID, r.MaxNBody, string(bsse), properties)
	if err != nil {
		return 0, err
	}
	for _, c := range r.Clusters {
		if err := s.upsertManybodyCluster(ctx, tx, id, c); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (s *Store) upsertManybodyCluster(ctx context.Context, tx *sql.Tx, manybodyID int64, c domain.ManybodyCluster) error {
	fragments, _ := json.Marshal(c.Fragments)
	basisKind := c.BasisKind
	if basisKind == "" {
		basisKind = "real"
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO manybody_cluster (manybody_id, cluster_key, fragments, basis_kind, singlepoint_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (manybody_id, cluster_key) DO UPDATE SET singlepoint_id = EXCLUDED.singlepoint_id
	`, manybodyID, c.ClusterKey, fragments, basisKind, nullID(c.SinglepointID))
	return err
}

// SetClusterResult attaches the completed singlepoint id to one cluster,
// called as the manager returns each fragment-subset calculation.
func (s *Store) SetClusterResult(ctx context.Context, tx *sql.Tx, manybodyID int64, clusterKey string, singlepointID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE manybody_cluster SET singlepoint_id = $3 WHERE manybody_id = $1 AND cluster_key = $2
	`, manybodyID, clusterKey, singlepointID)
	return err
}

// GetManybody loads a manybody record and its cluster expansion.
func (s *Store) GetManybody(ctx context.Context, tx *sql.Tx, id int64) (domain.ManybodyRecord, error) {
	base, err := s.GetBaseRecord(ctx, tx, id, false)
	if err != nil {
		return domain.ManybodyRecord{}, err
	}
	var r domain.ManybodyRecord
	r.BaseRecord = base

	var qcSpec, properties []byte
	var bsse string
	err = tx.QueryRowContext(ctx, `
		SELECT qc_spec, starting_molecule_id, max_nbody, bsse_correction, properties FROM manybody_record WHERE id = $1
	`, id).Scan(&qcSpec, &r.StartingMoleculeID, &r.MaxNBody, &bsse, &properties)
	if err == sql.ErrNoRows {
		return domain.ManybodyRecord{}, apierrors.MissingData("manybody_record", fmt.Sprint(id))
	}
	if err != nil {
		return domain.ManybodyRecord{}, err
	}
	_ = json.Unmarshal(qcSpec, &r.QCSpec)
	_ = json.Unmarshal(properties, &r.Properties)
	r.BSSECorrection = domain.BSSECorrection(bsse)

	rows, err := tx.QueryContext(ctx, `
		SELECT cluster_key, fragments, basis_kind, COALESCE(singlepoint_id, 0)
		FROM manybody_cluster WHERE manybody_id = $1 ORDER BY cluster_key
	`, id)
	if err != nil {
		return domain.ManybodyRecord{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.ManybodyCluster
		var fragments []byte
		if err := rows.Scan(&c.ClusterKey, &fragments, &c.BasisKind, &c.SinglepointID); err != nil {
			return domain.ManybodyRecord{}, err
		}
		_ = json.Unmarshal(fragments, &c.Fragments)
		r.Clusters = append(r.Clusters, c)
	}
	return r, rows.Err()
}

// CompleteManybody overwrites the record's properties with the final
// energy decomposition (the service engine passes per-cluster energies and
// their plain sum).
func (s *Store) CompleteManybody(ctx context.Context, tx *sql.Tx, id int64, properties map[string]interface{}) error {
	data, _ := json.Marshal(nonNilMap(properties))
	_, err := tx.ExecContext(ctx, `UPDATE manybody_record SET properties = $2 WHERE id = $1`, id, data)
	return err
}
