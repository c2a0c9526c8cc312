package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage"
)

// InsertMolecules implements insert_general for molecules, deduplicating on
// molecule_hash (invariant 4 of spec.md §3).
func (s *Store) InsertMolecules(ctx context.Context, tx *sql.Tx, mols []domain.Molecule, batchSize int) ([]int64, storage.InsertMetadata, error) {
	keyOf := func(m domain.Molecule) string { return m.Hash() }

	lookup := func(ctx context.Context, tx *sql.Tx, keys []string) (map[string]int64, error) {
		rows, err := tx.QueryContext(ctx, `
			SELECT molecule_hash, id FROM molecules WHERE molecule_hash = ANY($1)
		`, pq.Array(keys))
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		out := make(map[string]int64, len(keys))
		for rows.Next() {
			var hash string
			var id int64
			if err := rows.Scan(&hash, &id); err != nil {
				return nil, err
			}
			out[hash] = id
		}
		return out, rows.Err()
	}

	insert := func(ctx context.Context, tx *sql.Tx, m domain.Molecule) (int64, error) {
		symbols, _ := json.Marshal(m.Symbols)
		geometry, _ := json.Marshal(m.Geometry)
		fragments, _ := json.Marshal(m.Fragments)
		identifiers, _ := json.Marshal(m.Identifiers)

		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO molecules (molecule_hash, molecular_formula, symbols, geometry, fragments, molecular_charge, molecular_multiplicity, identifiers)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, m.Hash(), m.MolecularFormula, symbols, geometry, fragments, m.MolecularCharge, m.MolecularMultiplicity, identifiers).Scan(&id)
		return id, err
	}

	return storage.InsertGeneral(ctx, tx, mols, keyOf, lookup, insert, batchSize)
}

// GetMolecules implements get_general for molecules.
func (s *Store) GetMolecules(ctx context.Context, tx *sql.Tx, ids []int64, missingOK bool) ([]domain.Molecule, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT id, molecule_hash, molecular_formula, symbols, geometry, fragments, molecular_charge, molecular_multiplicity, identifiers, created_on
		FROM molecules WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query molecules: %w", err)
	}
	defer rows.Close()

	found := make(map[int64]domain.Molecule, len(ids))
	for rows.Next() {
		var m domain.Molecule
		var symbols, geometry, fragments, identifiers []byte
		if err := rows.Scan(&m.ID, &m.MoleculeHash, &m.MolecularFormula, &symbols, &geometry, &fragments, &m.MolecularCharge, &m.MolecularMultiplicity, &identifiers, &m.CreatedOn); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(symbols, &m.Symbols)
		_ = json.Unmarshal(geometry, &m.Geometry)
		_ = json.Unmarshal(fragments, &m.Fragments)
		_ = json.Unmarshal(identifiers, &m.Identifiers)
		found[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Molecule, 0, len(ids))
	for _, id := range ids {
		m, ok := found[id]
		if !ok {
			if missingOK {
				continue
			}
			return nil, apierrors.MissingData("molecule", fmt.Sprint(id))
		}
		out = append(out, m)
	}
	return out, nil
}

// MoleculeExists checks id existence for InsertMixedGeneral's exists hook.
func (s *Store) MoleculeExists(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]bool, error) {
	if len(ids) == 0 {
		return map[int64]bool{}, nil
	}
	rows, err := tx.QueryContext(ctx, `SELECT id FROM molecules WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]bool, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// DeleteMolecules implements delete_general for molecules.
func (s *Store) DeleteMolecules(ctx context.Context, tx *sql.Tx, ids []int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM molecules WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		if isFKViolation(err) {
			return 0, fmt.Errorf("%w: molecule is referenced by a record", apierrors.Internal("delete molecule", err))
		}
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func isFKViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
