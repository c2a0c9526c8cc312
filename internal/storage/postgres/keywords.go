package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage"
)

// InsertKeywords implements insert_general for keyword sets, deduplicating
// on hash_index (invariant 4 of spec.md §3).
func (s *Store) InsertKeywords(ctx context.Context, tx *sql.Tx, sets []domain.KeywordSet, batchSize int) ([]int64, storage.InsertMetadata, error) {
	keyOf := func(k domain.KeywordSet) string { return k.Hash() }

	lookup := func(ctx context.Context, tx *sql.Tx, keys []string) (map[string]int64, error) {
		rows, err := tx.QueryContext(ctx, `SELECT hash_index, id FROM keywords WHERE hash_index = ANY($1)`, pq.Array(keys))
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

	insert := func(ctx context.Context, tx *sql.Tx, k domain.KeywordSet) (int64, error) {
		values, _ := json.Marshal(k.Values)
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO keywords (hash_index, values, comments)
			VALUES ($1, $2, $3)
			RETURNING id
		`, k.Hash(), values, k.Comments).Scan(&id)
		return id, err
	}

	return storage.InsertGeneral(ctx, tx, sets, keyOf, lookup, insert, batchSize)
}

// GetKeywords implements get_general for keyword sets.
func (s *Store) GetKeywords(ctx context.Context, tx *sql.Tx, ids []int64, missingOK bool) ([]domain.KeywordSet, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT id, hash_index, values, comments, created_on FROM keywords WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer rows.Close()

	found := make(map[int64]domain.KeywordSet, len(ids))
	for rows.Next() {
		var k domain.KeywordSet
		var values []byte
		if err := rows.Scan(&k.ID, &k.HashIndex, &values, &k.Comments, &k.CreatedOn); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(values, &k.Values)
		found[k.ID] = k
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.KeywordSet, 0, len(ids))
	for _, id := range ids {
		k, ok := found[id]
		if !ok {
			if missingOK {
				continue
			}
			return nil, apierrors.MissingData("keywords", fmt.Sprint(id))
		}
		out = append(out, k)
	}
	return out, nil
}

// DeleteKeywords implements delete_general for keyword sets.
func (s *Store) DeleteKeywords(ctx context.Context, tx *sql.Tx, ids []int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM keywords WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
