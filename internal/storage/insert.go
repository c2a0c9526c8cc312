package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// IndexedError pairs a slot in an input batch with the error that occurred
// while processing it.
type IndexedError struct {
	Index int
	Err   error
}

// InsertMetadata reports, in input order, which slots were newly inserted,
// which already existed, and which errored — the contract insert_general
// and insert_mixed_general share (spec.md §4.A).
type InsertMetadata struct {
	InsertedIdx []int
	ExistingIdx []int
	Errors      []IndexedError
}

// Lookup resolves already-existing rows by their dedup key, returning
// key -> id for every key found.
type Lookup func(ctx context.Context, tx *sql.Tx, keys []string) (map[string]int64, error)

// Insert persists a single new row and returns its id.
type Insert[T any] func(ctx context.Context, tx *sql.Tx, row T) (int64, error)

// KeyOf computes the dedup key for a row (e.g. a molecule_hash or a
// (program,driver,method,basis,keywords_id,molecule_id) tuple rendered as a
// string).
type KeyOf[T any] func(row T) string

// InsertGeneral implements insert_general (spec.md §4.A): for each input
// row, an existing row matching on the dedup key is left alone; otherwise a
// new row is inserted. Duplicate keys within the same input batch map to the
// same inserted row. Processing happens in batches of at most batchSize.
//
// Returns, in input order, the resolved id for every row (0 for rows that
// errored) and metadata describing which slots were inserted/existing/erred.
func InsertGeneral[T any](
	ctx context.Context,
	tx *sql.Tx,
	rows []T,
	keyOf KeyOf[T],
	lookup Lookup,
	insert Insert[T],
	batchSize int,
) ([]int64, InsertMetadata, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	ids := make([]int64, len(rows))
	var meta InsertMetadata

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := insertBatch(ctx, tx, rows[start:end], start, keyOf, lookup, insert, ids, &meta); err != nil {
			return nil, InsertMetadata{}, err
		}
	}

	return ids, meta, nil
}

func insertBatch[T any](
	ctx context.Context,
	tx *sql.Tx,
	batch []T,
	offset int,
	keyOf KeyOf[T],
	lookup Lookup,
	insert Insert[T],
	ids []int64,
	meta *InsertMetadata,
) error {
	keys := make([]string, len(batch))
	for i, row := range batch {
		keys[i] = keyOf(row)
	}

	// Step (i): query existing rows by the batch's dedup keys.
	existing, err := lookup(ctx, tx, keys)
	if err != nil {
		return fmt.Errorf("lookup existing rows: %w", err)
	}

	// Step (ii)/(iii): insert only the first occurrence of each as-yet-unseen
	// key, then map every slot (including later duplicates) back to the id
	// assigned to its key's first occurrence.
	seen := make(map[string]int64, len(batch))
	for i, row := range batch {
		globalIdx := offset + i
		key := keys[i]

		if id, ok := existing[key]; ok {
			ids[globalIdx] = id
			seen[key] = id
			meta.ExistingIdx = append(meta.ExistingIdx, globalIdx)
			continue
		}
		if id, ok := seen[key]; ok {
			ids[globalIdx] = id
			meta.ExistingIdx = append(meta.ExistingIdx, globalIdx)
			continue
		}

		id, err := insert(ctx, tx, row)
		if err != nil {
			meta.Errors = append(meta.Errors, IndexedError{Index: globalIdx, Err: err})
			continue
		}
		ids[globalIdx] = id
		seen[key] = id
		meta.InsertedIdx = append(meta.InsertedIdx, globalIdx)
	}

	return nil
}

// Mixed is one slot of an insert_mixed_general input: either an existing id
// or a full object to insert-or-dedup.
type Mixed[T any] struct {
	ID     int64
	Object *T
}

// MixedByID returns a Mixed slot referencing an existing row.
func MixedByID[T any](id int64) Mixed[T] { return Mixed[T]{ID: id} }

// MixedByObject returns a Mixed slot carrying a full object.
func MixedByObject[T any](obj T) Mixed[T] { return Mixed[T]{Object: &obj} }

// GetByIDs resolves a set of ids, used to validate Mixed.ID slots.
type GetByIDs func(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]bool, error)

// InsertMixedGeneral implements insert_mixed_general (spec.md §4.A):
// integer ids are looked up (missing ids become per-index errors without
// aborting the batch); full objects go through InsertGeneral.
func InsertMixedGeneral[T any](
	ctx context.Context,
	tx *sql.Tx,
	rows []Mixed[T],
	exists GetByIDs,
	keyOf KeyOf[T],
	lookup Lookup,
	insert Insert[T],
	batchSize int,
) ([]int64, InsertMetadata, error) {
	ids := make([]int64, len(rows))
	var meta InsertMetadata

	// Resolve id-slots first.
	var idIndices []int
	var idsToCheck []int64
	for i, row := range rows {
		if row.Object == nil {
			idIndices = append(idIndices, i)
			idsToCheck = append(idsToCheck, row.ID)
		}
	}
	if len(idIndices) > 0 {
		found, err := exists(ctx, tx, idsToCheck)
		if err != nil {
			return nil, InsertMetadata{}, fmt.Errorf("check existing ids: %w", err)
		}
		for _, i := range idIndices {
			if !found[rows[i].ID] {
				meta.Errors = append(meta.Errors, IndexedError{Index: i, Err: fmt.Errorf("id %d does not exist", rows[i].ID)})
				continue
			}
			ids[i] = rows[i].ID
			meta.ExistingIdx = append(meta.ExistingIdx, i)
		}
	}

	// Object slots go through the normal dedup path, preserving original
	// indices via a parallel slice.
	var objIndices []int
	var objRows []T
	for i, row := range rows {
		if row.Object != nil {
			objIndices = append(objIndices, i)
			objRows = append(objRows, *row.Object)
		}
	}
	if len(objRows) > 0 {
		objIDs, objMeta, err := InsertGeneral(ctx, tx, objRows, keyOf, lookup, insert, batchSize)
		if err != nil {
			return nil, InsertMetadata{}, err
		}
		for local, global := range objIndices {
			ids[global] = objIDs[local]
		}
		for _, local := range objMeta.InsertedIdx {
			meta.InsertedIdx = append(meta.InsertedIdx, objIndices[local])
		}
		for _, local := range objMeta.ExistingIdx {
			meta.ExistingIdx = append(meta.ExistingIdx, objIndices[local])
		}
		for _, e := range objMeta.Errors {
			meta.Errors = append(meta.Errors, IndexedError{Index: objIndices[e.Index], Err: e.Err})
		}
	}

	return ids, meta, nil
}
