package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/outputstore"
)

// PutOutput inserts a new compressed output blob and returns its id.
func (s *Store) PutOutput(ctx context.Context, tx *sql.Tx, e outputstore.Entry) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO output_store (output_type, compression, compression_level, data)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, e.OutputType, string(e.Compression), e.CompressionLevel, e.Data).Scan(&id)
	return id, err
}

// GetOutput fetches a compressed output entry by id.
func (s *Store) GetOutput(ctx context.Context, tx *sql.Tx, id int64) (outputstore.Entry, error) {
	var e outputstore.Entry
	var compression string
	err := tx.QueryRowContext(ctx, `
		SELECT id, output_type, compression, compression_level, data FROM output_store WHERE id = $1
	`, id).Scan(&e.ID, &e.OutputType, &compression, &e.CompressionLevel, &e.Data)
	if err == sql.ErrNoRows {
		return outputstore.Entry{}, apierrors.MissingData("output_store", fmt.Sprint(id))
	}
	e.Compression = outputstore.Compression(compression)
	return e, err
}

// AppendOutput decompresses, concatenates, and recompresses an existing
// output blob in place (spec.md §4.B, §9).
func (s *Store) AppendOutput(ctx context.Context, tx *sql.Tx, id int64, more []byte) error {
	existing, err := s.GetOutput(ctx, tx, id)
	if err != nil {
		return err
	}
	updated, err := outputstore.Append(existing, more)
	if err != nil {
		return fmt.Errorf("append output: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE output_store SET compression = $2, compression_level = $3, data = $4 WHERE id = $1
	`, id, string(updated.Compression), updated.CompressionLevel, updated.Data)
	return err
}

// DeleteOutput removes an output blob, used when a record's stdout/stderr
// is replaced on re-run (spec.md §4.H: "old output ids are deleted").
func (s *Store) DeleteOutput(ctx context.Context, tx *sql.Tx, id int64) error {
	if id == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM output_store WHERE id = $1`, id)
	return err
}
