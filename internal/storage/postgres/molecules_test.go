package postgres

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage"
)

func water() domain.Molecule {
	return domain.Molecule{
		MolecularFormula:      "H2O",
		Symbols:               []string{"O", "H", "H"},
		Geometry:              []float64{0, 0, 0, 0, 0, 1.8, 0, 1.8, 0},
		MolecularCharge:       0,
		MolecularMultiplicity: 1,
	}
}

func TestInsertMoleculesDedupesOnHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := water()
	hash := m.Hash()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT molecule_hash, id FROM molecules WHERE molecule_hash = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"molecule_hash", "id"}).AddRow(hash, int64(42)))
	mock.ExpectCommit()

	store := New(db)
	tx, err := db.Begin()
	require.NoError(t, err)

	ids, meta, err := store.InsertMolecules(context.Background(), tx, []domain.Molecule{m}, storage.DefaultBatchSize)
	require.NoError(t, err)
	require.Equal(t, []int64{42}, ids)
	require.Equal(t, []int{0}, meta.ExistingIdx)
	require.Empty(t, meta.InsertedIdx)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMoleculesInsertsNewRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := water()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT molecule_hash, id FROM molecules WHERE molecule_hash = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"molecule_hash", "id"}))
	mock.ExpectQuery(`INSERT INTO molecules`).
		WithArgs(m.Hash(), "H2O", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 0.0, 1, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	store := New(db)
	tx, err := db.Begin()
	require.NoError(t, err)

	ids, meta, err := store.InsertMolecules(context.Background(), tx, []domain.Molecule{m}, storage.DefaultBatchSize)
	require.NoError(t, err)
	require.Equal(t, []int64{7}, ids)
	require.Equal(t, []int{0}, meta.InsertedIdx)
	require.Empty(t, meta.ExistingIdx)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMoleculesDuplicateWithinBatchReusesFirstInsertedID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := water()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT molecule_hash, id FROM molecules WHERE molecule_hash = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"molecule_hash", "id"}))
	mock.ExpectQuery(`INSERT INTO molecules`).
		WithArgs(m.Hash(), "H2O", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 0.0, 1, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectCommit()

	store := New(db)
	tx, err := db.Begin()
	require.NoError(t, err)

	ids, meta, err := store.InsertMolecules(context.Background(), tx, []domain.Molecule{m, m}, storage.DefaultBatchSize)
	require.NoError(t, err)
	require.Equal(t, []int64{9, 9}, ids)
	require.Equal(t, []int{0}, meta.InsertedIdx)
	require.Equal(t, []int{1}, meta.ExistingIdx)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMoleculeExistsEmptyInputShortCircuits(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	out, err := store.MoleculeExists(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Empty(t, out)
}
