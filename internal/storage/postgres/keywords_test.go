package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
)

func TestGetKeywordsMissingOKSkipsGaps(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, hash_index, values, comments, created_on FROM keywords WHERE id = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "hash_index", "values", "comments", "created_on"}).
			AddRow(int64(1), "hash1", []byte(`{"maxiter":100}`), "", now))
	mock.ExpectCommit()

	store := New(db)
	tx, err := db.Begin()
	require.NoError(t, err)

	out, err := store.GetKeywords(context.Background(), tx, []int64{1, 2}, true)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(1), out[0].ID)
	require.Equal(t, 100.0, out[0].Values["maxiter"])
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetKeywordsMissingNotOKReturnsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, hash_index, values, comments, created_on FROM keywords WHERE id = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "hash_index", "values", "comments", "created_on"}))
	mock.ExpectCommit()

	store := New(db)
	tx, err := db.Begin()
	require.NoError(t, err)

	_, err = store.GetKeywords(context.Background(), tx, []int64{1}, false)
	require.Error(t, err)
	svcErr, ok := apierrors.As(err)
	require.True(t, ok)
	require.Equal(t, apierrors.CodeMissingData, svcErr.Code)
	require.NoError(t, tx.Commit())
}

func TestDeleteKeywords(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM keywords WHERE id = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	store := New(db)
	tx, err := db.Begin()
	require.NoError(t, err)

	n, err := store.DeleteKeywords(context.Background(), tx, []int64{1, 2})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}
