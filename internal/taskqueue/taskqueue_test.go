package taskqueue

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

func TestCreateSinglepointTask(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO task_queue`).
		WithArgs(int64(7), sqlmock.AnyArg(), "tag1", sqlmock.AnyArg(), int(domain.PriorityHigh)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(99)))
	mock.ExpectCommit()

	store := postgres.New(db)
	tx, err := db.Begin()
	require.NoError(t, err)

	id, err := CreateSinglepointTask(context.Background(), tx, store, 7, "tag1", domain.RequiredPrograms{"psi4": ""}, domain.PriorityHigh)
	require.NoError(t, err)
	require.Equal(t, int64(99), id)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProcedureTaskDefaultsTag(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO task_queue`).
		WithArgs(int64(3), sqlmock.AnyArg(), "*", sqlmock.AnyArg(), int(domain.PriorityNormal)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectCommit()

	store := postgres.New(db)
	tx, err := db.Begin()
	require.NoError(t, err)

	id, err := CreateProcedureTask(context.Background(), tx, store, 3, "", domain.RequiredPrograms{}, domain.PriorityNormal)
	require.NoError(t, err)
	require.Equal(t, int64(11), id)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}
