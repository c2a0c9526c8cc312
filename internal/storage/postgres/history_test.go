package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

func TestAppendHistoryWritesRowAndOutputLinks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO compute_history \(`).
		WithArgs(int64(100), "complete", "mgr-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectExec(`INSERT INTO compute_history_outputs`).
		WithArgs(int64(5), "stdout", int64(11)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := New(db)
	tx, err := db.Begin()
	require.NoError(t, err)

	id, err := store.AppendHistory(context.Background(), tx, domain.ComputeHistoryRow{
		RecordID:    100,
		Status:      domain.StatusComplete,
		ManagerName: "mgr-1",
		OutputIDs:   map[string]int64{"stdout": 11},
	})
	require.NoError(t, err)
	require.Equal(t, int64(5), id)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListHistoryOrdersOldestFirstAndAttachesOutputs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM compute_history WHERE record_id = \$1 ORDER BY modified_on ASC, id ASC`).
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "record_id", "status", "manager_name", "modified_on", "provenance"}).
			AddRow(int64(1), int64(100), "error", "mgr-1", now, []byte(`{"note":"first attempt"}`)))
	mock.ExpectQuery(`SELECT output_type, output_id FROM compute_history_outputs WHERE history_id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"output_type", "output_id"}).AddRow("stderr", int64(9)))
	mock.ExpectCommit()

	store := New(db)
	tx, err := db.Begin()
	require.NoError(t, err)

	rows, err := store.ListHistory(context.Background(), tx, 100)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, domain.StatusError, rows[0].Status)
	require.Equal(t, int64(9), rows[0].OutputIDs["stderr"])
	require.Equal(t, "first attempt", rows[0].Provenance["note"])
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}
