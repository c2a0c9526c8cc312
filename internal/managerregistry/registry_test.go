package managerregistry

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

func TestDeactivateReleasesOutstandingTasks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE queue_manager SET status = 'inactive'`).
		WithArgs("cluster-host-uuid").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, base_result_id FROM task_queue WHERE manager = \$1 FOR UPDATE`).
		WithArgs("cluster-host-uuid").
		WillReturnRows(sqlmock.NewRows([]string{"id", "base_result_id"}).AddRow(int64(1), int64(101)).AddRow(int64(2), int64(102)))
	mock.ExpectExec(`UPDATE task_queue SET manager = NULL WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE base_record SET status`).
		WithArgs(int64(101), "waiting", sqlmock.AnyArg(), "running").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE task_queue SET manager = NULL WHERE id = \$1`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE base_record SET status`).
		WithArgs(int64(102), "waiting", sqlmock.AnyArg(), "running").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reg := New(db, postgres.New(db), nil)
	released, err := reg.Deactivate(context.Background(), "cluster-host-uuid")
	require.NoError(t, err)
	require.Equal(t, 2, released)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepStaleDeactivatesEachStaleManager(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT name FROM queue_manager`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("stale-1"))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE queue_manager SET status = 'inactive'`).
		WithArgs("stale-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, base_result_id FROM task_queue WHERE manager = \$1 FOR UPDATE`).
		WithArgs("stale-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "base_result_id"}))
	mock.ExpectCommit()

	reg := New(db, postgres.New(db), nil)
	reg.HeartbeatTimeout = 5 * time.Minute
	stale, err := reg.SweepStale(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"stale-1"}, stale)
	require.NoError(t, mock.ExpectationsWereMet())
}
