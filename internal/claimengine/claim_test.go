package claimengine

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

func TestClaimHappyPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	managerCols := []string{
		"id", "name", "cluster", "hostname", "username", "uuid", "tags", "programs", "status",
		"claimed", "successes", "failures", "rejected", "returned", "total_cpu_hours",
		"active_tasks", "active_cores", "active_memory", "created_on", "modified_on",
	}
	programsJSON := []byte(`{"psi4":""}`)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM queue_manager WHERE name = \$1`).
		WithArgs("mgr-1").
		WillReturnRows(sqlmock.NewRows(managerCols).AddRow(
			int64(1), "mgr-1", "cluster", "host", "user", "uuid", "{*}", programsJSON, "active",
			int64(0), int64(0), int64(0), int64(0), int64(0), 0.0,
			0, 0, 0.0, now, now,
		))
	mock.ExpectQuery(`FROM task_queue`).
		WithArgs(sqlmock.AnyArg(), 5, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "base_result_id", "spec", "compute_tag", "required_programs", "priority", "created_on"}).
			AddRow(int64(10), int64(100), []byte(`{"record_id":100,"function":"compute"}`), "*", programsJSON, 1, now))
	mock.ExpectExec(`UPDATE base_record SET status`).
		WithArgs(int64(100), "running", "mgr-1", "waiting").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE task_queue SET manager = \$2 WHERE id = \$1`).
		WithArgs(int64(10), "mgr-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE queue_manager SET`).
		WithArgs("mgr-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(`INSERT INTO queue_manager_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	e := New(db, postgres.New(db), nil)
	tasks, err := e.Claim(context.Background(), "mgr-1", 5)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, int64(10), tasks[0].ID)
	require.Equal(t, int64(100), tasks[0].RecordID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRejectsUnknownManager(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM queue_manager WHERE name = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	e := New(db, postgres.New(db), nil)
	_, err = e.Claim(context.Background(), "ghost", 5)
	require.Error(t, err)
	svcErr, ok := apierrors.As(err)
	require.True(t, ok)
	require.Equal(t, apierrors.CodeComputeManager, svcErr.Code)
	require.True(t, svcErr.Shutdown)
}
