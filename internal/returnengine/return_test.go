package returnengine

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

var managerCols = []string{
	"id", "name", "cluster", "hostname", "username", "uuid", "tags", "programs", "status",
	"claimed", "successes", "failures", "rejected", "returned", "total_cpu_hours",
	"active_tasks", "active_cores", "active_memory", "created_on", "modified_on",
}

func managerRow(now time.Time, activeTasks int) *sqlmock.Rows {
	return sqlmock.NewRows(managerCols).AddRow(
		int64(1), "mgr-1", "cluster", "host", "user", "uuid", "{*}", []byte(`{"psi4":""}`), "active",
		int64(0), int64(0), int64(0), int64(0), int64(0), 0.0,
		activeTasks, 0, 0.0, now, now,
	)
}

func baseRecordRow(now time.Time, id int64, recordType, status, managerName string) *sqlmock.Rows {
	cols := []string{
		"id", "record_type", "status", "prior_status", "is_service", "manager_name", "owner",
		"created_on", "modified_on", "extras", "provenance", "comments", "stdout", "stderr", "error_output",
	}
	return sqlmock.NewRows(cols).AddRow(
		id, recordType, status, "", false, managerName, "owner",
		now, now, []byte("{}"), []byte("{}"), []byte("[]"), int64(0), int64(0), int64(0),
	)
}

func TestUpdateCompletedAcceptsSinglepointSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM queue_manager WHERE name = \$1`).
		WithArgs("mgr-1").
		WillReturnRows(managerRow(now, 3))

	mock.ExpectExec(`SAVEPOINT task_return_1`).WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(`FROM task_queue WHERE id = \$1`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "base_result_id", "spec", "compute_tag", "required_programs", "priority", "created_on", "coalesce"}).
			AddRow(int64(10), int64(100), []byte(`{}`), "*", []byte(`{}`), 1, now, ""))

	mock.ExpectQuery(`FROM base_record WHERE id = \$1`).
		WithArgs(int64(100)).
		WillReturnRows(baseRecordRow(now, 100, "singlepoint", "running", "mgr-1"))

	mock.ExpectQuery(`FROM base_record WHERE id = \$1`).
		WithArgs(int64(100)).
		WillReturnRows(baseRecordRow(now, 100, "singlepoint", "running", "mgr-1"))
	mock.ExpectQuery(`FROM singlepoint_record WHERE id = \$1`).
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{
			"program", "driver", "method", "basis", "keywords_id", "molecule_id", "protocols", "return_result", "properties", "wavefunction_id",
		}).AddRow("psi4", nil, "b3lyp", nil, nil, int64(5), []byte(`{}`), []byte(`null`), []byte(`{}`), nil))
	mock.ExpectExec(`UPDATE singlepoint_record SET return_result`).
		WithArgs(int64(100), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`FROM base_record WHERE id = \$1`).
		WithArgs(int64(100)).
		WillReturnRows(baseRecordRow(now, 100, "singlepoint", "running", "mgr-1"))
	mock.ExpectExec(`UPDATE base_record SET stdout`).
		WithArgs(int64(100), int64(0), int64(0), int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`INSERT INTO compute_history \(`).
		WithArgs(int64(100), "complete", "mgr-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(`INSERT INTO compute_history_outputs`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO compute_history_outputs`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectExec(`UPDATE base_record SET status = \$2`).
		WithArgs(int64(100), "complete", "mgr-1", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM task_queue WHERE base_result_id = \$1`).
		WithArgs(int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`RELEASE SAVEPOINT task_return_1`).WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(`UPDATE queue_manager SET`).
		WithArgs("mgr-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(`INSERT INTO queue_manager_log`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	e := New(db, postgres.New(db), nil, nil)
	out, err := e.UpdateCompleted(context.Background(), "mgr-1", map[int64]domain.TaskResult{
		10: {
			Status:      domain.ResultSuccess,
			Singlepoint: &domain.SinglepointResult{},
		},
	})
	require.NoError(t, err)
	require.Empty(t, out.RejectedInfo)
	require.Equal(t, []int64{10}, out.AcceptedIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCompletedRejectsWrongManagerWithoutAbortingBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM queue_manager WHERE name = \$1`).
		WithArgs("mgr-1").
		WillReturnRows(managerRow(now, 1))

	mock.ExpectExec(`SAVEPOINT task_return_1`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM task_queue WHERE id = \$1`).
		WithArgs(int64(20)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "base_result_id", "spec", "compute_tag", "required_programs", "priority", "created_on", "coalesce"}).
			AddRow(int64(20), int64(200), []byte(`{}`), "*", []byte(`{}`), 1, now, ""))
	mock.ExpectQuery(`FROM base_record WHERE id = \$1`).
		WithArgs(int64(200)).
		WillReturnRows(baseRecordRow(now, 200, "singlepoint", "running", "some-other-manager"))
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT task_return_1`).WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(`UPDATE queue_manager SET`).
		WithArgs("mgr-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(`INSERT INTO queue_manager_log`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	e := New(db, postgres.New(db), nil, nil)
	out, err := e.UpdateCompleted(context.Background(), "mgr-1", map[int64]domain.TaskResult{
		20: {
			Status:      domain.ResultSuccess,
			Singlepoint: &domain.SinglepointResult{},
		},
	})
	require.NoError(t, err)
	require.Empty(t, out.AcceptedIDs)
	require.Len(t, out.RejectedInfo, 1)
	require.Equal(t, int64(20), out.RejectedInfo[0].ID)
	require.Contains(t, out.RejectedInfo[0].Reason, "some-other-manager")
	require.NoError(t, mock.ExpectationsWereMet())
}
