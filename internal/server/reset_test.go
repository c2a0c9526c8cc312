package server

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub005/internal/config"
)

func baseRecordRow(now time.Time, status, managerName string) *sqlmock.Rows {
	cols := []string{
		"id", "record_type", "status", "prior_status", "is_service", "manager_name", "owner",
		"created_on", "modified_on", "extras", "provenance", "comments", "stdout", "stderr", "error_output",
	}
	return sqlmock.NewRows(cols).AddRow(
		int64(42), "singlepoint", status, "", false, managerName, "owner",
		now, now, []byte("{}"), []byte("{}"), []byte("[]"), int64(0), int64(0), int64(0),
	)
}

func TestResetRequeuesErroredRecordWithFreshTask(t *testing.T) {
	s, mock, closeDB := newTestServer(t, config.APILimitsConfig{})
	defer closeDB()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM base_record WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(baseRecordRow(now, "error", "mgr-1"))
	mock.ExpectQuery(`FROM task_queue WHERE base_result_id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "base_result_id", "spec", "compute_tag", "required_programs", "priority", "created_on", "manager"}).
			AddRow(int64(50), int64(42), []byte(`{"id":50}`), "*", []byte(`{"psi4":""}`), 1, now, "mgr-1"))
	mock.ExpectExec(`DELETE FROM task_queue WHERE base_result_id = \$1`).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO task_queue`).
		WithArgs(int64(42), sqlmock.AnyArg(), "*", sqlmock.AnyArg(), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(51)))
	mock.ExpectExec(`UPDATE base_record SET status`).
		WithArgs(int64(42), "waiting", sqlmock.AnyArg(), "error").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := s.Reset(context.Background(), ResetRequest{RecordIDs: []int64{42}, ResetError: true})
	require.NoError(t, err)
	require.Equal(t, 1, out.Reset)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetSkipsRecordsNotInAnEligibleStatus(t *testing.T) {
	s, mock, closeDB := newTestServer(t, config.APILimitsConfig{})
	defer closeDB()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM base_record WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(baseRecordRow(now, "complete", ""))
	mock.ExpectCommit()

	out, err := s.Reset(context.Background(), ResetRequest{RecordIDs: []int64{42}, ResetError: true})
	require.NoError(t, err)
	require.Equal(t, 0, out.Reset)
	require.NoError(t, mock.ExpectationsWereMet())
}
