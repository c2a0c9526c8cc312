package serviceengine

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

func TestIterateAbortsServiceWhenADependencyErrored(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, procedure_id, compute_tag, priority, service_state, created_on, modified_on FROM service_queue WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "procedure_id", "compute_tag", "priority", "service_state", "created_on", "modified_on"}).
			AddRow(int64(1), int64(100), "*", 1, []byte(`{}`), now, now))
	mock.ExpectQuery(`FROM service_queue_tasks WHERE service_id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"procedure_id", "key", "position", "extras"}).
			AddRow(int64(200), "opt0", 0, []byte(`{}`)))

	mock.ExpectQuery(`FROM base_record WHERE id = \$1`).
		WithArgs(int64(100)).
		WillReturnRows(baseRecordRow(now, 100, "torsiondrive", "running", ""))

	mock.ExpectQuery(`FROM base_record WHERE id = \$1`).
		WithArgs(int64(200)).
		WillReturnRows(baseRecordRow(now, 200, "optimization", "error", ""))

	mock.ExpectQuery(`INSERT INTO compute_history \(`).
		WithArgs(int64(100), "error", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

	mock.ExpectExec(`UPDATE base_record SET status = \$2`).
		WithArgs(int64(100), "error", sqlmock.AnyArg(), "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`DELETE FROM service_queue WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectCommit()

	e := New(db, postgres.New(db), nil, nil)
	err = e.Iterate(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIterateDueReturnsZeroWhenNothingDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM service_queue sq`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	e := New(db, postgres.New(db), nil, nil)
	n, err := e.IterateDue(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func baseRecordRow(now time.Time, id int64, recordType, status, managerName string) *sqlmock.Rows {
	cols := []string{
		"id", "record_type", "status", "prior_status", "is_service", "manager_name", "owner",
		"created_on", "modified_on", "extras", "provenance", "comments", "stdout", "stderr", "error_output",
	}
	return sqlmock.NewRows(cols).AddRow(
		id, recordType, status, "", true, managerName, "owner",
		now, now, []byte("{}"), []byte("{}"), []byte("[]"), int64(0), int64(0), int64(0),
	)
}
