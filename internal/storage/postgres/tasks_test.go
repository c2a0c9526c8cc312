package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

func TestClaimCandidatesPassesManagerProgramsIntoTheQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM task_queue`).
		WithArgs(sqlmock.AnyArg(), 5, []byte(`{"psi4":""}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "base_result_id", "spec", "compute_tag", "required_programs", "priority", "created_on"}).
			AddRow(int64(1), int64(10), []byte(`{}`), "*", []byte(`{"psi4":""}`), 1, now))
	mock.ExpectCommit()

	store := New(db)
	tx, err := db.Begin()
	require.NoError(t, err)

	out, err := store.ClaimCandidates(context.Background(), tx, []string{"*"}, 5, domain.RequiredPrograms{"psi4": ""})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(1), out[0].ID)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}
