package server

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub005/internal/apierrors"
	"github.com/MolSSI/QCFractal-sub005/internal/config"
	"github.com/MolSSI/QCFractal-sub005/internal/domain"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

func newTestServer(t *testing.T, limits config.APILimitsConfig) (*Server, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := postgres.New(db)
	s := New(db, store, nil, nil, nil, nil, limits, nil)
	return s, mock, func() { db.Close() }
}

func assertLimitExceeded(t *testing.T, err error, operation string) {
	t.Helper()
	require.Error(t, err)
	svcErr, ok := apierrors.As(err)
	require.True(t, ok)
	require.Equal(t, apierrors.CodeLimitExceeded, svcErr.Code)
	require.Equal(t, operation, svcErr.Details["operation"])
}

func TestSubmitMoleculesRejectsOverLimitBatch(t *testing.T) {
	s, mock, closeDB := newTestServer(t, config.APILimitsConfig{MoleculeInsert: 1})
	defer closeDB()

	_, _, err := s.SubmitMolecules(context.Background(), []domain.Molecule{water(), water()})
	assertLimitExceeded(t, err, "molecule_insert")
	require.NoError(t, mock.ExpectationsWereMet(), "no query should run once the limit check rejects the batch")
}

func TestSubmitMoleculesZeroLimitDisablesEnforcement(t *testing.T) {
	s, mock, closeDB := newTestServer(t, config.APILimitsConfig{MoleculeInsert: 0})
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT molecule_hash, id FROM molecules WHERE molecule_hash = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"molecule_hash", "id"}))
	mock.ExpectQuery(`INSERT INTO molecules`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	ids, _, err := s.SubmitMolecules(context.Background(), []domain.Molecule{water()})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitSinglepointsRejectsOverLimitBatch(t *testing.T) {
	s, mock, closeDB := newTestServer(t, config.APILimitsConfig{RecordSubmit: 1})
	defer closeDB()

	_, err := s.SubmitSinglepoints(context.Background(), []SubmitSinglepointRequest{{}, {}})
	assertLimitExceeded(t, err, "record_submit")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitOptimizationsRejectsOverLimitBatch(t *testing.T) {
	s, mock, closeDB := newTestServer(t, config.APILimitsConfig{RecordSubmit: 1})
	defer closeDB()

	_, err := s.SubmitOptimizations(context.Background(), []SubmitOptimizationRequest{{}, {}})
	assertLimitExceeded(t, err, "record_submit")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRejectsOverLimitRequest(t *testing.T) {
	s, mock, closeDB := newTestServer(t, config.APILimitsConfig{ManagerTasksClaim: 10})
	defer closeDB()

	_, err := s.Claim(context.Background(), ClaimRequest{Fullname: "mgr-1", Limit: 11})
	assertLimitExceeded(t, err, "manager_tasks_claim")
	require.NoError(t, mock.ExpectationsWereMet())
}

func water() domain.Molecule {
	return domain.Molecule{
		MolecularFormula:      "H2O",
		Symbols:               []string{"O", "H", "H"},
		Geometry:              []float64{0, 0, 0, 0, 0, 1.8, 0, 1.8, 0},
		MolecularCharge:       0,
		MolecularMultiplicity: 1,
	}
}
