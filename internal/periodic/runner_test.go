package periodic

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub005/internal/config"
	"github.com/MolSSI/QCFractal-sub005/internal/managerregistry"
	"github.com/MolSSI/QCFractal-sub005/internal/serviceengine"
	"github.com/MolSSI/QCFractal-sub005/internal/storage/postgres"
)

func TestEverySecondsFloorsAtOneSecond(t *testing.T) {
	assert.Equal(t, "@every 30s", everySeconds(30))
	assert.Equal(t, "@every 1s", everySeconds(0))
	assert.Equal(t, "@every 1s", everySeconds(-5))
}

func TestNewDerivesStaleTimeoutFromQueueConfig(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := postgres.New(db)
	managers := managerregistry.New(db, store, nil)
	services := serviceengine.New(db, store, nil, nil)
	cfg := config.New()
	cfg.Queue.HeartbeatFrequencySeconds = 10
	cfg.Queue.StaleManagerMultiplier = 4

	r := New(db, store, managers, services, cfg, nil)
	assert.Equal(t, 40*time.Second, managers.HeartbeatTimeout)
	assert.False(t, r.IsRunning())
}

func TestRunnerStartStopLifecycle(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := postgres.New(db)
	managers := managerregistry.New(db, store, nil)
	services := serviceengine.New(db, store, nil, nil)
	cfg := config.New()
	cfg.Queue.HeartbeatFrequencySeconds = 3600
	cfg.Service.ServiceFrequencySeconds = 3600

	r := New(db, store, managers, services, cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	assert.True(t, r.IsRunning())

	require.Error(t, r.Start(ctx), "starting twice must fail")

	cancel()
	require.Eventually(t, func() bool { return !r.IsRunning() }, time.Second, 10*time.Millisecond)
}
