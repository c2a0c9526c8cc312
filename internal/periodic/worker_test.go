package periodic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub005/internal/platform/logging"
)

func TestWorkerGroupLifecycle(t *testing.T) {
	log := logging.NewDefault("test")
	g := newWorkerGroup()
	g.add(newJob("noop", "@every 1h", log, func(ctx context.Context) error { return nil }))

	assert.False(t, g.isRunning())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, g.start(ctx))
	assert.True(t, g.isRunning())

	require.Error(t, g.start(ctx), "starting twice must fail")

	cancel()
	require.Eventually(t, func() bool { return !g.isRunning() }, time.Second, 10*time.Millisecond)
}

func TestWorkerGroupRunsRegisteredJob(t *testing.T) {
	log := logging.NewDefault("test")
	g := newWorkerGroup()

	fired := make(chan struct{}, 1)
	g.add(newJob("fast", "@every 1s", log, func(ctx context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, g.start(ctx))

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired")
	}
}
