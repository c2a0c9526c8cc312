package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

func TestWaitForStatusReceivesNotify(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	wg.Add(1)
	var got domain.RecordStatus
	var err error
	go func() {
		defer wg.Done()
		got, err = r.WaitForStatus(context.Background(), 42)
	}()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.watchers[42]) == 1
	}, time.Second, time.Millisecond)

	r.Notify(42, domain.StatusComplete)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, got)
}

func TestWaitForStatusContextCancel(t *testing.T) {
	r := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.WaitForStatus(ctx, 7)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.watchers[7], "cancelled watcher must be forgotten")
}

func TestNotifyWithNoWatchersIsNoop(t *testing.T) {
	r := New()
	assert.NotPanics(t, func() { r.Notify(1, domain.StatusError) })
}

func TestNotifyDropsNonReceivingWatcher(t *testing.T) {
	r := New()
	ch := make(chan Event) // unbuffered, nobody reads
	r.mu.Lock()
	r.watchers[99] = append(r.watchers[99], ch)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.Notify(99, domain.StatusComplete)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a non-receiving watcher")
	}
}
