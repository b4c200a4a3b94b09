package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	calls  atomic.Int32
	active atomic.Int32
	maxPar atomic.Int32
}

func (r *countingRunner) Run(context.Context) (Result, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	if n > r.maxPar.Load() {
		r.maxPar.Store(n)
	}

	r.calls.Add(1)
	time.Sleep(2 * time.Millisecond)
	return Result{Outcome: OutcomeSkipped}, nil
}

func TestSchedulerRunsImmediatelyAndRepeats(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}

	assert.Equal(t, int32(1), runner.maxPar.Load(), "runs never overlap")
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	assert.Error(t, l.Unlock(ctx), "unlock without lock")

	ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Unlock(ctx))

	ok, err = l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = l.TryLock(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}
