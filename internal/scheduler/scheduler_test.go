package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inbox-sync-go/internal/config"
	"inbox-sync-go/internal/inboxsync"
)

type blockingRunner struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) SyncAll(ctx context.Context) []inboxsync.WorkspaceResult {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if r.started != nil {
		r.started <- struct{}{}
		<-r.release
	}
	return []inboxsync.WorkspaceResult{{WorkspaceID: "ws-1", Success: true, Result: &inboxsync.Result{Processed: 2}}}
}

func TestSchedulerRestart(t *testing.T) {
	sched := NewScheduler(&config.SchedulerConfig{IntervalMinutes: 60}, &blockingRunner{})

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.False(t, sched.NextRun().IsZero())
	assert.Error(t, sched.Start())

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning())
	assert.True(t, sched.NextRun().IsZero())
	assert.Error(t, sched.ctx.Err())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.NoError(t, sched.ctx.Err())
	require.NoError(t, sched.Stop())
}

func TestRunOnceStoresResults(t *testing.T) {
	runner := &blockingRunner{}
	sched := NewScheduler(&config.SchedulerConfig{IntervalMinutes: 5}, runner)

	results, err := sched.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	status := sched.Status()
	assert.False(t, status.Running)
	assert.False(t, status.LastRun.IsZero())
	require.Len(t, status.LastResults, 1)
	assert.Equal(t, 2, status.LastResults[0].Result.Processed)
}

func TestRunOnceIsNotReentrant(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	sched := NewScheduler(&config.SchedulerConfig{IntervalMinutes: 5}, runner)

	done := make(chan error, 1)
	go func() {
		_, err := sched.RunOnce(context.Background())
		done <- err
	}()
	<-runner.started

	_, err := sched.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(runner.release)
	require.NoError(t, <-done)
	sched.Wait()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 1, runner.calls)
}

func TestStatusDuringStop(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	sched := NewScheduler(&config.SchedulerConfig{IntervalMinutes: 60}, runner)
	require.NoError(t, sched.Start())

	// an every-second job so a cycle is in flight when Stop is called
	_, err := sched.cron.AddFunc("* * * * * *", sched.runScheduled)
	require.NoError(t, err)

	select {
	case <-runner.started:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled cycle did not start")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- sched.Stop() }()

	require.Eventually(t, func() bool { return !sched.IsRunning() }, time.Second, 5*time.Millisecond)

	status := make(chan Status, 1)
	go func() { status <- sched.Status() }()
	select {
	case st := <-status:
		assert.False(t, st.Running)
		assert.True(t, st.NextRun.IsZero())
	case <-time.After(time.Second):
		t.Fatal("status blocked while stopping")
	}

	select {
	case <-stopped:
		t.Fatal("stop returned before the cycle finished")
	default:
	}

	close(runner.release)
	require.NoError(t, <-stopped)
}
