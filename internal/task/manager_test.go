package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/footrig/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockLogger() *logger.MockLogger {
	mockLogger := logger.NewMockLogger()
	mockLogger.On("Debug", mock.Anything, mock.Anything).Return()
	mockLogger.On("Error", mock.Anything, mock.Anything).Return()
	mockLogger.On("Info", mock.Anything, mock.Anything).Return()
	mockLogger.On("Warn", mock.Anything, mock.Anything).Return()

	return mockLogger
}

func TestManager_Start(t *testing.T) {
	assert := assert.New(t)

	mgr := NewManager(context.Background(), newMockLogger())

	var calls atomic.Int32
	require.NoError(t, mgr.Start("loop", func() bool {
		return calls.Add(1) < 5
	}))
	mgr.Wait()

	assert.Equal(int32(5), calls.Load())
	assert.Equal(0, mgr.TaskCount())
}

func TestManager_StopCancelsTasks(t *testing.T) {
	assert := assert.New(t)

	mgr := NewManager(context.Background(), newMockLogger())

	started := make(chan struct{})
	require.NoError(t, mgr.Go("worker", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}))
	<-started
	assert.Equal(1, mgr.TaskCount())

	mgr.Stop()
	mgr.Wait()
	assert.Equal(0, mgr.TaskCount())

	// the manager is re-armed after Wait
	done := make(chan struct{})
	require.NoError(t, mgr.Go("again", func(context.Context) { close(done) }))
	<-done
	mgr.Wait()
}

func TestManager_StartInterval(t *testing.T) {
	assert := assert.New(t)

	mgr := NewManager(context.Background(), newMockLogger())

	var calls atomic.Int32
	_, err := mgr.StartInterval("tick", func() bool {
		calls.Add(1)
		return true
	}, 5*time.Millisecond, true)
	require.NoError(t, err)

	_, err = mgr.StartInterval("tick", func() bool { return true }, 5*time.Millisecond, false)
	assert.Error(err, "duplicate name")

	_, err = mgr.StartInterval("bad", func() bool { return true }, 0, false)
	assert.Error(err)

	assert.Eventually(func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, mgr.StopInterval("tick"))
	assert.Error(mgr.StopInterval("tick"))

	mgr.Stop()
	mgr.Wait()
}

func TestManager_RecoversPanic(t *testing.T) {
	mockLogger := newMockLogger()
	mgr := NewManager(context.Background(), mockLogger)

	require.NoError(t, mgr.Go("boom", func(context.Context) { panic("bad relay") }))
	require.NoError(t, mgr.Start("boom-loop", func() bool { panic("bad loop") }))
	mgr.Wait()

	mockLogger.AssertCalled(t, "Error", "panic in task", mock.Anything)
}

func TestManager_StoppedParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mgr := NewManager(ctx, newMockLogger())
	assert.ErrorIs(t, mgr.Go("late", func(context.Context) {}), ErrStopped)
}

func TestManager_WaitTimeout(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())
	release := make(chan struct{})
	require.NoError(t, mgr.Go("stuck", func(context.Context) { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, mgr.WaitTimeout(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, mgr.WaitTimeout(context.Background()))
}
