package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduleRunsAfterDelay(t *testing.T) {
	s := NewTimerScheduler()
	var ran atomic.Int32

	s.Schedule(func() { ran.Add(1) }, 20*time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
	assert.Equal(t, 1, s.Pending())

	assert.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestFlushRunsPendingTasksOnce(t *testing.T) {
	s := NewTimerScheduler()
	var ran atomic.Int32

	for i := 0; i < 3; i++ {
		s.Schedule(func() { ran.Add(1) }, time.Hour)
	}
	assert.Equal(t, 3, s.Pending())

	s.Flush()
	assert.Equal(t, int32(3), ran.Load())
	assert.Zero(t, s.Pending())

	s.Flush()
	assert.Equal(t, int32(3), ran.Load())
}

func TestScheduleAfterFlushRunsImmediately(t *testing.T) {
	s := NewTimerScheduler()
	s.Flush()

	var ran atomic.Bool
	s.Schedule(func() { ran.Store(true) }, time.Hour)
	assert.True(t, ran.Load())
}

func TestFlushWaitsForRunningTask(t *testing.T) {
	s := NewTimerScheduler()
	started := make(chan struct{})
	var done atomic.Bool

	s.Schedule(func() {
		close(started)
		time.Sleep(30 * time.Millisecond)
		done.Store(true)
	}, 0)

	<-started
	s.Flush()
	assert.True(t, done.Load())
}
