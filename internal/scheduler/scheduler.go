// Package scheduler runs deferred tasks, such as workspace cleanup, outside the
// request that scheduled them.
package scheduler

import (
	"sync"
	"time"
)

// Scheduler runs fn once after delay.
type Scheduler interface {
	Schedule(fn func(), delay time.Duration)
}

// TimerScheduler backs each task with a time.Timer. Tasks cannot be
// cancelled, but Flush runs every pending task at once.
type TimerScheduler struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*task
	flushed bool
	wg      sync.WaitGroup
}

type task struct {
	fn    func()
	timer *time.Timer
	once  sync.Once
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{pending: make(map[uint64]*task)}
}

func (s *TimerScheduler) Schedule(fn func(), delay time.Duration) {
	s.mu.Lock()
	if s.flushed {
		s.mu.Unlock()
		fn()
		return
	}
	id := s.nextID
	s.nextID++
	t := &task{fn: fn}
	s.pending[id] = t
	s.wg.Add(1)
	t.timer = time.AfterFunc(delay, func() { s.run(id, t) })
	s.mu.Unlock()
}

func (s *TimerScheduler) run(id uint64, t *task) {
	t.once.Do(func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		t.fn()
	})
}

// Pending is the number of tasks that have not started.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush runs all pending tasks now and waits for every task, including ones
// already started by their timers, to return. Tasks scheduled afterwards run
// synchronously.
func (s *TimerScheduler) Flush() {
	s.mu.Lock()
	s.flushed = true
	tasks := make(map[uint64]*task, len(s.pending))
	for id, t := range s.pending {
		tasks[id] = t
	}
	s.mu.Unlock()

	for id, t := range tasks {
		t.timer.Stop()
		s.run(id, t)
	}
	s.wg.Wait()
}
