// Package scheduler runs tasks and timers on a single goroutine.
//
// The link and the layers around it are not safe for concurrent use. Every
// call into them goes through a Scheduler: I/O goroutines Post work, timers
// fire from the same loop, and nothing runs in parallel.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"avaneesh/trel-go/pkg/internal/logger"
	"avaneesh/trel-go/pkg/internal/queue"
)

// ErrStopped is returned once Run has returned
var ErrStopped = errors.New("scheduler stopped")

// Scheduler is a cooperative single-goroutine event loop.
// Run may be called once.
type Scheduler struct {
	clock  Clock
	logger logger.Logger

	timers *queue.TimeQueue

	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}

	stopped  chan struct{}
	stopOnce sync.Once
}

// Timer is a one-shot timer created by AfterFunc
type Timer struct {
	s    *Scheduler
	item *queue.Item
}

// Stop cancels the timer, returning false if it already fired or was stopped
func (t *Timer) Stop() bool {
	if t == nil || t.item == nil {
		return false
	}
	if !t.s.timers.Remove(t.item) {
		return false
	}
	t.s.signal()
	return true
}

// New creates a scheduler. A nil clock uses the system time.
func New(clock Clock, log logger.Logger) *Scheduler {
	if clock == nil {
		clock = systemClock{}
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Scheduler{
		clock:   clock,
		logger:  log,
		timers:  queue.NewTimeQueue(),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Now returns the scheduler time
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Post queues f to run on the loop. Safe to call from any goroutine.
func (s *Scheduler) Post(f func()) {
	s.mu.Lock()
	s.tasks = append(s.tasks, f)
	s.mu.Unlock()
	s.signal()
}

// AfterFunc runs f on the loop once d has elapsed
func (s *Scheduler) AfterFunc(d time.Duration, f func()) *Timer {
	item := s.timers.Push(f, s.clock.Now().Add(d))
	s.signal()
	return &Timer{s: s, item: item}
}

// Do runs f on the loop and waits for it to return.
// It must not be called from the loop goroutine. If Run has returned, or
// returns before f runs, Do returns ErrStopped.
func (s *Scheduler) Do(ctx context.Context, f func()) error {
	select {
	case <-s.stopped:
		return ErrStopped
	default:
	}

	done := make(chan struct{})
	s.Post(func() {
		defer close(done)
		f()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Stopped returns a channel closed when Run returns
func (s *Scheduler) Stopped() <-chan struct{} {
	return s.stopped
}

// Run executes tasks and timers until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	select {
	case <-s.stopped:
		return ErrStopped
	default:
	}

	s.logger.Debug("Scheduler: started")
	defer s.logger.Debug("Scheduler: stopped")
	defer s.stopOnce.Do(func() { close(s.stopped) })

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.RunPending()

		var timerC <-chan time.Time
		if next := s.timers.Peek(); next != nil {
			timer.Reset(next.When.Sub(s.clock.Now()))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-timerC:
		}

		timer.Stop()
	}
}

// RunPending runs every posted task and every due timer, including work
// they schedule in turn, and returns how many callbacks ran
func (s *Scheduler) RunPending() int {
	ran := 0
	for {
		n := s.runTasks() + s.runDueTimers()
		if n == 0 {
			return ran
		}
		ran += n
	}
}

// Advance moves a ManualClock forward by d, firing timers in deadline order
// with the clock set to each deadline
func (s *Scheduler) Advance(d time.Duration) {
	mc, ok := s.clock.(*ManualClock)
	if !ok {
		panic("scheduler: Advance requires a ManualClock")
	}

	target := mc.Now().Add(d)
	s.RunPending()

	for {
		next := s.timers.Peek()
		if next == nil || next.When.After(target) {
			break
		}
		if next.When.After(mc.Now()) {
			mc.Set(next.When)
		}
		s.RunPending()
	}

	mc.Set(target)
	s.RunPending()
}

// Len returns the number of queued tasks and armed timers
func (s *Scheduler) Len() int {
	s.mu.Lock()
	n := len(s.tasks)
	s.mu.Unlock()
	return n + s.timers.Len()
}

func (s *Scheduler) runTasks() int {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	for _, f := range tasks {
		f()
	}
	return len(tasks)
}

func (s *Scheduler) runDueTimers() int {
	n := 0
	now := s.clock.Now()
	for {
		item, ok := s.timers.PopReady(now)
		if !ok {
			return n
		}
		item.Value.(func())()
		n++
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
