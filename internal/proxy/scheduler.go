package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Task is one unit of scheduled work, usually a particle callback.
type Task struct {
	// Name labels the task in logs, e.g. "update:P1:bar".
	Name string
	Fn   func() error
}

// Scheduler is a cooperative FIFO queue of tasks.
//
// Tasks run one at a time, in enqueue order. A task enqueued while the
// queue is draining is appended behind every pending task, never ahead of
// them. Idle gives callers a single observation point: it returns once the
// queue is empty, no task is running and no channel call is in flight.
//
// Thread-safety model:
//   - Enqueue, BeginCall, EndCall: safe from any goroutine
//   - Run and Idle: may be called concurrently; tasks still run one at a time
//   - A task must not call Idle or Run
//
// ERROR HANDLING: a task error or panic is logged with the task name and
// dispatch continues. One misbehaving particle cannot stall the others.
type Scheduler struct {
	logger  *slog.Logger
	metrics *Metrics

	runMu sync.Mutex // held while a task runs

	mu       sync.Mutex
	tasks    []Task
	running  int
	inFlight int
	signal   chan struct{} // buffered, size 1; coalesces wakeups for Run
	changed  chan struct{} // closed and replaced on every state change
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics records task outcomes in m.
func WithMetrics(m *Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates an empty Scheduler.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		logger:  slog.Default(),
		tasks:   make([]Task, 0, 64),
		signal:  make(chan struct{}, 1),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue appends a task.
func (s *Scheduler) Enqueue(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	s.notifyLocked()
}

// BeginCall records a channel call in flight. Idle waits for it.
func (s *Scheduler) BeginCall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight++
}

// EndCall records that a channel call finished.
func (s *Scheduler) EndCall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		s.inFlight--
	}
	s.notifyLocked()
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) notifyLocked() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
	close(s.changed)
	s.changed = make(chan struct{})
}

// runNext runs the front task, if any. Reports whether one ran.
func (s *Scheduler) runNext() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	if len(s.tasks) == 0 {
		s.mu.Unlock()
		return false
	}
	t := s.tasks[0]
	s.tasks[0] = Task{}
	if len(s.tasks) == 1 {
		s.tasks = s.tasks[:0]
	} else {
		s.tasks = s.tasks[1:]
	}
	s.running++
	s.mu.Unlock()

	s.execute(t)

	s.mu.Lock()
	s.running--
	s.notifyLocked()
	s.mu.Unlock()
	return true
}

func (s *Scheduler) execute(t Task) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.task("panic")
			s.logger.Error("scheduler task panicked", "task", t.Name, "panic", fmt.Sprint(r))
		}
	}()
	if err := t.Fn(); err != nil {
		s.metrics.task("error")
		s.logger.Error("scheduler task failed", "task", t.Name, "error", err)
		return
	}
	s.metrics.task("ok")
}

// Idle drains the queue on the calling goroutine and returns once the queue
// is empty, no task is running and no channel call is in flight. Returns
// ctx.Err() if ctx ends first.
func (s *Scheduler) Idle(ctx context.Context) error {
	for {
		if s.runNext() {
			continue
		}

		s.mu.Lock()
		if len(s.tasks) == 0 && s.running == 0 && s.inFlight == 0 {
			s.mu.Unlock()
			return nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Run drains tasks as they arrive until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Debug("scheduler starting")
	for {
		if s.runNext() {
			continue
		}
		select {
		case <-ctx.Done():
			s.logger.Debug("scheduler stopping", "pending", s.Len())
			return ctx.Err()
		case <-s.signal:
		}
	}
}
