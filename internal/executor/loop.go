// Package executor provides the serialized task loop that every per-stream
// component runs on. Tasks execute one at a time, in submission order, to
// completion; nothing running on a Loop needs its own locking.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
)

// ErrStopped is returned by Call when the loop has stopped before the task
// could run.
var ErrStopped = errors.New("executor: loop stopped")

// Task is a unit of work. It receives the loop clock at the moment it starts.
type Task = func(now time.Time)

// Loop is a single-consumer FIFO task queue. Sync may be called from any
// goroutine and never blocks; Run drains the queue on the calling goroutine.
type Loop struct {
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	tasks   deque.Deque[Task]
	stopped bool
	wake    chan struct{}
	done    chan struct{}

	executed  atomic.Int64
	discarded atomic.Int64
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock replaces time.Now as the loop clock.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// New creates a Loop. If log is nil, slog.Default() is used.
func New(log *slog.Logger, opts ...Option) *Loop {
	if log == nil {
		log = slog.Default()
	}
	l := &Loop{
		log:  log.With("component", "executor"),
		now:  time.Now,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the loop clock.
func (l *Loop) Now() time.Time { return l.now() }

// Sync queues fn for execution on the loop. Tasks queued after the loop has
// stopped are discarded.
func (l *Loop) Sync(fn Task) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		l.discarded.Add(1)
		l.log.Debug("task discarded, loop stopped")
		return
	}
	l.tasks.PushBack(fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call queues fn and waits until it has run, ctx is cancelled, or the loop
// stops without running it.
func (l *Loop) Call(ctx context.Context, fn Task) error {
	ran := make(chan struct{})
	l.Sync(func(now time.Time) {
		fn(now)
		close(ran)
	})

	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Run executes queued tasks until ctx is cancelled. Tasks already queued
// when ctx is cancelled still run before Run returns; later submissions are
// discarded. Run must be called at most once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	for {
		l.drain()

		select {
		case <-l.wake:
		case <-ctx.Done():
			l.mu.Lock()
			l.stopped = true
			l.mu.Unlock()
			l.drain()
			l.log.Debug("loop stopped", "executed", l.executed.Load())
			return nil
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Executed returns the number of tasks run so far.
func (l *Loop) Executed() int64 { return l.executed.Load() }

// Discarded returns the number of tasks dropped because the loop had stopped.
func (l *Loop) Discarded() int64 { return l.discarded.Load() }

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if l.tasks.Len() == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.tasks.PopFront()
		l.mu.Unlock()

		fn(l.now())
		l.executed.Add(1)
	}
}
