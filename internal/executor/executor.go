// Package executor provides a single-worker FIFO task queue. At most one
// task runs at a time and tasks run in the order they were submitted, so
// work funneled through an Executor never interleaves.
package executor

import (
	"errors"
	"log"
	"os"
	"sync"
)

var (
	// ErrClosed is returned when submitting to an executor that has been
	// shut down.
	ErrClosed = errors.New("executor is shut down")

	// ErrTaskPanicked is returned to a blocking submitter whose task
	// panicked.
	ErrTaskPanicked = errors.New("task panicked")
)

// Task is a unit of work run on the worker goroutine.
type Task func()

type job struct {
	task Task
	done chan error // nil for async submissions
}

// Executor runs submitted tasks one at a time on a dedicated goroutine.
//
// The queue is unbounded so that SubmitAsync never blocks the caller.
// Submit must not be called from inside a running task: the task would
// wait on itself.
type Executor struct {
	logger *log.Logger

	mu     sync.Mutex
	jobs   []job
	closed bool
	signal chan struct{} // buffered, size 1; closed on shutdown

	stopped chan struct{}
}

// New creates an executor and starts its worker. A nil logger logs to
// stderr.
func New(logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(os.Stderr, "[executor] ", log.LstdFlags)
	}
	e := &Executor{
		logger:  logger,
		jobs:    make([]job, 0, 16),
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go e.run()
	return e
}

// Submit enqueues task and blocks until it has run. It returns
// ErrTaskPanicked if the task panicked.
func (e *Executor) Submit(task Task) error {
	done := make(chan error, 1)
	if !e.enqueue(job{task: task, done: done}) {
		return ErrClosed
	}
	return <-done
}

// SubmitAsync enqueues task and returns immediately.
func (e *Executor) SubmitAsync(task Task) error {
	if !e.enqueue(job{task: task}) {
		return ErrClosed
	}
	return nil
}

// Pending returns the number of queued tasks not yet started.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}

// Shutdown stops accepting new tasks, waits for every queued task to run,
// and stops the worker. It is safe to call more than once.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.signal)
	}
	e.mu.Unlock()

	<-e.stopped
}

func (e *Executor) enqueue(j job) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}
	e.jobs = append(e.jobs, j)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case e.signal <- struct{}{}:
	default:
	}
	return true
}

func (e *Executor) dequeue() (job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.jobs) == 0 {
		return job{}, false
	}
	j := e.jobs[0]
	e.jobs[0] = job{}
	if len(e.jobs) == 1 {
		e.jobs = e.jobs[:0]
	} else {
		e.jobs = e.jobs[1:]
	}
	return j, true
}

func (e *Executor) run() {
	defer close(e.stopped)

	for {
		if j, ok := e.dequeue(); ok {
			e.execute(j)
			continue
		}

		e.mu.Lock()
		drained := e.closed && len(e.jobs) == 0
		e.mu.Unlock()
		if drained {
			return
		}

		<-e.signal
	}
}

func (e *Executor) execute(j job) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("task panicked: %v", r)
			err = ErrTaskPanicked
		}
		if j.done != nil {
			j.done <- err
		}
	}()

	j.task()
}
