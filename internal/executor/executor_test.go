package executor

import (
	"errors"
	"io"
	"log"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quietExecutor(t *testing.T) *Executor {
	t.Helper()
	e := New(log.New(io.Discard, "", 0))
	t.Cleanup(e.Shutdown)
	return e
}

func TestExecutor_RunsInSubmissionOrder(t *testing.T) {
	e := quietExecutor(t)

	var mu sync.Mutex
	var order []int

	for i := 0; i < 50; i++ {
		i := i
		if err := e.SubmitAsync(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("SubmitAsync() failed: %v", err)
		}
	}
	// A blocking submission completes after everything queued before it.
	if err := e.Submit(func() {}); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 50 {
		t.Fatalf("ran %d tasks, want 50", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("task %d ran at position %d", got, i)
		}
	}
}

func TestExecutor_NeverRunsTasksConcurrently(t *testing.T) {
	e := quietExecutor(t)

	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Submit(func() {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
			})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Errorf("max concurrent tasks = %d, want 1", got)
	}
}

func TestExecutor_SubmitBlocksUntilDone(t *testing.T) {
	e := quietExecutor(t)

	ran := false
	if err := e.Submit(func() {
		time.Sleep(5 * time.Millisecond)
		ran = true
	}); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if !ran {
		t.Error("Submit() returned before the task ran")
	}
}

func TestExecutor_SubmitAsyncDoesNotBlock(t *testing.T) {
	e := quietExecutor(t)

	release := make(chan struct{})
	started := make(chan struct{})
	_ = e.SubmitAsync(func() {
		close(started)
		<-release
	})
	<-started

	returned := make(chan struct{})
	go func() {
		_ = e.SubmitAsync(func() {})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("SubmitAsync() blocked behind a running task")
	}
	if got := e.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
	close(release)
}

func TestExecutor_PanicIsRecovered(t *testing.T) {
	e := quietExecutor(t)

	err := e.Submit(func() { panic("boom") })
	if !errors.Is(err, ErrTaskPanicked) {
		t.Errorf("Submit() error = %v, want ErrTaskPanicked", err)
	}

	// The worker survives.
	ran := false
	if err := e.Submit(func() { ran = true }); err != nil {
		t.Fatalf("Submit() after panic failed: %v", err)
	}
	if !ran {
		t.Error("task after panic did not run")
	}
}

func TestExecutor_ShutdownDrainsQueue(t *testing.T) {
	e := New(log.New(io.Discard, "", 0))

	var mu sync.Mutex
	var order []int
	release := make(chan struct{})

	_ = e.SubmitAsync(func() { <-release })
	for i := 0; i < 3; i++ {
		i := i
		_ = e.SubmitAsync(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	stopped := make(chan struct{})
	go func() {
		e.Shutdown()
		close(stopped)
	}()

	// Shutdown waits for the blocked task.
	select {
	case <-stopped:
		t.Fatal("Shutdown() returned while tasks were still queued")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-stopped

	mu.Lock()
	defer mu.Unlock()
	if want := []int{0, 1, 2}; !reflect.DeepEqual(order, want) {
		t.Errorf("drained tasks = %v, want %v", order, want)
	}
}

func TestExecutor_ClosedRejectsSubmissions(t *testing.T) {
	e := New(log.New(io.Discard, "", 0))
	e.Shutdown()
	e.Shutdown() // idempotent

	if err := e.Submit(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() error = %v, want ErrClosed", err)
	}
	if err := e.SubmitAsync(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("SubmitAsync() error = %v, want ErrClosed", err)
	}
}
