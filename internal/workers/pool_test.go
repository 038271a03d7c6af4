package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsTasksAndCallbacks(t *testing.T) {
	t.Parallel()

	pool := NewPool()
	defer pool.Close()
	pool.AddSpool("a", 2, 10)

	var ran atomic.Int32
	var mu sync.Mutex
	var results []error

	boom := errors.New("boom")
	for i := 0; i < 5; i++ {
		fail := i == 2
		err := pool.Submit("a", "task", func(context.Context) error {
			ran.Add(1)
			if fail {
				return boom
			}
			return nil
		}, func(err error) {
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	pool.Wait()

	if ran.Load() != 5 {
		t.Errorf("Expected 5 runs, got %d", ran.Load())
	}
	failures := 0
	for _, err := range results {
		if errors.Is(err, boom) {
			failures++
		}
	}
	if len(results) != 5 || failures != 1 {
		t.Errorf("Expected 5 callbacks with 1 failure, got %d callbacks and %d failures", len(results), failures)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	t.Parallel()

	pool := NewPool()
	defer pool.Close()
	pool.AddSpool("a", 1, 1)

	done := make(chan error, 1)
	if err := pool.Submit("a", "panicky", func(context.Context) error { panic("oops") }, func(err error) { done <- err }); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected panic to be reported as an error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for callback")
	}

	// the worker survived the panic
	ok := make(chan error, 1)
	_ = pool.Submit("a", "after", func(context.Context) error { return nil }, func(err error) { ok <- err })
	if err := <-ok; err != nil {
		t.Errorf("Expected follow-up task to succeed, got %v", err)
	}
}

func TestPoolCallbackMaySubmit(t *testing.T) {
	t.Parallel()

	pool := NewPool()
	defer pool.Close()
	pool.AddSpool("a", 1, 4)

	var chain atomic.Int32
	var step func(err error)
	step = func(err error) {
		if err != nil || chain.Add(1) >= 3 {
			return
		}
		_ = pool.SubmitFollowUp("a", "next", func(context.Context) error { return nil }, step)
	}
	if err := pool.Submit("a", "first", func(context.Context) error { return nil }, step); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	pool.Wait()

	if chain.Load() != 3 {
		t.Errorf("Expected 3 chained completions, got %d", chain.Load())
	}
}

func TestPoolFollowUpOnFullQueue(t *testing.T) {
	t.Parallel()

	pool := NewPool()
	defer pool.Close()
	pool.AddSpool("a", 1, 1)

	gate := make(chan struct{})
	var ran atomic.Int32
	fanOut := func(err error) {
		for i := 0; i < 3; i++ {
			if err := pool.SubmitFollowUp("a", "child", func(context.Context) error {
				ran.Add(1)
				return nil
			}, nil); err != nil {
				t.Errorf("SubmitFollowUp failed: %v", err)
			}
		}
	}
	_ = pool.Submit("a", "gated", func(context.Context) error {
		<-gate
		ran.Add(1)
		return nil
	}, fanOut)
	_ = pool.Submit("a", "queued", func(context.Context) error {
		ran.Add(1)
		return nil
	}, fanOut)

	done := make(chan struct{})
	go func() {
		close(gate)
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected follow-ups to be queued past the spool capacity")
	}
	if ran.Load() != 8 {
		t.Errorf("Expected 8 runs, got %d", ran.Load())
	}
}

func TestPoolCloseReleasesBlockedSubmit(t *testing.T) {
	t.Parallel()

	pool := NewPool()
	pool.AddSpool("a", 1, 1)

	started := make(chan struct{})
	_ = pool.Submit("a", "blocker", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	<-started
	_ = pool.Submit("a", "fills queue", func(context.Context) error { return nil }, nil)

	blocked := make(chan error, 1)
	go func() {
		blocked <- pool.Submit("a", "waits", func(context.Context) error { return nil }, nil)
	}()
	select {
	case err := <-blocked:
		t.Fatalf("Expected Submit to wait on a full queue, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	pool.Close()
	select {
	case err := <-blocked:
		if !errors.Is(err, ErrPoolClosed) {
			t.Errorf("Expected ErrPoolClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected Close to release the waiting Submit")
	}
}

func TestPoolUnknownSpoolAndClosed(t *testing.T) {
	t.Parallel()

	pool := NewPool()
	pool.AddSpool("a", 1, 1)

	if err := pool.Submit("missing", "x", func(context.Context) error { return nil }, nil); !errors.Is(err, ErrUnknownSpool) {
		t.Errorf("Expected ErrUnknownSpool, got %v", err)
	}

	pool.Close()
	pool.Close()
	if err := pool.Submit("a", "x", func(context.Context) error { return nil }, nil); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolCloseCancelsQueuedTasks(t *testing.T) {
	t.Parallel()

	pool := NewPool()
	pool.AddSpool("a", 1, 10)

	started := make(chan struct{})
	release := make(chan struct{})
	_ = pool.Submit("a", "blocker", func(context.Context) error {
		close(started)
		<-release
		return nil
	}, nil)
	<-started

	queued := make(chan error, 1)
	_ = pool.Submit("a", "queued", func(context.Context) error {
		t.Error("Queued task should not run after Close")
		return nil
	}, func(err error) { queued <- err })

	closed := make(chan struct{})
	go func() {
		pool.Close()
		close(closed)
	}()
	// let Close cancel the context before the blocker returns
	time.Sleep(50 * time.Millisecond)
	close(release)
	<-closed

	if err := <-queued; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled for queued task, got %v", err)
	}
}

func TestPoolSpools(t *testing.T) {
	t.Parallel()

	pool := NewPool()
	defer pool.Close()
	pool.AddSpool("b", 1, 1)
	pool.AddSpool("a", 1, 1)
	pool.AddSpool("a", 3, 3)

	spools := pool.Spools()
	if len(spools) != 2 || spools[0] != "a" || spools[1] != "b" {
		t.Errorf("Expected [a b], got %v", spools)
	}
}
