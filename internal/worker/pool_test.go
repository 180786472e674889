package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := New(4)
	defer p.Shutdown()

	var n int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&n, 1)
		})
	}
	wg.Wait()

	if got := atomic.LoadInt64(&n); got != 100 {
		t.Fatalf("expected 100 tasks to run, got %d", got)
	}
}

func TestPoolCallerRunsAfterShutdown(t *testing.T) {
	p := New(2)
	p.Shutdown()

	ran := false
	p.Submit(func() { ran = true })

	if !ran {
		t.Fatal("expected task submitted after shutdown to run inline")
	}
}

func TestPoolShutdownWaitsForDrain(t *testing.T) {
	p := New(1)

	started := make(chan struct{})
	release := make(chan struct{})
	p.Submit(func() {
		close(started)
		<-release
	})
	<-started

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Shutdown returned before the running task completed")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
}

func TestPoolPending(t *testing.T) {
	p := New(1)
	defer p.Shutdown()

	block := make(chan struct{})
	p.Submit(func() { <-block })

	for i := 0; i < 3; i++ {
		p.Submit(func() {})
	}

	deadline := time.Now().Add(time.Second)
	for p.Pending() != 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := p.Pending(); got != 3 {
		t.Fatalf("expected 3 pending tasks, got %d", got)
	}
	close(block)
}
