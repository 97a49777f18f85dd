package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Workers:      2,
		QueueSize:    4,
		TickInterval: 10 * time.Millisecond,
		DrainTimeout: time.Second,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestKickRunsTaskPromptly(t *testing.T) {
	var runs atomic.Int32
	s := New(testConfig())
	s.Register(Task{
		Name:     "tick",
		Interval: time.Hour, // Jitter would otherwise delay the first run.
		Timeout:  time.Second,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	s.Start()
	defer s.Stop()

	s.Kick("tick")
	waitFor(t, time.Second, func() bool { return runs.Load() >= 1 })
}

func TestDuplicateRegisterIsNoOp(t *testing.T) {
	s := New(testConfig())
	task := Task{Name: "dup", Interval: time.Hour, Timeout: time.Second, Run: func(ctx context.Context) error { return nil }}
	s.Register(task)
	s.Register(task)

	if got := s.Stats().Tasks; got != 1 {
		t.Errorf("Tasks = %d, want 1", got)
	}
}

func TestTaskPanicIsContainedAndRescheduled(t *testing.T) {
	var runs atomic.Int32
	s := New(testConfig())
	s.Register(Task{
		Name:     "explode",
		Interval: 20 * time.Millisecond,
		Timeout:  time.Second,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			panic("boom")
		},
	})
	s.Start()
	defer s.Stop()

	s.Kick("explode")
	// The panicking task keeps being rescheduled instead of killing a worker.
	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 2 })

	if got := s.Stats().RunsFailed; got < 2 {
		t.Errorf("RunsFailed = %d, want >= 2", got)
	}
}

func TestTaskTimeoutCancelsContext(t *testing.T) {
	timedOut := make(chan struct{})
	s := New(testConfig())
	s.Register(Task{
		Name:     "slow",
		Interval: time.Hour,
		Timeout:  20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			close(timedOut)
			return ctx.Err()
		},
	})
	s.Start()
	defer s.Stop()

	s.Kick("slow")
	select {
	case <-timedOut:
	case <-time.After(2 * time.Second):
		t.Fatal("task context never cancelled")
	}
}

func TestStopDrainsWithinTimeout(t *testing.T) {
	s := New(testConfig())
	s.Register(Task{
		Name:     "quick",
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		Run:      func(ctx context.Context) error { return nil },
	})
	s.Start()

	time.Sleep(50 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
}
