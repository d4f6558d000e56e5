package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobRunsOnInterval(t *testing.T) {
	s := New(2)
	var runs atomic.Int32
	err := s.Add(Job{
		ID:       "tick",
		Interval: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Start()
	defer s.Shutdown(time.Second)

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("job ran %d times, want >= 2", runs.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	s := New(1)
	job := Job{ID: "x", Interval: time.Hour, Run: func(ctx context.Context) error { return nil }}
	if err := s.Add(job); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := s.Add(job); err == nil {
		t.Error("duplicate id must be rejected")
	}
}

func TestOverlappingTickDropped(t *testing.T) {
	s := New(2)
	var runs atomic.Int32
	release := make(chan struct{})
	s.Add(Job{
		ID:       "slow",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	})
	s.Start()
	defer s.Shutdown(time.Second)

	// Let several ticks elapse while the first run blocks.
	time.Sleep(100 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("overlapping ticks were not dropped: %d runs", got)
	}
	close(release)
}

func TestGateSkipsTicks(t *testing.T) {
	s := New(1)
	var gateOpen atomic.Bool
	var runs atomic.Int32
	s.Add(Job{
		ID:       "gated",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
		Gate: gateOpen.Load,
	})
	s.Start()
	defer s.Shutdown(time.Second)

	time.Sleep(60 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatalf("closed gate did not skip ticks: %d runs", runs.Load())
	}

	gateOpen.Store(true)
	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("open gate did not resume the job")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTriggerRunsImmediately(t *testing.T) {
	s := New(1)
	ran := make(chan struct{}, 1)
	s.Add(Job{
		ID: "manual",
		Run: func(ctx context.Context) error {
			ran <- struct{}{}
			return nil
		},
	})
	s.Start()
	defer s.Shutdown(time.Second)

	if err := s.Trigger("manual"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered job never ran")
	}

	if err := s.Trigger("missing"); err == nil {
		t.Error("unknown job id must error")
	}
}

func TestOnceRemovesItself(t *testing.T) {
	s := New(1)
	s.Start()
	defer s.Shutdown(time.Second)

	ran := make(chan struct{})
	id := s.Once("import", func(ctx context.Context) error {
		close(ran)
		return nil
	})
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot never ran")
	}

	// The job disappears from the table once finished.
	deadline := time.After(2 * time.Second)
	for {
		found := false
		for _, js := range s.Status() {
			if js.ID == id {
				found = true
			}
		}
		if !found {
			return
		}
		select {
		case <-deadline:
			t.Fatal("one-shot still registered")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPanicIsContained(t *testing.T) {
	s := New(1)
	var after atomic.Bool
	s.Add(Job{ID: "boom", Run: func(ctx context.Context) error { panic("kaboom") }})
	s.Add(Job{ID: "ok", Run: func(ctx context.Context) error { after.Store(true); return nil }})
	s.Start()
	defer s.Shutdown(time.Second)

	s.Trigger("boom")
	time.Sleep(50 * time.Millisecond)
	s.Trigger("ok")

	deadline := time.After(2 * time.Second)
	for !after.Load() {
		select {
		case <-deadline:
			t.Fatal("scheduler died after a job panic")
		case <-time.After(10 * time.Millisecond):
		}
	}

	for _, js := range s.Status() {
		if js.ID == "boom" && js.LastErr == "" {
			t.Error("panic not recorded in status")
		}
	}
}

func TestStatusReportsErrors(t *testing.T) {
	s := New(1)
	s.Add(Job{ID: "failing", Run: func(ctx context.Context) error { return errors.New("nope") }})
	s.Start()
	defer s.Shutdown(time.Second)

	s.Trigger("failing")
	deadline := time.After(2 * time.Second)
	for {
		for _, js := range s.Status() {
			if js.ID == "failing" && js.LastErr == "nope" {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatal("error never surfaced in status")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
