package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_IsRunning(t *testing.T) {
	log := slog.Default()
	s := NewScheduler(log)

	if s.IsRunning() {
		t.Error("New scheduler should not be running")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Error("Scheduler should be running after Start")
	}

	// Starting twice is a no-op.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s.IsRunning() {
		t.Error("Scheduler should not be running after Stop")
	}
}

func TestScheduler_ListTasks(t *testing.T) {
	log := slog.Default()
	s := NewScheduler(log)

	if tasks := s.ListTasks(); len(tasks) != 0 {
		t.Errorf("New scheduler should have 0 tasks, got %d", len(tasks))
	}

	dummyTask := func(ctx context.Context) error { return nil }
	if err := s.AddIntervalTask("task1", time.Hour, dummyTask); err != nil {
		t.Fatalf("Failed to add task: %v", err)
	}
	if err := s.AddIntervalTask("task2", time.Hour, dummyTask); err != nil {
		t.Fatalf("Failed to add task: %v", err)
	}

	tasks := s.ListTasks()
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(tasks))
	}

	hasTask1, hasTask2 := false, false
	for _, name := range tasks {
		if name == "task1" {
			hasTask1 = true
		}
		if name == "task2" {
			hasTask2 = true
		}
	}
	if !hasTask1 {
		t.Error("Expected task1 in list")
	}
	if !hasTask2 {
		t.Error("Expected task2 in list")
	}
}

func TestScheduler_RemoveTask(t *testing.T) {
	log := slog.Default()
	s := NewScheduler(log)

	dummyTask := func(ctx context.Context) error { return nil }
	if err := s.AddIntervalTask("task1", time.Hour, dummyTask); err != nil {
		t.Fatalf("Failed to add task: %v", err)
	}

	s.RemoveTask("task1")
	if tasks := s.ListTasks(); len(tasks) != 0 {
		t.Errorf("Expected 0 tasks after remove, got %d", len(tasks))
	}

	// Removing an unknown name is a no-op.
	s.RemoveTask("no-such-task")
}

func TestScheduler_AddTask_ReplaceExisting(t *testing.T) {
	log := slog.Default()
	s := NewScheduler(log)

	dummyTask := func(ctx context.Context) error { return nil }

	if err := s.AddIntervalTask("task1", time.Hour, dummyTask); err != nil {
		t.Fatalf("Failed to add task: %v", err)
	}
	if err := s.AddIntervalTask("task1", 30*time.Minute, dummyTask); err != nil {
		t.Fatalf("Failed to replace task: %v", err)
	}

	tasks := s.ListTasks()
	if len(tasks) != 1 {
		t.Fatalf("Expected 1 task after replace, got %d", len(tasks))
	}

	info := s.GetTaskInfo()
	if len(info) != 1 {
		t.Fatalf("Expected 1 task info, got %d", len(info))
	}
	if info[0].Schedule != "@every 30m0s" {
		t.Errorf("Expected replaced schedule, got %q", info[0].Schedule)
	}
}

func TestScheduler_AddCronTask_InvalidSchedule(t *testing.T) {
	log := slog.Default()
	s := NewScheduler(log)

	dummyTask := func(ctx context.Context) error { return nil }

	if err := s.AddCronTask("task1", "not a valid schedule", dummyTask); err == nil {
		t.Error("Expected error for invalid schedule, got nil")
	}

	if tasks := s.ListTasks(); len(tasks) != 0 {
		t.Errorf("Expected 0 tasks after failed add, got %d", len(tasks))
	}
}

func TestScheduler_GetTaskInfo(t *testing.T) {
	log := slog.Default()
	s := NewScheduler(log)

	if info := s.GetTaskInfo(); len(info) != 0 {
		t.Errorf("Expected no task info, got %d entries", len(info))
	}

	dummyTask := func(ctx context.Context) error { return nil }
	if err := s.AddCronTask("nightly", "0 0 2 * * *", dummyTask); err != nil {
		t.Fatalf("Failed to add task: %v", err)
	}

	info := s.GetTaskInfo()
	if len(info) != 1 {
		t.Fatalf("Expected 1 task info, got %d", len(info))
	}
	if info[0].Name != "nightly" {
		t.Errorf("Expected name nightly, got %q", info[0].Name)
	}
	if info[0].Schedule != "0 0 2 * * *" {
		t.Errorf("Expected original schedule string, got %q", info[0].Schedule)
	}
}

func TestScheduler_RunTaskSkipsOverlap(t *testing.T) {
	log := slog.Default()
	s := NewScheduler(log)

	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32

	blocker := func(ctx context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}

	go s.runTask("overlapping", blocker)
	<-started

	// A tick while the first run is in flight must be dropped.
	s.runTask("overlapping", blocker)
	if got := runs.Load(); got != 1 {
		t.Errorf("Expected 1 run, got %d", got)
	}

	close(release)
}

func TestScheduler_RunTaskRecoversPanic(t *testing.T) {
	log := slog.Default()
	s := NewScheduler(log)

	s.runTask("panicking", func(ctx context.Context) error {
		panic("boom")
	})

	// The in-flight slot must be released after a panic.
	ran := false
	s.runTask("panicking", func(ctx context.Context) error {
		ran = true
		return nil
	})
	if !ran {
		t.Error("Expected task slot to be released after a panic")
	}
}

func TestScheduler_RunTaskReportsError(t *testing.T) {
	log := slog.Default()
	s := NewScheduler(log)

	// Errors are logged, not propagated; the slot is released.
	s.runTask("failing", func(ctx context.Context) error {
		return errors.New("task error")
	})

	ran := false
	s.runTask("failing", func(ctx context.Context) error {
		ran = true
		return nil
	})
	if !ran {
		t.Error("Expected task slot to be released after an error")
	}
}

func TestScheduler_RunTaskPassesDeadline(t *testing.T) {
	log := slog.Default()
	s := NewScheduler(log)

	var hadDeadline bool
	s.runTask("deadline", func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})
	if !hadDeadline {
		t.Error("Expected task context to carry a deadline")
	}
}
