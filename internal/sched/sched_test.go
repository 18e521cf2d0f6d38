package sched

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterInvalidSchedule(t *testing.T) {
	s := NewService()
	err := s.Register(Job{Name: "bad", Schedule: "not a cron expr", Run: func(ctx context.Context) error { return nil }})
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	s := NewService()
	job := Job{Name: "sweep", Schedule: "0 0 4 * * *", Run: func(ctx context.Context) error { return nil }}
	if err := s.Register(job); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(job); err == nil {
		t.Fatal("expected error for duplicate name")
	}
}

func TestRunNow(t *testing.T) {
	s := NewService()
	runs := 0
	err := s.Register(Job{Name: "drain", Schedule: "0 */5 * * * *", Run: func(ctx context.Context) error {
		runs++
		return nil
	}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.RunNow(context.Background(), "drain"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}

	sts := s.Status()
	if len(sts) != 1 || sts[0].LastStatus != "ok" || sts[0].LastRunAt.IsZero() {
		t.Fatalf("status = %+v", sts)
	}
}

func TestRunNowUnknown(t *testing.T) {
	s := NewService()
	if err := s.RunNow(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestFailureRecorded(t *testing.T) {
	s := NewService()
	boom := errors.New("boom")
	err := s.Register(Job{Name: "sweep", Schedule: "0 0 4 * * *", Run: func(ctx context.Context) error {
		return boom
	}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.RunNow(context.Background(), "sweep"); !errors.Is(err, boom) {
		t.Fatalf("RunNow error = %v, want boom", err)
	}
	sts := s.Status()
	if sts[0].LastStatus != "error" || sts[0].LastError != "boom" {
		t.Fatalf("status = %+v", sts[0])
	}
}
