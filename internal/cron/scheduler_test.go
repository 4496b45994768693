package cron

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type simpleJob struct {
	name     string
	schedule string
	runFunc  func(ctx context.Context) error
	calls    atomic.Int32
}

func (j *simpleJob) Name() string     { return j.name }
func (j *simpleJob) Schedule() string { return j.schedule }
func (j *simpleJob) Run(ctx context.Context) error {
	j.calls.Add(1)
	if j.runFunc != nil {
		return j.runFunc(ctx)
	}
	return nil
}

func newTestScheduler() *Scheduler {
	return NewScheduler(slog.New(slog.DiscardHandler))
}

func TestScheduler_RegisterJob_DuplicateName(t *testing.T) {
	t.Parallel()

	s := newTestScheduler()
	if err := s.RegisterJob(&simpleJob{name: "reaper", schedule: "* * * * *"}); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := s.RegisterJob(&simpleJob{name: "reaper", schedule: "* * * * *"}); err == nil {
		t.Fatal("duplicate registration should fail")
	}
	if got := s.Jobs(); len(got) != 1 || got[0] != "reaper" {
		t.Errorf("Jobs = %v", got)
	}
}

func TestScheduler_Start_InvalidSchedule(t *testing.T) {
	t.Parallel()

	s := newTestScheduler()
	_ = s.RegisterJob(&simpleJob{name: "bad", schedule: "invalid"})
	if err := s.Start(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()

	s := newTestScheduler()
	_ = s.RegisterJob(&simpleJob{name: "noop", schedule: "* * * * *"})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	t.Parallel()

	s := newTestScheduler()
	boom := errors.New("boom")
	ok := &simpleJob{name: "ok", schedule: "* * * * *"}
	failing := &simpleJob{name: "failing", schedule: "* * * * *", runFunc: func(context.Context) error { return boom }}
	_ = s.RegisterJob(ok)
	_ = s.RegisterJob(failing)

	if err := s.RunNow(context.Background(), "ok"); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow(context.Background(), "failing"); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("err = %v", err)
	}
	if ok.calls.Load() != 1 || failing.calls.Load() != 1 {
		t.Errorf("calls = %d/%d", ok.calls.Load(), failing.calls.Load())
	}
}

func TestScheduler_NoOverlap(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	s := newTestScheduler()
	_ = s.RegisterJob(&simpleJob{name: "slow", schedule: "* * * * *", runFunc: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-started

	if err := s.RunNow(context.Background(), "slow"); !errors.Is(err, ErrJobRunning) {
		t.Fatalf("overlapping run = %v, want ErrJobRunning", err)
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first run did not finish")
	}
}

func TestScheduler_StopCancelsJobContext(t *testing.T) {
	t.Parallel()

	s := newTestScheduler()
	_ = s.RegisterJob(&simpleJob{name: "x", schedule: "* * * * *"})
	_ = s.Stop(context.Background())
	if s.ctx.Err() == nil {
		t.Error("job context should be cancelled after Stop")
	}
}

func TestScheduler_NilLogger(t *testing.T) {
	t.Parallel()

	if s := NewScheduler(nil); s.logger == nil {
		t.Fatal("logger should default to slog.Default()")
	}
}
