package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeReporter struct {
	mu       sync.Mutex
	failures []error
	fields   []map[string]any
}

func (r *fakeReporter) ReportFailure(_ context.Context, _ string, fields map[string]any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
	r.fields = append(r.fields, fields)
}

func (r *fakeReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestScheduleRunsImmediatelyAndRepeats(t *testing.T) {
	s := New(nil, zerolog.Nop())
	defer s.Stop()

	var ticks atomic.Int32
	replaced, err := s.Schedule("chat", 10*time.Millisecond, func(context.Context) error {
		ticks.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if replaced {
		t.Error("first schedule should not report replacement")
	}

	waitFor(t, func() bool { return ticks.Load() >= 3 })
}

func TestScheduleReplacesExisting(t *testing.T) {
	s := New(nil, zerolog.Nop())
	defer s.Stop()

	var oldTicks, newTicks atomic.Int32
	if _, err := s.Schedule("chat", 10*time.Millisecond, func(context.Context) error {
		oldTicks.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, func() bool { return oldTicks.Load() >= 1 })

	replaced, err := s.Schedule("chat", 10*time.Millisecond, func(context.Context) error {
		newTicks.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !replaced {
		t.Error("second schedule should report replacement")
	}

	waitFor(t, func() bool { return newTicks.Load() >= 2 })

	frozen := oldTicks.Load()
	time.Sleep(50 * time.Millisecond)
	if got := oldTicks.Load(); got != frozen {
		t.Errorf("replaced job kept ticking: %d -> %d", frozen, got)
	}

	if active := s.Active(); len(active) != 1 || active[0].Key != "chat" {
		t.Errorf("expected exactly one active job, got %+v", active)
	}
}

func TestReplaceNeverOverlapsTicks(t *testing.T) {
	s := New(nil, zerolog.Nop())
	defer s.Stop()

	var (
		running  atomic.Int32
		overlaps atomic.Int32
		ticks    atomic.Int32
	)
	job := func(context.Context) error {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		ticks.Add(1)
		return nil
	}

	for i := 0; i < 5; i++ {
		if _, err := s.Schedule("chat", 5*time.Millisecond, job); err != nil {
			t.Fatalf("schedule: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, func() bool { return ticks.Load() >= 3 })
	if overlaps.Load() != 0 {
		t.Errorf("ticks of one key overlapped %d times", overlaps.Load())
	}
}

func TestCancelThenScheduleNeverOverlaps(t *testing.T) {
	s := New(nil, zerolog.Nop())
	defer s.Stop()

	var (
		running  atomic.Int32
		maxSeen  atomic.Int32
		finished atomic.Int32
	)
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	job := func(context.Context) error {
		n := running.Add(1)
		for {
			prev := maxSeen.Load()
			if n <= prev || maxSeen.CompareAndSwap(prev, n) {
				break
			}
		}
		started <- struct{}{}
		<-release
		running.Add(-1)
		finished.Add(1)
		return nil
	}

	if _, err := s.Schedule("chat", time.Hour, job); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	<-started

	if !s.Cancel("chat") {
		t.Fatal("cancel returned false")
	}
	replaced, err := s.Schedule("chat", time.Hour, job)
	if err != nil {
		t.Fatalf("schedule after cancel: %v", err)
	}
	if replaced {
		t.Error("schedule after cancel reported replacement")
	}

	select {
	case <-started:
		t.Fatal("new tick started while the cancelled one was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	waitFor(t, func() bool { return finished.Load() == 2 })

	if got := maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent ticks for key chat = %d, want 1", got)
	}
}

func TestTicksKeepFixedRate(t *testing.T) {
	s := New(nil, zerolog.Nop())
	defer s.Stop()

	const interval = 100 * time.Millisecond

	var (
		mu     sync.Mutex
		starts []time.Time
	)
	job := func(context.Context) error {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(80 * time.Millisecond)
		return nil
	}

	if _, err := s.Schedule("chat", interval, job); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(starts) >= 4
	})

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < 4; i++ {
		gap := starts[i].Sub(starts[i-1])
		if gap > interval+50*time.Millisecond {
			t.Errorf("gap %d: %s, want about %s", i, gap, interval)
		}
	}
}

func TestCancel(t *testing.T) {
	s := New(nil, zerolog.Nop())
	defer s.Stop()

	var ticks atomic.Int32
	if _, err := s.Schedule("chat", 10*time.Millisecond, func(context.Context) error {
		ticks.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, func() bool { return ticks.Load() >= 1 })

	if !s.Cancel("chat") {
		t.Fatal("cancel should report removal")
	}
	if s.Cancel("chat") {
		t.Error("second cancel should be a no-op")
	}

	time.Sleep(20 * time.Millisecond)
	frozen := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	if got := ticks.Load(); got != frozen {
		t.Errorf("cancelled job kept ticking: %d -> %d", frozen, got)
	}
	if len(s.Active()) != 0 {
		t.Error("expected no active jobs")
	}
}

func TestFailingTickKeepsSchedule(t *testing.T) {
	reporter := &fakeReporter{}
	s := New(reporter, zerolog.Nop())
	defer s.Stop()

	var ticks atomic.Int32
	if _, err := s.Schedule("chat", 10*time.Millisecond, func(context.Context) error {
		n := ticks.Add(1)
		if n == 1 {
			return errors.New("fetch failed")
		}
		if n == 2 {
			panic("extractor exploded")
		}
		return nil
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	waitFor(t, func() bool { return ticks.Load() >= 4 })

	if got := reporter.count(); got != 2 {
		t.Fatalf("expected 2 reported failures, got %d", got)
	}

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	if reporter.fields[0]["key"] != "chat" {
		t.Errorf("expected key in fields, got %v", reporter.fields[0])
	}
	if _, ok := reporter.fields[1]["stack"]; !ok {
		t.Error("expected stack for recovered panic")
	}

	info := s.Active()[0]
	if info.Failures != 2 || info.Runs < 3 {
		t.Errorf("unexpected job info: %+v", info)
	}
}

func TestScheduleValidation(t *testing.T) {
	s := New(nil, zerolog.Nop())

	if _, err := s.Schedule("chat", 0, func(context.Context) error { return nil }); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("expected ErrInvalidInterval, got %v", err)
	}
	if _, err := s.ScheduleSpec("chat", "not a cron", func(context.Context) error { return nil }); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("expected ErrInvalidSpec, got %v", err)
	}
	if _, err := s.ScheduleSpec("auto", "@every 1h", func(context.Context) error { return nil }); err != nil {
		t.Errorf("descriptor should parse: %v", err)
	}

	s.Stop()

	if _, err := s.Schedule("chat", time.Minute, func(context.Context) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestStopInterruptsRunningTick(t *testing.T) {
	s := New(nil, zerolog.Nop())

	started := make(chan struct{})
	if _, err := s.Schedule("chat", time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	<-started

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
}
