package memory

import (
	"context"
	"errors"
	"runtime/debug"
	"sync/atomic"
	"testing"
	"time"
)

func newTestMonitor(t *testing.T, limit int64, alloc *atomic.Uint64) *Monitor {
	t.Helper()

	m := NewMonitor(Config{LimitBytes: limit, PauseAt: 0.8, ResumeAt: 0.5, CheckInterval: time.Hour})
	m.alloc = alloc.Load
	t.Cleanup(m.Stop)
	return m
}

func TestMonitorPausesAndResumes(t *testing.T) {
	t.Parallel()

	var alloc atomic.Uint64
	m := newTestMonitor(t, 1000, &alloc)

	steps := []struct {
		alloc  uint64
		paused bool
	}{
		{100, false},
		{850, true},
		{700, true}, // between thresholds keeps the current state
		{400, false},
		{790, false},
	}
	for i, s := range steps {
		alloc.Store(s.alloc)
		m.sample()
		if got := m.Paused(); got != s.paused {
			t.Fatalf("step %d (alloc %d): paused = %v, want %v", i, s.alloc, got, s.paused)
		}
	}

	current, limit, ratio := m.Usage()
	if current != 790 || limit != 1000 || ratio != 0.79 {
		t.Errorf("Usage() = %d, %d, %v", current, limit, ratio)
	}
}

func TestWaitBlocksWhilePaused(t *testing.T) {
	t.Parallel()

	var alloc atomic.Uint64
	m := newTestMonitor(t, 1000, &alloc)

	alloc.Store(900)
	m.sample()

	released := make(chan error, 1)
	go func() { released <- m.Wait(context.Background()) }()

	select {
	case <-released:
		t.Fatal("Wait returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	alloc.Store(100)
	m.sample()

	select {
	case err := <-released:
		if err != nil {
			t.Errorf("Wait returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait not released after memory dropped")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	t.Parallel()

	var alloc atomic.Uint64
	m := newTestMonitor(t, 1000, &alloc)
	alloc.Store(900)
	m.sample()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait err = %v, want deadline exceeded", err)
	}
}

func TestStopReleasesWaiters(t *testing.T) {
	t.Parallel()

	var alloc atomic.Uint64
	m := newTestMonitor(t, 1000, &alloc)
	alloc.Store(900)
	m.sample()

	done := make(chan struct{})
	go func() {
		_ = m.Wait(context.Background())
		close(done)
	}()
	m.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not release waiter")
	}
	if m.Paused() {
		t.Error("monitor still paused after Stop")
	}
}

func TestNilMonitor(t *testing.T) {
	var m *Monitor
	if m.Enabled() || m.Paused() {
		t.Error("nil monitor should be disabled")
	}
	if err := m.Wait(context.Background()); err != nil {
		t.Errorf("Wait on nil monitor = %v", err)
	}
	m.Stop()
}

func TestApplyLimit(t *testing.T) {
	prev := debug.SetMemoryLimit(-1)
	t.Cleanup(func() { debug.SetMemoryLimit(prev) })
	t.Setenv("GOMEMLIMIT", "")

	res := ApplyLimit(0, 0.5)
	if res.Source != "none" || res.Configured() {
		t.Errorf("ApplyLimit(0) = %+v, want none", res)
	}

	res = ApplyLimit(1<<30, 0.5)
	if res.Source != "MEMORY_LIMIT" || res.GoMemLimit != 1<<29 {
		t.Errorf("ApplyLimit(1GiB, 0.5) = %+v", res)
	}
	if got := debug.SetMemoryLimit(-1); got != 1<<29 {
		t.Errorf("runtime limit = %d, want %d", got, 1<<29)
	}

	res = ApplyLimit(1000, 2)
	if res.Ratio != DefaultRatio {
		t.Errorf("out-of-range ratio not replaced: %+v", res)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1 << 30, "1.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
