package memory

import (
	"context"
	"testing"
	"time"
)

func newTestMonitor(limit int64, alloc *uint64) *Monitor {
	m := NewMonitor(Config{
		LimitBytes:        limit,
		HighWaterMark:     0.5,
		CriticalWaterMark: 0.8,
	})
	m.readAlloc = func() uint64 { return *alloc }
	return m
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.HighWaterMark != 0.7 {
		t.Errorf("Expected HighWaterMark 0.7, got %f", cfg.HighWaterMark)
	}
	if cfg.CriticalWaterMark != 0.85 {
		t.Errorf("Expected CriticalWaterMark 0.85, got %f", cfg.CriticalWaterMark)
	}
	if cfg.CheckInterval != 5*time.Second {
		t.Errorf("Expected CheckInterval 5s, got %v", cfg.CheckInterval)
	}
}

func TestMonitorPauseAndResume(t *testing.T) {
	alloc := uint64(100)
	m := newTestMonitor(1000, &alloc)
	defer m.Stop()

	m.check()
	if m.Paused() {
		t.Fatal("Expected monitor to be running at 10% usage")
	}
	if got := m.Usage(); got != 0.1 {
		t.Errorf("Expected usage 0.1, got %f", got)
	}

	alloc = 900
	m.check()
	if !m.Paused() {
		t.Fatal("Expected monitor to pause at 90% usage")
	}

	released := make(chan bool, 1)
	go func() { released <- m.Wait(context.Background()) }()

	select {
	case <-released:
		t.Fatal("Expected Wait to block while paused")
	case <-time.After(50 * time.Millisecond):
	}

	// Between the marks the pause holds.
	alloc = 600
	m.check()
	if !m.Paused() {
		t.Error("Expected pause to hold between the water marks")
	}

	alloc = 400
	m.check()
	select {
	case ok := <-released:
		if !ok {
			t.Error("Expected Wait to report resumption")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected Wait to return after recovery")
	}
	if m.Paused() {
		t.Error("Expected monitor to resume below the high water mark")
	}
}

func TestMonitorWaitCancelled(t *testing.T) {
	alloc := uint64(950)
	m := newTestMonitor(1000, &alloc)
	defer m.Stop()
	m.check()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if m.Wait(ctx) {
		t.Error("Expected Wait to fail on a cancelled context")
	}
}

func TestMonitorWaitStopped(t *testing.T) {
	alloc := uint64(950)
	m := newTestMonitor(1000, &alloc)
	m.check()
	m.Stop()
	m.Stop()

	if m.Wait(context.Background()) {
		t.Error("Expected Wait to fail on a stopped monitor")
	}
}

func TestMonitorWithoutLimit(t *testing.T) {
	alloc := uint64(1 << 40)
	m := &Monitor{config: DefaultConfig(), readAlloc: func() uint64 { return alloc }, resume: make(chan struct{}), stop: make(chan struct{})}
	m.check()
	if m.Paused() {
		t.Error("Expected monitor without limit to never pause")
	}
	if m.Usage() != 0 {
		t.Errorf("Expected zero usage without limit, got %f", m.Usage())
	}
	if !m.Wait(context.Background()) {
		t.Error("Expected Wait to pass without limit")
	}
}

func TestConfigure(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		current    int64
		configured bool
		source     string
		limit      int64
	}{
		{"nothing set", nil, 0, false, "none", 0},
		{"GOMEMLIMIT wins", map[string]string{"GOMEMLIMIT": "1GiB", "MEMORY_LIMIT": "100"}, 1 << 30, true, "GOMEMLIMIT", 1 << 30},
		{"default ratio", map[string]string{"MEMORY_LIMIT": "1000"}, 0, true, "MEMORY_LIMIT", 850},
		{"custom ratio", map[string]string{"MEMORY_LIMIT": "1000", "MEMORY_RATIO": "0.5"}, 0, true, "MEMORY_LIMIT", 500},
		{"ratio out of range", map[string]string{"MEMORY_LIMIT": "1000", "MEMORY_RATIO": "1.5"}, 0, true, "MEMORY_LIMIT", 850},
		{"ratio not a number", map[string]string{"MEMORY_LIMIT": "1000", "MEMORY_RATIO": "half"}, 0, true, "MEMORY_LIMIT", 850},
		{"invalid limit", map[string]string{"MEMORY_LIMIT": "lots"}, 0, false, "none", 0},
		{"negative limit", map[string]string{"MEMORY_LIMIT": "-5"}, 0, false, "none", 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var set int64
			getenv := func(k string) string { return tt.env[k] }
			setLimit := func(v int64) int64 {
				if v < 0 {
					return tt.current
				}
				set = v
				return tt.current
			}

			result := configure(getenv, setLimit)
			if result.Configured != tt.configured {
				t.Errorf("Expected Configured=%v, got %v", tt.configured, result.Configured)
			}
			if result.Source != tt.source {
				t.Errorf("Expected source %q, got %q", tt.source, result.Source)
			}
			if result.GoMemLimit != tt.limit {
				t.Errorf("Expected limit %d, got %d", tt.limit, result.GoMemLimit)
			}
			if tt.source == "MEMORY_LIMIT" && set != tt.limit {
				t.Errorf("Expected SetMemoryLimit(%d), got %d", tt.limit, set)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in       int64
		expected string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{3 << 20, "3.0 MiB"},
		{1536 << 20, "1.5 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.expected {
			t.Errorf("formatBytes(%d): Expected %q, got %q", tt.in, tt.expected, got)
		}
	}
}
