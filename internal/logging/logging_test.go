package logging

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"trace", LevelTrace},
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLogLevelOrdering(t *testing.T) {
	levels := []LogLevel{LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError}
	for i := 0; i < len(levels)-1; i++ {
		if levels[i] >= levels[i+1] {
			t.Errorf("Log levels should be in ascending order: %v >= %v", levels[i], levels[i+1])
		}
	}
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelTrace, "trace"},
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{LogLevel(99), "unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := tt.level.String()
			if got != tt.expected {
				t.Errorf("LogLevel.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

// captureLog redirects the standard logger for the duration of fn.
func captureLog(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)
	fn()
	return buf.String()
}

func TestSetLevelFilters(t *testing.T) {
	prev := GetLevel()
	defer SetLevel(prev)

	SetLevel(LevelWarn)
	out := captureLog(t, func() {
		Debug("hidden debug")
		Info("hidden info")
		Warn("visible warn")
		Error("visible error")
	})

	if strings.Contains(out, "hidden") {
		t.Errorf("Expected debug and info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "[WARN] visible warn") {
		t.Errorf("Expected warn line, got %q", out)
	}
	if !strings.Contains(out, "[ERROR] visible error") {
		t.Errorf("Expected error line, got %q", out)
	}
}

func TestTraceRequiresTraceLevel(t *testing.T) {
	prev := GetLevel()
	defer SetLevel(prev)

	SetLevel(LevelDebug)
	if IsTraceEnabled() {
		t.Error("Trace should be disabled at debug level")
	}
	out := captureLog(t, func() { Trace("item %d", 1) })
	if out != "" {
		t.Errorf("Expected no trace output, got %q", out)
	}

	SetLevel(LevelTrace)
	out = captureLog(t, func() { Trace("item %d", 2) })
	if !strings.Contains(out, "[TRACE] item 2") {
		t.Errorf("Expected trace output, got %q", out)
	}
}

func TestCronLogger(t *testing.T) {
	prev := GetLevel()
	defer SetLevel(prev)
	SetLevel(LevelDebug)

	l := CronLogger()
	out := captureLog(t, func() {
		l.Info("schedule", "entry", 3, "next")
		l.Error(errors.New("boom"), "panic", "job", "scan")
	})

	if !strings.Contains(out, "cron: schedule entry=3 next") {
		t.Errorf("Expected formatted info line, got %q", out)
	}
	if !strings.Contains(out, "cron: panic: boom job=scan") {
		t.Errorf("Expected formatted error line, got %q", out)
	}
}
