package logging

import (
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"garbage", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}
}

func TestLevelString(t *testing.T) {
	if LevelDebug.String() != "DEBUG" {
		t.Errorf("Expected 'DEBUG', got '%s'", LevelDebug.String())
	}
	if LevelError.String() != "ERROR" {
		t.Errorf("Expected 'ERROR', got '%s'", LevelError.String())
	}
}

func TestDumpBytes(t *testing.T) {
	t.Run("Printable", func(t *testing.T) {
		got := DumpBytes([]byte("FA00007074000;"), 64)
		if got != "FA00007074000;" {
			t.Errorf("Expected 'FA00007074000;', got '%s'", got)
		}
	})

	t.Run("Binary", func(t *testing.T) {
		got := DumpBytes([]byte{'U', 'S', 0x00, 0xff}, 64)
		if got != "US\\x00\\xff" {
			t.Errorf("Expected 'US\\x00\\xff', got '%s'", got)
		}
	})

	t.Run("Truncated", func(t *testing.T) {
		data := make([]byte, 100)
		for i := range data {
			data[i] = 'A'
		}
		got := DumpBytes(data, 10)
		if got != "AAAAAAAAAA...(100 bytes)" {
			t.Errorf("Expected truncated dump, got '%s'", got)
		}
	})
}

func TestTraceToggle(t *testing.T) {
	SetTraceEnabled(true)
	if !TraceEnabled() {
		t.Error("Expected tracing to be enabled")
	}
	SetTraceEnabled(false)
	if TraceEnabled() {
		t.Error("Expected tracing to be disabled")
	}
}
