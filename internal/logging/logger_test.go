// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Output is not valid JSON: %v (%q)", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

// TestInit verifies the global logger is replaced.
func TestInit(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelDebug)

	Info("hello", Fields{"k": "v"})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d lines, want 1", len(entries))
	}
	if entries[0].Message != "hello" || entries[0].Context["k"] != "v" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

// TestParseLevel verifies config string parsing.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{" INFO ", LevelInfo, false},
		{"Warn", LevelWarn, false},
		{"error", LevelError, false},
		{"trace", "", true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestLogger_filtering verifies messages below the minimum level are dropped.
func TestLogger_filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error", io.EOF)

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d lines, want 2", len(entries))
	}
	if entries[0].Level != "WARN" || entries[1].Level != "ERROR" {
		t.Errorf("levels = %s,%s", entries[0].Level, entries[1].Level)
	}
	if entries[1].Error != io.EOF.Error() {
		t.Errorf("Error = %q", entries[1].Error)
	}
}

// TestLogger_ErrorWithCode verifies error logging with code.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.ErrorWithCode("drop", "RETRY_EXHAUSTED", io.ErrUnexpectedEOF, Fields{"item_id": "a"})

	entries := decodeLines(t, &buf)
	if entries[0].Context["error_code"] != "RETRY_EXHAUSTED" {
		t.Errorf("error_code = %v", entries[0].Context["error_code"])
	}
	if entries[0].Context["item_id"] != "a" {
		t.Errorf("item_id = %v", entries[0].Context["item_id"])
	}
}

// TestLogger_With verifies component tagging.
func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo).With("outbox")

	logger.Info("enqueued")

	entries := decodeLines(t, &buf)
	if entries[0].Component != "outbox" {
		t.Errorf("Component = %q, want outbox", entries[0].Component)
	}
}

// TestLogger_getContext_multiple verifies context maps are merged.
func TestLogger_getContext_multiple(t *testing.T) {
	merged := mergeContext(Fields{"a": 1}, Fields{"b": 2})
	if len(merged) != 2 || merged["a"] != 1 || merged["b"] != 2 {
		t.Errorf("mergeContext() = %v", merged)
	}
	if mergeContext() != nil {
		t.Error("mergeContext() with no args should be nil")
	}
}

// TestLogger_concurrentLogging verifies lines are not interleaved.
func TestLogger_concurrentLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.Info("line", Fields{"i": i})
		}(i)
	}
	wg.Wait()

	if got := len(decodeLines(t, &buf)); got != 20 {
		t.Errorf("got %d lines, want 20", got)
	}
}
