package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/natefinch/lumberjack.v2"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New("info", "json", &buf)
	logger.Debug("hidden")
	logger.Info("part uploaded", "part", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 record, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if rec["msg"] != "part uploaded" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["part"] != float64(3) {
		t.Errorf("part = %v", rec["part"])
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	New("debug", "text", &buf).Debug("flushing", "bytes", 12)
	if !strings.Contains(buf.String(), "msg=flushing") || !strings.Contains(buf.String(), "bytes=12") {
		t.Errorf("unexpected text output: %q", buf.String())
	}
}

func TestWriter(t *testing.T) {
	if w := Writer(Options{}); w != os.Stderr {
		t.Errorf("Writer without file = %T, want stderr", w)
	}

	path := filepath.Join(t.TempDir(), "s3pipe.log")
	w := Writer(Options{File: path, MaxSizeMB: 5, MaxBackups: 2, MaxAgeDays: 7})
	lj, ok := w.(*lumberjack.Logger)
	if !ok {
		t.Fatalf("Writer with file = %T, want *lumberjack.Logger", w)
	}
	defer lj.Close()
	if lj.Filename != path || lj.MaxSize != 5 || lj.MaxBackups != 2 || lj.MaxAge != 7 {
		t.Errorf("unexpected lumberjack settings: %+v", lj)
	}

	New("info", "text", lj).Info("hello")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("log file missing record: %q", data)
	}
}
