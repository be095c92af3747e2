package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{" warn ", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"verbose", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNew_StdoutOnly(t *testing.T) {
	logger, closer, err := New(Options{Level: "warn"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()

	if logger.GetLevel() != zerolog.WarnLevel {
		t.Errorf("expected warn level, got %v", logger.GetLevel())
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestNew_WritesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "restrack.log")

	logger, closer, err := New(Options{Level: "info", File: path, MaxAgeDays: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info().Str("component", "test").Msg("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	matches, err := filepath.Glob(path + ".[0-9]*")
	var segment string
	for _, m := range matches {
		if !strings.HasSuffix(m, "_lock") {
			segment = m
		}
	}
	if err != nil || segment == "" {
		t.Fatalf("expected a rotated segment next to %s, got %v (%v)", path, matches, err)
	}
	data, err := os.ReadFile(segment)
	if err != nil {
		t.Fatalf("read log segment: %v", err)
	}
	if !strings.Contains(string(data), `"message":"hello"`) {
		t.Errorf("expected log line in file, got %s", data)
	}
}
