package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSessionID(t *testing.T) {
	ctx := context.Background()
	if got := GetSessionID(ctx); got != "" {
		t.Fatalf("GetSessionID() = %q, want empty", got)
	}

	ctx = WithSessionID(ctx, "abc-123")
	if got := GetSessionID(ctx); got != "abc-123" {
		t.Fatalf("GetSessionID() = %q, want %q", got, "abc-123")
	}
}

func TestFrom_AddsSessionID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	From(WithSessionID(context.Background(), "s-1"), base).Info("opened")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if rec["session_id"] != "s-1" {
		t.Errorf("session_id = %v, want s-1", rec["session_id"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetup(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger, err := Setup(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	logger.Info("hidden")
	slog.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("default logger not installed: %q", out)
	}

	if _, err := Setup(&buf, "info", "xml"); err == nil {
		t.Error("Setup accepted unknown format")
	}
}
