package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
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

func TestComponentUsesLaterInit(t *testing.T) {
	// Component loggers are created at package init, before Init runs.
	log := Component("storage")

	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, false)

	log.Info("store opened", "root", "logs")

	out := buf.String()
	if !strings.Contains(out, "component=storage") {
		t.Errorf("missing component attribute: %q", out)
	}
	if !strings.Contains(out, "root=logs") {
		t.Errorf("missing root attribute: %q", out)
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelDebug, true)

	ctx := ContextWithTarget(context.Background(), "8.8.8.8")
	ctx = ContextWithNetwork(ctx, "HomeWiFi")
	ctx = ContextWithRequestID(ctx, "req-1")

	WithContext(ctx).Warn("append failed")

	out := buf.String()
	for _, want := range []string{`"target":"8.8.8.8"`, `"network":"HomeWiFi"`, `"request_id":"req-1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %s", out, want)
		}
	}

	if got := RequestID(ctx); got != "req-1" {
		t.Errorf("RequestID = %q, want req-1", got)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelWarn, false)

	Component("prober").Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info record written at warn level: %q", buf.String())
	}
}
