package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/evanramirez88/restaurant-consulting-site/automation/internal/correlation"
)

func TestContextHandler_StampsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelInfo).With(slog.String("component", "api"))

	ctx := correlation.WithID(context.Background(), "corr-123")
	log.InfoContext(ctx, "job created")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log: %v", err)
	}
	if rec["correlation_id"] != "corr-123" {
		t.Errorf("correlation_id = %v", rec["correlation_id"])
	}
	if rec["component"] != "api" {
		t.Errorf("component = %v", rec["component"])
	}
}

func TestContextHandler_NoIDNoAttr(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, slog.LevelInfo).Info("boot")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if _, ok := rec["correlation_id"]; ok {
		t.Error("unexpected correlation_id")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{" warn ", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"loud", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok || (tt.ok && got != tt.want) {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}
