package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return out
}

func TestNewLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOptions(ComponentGateway, Options{Level: slog.LevelDebug, Output: &buf})

	logger.RequestRetried("GET", "/api/system/stats", 2, errors.New("boom"))

	line := decodeLine(t, &buf)
	if line["component"] != ComponentGateway {
		t.Fatalf("component=%v", line["component"])
	}
	if line["msg"] != "request retried" {
		t.Fatalf("msg=%v", line["msg"])
	}
	if line["attempt"] != float64(2) {
		t.Fatalf("attempt=%v", line["attempt"])
	}
	if line["error"] != "boom" {
		t.Fatalf("error=%v", line["error"])
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOptions(ComponentEventStream, Options{Level: slog.LevelInfo, Output: &buf})

	logger.FrameDropped("/api/system/events", 3, errors.New("bad json"))
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %q", buf.String())
	}

	logger.StreamReconnecting("/api/system/events", 2*time.Second, errors.New("eof"))
	if buf.Len() == 0 {
		t.Fatal("warn line should be written at info level")
	}
}

func TestWithContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOptions(ComponentGateway, Options{Level: slog.LevelInfo, Output: &buf})

	ctx := ContextWithRequestID(context.Background(), "req-1")
	logger.WithContext(ctx).Info("hello")

	line := decodeLine(t, &buf)
	if line["request_id"] != "req-1" {
		t.Fatalf("request_id=%v", line["request_id"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := NewLogger(ComponentHub, slog.LevelInfo)
	if OrNop(l) != l {
		t.Fatal("OrNop should return the given logger")
	}
}
