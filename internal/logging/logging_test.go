package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestWithContextAddsIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	log := New("test", Config{Level: "debug", Output: &buf})

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUserID(ctx, "user-1")
	log.WithContext(ctx).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if line["trace_id"] != "trace-1" || line["user_id"] != "user-1" {
		t.Fatalf("missing context fields: %v", line)
	}
	if line["component"] != "test" {
		t.Fatalf("component = %v", line["component"])
	}
}

func TestWithTraceIDGenerates(t *testing.T) {
	ctx := WithTraceID(context.Background(), "")
	if GetTraceID(ctx) == "" {
		t.Fatalf("expected generated trace id")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New("test", Config{Level: "warn", Output: &buf})

	log.WithFields(map[string]interface{}{"k": "v"}).Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level")
	}

	log.LogSecurityEvent(context.Background(), "rejected", map[string]interface{}{"method": "x"})
	if !bytes.Contains(buf.Bytes(), []byte(`"security_event":"rejected"`)) {
		t.Fatalf("security event not logged: %s", buf.String())
	}
}

func TestLogRequestLevels(t *testing.T) {
	var buf bytes.Buffer
	log := New("http", Config{Level: "warn", Output: &buf})

	log.LogRequest(context.Background(), "GET", "/healthz", 200, time.Millisecond)
	if buf.Len() != 0 {
		t.Fatalf("2xx requests should log at info")
	}

	log.LogRequest(WithRole(context.Background(), "admin"), "POST", "/api/catalog/find", 503, 2*time.Second)
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if line["level"] != "error" || line["status"] != float64(503) || line["duration_ms"] != float64(2000) {
		t.Fatalf("unexpected line: %v", line)
	}
}
