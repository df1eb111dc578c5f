package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewRespectsLevel(t *testing.T) {
	var buffer bytes.Buffer
	logger := New(Config{Level: "warn", Writer: &buffer})

	logger.Info("should be filtered")
	logger.Warn("should appear")

	output := buffer.String()
	if strings.Contains(output, "should be filtered") {
		t.Fatalf("info line leaked through warn level:\n%s", output)
	}
	if !strings.Contains(output, "should appear") {
		t.Fatalf("warn line missing:\n%s", output)
	}
}

func TestNewEmitsJSONByDefault(t *testing.T) {
	var buffer bytes.Buffer
	logger := New(Config{Writer: &buffer})
	logger.Info("hello", "component", "test")

	var record map[string]interface{}
	if err := json.Unmarshal(buffer.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buffer.String(), err)
	}
	if record["msg"] != "hello" || record["component"] != "test" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestNewTextFormat(t *testing.T) {
	var buffer bytes.Buffer
	logger := New(Config{Writer: &buffer, Format: "text"})
	logger.Info("hello")

	if strings.HasPrefix(strings.TrimSpace(buffer.String()), "{") {
		t.Fatalf("expected text output, got %q", buffer.String())
	}
}

func TestWithComponent(t *testing.T) {
	var buffer bytes.Buffer
	logger := WithComponent(New(Config{Writer: &buffer}), "orchestrator")
	logger.Info("hello")

	if !strings.Contains(buffer.String(), `"component":"orchestrator"`) {
		t.Fatalf("component attribute missing: %q", buffer.String())
	}
	if WithComponent(nil, "orchestrator") != nil {
		t.Fatal("expected nil logger to stay nil")
	}
}

func TestRequestIDContextRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), " req-42 ")
	id, ok := RequestIDFromContext(ctx)
	if !ok || id != "req-42" {
		t.Fatalf("expected trimmed request id, got %q (%v)", id, ok)
	}

	if _, ok := RequestIDFromContext(context.Background()); ok {
		t.Fatal("expected no request id on a bare context")
	}
	if got := ContextWithRequestID(context.Background(), "  "); got != context.Background() {
		t.Fatal("expected blank id to leave the context untouched")
	}
}

func TestWithContextAnnotatesRequestID(t *testing.T) {
	var buffer bytes.Buffer
	base := New(Config{Writer: &buffer})

	ctx := ContextWithRequestID(context.Background(), "req-42")
	WithContext(ctx, base).Info("hello")
	if !strings.Contains(buffer.String(), `"request_id":"req-42"`) {
		t.Fatalf("request id attribute missing: %q", buffer.String())
	}
}

func TestLoggerContextRoundTrip(t *testing.T) {
	logger := New(Config{})
	ctx := ContextWithLogger(context.Background(), logger)
	if got := LoggerFromContext(ctx); got != logger {
		t.Fatal("expected the stored logger back")
	}
	if got := LoggerFromContext(context.Background()); got != nil {
		t.Fatal("expected nil for a bare context")
	}
}
