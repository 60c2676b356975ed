package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: "debug", Output: buf})

	ctx := context.Background()
	ctx = log.WithRequestID(ctx, "req-123")

	log.Error(ctx, "boom", errors.New("boom"))

	if !bytes.Contains(buf.Bytes(), []byte("\"request_id\"")) {
		t.Fatalf("expected request_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack trace on error; entry=%s", buf.String())
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: "debug", Output: buf, WarnStack: true})
	log.Warn(context.Background(), "warny")
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack when warn stack enabled")
	}

	buf.Reset()
	quiet := New(Options{ServiceName: "test", Output: buf})
	quiet.Warn(context.Background(), "warny")
	if bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected no stack when warn stack disabled")
	}
}

func TestLoggerRecordAndCommandFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "pet-stream", Output: buf})

	ctx := log.WithRecord(context.Background(), "pet-commands", 3, 42)
	ctx = log.WithCommand(ctx, "8d3c0c4e-3a5e-4a43-9a8c-5f7a1e0c1f11", "pet-create")
	log.Info(ctx, "command processed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json entry: %v (%s)", err, buf.String())
	}
	if entry["topic"] != "pet-commands" || entry["partition"] != float64(3) || entry["offset"] != float64(42) {
		t.Fatalf("unexpected record fields %v", entry)
	}
	if entry["command_name"] != "pet-create" || entry["service"] != "pet-stream" {
		t.Fatalf("unexpected command fields %v", entry)
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
	if lvl := ParseLevel(" WARN "); lvl != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %v", lvl)
	}
}

func TestLoggerConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Format: "console", Output: buf})
	log.Info(context.Background(), "hello")

	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Fatalf("console format should not emit json: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("hello")) {
		t.Fatalf("message missing: %s", buf.String())
	}
}

func TestLoggerDebugRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{ServiceName: "test", Output: buf}).Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be dropped at info level: %s", buf.String())
	}

	New(Options{ServiceName: "test", Level: "debug", Output: buf}).Debug(context.Background(), "shown")
	if !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Fatalf("debug line missing: %s", buf.String())
	}
}

func TestWithFieldsDoesNotLeakIntoParent(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	parent := log.WithField(context.Background(), "a", 1)
	_ = log.WithField(parent, "b", 2)
	log.Info(parent, "parent")

	if bytes.Contains(buf.Bytes(), []byte(`"b"`)) {
		t.Fatalf("child field leaked into parent: %s", buf.String())
	}
}
