package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
)

func jsonAt(buf *bytes.Buffer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})
}

func TestTeeLoggerSendsToBaseAndExtras(t *testing.T) {
	var console, file bytes.Buffer
	logger := TeeLogger(slog.New(jsonAt(&console, slog.LevelInfo)), jsonAt(&file, slog.LevelDebug))

	logger.Info("dispatch completed")
	if !bytes.Contains(console.Bytes(), []byte("dispatch completed")) || !bytes.Contains(file.Bytes(), []byte("dispatch completed")) {
		t.Fatalf("expected both outputs, console=%q file=%q", console.String(), file.String())
	}

	console.Reset()
	file.Reset()
	logger.Debug("ledger drained")
	if console.Len() != 0 {
		t.Fatalf("console should not receive debug records: %q", console.String())
	}
	if file.Len() == 0 {
		t.Fatal("file should receive debug records")
	}
}

func TestTeeLoggerDisabledBelowEveryLevel(t *testing.T) {
	var a, b bytes.Buffer
	logger := TeeLogger(slog.New(jsonAt(&a, slog.LevelWarn)), jsonAt(&b, slog.LevelError))
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected info to be disabled")
	}
}

func TestTeeLoggerWithAttrsReachesEveryMember(t *testing.T) {
	var a, b bytes.Buffer
	logger := TeeLogger(slog.New(jsonAt(&a, slog.LevelInfo)), jsonAt(&b, slog.LevelInfo))
	logger.With(String(FieldDispatchID, "abc")).Info("test")

	for i, buf := range []*bytes.Buffer{&a, &b} {
		if !bytes.Contains(buf.Bytes(), []byte(`"dispatch_id":"abc"`)) {
			t.Errorf("expected dispatch_id in output %d, got %s", i, buf.String())
		}
	}
}

func TestTeeLoggerWithoutMembers(t *testing.T) {
	if _, ok := TeeLogger(nil, nil).Handler().(NoopHandler); !ok {
		t.Fatal("expected a no-op logger when nothing is teed")
	}
	var buf bytes.Buffer
	TeeLogger(nil, jsonAt(&buf, slog.LevelInfo)).Info("no base")
	if buf.Len() == 0 {
		t.Fatal("expected output without a base logger")
	}
}
