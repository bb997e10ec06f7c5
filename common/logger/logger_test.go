// common/logger/logger_test.go
package logger_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/YaganovValera/event-producer/common/logger"
)

func TestNew_InvalidLevel(t *testing.T) {
	_, err := logger.New(logger.Config{Level: "invalid", DevMode: false})
	if err == nil {
		t.Error("expected error for invalid level, got nil")
	}
}

func TestNew_ValidLevels(t *testing.T) {
	levels := []string{"debug", "info", "warn", "error", ""}
	for _, lvl := range levels {
		_, err := logger.New(logger.Config{Level: lvl, DevMode: true})
		if err != nil {
			t.Errorf("expected no error for level %q, got %v", lvl, err)
		}
	}
}

func TestWithContext_TraceAndRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := logger.FromZap(zap.New(core))

	ctx := logger.ContextWithTraceID(context.Background(), "trace-123")
	ctx = logger.ContextWithRequestID(ctx, "req-456")
	l.WithContext(ctx).Info("test message")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["trace_id"] != "trace-123" {
		t.Errorf("trace_id = %v; want trace-123", fields["trace_id"])
	}
	if fields["request_id"] != "req-456" {
		t.Errorf("request_id = %v; want req-456", fields["request_id"])
	}
}

func TestWithContext_EmptyReturnsSame(t *testing.T) {
	l := logger.NewNop()
	if got := l.WithContext(context.Background()); got != l {
		t.Error("expected the same logger for a context without ids")
	}
}

func TestSync_NoPanic(t *testing.T) {
	l, _ := logger.New(logger.Config{Level: "info", DevMode: true})
	// Sync should not panic
	l.Sync()
}

func TestWithContext_PrefersSpanTraceID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := logger.FromZap(zap.New(core))

	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid})
	ctx := trace.ContextWithSpanContext(logger.ContextWithTraceID(context.Background(), "manual"), sc)

	l.WithContext(ctx).Info("with span")
	if got := logs.All()[0].ContextMap()["trace_id"]; got != tid.String() {
		t.Errorf("trace_id = %v; want %s", got, tid)
	}
}

func TestStdLog_WritesDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := logger.FromZap(zap.New(core))

	l.StdLog().Printf("client/metadata fetching metadata for %d topics", 2)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel {
		t.Errorf("level = %v; want debug", entries[0].Level)
	}
	if entries[0].Message != "client/metadata fetching metadata for 2 topics" {
		t.Errorf("message = %q", entries[0].Message)
	}
}
