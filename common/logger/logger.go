// common/logger/logger.go
//
// Пакет logger — тонкая обёртка над zap: единый формат для всех сервисов,
// trace_id/request_id из контекста и мост для стандартного log.Logger
// (им пользуется sarama).
package logger

import (
	"context"
	"fmt"
	stdlog "log"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// -----------------------------------------------------------------------------
// context keys (неэкспортируемые)
// -----------------------------------------------------------------------------

type contextKey string

const (
	traceIDKey   contextKey = "trace_id"
	requestIDKey contextKey = "request_id"
)

// ContextWithTraceID кладёт trace-ID в контекст. Если в контексте есть
// активный span OpenTelemetry, приоритет у него.
func ContextWithTraceID(ctx context.Context, tid string) context.Context {
	return context.WithValue(ctx, traceIDKey, tid)
}

// ContextWithRequestID кладёт request-ID в контекст.
func ContextWithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, requestIDKey, rid)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config: Level — debug|info|warn|error (пусто → info); DevMode — консоль
// вместо JSON и без семплинга.
type Config struct {
	Level   string
	DevMode bool
}

func (c Config) level() (zapcore.Level, error) {
	if c.Level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return lvl, fmt.Errorf("logger: invalid level %q: %w", c.Level, err)
	}
	return lvl, nil
}

func (c Config) zapConfig(lvl zapcore.Level) zap.Config {
	var zc zap.Config
	if c.DevMode {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}
	// одинаковые ключи в обоих режимах
	ec := &zc.EncoderConfig
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.CallerKey = "caller"
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	ec.StacktraceKey = "stacktrace"

	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc
}

// -----------------------------------------------------------------------------
// Logger
// -----------------------------------------------------------------------------

// Logger — обёртка над *zap.Logger.
type Logger struct {
	raw *zap.Logger
}

// New строит Logger по Config.
func New(cfg Config) (*Logger, error) {
	lvl, err := cfg.level()
	if err != nil {
		return nil, err
	}
	zl, err := cfg.zapConfig(lvl).Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("logger: build zap: %w", err)
	}
	return &Logger{raw: zl}, nil
}

// NewNop — логгер, который ничего не пишет.
func NewNop() *Logger { return &Logger{raw: zap.NewNop()} }

// FromZap оборачивает готовый *zap.Logger (например, zaptest/observer).
func FromZap(zl *zap.Logger) *Logger { return &Logger{raw: zl} }

// Named — sub-logger с префиксом имени.
func (l *Logger) Named(name string) *Logger {
	return &Logger{raw: l.raw.Named(name)}
}

// WithContext добавляет trace_id (из span'а или из контекста) и request_id.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := make([]zap.Field, 0, 2)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String(string(traceIDKey), sc.TraceID().String()))
	} else if v, ok := ctx.Value(traceIDKey).(string); ok {
		fields = append(fields, zap.String(string(traceIDKey), v))
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		fields = append(fields, zap.String(string(requestIDKey), v))
	}
	if len(fields) == 0 {
		return l
	}
	return &Logger{raw: l.raw.With(fields...)}
}

// StdLog возвращает *log.Logger, пишущий в этот логгер на уровне debug.
// Годится для sarama.Logger.
func (l *Logger) StdLog() *stdlog.Logger {
	std, err := zap.NewStdLogAt(l.raw, zapcore.DebugLevel)
	if err != nil {
		// NewStdLogAt падает только на невалидном уровне
		return zap.NewStdLog(l.raw)
	}
	return std
}

// Sync сбрасывает буферы (ошибки игнорируются).
func (l *Logger) Sync() { _ = l.raw.Sync() }

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.raw.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.raw.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.raw.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.raw.Error(msg, fields...) }
