// common/telemetry/otel.go
//
// Пакет telemetry поднимает глобальный TracerProvider (OTLP/gRPC).
// Экспортёр подключается через Setup, поэтому в тестах вместо OTLP
// можно подставить tracetest.InMemoryExporter.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/YaganovValera/event-producer/common/logger"
)

// Config — параметры трассировки. Пустой Endpoint выключает экспорт.
type Config struct {
	Endpoint        string        // OTLP-collector "host:port"
	ServiceName     string        // имя сервиса (service.name)
	ServiceVersion  string        // версия сборки (service.version)
	Insecure        bool          // gRPC без TLS
	ReconnectPeriod time.Duration // переподключение экспортёра
	Timeout         time.Duration // на создание экспортёра и на Shutdown
	SamplerRatio    float64       // доля span'ов корневых трасс, 0..1
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ReconnectPeriod <= 0 {
		c.ReconnectPeriod = 5 * time.Second
	}
	if c.SamplerRatio == 0 {
		c.SamplerRatio = 1
	}
}

func (c Config) validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.ServiceVersion == "" {
		errs = append(errs, errors.New("service version is required"))
	}
	if c.SamplerRatio < 0 || c.SamplerRatio > 1 {
		errs = append(errs, fmt.Errorf("sampler ratio must be in [0,1], got %v", c.SamplerRatio))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// ShutdownFunc сбрасывает буферы span'ов и останавливает провайдер.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// InitTracer подключает OTLP-экспортёр и ставит глобальный провайдер.
// Без Endpoint трассировка остаётся no-op.
func InitTracer(ctx context.Context, cfg Config, log *logger.Logger) (ShutdownFunc, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("telemetry")

	if cfg.Endpoint == "" {
		log.Info("telemetry: disabled (no endpoint)")
		return noopShutdown, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithReconnectionPeriod(cfg.ReconnectPeriod),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		log.Error("telemetry: exporter creation failed", zap.Error(err), zap.String("endpoint", cfg.Endpoint))
		return nil, fmt.Errorf("telemetry: exporter: %w", err)
	}
	return Setup(dialCtx, cfg, exp, log)
}

// Setup ставит глобальный провайдер поверх готового экспортёра.
func Setup(ctx context.Context, cfg Config, exp sdktrace.SpanExporter, log *logger.Logger) (ShutdownFunc, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// атрибуты без schema URL, чтобы не спорить со схемой SDK при слиянии
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplerRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info("telemetry: initialized",
		zap.String("service", cfg.ServiceName),
		zap.String("version", cfg.ServiceVersion),
		zap.Float64("sampler_ratio", cfg.SamplerRatio),
	)

	timeout := cfg.Timeout
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Error("telemetry: shutdown failed", zap.Error(err))
			return fmt.Errorf("telemetry: shutdown: %w", err)
		}
		return nil
	}, nil
}
