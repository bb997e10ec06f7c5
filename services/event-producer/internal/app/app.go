// services/event-producer/internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/event-producer/common"
	"github.com/YaganovValera/event-producer/common/httpserver"
	commonkafka "github.com/YaganovValera/event-producer/common/kafka"
	producer "github.com/YaganovValera/event-producer/common/kafka/producer"
	"github.com/YaganovValera/event-producer/common/logger"
	"github.com/YaganovValera/event-producer/common/shutdown"
	"github.com/YaganovValera/event-producer/common/telemetry"

	"github.com/YaganovValera/event-producer/services/event-producer/internal/batcher"
	"github.com/YaganovValera/event-producer/services/event-producer/internal/config"
	"github.com/YaganovValera/event-producer/services/event-producer/internal/errreport"
	"github.com/YaganovValera/event-producer/services/event-producer/internal/ingest"
	"github.com/YaganovValera/event-producer/services/event-producer/internal/metrics"
)

// Run поднимает сервис: трассировка, Kafka-sender, батчер, HTTP и чтение
// входа. Завершается по отмене ctx или по концу входа; в обоих случаях
// батчер дренируется через Disconnect.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	common.InitServiceName(cfg.ServiceName)

	// Трассировка
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Insecure:       cfg.Telemetry.Insecure,
		SamplerRatio:   cfg.Telemetry.SamplerRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownSafe(ctx, "telemetry", func() error { return shutdownTracer(context.Background()) }, log)

	// Вход
	in, closeIn, err := openInput(cfg.Ingest.Path)
	if err != nil {
		return err
	}
	defer closeIn()

	// Kafka
	var sender commonkafka.BatchSender
	sender, err = producer.New(ctx, producer.Config{
		Brokers:         cfg.Kafka.Brokers,
		Version:         cfg.Kafka.Version,
		RequiredAcks:    cfg.Kafka.Acks,
		Timeout:         cfg.Kafka.Timeout,
		Compression:     cfg.Batcher.Compression,
		MaxMessageBytes: cfg.Kafka.MaxMessageBytes,
		Backoff:         cfg.Kafka.Backoff,
		DebugLog:        cfg.Kafka.DebugLog,
	}, log)
	if err != nil {
		return fmt.Errorf("kafka producer init: %w", err)
	}
	if cfg.Kafka.Retry {
		sender = producer.NewRetrying(sender, cfg.Kafka.RetryBackoff, log)
	}

	return serve(ctx, cfg, log, sender, in)
}

// serve — всё, что после подключения к брокеру. sender переходит во
// владение батчера.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger, sender commonkafka.BatchSender, in io.Reader) error {
	sink, err := metrics.New(nil)
	if err != nil {
		_ = sender.Close()
		return fmt.Errorf("metrics init: %w", err)
	}

	codec, err := commonkafka.ParseCompression(cfg.Batcher.Compression)
	if err != nil {
		_ = sender.Close()
		return err
	}
	bp, err := batcher.New(batcher.Config{
		MaxBatchBytes:      cfg.Batcher.MaxBatchBytes,
		MaxBatchCount:      cfg.Batcher.MaxBatchCount,
		FlushInterval:      cfg.Batcher.FlushInterval,
		SlowFlushThreshold: cfg.Batcher.SlowFlushThreshold,
		Compression:        codec,
	}, sender, errreport.New(log), sink, log)
	if err != nil {
		_ = sender.Close()
		return fmt.Errorf("batcher init: %w", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	bp.Start(runCtx)

	// HTTP-сервер
	httpSrv, err := httpserver.New(httpserver.Config{
		Addr:            fmt.Sprintf(":%d", cfg.HTTP.Port),
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		MetricsPath:     cfg.HTTP.MetricsPath,
		HealthzPath:     cfg.HTTP.HealthzPath,
		ReadyzPath:      cfg.HTTP.ReadyzPath,
		ReadyTimeout:    cfg.HTTP.ReadyTimeout,
	}, bp.Ping, log,
		httpserver.RecoverMiddleware(log),
		httpserver.RequestIDMiddleware(),
		httpserver.MetricsMiddleware(),
		httpserver.CORSMiddleware(),
	)
	if err != nil {
		_ = bp.Disconnect(context.Background())
		return fmt.Errorf("httpserver init: %w", err)
	}

	httpSrv.Handle("/debug/batch", httpserver.JSON(func() interface{} { return bp.Stats() }))

	reader := ingest.New(bp, ingest.Counters{
		LinesRead:      sink.LinesRead,
		MalformedLines: sink.MalformedLines,
		EnqueueErrors:  sink.EnqueueErrors,
	}, log)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return httpSrv.Start(gctx) })
	g.Go(func() error {
		// конец входа останавливает сервис
		defer stop()
		// Scan на stdin не прерывается контекстом, поэтому чтение живёт в
		// своей горутине; после Disconnect оно получит ErrClosed.
		done := make(chan error, 1)
		go func() {
			_, err := reader.Run(gctx, in)
			done <- err
		}()
		select {
		case err := <-done:
			return err
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		log.WithContext(ctx).Info("event-producer stopped by context")
		runErr = nil
	}

	disconnectErr := shutdown.GracefulShutdown("batcher", cfg.Batcher.DisconnectTimeout, bp.Disconnect, log)
	return errors.Join(runErr, disconnectErr)
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input %q: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

// shutdownSafe оборачивает вызов Close()/Shutdown() с логированием
func shutdownSafe(ctx context.Context, name string, fn func() error, log *logger.Logger) {
	log.WithContext(ctx).Info(fmt.Sprintf("%s: shutting down", name))
	if err := fn(); err != nil {
		log.WithContext(ctx).Error(fmt.Sprintf("%s shutdown error", name), zap.Error(err))
	} else {
		log.WithContext(ctx).Info(fmt.Sprintf("%s: shutdown complete", name))
	}
}
