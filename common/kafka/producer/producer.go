// common/kafka/producer/producer.go
package producer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/dnwe/otelsarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/event-producer/common/backoff"
	commonkafka "github.com/YaganovValera/event-producer/common/kafka"
	"github.com/YaganovValera/event-producer/common/logger"
)

// -----------------------------------------------------------------------------
// Service label (заполняется через common.InitServiceName)
// -----------------------------------------------------------------------------

var serviceLabel = "unknown"

// SetServiceLabel вызывается из common.InitServiceName(..) один раз при старте.
func SetServiceLabel(name string) { serviceLabel = name }

// -----------------------------------------------------------------------------
// Prometheus-метрики
// -----------------------------------------------------------------------------

var producerMetrics = struct {
	ConnectAttempts *prometheus.CounterVec
	ConnectErrors   *prometheus.CounterVec
	SendSuccess     *prometheus.CounterVec
	SendErrors      *prometheus.CounterVec
	SendLatency     *prometheus.HistogramVec
	SentMessages    *prometheus.CounterVec
	PingSuccess     *prometheus.CounterVec
	PingErrors      *prometheus.CounterVec
}{
	ConnectAttempts: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "common", Subsystem: "kafka_producer", Name: "connect_attempts_total",
			Help: "Kafka producer connect attempts",
		},
		[]string{"service"},
	),
	ConnectErrors: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "common", Subsystem: "kafka_producer", Name: "connect_errors_total",
			Help: "Kafka producer connect errors",
		},
		[]string{"service"},
	),
	SendSuccess: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "common", Subsystem: "kafka_producer", Name: "batch_send_success_total",
			Help: "Successful batch sends",
		},
		[]string{"service"},
	),
	SendErrors: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "common", Subsystem: "kafka_producer", Name: "batch_send_errors_total",
			Help: "Failed batch sends",
		},
		[]string{"service"},
	),
	SendLatency: promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "common", Subsystem: "kafka_producer", Name: "batch_send_latency_seconds",
			Help:    "Batch send latency (seconds)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	),
	SentMessages: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "common", Subsystem: "kafka_producer", Name: "sent_messages_total",
			Help: "Messages acknowledged by the cluster",
		},
		[]string{"service"},
	),
	PingSuccess: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "common", Subsystem: "kafka_producer", Name: "ping_success_total",
			Help: "Successful pings",
		},
		[]string{"service"},
	),
	PingErrors: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "common", Subsystem: "kafka_producer", Name: "ping_errors_total",
			Help: "Ping errors",
		},
		[]string{"service"},
	),
}

// -----------------------------------------------------------------------------
// Tracing
// -----------------------------------------------------------------------------

var tracer = otel.Tracer("kafka-producer")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config groups all tunables for a Kafka Sync-producer.
//
// Zero values are replaced with sane defaults by applyDefaults().
type Config struct {
	// Brokers — список адресов Kafka-брокеров.
	Brokers []string

	// Version — версия протокола Kafka ("" → дефолт Sarama).
	Version string

	// RequiredAcks определяет стратегию подтверждения брокеров:
	//   "all" (дефолт) | "leader" | "none".
	RequiredAcks string

	// Timeout — максимальное время ожидания ack от кластера.
	Timeout time.Duration

	// Compression указывает алгоритм сжатия:
	//   "none" (дефолт), "gzip", "snappy", "lz4", "zstd".
	// SendBatch принимает только этот кодек.
	Compression string

	// MaxMessageBytes — предел размера запроса на стороне продьюсера.
	// Ноль → дефолт Sarama (1 MB).
	MaxMessageBytes int

	// Backoff описывает стратегию ретраев подключения.
	Backoff backoff.Config

	// DebugLog направляет внутренний лог sarama в наш логгер (уровень debug).
	// sarama.Logger глобальный, поэтому включает его для всего процесса.
	DebugLog bool
}

// applyDefaults заполняет zero-полям безопасные дефолты.
func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RequiredAcks == "" {
		c.RequiredAcks = "all"
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
}

// validate выполняет быстрые sanity-checks.
func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka producer: brokers required")
	}
	if c.MaxMessageBytes < 0 {
		return fmt.Errorf("kafka producer: MaxMessageBytes must be ≥ 0")
	}
	return nil
}

// ErrCodecMismatch возвращается, если SendBatch вызван с кодеком,
// отличным от того, с которым создан продьюсер.
var ErrCodecMismatch = errors.New("kafka producer: compression codec mismatch")

// -----------------------------------------------------------------------------
// Private helpers
// -----------------------------------------------------------------------------

func saramaCodec(c commonkafka.Compression) (sarama.CompressionCodec, error) {
	switch c {
	case commonkafka.CompressionNone:
		return sarama.CompressionNone, nil
	case commonkafka.CompressionGzip:
		return sarama.CompressionGZIP, nil
	case commonkafka.CompressionSnappy:
		return sarama.CompressionSnappy, nil
	case commonkafka.CompressionLZ4:
		return sarama.CompressionLZ4, nil
	case commonkafka.CompressionZstd:
		return sarama.CompressionZSTD, nil
	default:
		return sarama.CompressionNone, fmt.Errorf("kafka producer: invalid Compression %q", c)
	}
}

func buildSaramaConfig(c Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()

	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: invalid Version %q: %w", c.Version, err)
		}
		sc.Version = v
	}

	// RequiredAcks
	switch strings.ToLower(c.RequiredAcks) {
	case "all":
		sc.Producer.RequiredAcks = sarama.WaitForAll
		// идемпотентность Sarama допускает только с WaitForAll
		sc.Producer.Idempotent = true
		sc.Net.MaxOpenRequests = 1
	case "leader":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "none":
		sc.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("kafka producer: invalid RequiredAcks %q", c.RequiredAcks)
	}

	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Timeout = c.Timeout
	if c.MaxMessageBytes > 0 {
		sc.Producer.MaxMessageBytes = c.MaxMessageBytes
	}

	codec, err := commonkafka.ParseCompression(c.Compression)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: invalid Compression %q", c.Compression)
	}
	if sc.Producer.Compression, err = saramaCodec(codec); err != nil {
		return nil, err
	}

	return sc, nil
}

// toProducerMessages раскладывает записи в плоский список сообщений,
// сохраняя порядок.
func toProducerMessages(records []commonkafka.Record) []*sarama.ProducerMessage {
	n := 0
	for _, r := range records {
		n += len(r.Messages)
	}
	msgs := make([]*sarama.ProducerMessage, 0, n)
	for _, r := range records {
		for _, m := range r.Messages {
			pm := &sarama.ProducerMessage{
				Topic: r.Topic,
				Value: sarama.ByteEncoder(m.Value),
			}
			if k := r.MessageKey(m); k != nil {
				pm.Key = sarama.ByteEncoder(k)
			}
			msgs = append(msgs, pm)
		}
	}
	return msgs
}

func uniqueTopics(records []commonkafka.Record) []string {
	seen := make(map[string]struct{}, len(records))
	out := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.Topic]; ok {
			continue
		}
		seen[r.Topic] = struct{}{}
		out = append(out, r.Topic)
	}
	return out
}

// -----------------------------------------------------------------------------
// Producer implementation
// -----------------------------------------------------------------------------

type metadataClient interface {
	RefreshMetadata(topics ...string) error
	Close() error
}

type kafkaProducer struct {
	prod   sarama.SyncProducer
	client metadataClient
	codec  commonkafka.Compression
	logger *logger.Logger
}

// New создает batch-продьюсер поверх SyncProducer c ретраями подключения.
func New(ctx context.Context, cfg Config, log *logger.Logger) (commonkafka.BatchSender, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("kafka-producer")
	if cfg.DebugLog {
		sarama.Logger = log.Named("sarama").StdLog()
	}

	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	codec, _ := commonkafka.ParseCompression(cfg.Compression)

	// Клиент и продьюсер создаём с back-off: брокер может подняться позже нас.
	var (
		client   sarama.Client
		syncProd sarama.SyncProducer
	)
	connect := func(ctx context.Context) error {
		producerMetrics.ConnectAttempts.WithLabelValues(serviceLabel).Inc()
		c, err := sarama.NewClient(cfg.Brokers, sc)
		if err != nil {
			producerMetrics.ConnectErrors.WithLabelValues(serviceLabel).Inc()
			var cfgErr sarama.ConfigurationError
			if errors.As(err, &cfgErr) {
				return backoff.Permanent(err)
			}
			return err
		}
		p, err := sarama.NewSyncProducerFromClient(c)
		if err != nil {
			producerMetrics.ConnectErrors.WithLabelValues(serviceLabel).Inc()
			_ = c.Close()
			return err
		}
		client, syncProd = c, p
		return nil
	}

	ctxConn, span := tracer.Start(ctx, "Connect",
		trace.WithAttributes(attribute.StringSlice("brokers", cfg.Brokers)))
	if err := backoff.Execute(ctxConn, "kafka_connect", cfg.Backoff, log, connect); err != nil {
		span.RecordError(err)
		span.End()
		log.Error("kafka producer connect failed", zap.Error(err))
		return nil, fmt.Errorf("kafka producer: connect: %w", err)
	}
	span.End()

	// Оборачиваем для OpenTelemetry
	wrapped := otelsarama.WrapSyncProducer(sc, syncProd)

	log.Info("kafka producer ready",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("compression", codec.String()),
	)
	return &kafkaProducer{
		prod:   wrapped,
		client: client,
		codec:  codec,
		logger: log,
	}, nil
}

// SendBatch отправляет все сообщения одним вызовом SendMessages.
func (k *kafkaProducer) SendBatch(ctx context.Context, records []commonkafka.Record, codec commonkafka.Compression) error {
	if codec != k.codec {
		return fmt.Errorf("%w: producer=%s batch=%s", ErrCodecMismatch, k.codec, codec)
	}
	msgs := toProducerMessages(records)
	if len(msgs) == 0 {
		return nil
	}
	topics := uniqueTopics(records)

	_, span := tracer.Start(ctx, "SendBatch", trace.WithAttributes(
		attribute.StringSlice("topics", topics),
		attribute.Int("records", len(records)),
		attribute.Int("messages", len(msgs)),
	))
	defer span.End()

	start := time.Now()
	err := k.prod.SendMessages(msgs)
	latency := time.Since(start)
	producerMetrics.SendLatency.WithLabelValues(serviceLabel).Observe(latency.Seconds())

	if err != nil {
		producerMetrics.SendErrors.WithLabelValues(serviceLabel).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "send batch failed")
		failed := len(msgs)
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) {
			failed = len(perrs)
		}
		k.logger.Error("send batch failed",
			zap.Strings("topics", topics),
			zap.Int("messages", len(msgs)),
			zap.Int("failed", failed),
			zap.Error(err),
		)
		return fmt.Errorf("kafka producer: send %d/%d messages to %v: %w", failed, len(msgs), topics, err)
	}

	producerMetrics.SendSuccess.WithLabelValues(serviceLabel).Inc()
	producerMetrics.SentMessages.WithLabelValues(serviceLabel).Add(float64(len(msgs)))
	k.logger.Debug("send batch succeeded",
		zap.Strings("topics", topics),
		zap.Int("messages", len(msgs)),
		zap.Float64("latency_s", latency.Seconds()),
	)
	return nil
}

// Ping обновляет метаданные клиента, проверяя доступность кластера.
func (k *kafkaProducer) Ping(ctx context.Context) error {
	_, span := tracer.Start(ctx, "Ping")
	defer span.End()
	err := k.client.RefreshMetadata()
	if err != nil {
		producerMetrics.PingErrors.WithLabelValues(serviceLabel).Inc()
		span.RecordError(err)
	} else {
		producerMetrics.PingSuccess.WithLabelValues(serviceLabel).Inc()
	}
	return err
}

// Close закрывает продьюсер и клиент. Клиент закрывается, даже если
// продьюсер закрылся с ошибкой.
func (k *kafkaProducer) Close() error {
	prodErr := k.prod.Close()
	if prodErr != nil {
		k.logger.Error("producer close failed", zap.Error(prodErr))
		prodErr = fmt.Errorf("close producer: %w", prodErr)
	}
	clientErr := k.client.Close()
	if clientErr != nil && !errors.Is(clientErr, sarama.ErrClosedClient) {
		k.logger.Error("client close failed", zap.Error(clientErr))
		clientErr = fmt.Errorf("close client: %w", clientErr)
	} else {
		clientErr = nil
	}
	if err := errors.Join(prodErr, clientErr); err != nil {
		return err
	}
	k.logger.Info("kafka producer closed")
	return nil
}
