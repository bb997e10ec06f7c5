package batcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/YaganovValera/event-producer/common/kafka"
	"github.com/YaganovValera/event-producer/common/logger"
)

// Имена метрик, которые Producer отдаёт в Metrics.
const (
	MetricBatchBytes       = "batch_bytes"
	MetricBatchRecords     = "batch_records"
	MetricSendLatency      = "send_latency_seconds"
	MetricSendSuccess      = "send_success_total"
	MetricSendFailure      = "send_failure_total"
	MetricSlowFlush        = "slow_flush_total"
	MetricMalformedRecords = "malformed_records_total"
	MetricLoopPanics       = "flush_loop_panics_total"
)

// BatchContext — контекст упавшей отправки для ErrorReporter.
type BatchContext struct {
	Records       []kafka.Record
	Count         int
	Topics        []string
	MessageCounts []int
	EstimatedSize int
}

func newBatchContext(records []kafka.Record, size int) BatchContext {
	return BatchContext{
		Records:       records,
		Count:         len(records),
		Topics:        kafka.Topics(records),
		MessageCounts: kafka.MessageCounts(records),
		EstimatedSize: size,
	}
}

// ErrorReporter получает каждую ошибку отправки вместе с контекстом пачки.
type ErrorReporter interface {
	ReportError(ctx context.Context, err error, bc BatchContext)
}

// Metrics — приёмник гистограмм и счётчиков.
type Metrics interface {
	ObserveHistogram(name string, value float64)
	IncrementCounter(name string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveHistogram(string, float64) {}
func (nopMetrics) IncrementCounter(string)          {}

// logReporter используется, если ErrorReporter не задан.
type logReporter struct{ log *logger.Logger }

func (r logReporter) ReportError(ctx context.Context, err error, bc BatchContext) {
	r.log.WithContext(ctx).Error("kafka batch send failed",
		zap.Error(err),
		zap.Int("batch_count", bc.Count),
		zap.Strings("topics", bc.Topics),
		zap.Ints("message_counts", bc.MessageCounts),
		zap.Int("estimated_size", bc.EstimatedSize),
	)
}
