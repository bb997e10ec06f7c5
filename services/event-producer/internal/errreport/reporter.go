// Пакет errreport — ErrorReporter для батчера: структурированный лог плюс
// событие в текущем span'е OpenTelemetry.
package errreport

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/event-producer/common/logger"
	"github.com/YaganovValera/event-producer/services/event-producer/internal/batcher"
)

// Reporter пишет каждую ошибку отправки в лог с контекстом пачки и
// помечает активный span как ошибочный.
type Reporter struct {
	log *logger.Logger
}

// New создаёт Reporter.
func New(log *logger.Logger) *Reporter {
	return &Reporter{log: log.Named("errreport")}
}

// ReportError реализует batcher.ErrorReporter.
func (r *Reporter) ReportError(ctx context.Context, err error, bc batcher.BatchContext) {
	topics := distinctTopics(bc.Topics)

	r.log.WithContext(ctx).Error("kafka batch send failed",
		zap.Error(err),
		zap.Int("batch_count", bc.Count),
		zap.Strings("topics", topics),
		zap.Ints("message_counts", bc.MessageCounts),
		zap.Int("estimated_size", bc.EstimatedSize),
	)

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err, trace.WithAttributes(
		attribute.Int("batch.count", bc.Count),
		attribute.StringSlice("batch.topics", topics),
		attribute.Int("batch.estimated_size", bc.EstimatedSize),
	))
	span.SetStatus(codes.Error, err.Error())
}

func distinctTopics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

var _ batcher.ErrorReporter = (*Reporter)(nil)
