// common/kafka/producer/retrying.go
package producer

import (
	"context"
	"errors"

	"github.com/YaganovValera/event-producer/common/backoff"
	commonkafka "github.com/YaganovValera/event-producer/common/kafka"
	"github.com/YaganovValera/event-producer/common/logger"
)

// RetryingSender повторяет SendBatch по стратегии back-off. Ошибку
// несовпадения кодека не повторяет. Ping и Close проксируются как есть.
type RetryingSender struct {
	next commonkafka.BatchSender
	cfg  backoff.Config
	log  *logger.Logger
}

// NewRetrying оборачивает next. Нулевой cfg.MaxElapsedTime означает
// "повторять до отмены ctx".
func NewRetrying(next commonkafka.BatchSender, cfg backoff.Config, log *logger.Logger) *RetryingSender {
	return &RetryingSender{next: next, cfg: cfg, log: log.Named("retrying-sender")}
}

func (r *RetryingSender) SendBatch(ctx context.Context, records []commonkafka.Record, codec commonkafka.Compression) error {
	return backoff.Execute(ctx, "kafka_send_batch", r.cfg, r.log, func(ctx context.Context) error {
		err := r.next.SendBatch(ctx, records, codec)
		if errors.Is(err, ErrCodecMismatch) {
			return backoff.Permanent(err)
		}
		return err
	})
}

func (r *RetryingSender) Ping(ctx context.Context) error { return r.next.Ping(ctx) }

func (r *RetryingSender) Close() error { return r.next.Close() }
