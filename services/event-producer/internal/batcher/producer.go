// Package batcher копит исходящие записи в пачки, ограниченные размером,
// числом записей и возрастом, и отправляет их одним запросом через
// kafka.BatchSender.
//
// Поколения пачек: Enqueue/Flush под мьютексом снимают текущую пачку и
// ставят на её место новую (пустую или с одной записью), после чего
// отправляют снятую уже без блокировки. Новые записи в это время попадают
// в следующее поколение. Поколения уходят в брокер строго в порядке снятия.
package batcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/event-producer/common/kafka"
	"github.com/YaganovValera/event-producer/common/logger"
)

var tracer = otel.Tracer("event-producer/batcher")

// Stats — снимок текущей пачки.
type Stats struct {
	PendingRecords int           `json:"pending_records"`
	PendingBytes   int           `json:"pending_bytes"`
	Age            time.Duration `json:"age_ns"`
}

// Producer — батчирующий продьюсер. Владеет sender'ом и закрывает его
// ровно один раз в Disconnect.
type Producer struct {
	cfg      Config
	sender   kafka.BatchSender
	reporter ErrorReporter
	metrics  Metrics
	log      *logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	batch    pendingBatch
	lastSent <-chan struct{}
	closed   bool

	loopCancel context.CancelFunc
	loopDone   chan struct{}

	disconnectOnce sync.Once
	disconnectErr  error
}

// New создаёт Producer. reporter и metrics могут быть nil: ошибки тогда
// только логируются, метрики не пишутся. Таймер запускается через Start.
func New(cfg Config, sender kafka.BatchSender, reporter ErrorReporter, metrics Metrics, log *logger.Logger) (*Producer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, errors.New("batcher: sender is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("batcher")
	if reporter == nil {
		reporter = logReporter{log: log}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	done := make(chan struct{})
	close(done)

	return &Producer{
		cfg:      cfg,
		sender:   sender,
		reporter: reporter,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
		batch:    pendingBatch{createdAt: time.Now()},
		lastSent: done,
	}, nil
}

// -----------------------------------------------------------------------------
// Enqueue
// -----------------------------------------------------------------------------

// Enqueue добавляет запись в пачку. Если запись переполняет непустую пачку,
// та сначала отправляется, а запись открывает следующую. Если после добавления
// сработал один из лимитов, пачка отправляется целиком. В обоих случаях
// Enqueue возвращается после завершения этой отправки.
func (p *Producer) Enqueue(ctx context.Context, rec kafka.Record) error {
	ctx, span := tracer.Start(ctx, "Enqueue", trace.WithAttributes(attribute.String("topic", rec.Topic)))
	defer span.End()

	size, err := p.checkRecord(rec)
	if err != nil {
		span.RecordError(err)
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	var g *generation
	if len(p.batch.records) > 0 && p.batch.size+size > p.cfg.MaxBatchBytes {
		g = p.swapLocked(&rec, size)
	} else {
		p.batch.add(rec, size, p.now())
		if p.limitReachedLocked() {
			g = p.swapLocked(nil, 0)
		}
	}
	p.mu.Unlock()

	if g == nil {
		return nil
	}
	if err := p.send(ctx, g); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "flush failed")
		return err
	}
	return nil
}

// EnqueueBatch последовательно ставит records. Не атомарна: на первой ошибке
// останавливается, уже поставленные (и, возможно, отправленные) записи
// остаются как есть.
func (p *Producer) EnqueueBatch(ctx context.Context, records []kafka.Record) error {
	for i, rec := range records {
		if err := p.Enqueue(ctx, rec); err != nil {
			return fmt.Errorf("batcher: record %d of %d: %w", i, len(records), err)
		}
	}
	return nil
}

// EnqueueJSON сериализует v в JSON и ставит его одним сообщением в topic.
func (p *Producer) EnqueueJSON(ctx context.Context, topic string, key []byte, v interface{}) error {
	value, err := json.Marshal(v)
	if err != nil {
		p.metrics.IncrementCounter(MetricMalformedRecords)
		return malformed("marshal value for topic %q: %v", topic, err)
	}
	return p.Enqueue(ctx, kafka.Record{
		Topic:    topic,
		Messages: []kafka.Message{{Key: key, Value: value}},
	})
}

func (p *Producer) checkRecord(rec kafka.Record) (int, error) {
	if err := validateRecord(rec); err != nil {
		p.metrics.IncrementCounter(MetricMalformedRecords)
		return 0, err
	}
	size, err := EstimateSize(rec)
	if err != nil {
		p.metrics.IncrementCounter(MetricMalformedRecords)
		return 0, malformed("estimate size: %v", err)
	}
	return size, nil
}

func (p *Producer) limitReachedLocked() bool {
	return p.batch.size > p.cfg.MaxBatchBytes ||
		p.now().Sub(p.batch.createdAt) > p.cfg.FlushInterval ||
		len(p.batch.records) >= p.cfg.MaxBatchCount
}

// -----------------------------------------------------------------------------
// Flush
// -----------------------------------------------------------------------------

// Flush отправляет текущую пачку. Для пустой пачки это no-op без сетевого вызова
// и без метрик. Ошибка отправки возвращается как *SendError.
func (p *Producer) Flush(ctx context.Context) error {
	p.mu.Lock()
	if len(p.batch.records) == 0 {
		p.mu.Unlock()
		return nil
	}
	g := p.swapLocked(nil, 0)
	p.mu.Unlock()

	return p.send(ctx, g)
}

// FlushWith отправляет текущую пачку и открывает следующую записью rec.
// Если пачка пуста, отправлять нечего: rec просто становится её первой
// записью. Лимиты для rec не проверяются, её заберёт следующий Enqueue,
// Flush или тик таймера.
func (p *Producer) FlushWith(ctx context.Context, rec kafka.Record) error {
	size, err := p.checkRecord(rec)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if len(p.batch.records) == 0 {
		p.batch.add(rec, size, p.now())
		p.mu.Unlock()
		return nil
	}
	g := p.swapLocked(&rec, size)
	p.mu.Unlock()

	return p.send(ctx, g)
}

// swapLocked снимает текущую пачку и заменяет её новой, в которой лежит
// prepend (если задан). Вызывать под p.mu.
func (p *Producer) swapLocked(prepend *kafka.Record, prependSize int) *generation {
	g := &generation{
		records: p.batch.records,
		size:    p.batch.size,
		prev:    p.lastSent,
		done:    make(chan struct{}),
	}
	p.lastSent = g.done

	p.batch = pendingBatch{createdAt: p.now()}
	if prepend != nil {
		p.batch.records = []kafka.Record{*prepend}
		p.batch.size = prependSize
	}
	return g
}

// send отправляет поколение после того, как ушло предыдущее.
func (p *Producer) send(ctx context.Context, g *generation) error {
	defer close(g.done)
	<-g.prev

	ctx, span := tracer.Start(ctx, "Flush", trace.WithAttributes(
		attribute.Int("batch.records", len(g.records)),
		attribute.Int("batch.bytes", g.size),
		attribute.String("batch.compression", p.cfg.Compression.String()),
	))
	defer span.End()

	p.metrics.ObserveHistogram(MetricBatchBytes, float64(g.size))
	p.metrics.ObserveHistogram(MetricBatchRecords, float64(len(g.records)))

	guard := time.AfterFunc(p.cfg.SlowFlushThreshold, func() {
		p.metrics.IncrementCounter(MetricSlowFlush)
		p.log.WithContext(ctx).Warn("kafka batch send delayed",
			zap.Duration("waiting", p.cfg.SlowFlushThreshold),
			zap.Int("batch_count", len(g.records)),
			zap.Int("estimated_size", g.size),
		)
	})
	defer guard.Stop()
	start := time.Now()
	err := p.sender.SendBatch(ctx, g.records, p.cfg.Compression)
	guard.Stop()
	p.metrics.ObserveHistogram(MetricSendLatency, time.Since(start).Seconds())

	if err != nil {
		bc := newBatchContext(g.records, g.size)
		sendErr := &SendError{
			Records:       bc.Count,
			Topics:        distinct(bc.Topics),
			EstimatedSize: g.size,
			Err:           err,
		}
		p.reporter.ReportError(ctx, sendErr, bc)
		p.metrics.IncrementCounter(MetricSendFailure)
		span.RecordError(err)
		span.SetStatus(codes.Error, "send batch failed")
		return sendErr
	}

	p.metrics.IncrementCounter(MetricSendSuccess)
	p.log.Debug("batch flushed",
		zap.Int("batch_count", len(g.records)),
		zap.Int("estimated_size", g.size),
	)
	return nil
}

func distinct(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Background flush loop
// -----------------------------------------------------------------------------

// Start запускает фоновый таймер, который раз в FlushInterval вызывает Flush.
// Повторный вызов и вызов после Disconnect ничего не делают. Таймер
// останавливается Disconnect'ом или отменой ctx.
func (p *Producer) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loopDone != nil || p.closed {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.loopCancel = cancel
	p.loopDone = make(chan struct{})
	go p.loop(ctx, p.loopDone)
}

func (p *Producer) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick — одна итерация таймера. Ошибки Flush уже ушли в reporter; паника
// тоже репортится, цикл продолжает работать.
func (p *Producer) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("batcher: panic in flush loop: %v", r)
			p.metrics.IncrementCounter(MetricLoopPanics)
			p.reporter.ReportError(ctx, err, BatchContext{})
		}
	}()
	// Отправка, начатая таймером, не должна обрываться остановкой таймера.
	if err := p.Flush(context.WithoutCancel(ctx)); err != nil {
		p.log.Debug("timer flush failed", zap.Error(err))
	}
}

func (p *Producer) stopLoop() {
	p.mu.Lock()
	cancel, done := p.loopCancel, p.loopDone
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// -----------------------------------------------------------------------------
// Disconnect
// -----------------------------------------------------------------------------

// Disconnect останавливает таймер, отправляет последнюю пачку, дожидается
// всех отправок в полёте и закрывает sender. Sender закрывается даже если
// последняя отправка упала; ошибки объединяются. Повторные вызовы
// возвращают результат первого.
func (p *Producer) Disconnect(ctx context.Context) error {
	p.disconnectOnce.Do(func() {
		p.disconnectErr = p.disconnect(ctx)
	})
	return p.disconnectErr
}

func (p *Producer) disconnect(ctx context.Context) error {
	p.stopLoop()

	p.mu.Lock()
	p.closed = true
	var g *generation
	if len(p.batch.records) > 0 {
		g = p.swapLocked(nil, 0)
	}
	last := p.lastSent
	p.mu.Unlock()

	var flushErr error
	if g != nil {
		flushErr = p.send(ctx, g)
	}
	<-last

	closeErr := p.sender.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("batcher: close sender: %w", closeErr)
	}
	p.log.Info("batcher disconnected", zap.Bool("final_flush", g != nil))
	return errors.Join(flushErr, closeErr)
}

// -----------------------------------------------------------------------------
// Introspection
// -----------------------------------------------------------------------------

// Stats возвращает снимок текущей пачки.
func (p *Producer) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{
		PendingRecords: len(p.batch.records),
		PendingBytes:   p.batch.size,
	}
	if s.PendingRecords > 0 {
		s.Age = p.now().Sub(p.batch.createdAt)
	}
	return s
}

// Ping проверяет брокер через sender (для /readyz).
func (p *Producer) Ping(ctx context.Context) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return p.sender.Ping(ctx)
}
